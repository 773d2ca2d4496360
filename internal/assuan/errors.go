package assuan

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Code is a gpg-error compatible error code. Only the low 16 bits carry the
// code; the upper bits may hold an error source.
type Code uint32

const (
	CodeGeneral        Code = 4
	CodeBadSignature   Code = 7
	CodeInvalidValue   Code = 45
	CodeInvalidArg     Code = 55
	CodeNotEnabled     Code = 69
	CodeConflict       Code = 70
	CodeCanceled       Code = 99
	CodeFalse          Code = 256
	CodeUnknownCommand Code = 275
	CodeNotImplemented Code = 276
	CodeServerFault    Code = 277
	CodeSyntax         Code = 279
	CodeNoInput        Code = 280
	CodeNoOutput       Code = 281
)

var codeText = map[Code]string{
	CodeGeneral:        "General error",
	CodeBadSignature:   "Bad signature",
	CodeInvalidValue:   "Invalid value",
	CodeInvalidArg:     "Invalid argument",
	CodeNotEnabled:     "Not enabled",
	CodeConflict:       "Conflict",
	CodeCanceled:       "Operation cancelled",
	CodeFalse:          "False",
	CodeUnknownCommand: "Unknown IPC command",
	CodeNotImplemented: "Not implemented",
	CodeServerFault:    "IPC server fault",
	CodeSyntax:         "IPC syntax error",
	CodeNoInput:        "No input source",
	CodeNoOutput:       "No output source",
}

// Base strips the error source.
func (c Code) Base() Code {
	return c & 0xffff
}

func (c Code) String() string {
	if text, ok := codeText[c.Base()]; ok {
		return text
	}
	return "Error " + strconv.FormatUint(uint64(c), 10)
}

// Error is a protocol-level failure carried on an ERR line.
type Error struct {
	Code    Code
	Message string
}

// Errorf builds an *Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewError builds an *Error with the default text for code.
func NewError(code Code) *Error {
	return &Error{Code: code, Message: code.String()}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%d %s", e.Code, e.Code)
	}
	return fmt.Sprintf("%d %s", e.Code, e.Message)
}

// Is matches any *Error with the same base code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code.Base() == e.Code.Base()
}

var (
	// ErrCanceled reports that the peer or the user canceled the operation.
	ErrCanceled = NewError(CodeCanceled)

	// ErrProtocol reports an unexpected or malformed line.
	ErrProtocol = errors.New("assuan: protocol violation")

	// ErrLineTooLong reports a line exceeding MaxLineLength.
	ErrLineTooLong = errors.New("assuan: line too long")
)

// IsCanceled reports whether err carries the canceled code.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}

// CodeOf returns the code carried by err, CodeGeneral for other non-nil
// errors and zero for nil.
func CodeOf(err error) Code {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeGeneral
}

// parseErrLine parses the remainder of an "ERR" line.
func parseErrLine(rest string) *Error {
	codeText, message, _ := strings.Cut(rest, " ")
	code, err := strconv.ParseUint(codeText, 10, 32)
	if err != nil {
		return &Error{Code: CodeGeneral, Message: strings.TrimSpace(rest)}
	}
	return &Error{Code: Code(code), Message: message}
}
