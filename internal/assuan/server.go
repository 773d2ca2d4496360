package assuan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// maxInquireLength caps the bytes accepted in one inquire answer.
const maxInquireLength = 1 << 20

// ServerConn is the server half of a connection. Writes are serialized, so
// status and data lines may be sent from a command handler while the
// connection loop waits for it.
type ServerConn struct {
	*lineIO
}

func NewServerConn(r io.Reader, w io.Writer) *ServerConn {
	return &ServerConn{lineIO: newLineIO(r, w)}
}

// ReadLine returns the next request line.
func (c *ServerConn) ReadLine() (string, error) {
	return c.readLine()
}

// OK ends a command successfully. A non-empty comment is appended.
func (c *ServerConn) OK(comment string) error {
	if comment == "" {
		return c.writeLine("OK")
	}
	return c.writeLine("OK " + comment)
}

// Err ends a command with err. Errors that are not *Error are reported as
// CodeGeneral with their text.
func (c *ServerConn) Err(err error) error {
	var e *Error
	if !errors.As(err, &e) {
		e = &Error{Code: CodeGeneral, Message: err.Error()}
	}
	msg := e.Message
	if msg == "" {
		msg = e.Code.String()
	}
	return c.writeLine(fmt.Sprintf("ERR %d %s", e.Code, sanitize(msg)))
}

// Data sends p as one or more D lines.
func (c *ServerConn) Data(p []byte) error {
	return c.writeData(p)
}

// Status sends an S line.
func (c *ServerConn) Status(keyword, args string) error {
	if args == "" {
		return c.writeLine("S " + keyword)
	}
	return c.writeLine("S " + keyword + " " + sanitize(args))
}

func (c *ServerConn) Comment(text string) error {
	return c.writeLine("# " + sanitize(text))
}

// Inquire asks the client for the data named keyword and collects the D
// lines of its answer until END. A CAN answer yields ErrCanceled.
func (c *ServerConn) Inquire(ctx context.Context, keyword string) ([]byte, error) {
	if err := c.writeLine("INQUIRE " + keyword); err != nil {
		return nil, err
	}

	var data []byte
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, err := c.readLine()
		if err != nil {
			return nil, err
		}
		verb, _ := SplitCommand(line)
		switch verb {
		case "D":
			chunk, err := UnescapeData(dataPayload(line))
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
			}
			if len(data)+len(chunk) > maxInquireLength {
				return nil, fmt.Errorf("%w: inquire answer exceeds %d bytes", ErrProtocol, maxInquireLength)
			}
			data = append(data, chunk...)
		case "END":
			if data == nil {
				data = []byte{}
			}
			return data, nil
		case "CAN":
			return nil, ErrCanceled
		case "", "#":
		default:
			if strings.HasPrefix(verb, "#") {
				continue
			}
			return nil, fmt.Errorf("%w: unexpected %q during inquire %s", ErrProtocol, verb, keyword)
		}
	}
}

// dataPayload returns the escaped payload of a D line.
func dataPayload(line string) string {
	if len(line) <= 2 {
		return ""
	}
	return line[2:]
}

func sanitize(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
