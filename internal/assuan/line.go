package assuan

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// lineIO reads and writes protocol lines over a byte stream.
type lineIO struct {
	br *bufio.Reader

	wmu sync.Mutex
	w   io.Writer
}

func newLineIO(r io.Reader, w io.Writer) *lineIO {
	return &lineIO{
		br: bufio.NewReaderSize(r, MaxLineLength+2),
		w:  w,
	}
}

// readLine returns the next line without its LF or CRLF terminator. A line
// longer than MaxLineLength is consumed and reported as ErrLineTooLong.
func (l *lineIO) readLine() (string, error) {
	line, err := l.br.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		for errors.Is(err, bufio.ErrBufferFull) {
			_, err = l.br.ReadSlice('\n')
		}
		if err != nil {
			return "", err
		}
		return "", ErrLineTooLong
	}
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}

	text := strings.TrimSuffix(strings.TrimSuffix(string(line), "\n"), "\r")
	if len(text) > MaxLineLength {
		return "", ErrLineTooLong
	}
	return text, nil
}

func (l *lineIO) writeLine(line string) error {
	if len(line) > MaxLineLength {
		return fmt.Errorf("%w: %d bytes", ErrLineTooLong, len(line))
	}
	if strings.ContainsAny(line, "\r\n") {
		return fmt.Errorf("%w: embedded line break", ErrProtocol)
	}

	l.wmu.Lock()
	defer l.wmu.Unlock()
	_, err := io.WriteString(l.w, line+"\n")
	return err
}

func (l *lineIO) writeData(p []byte) error {
	for _, chunk := range SplitData(p, maxDataChunk) {
		if err := l.writeLine("D " + chunk); err != nil {
			return err
		}
	}
	return nil
}

// SplitCommand separates a line into its verb and the remaining arguments.
func SplitCommand(line string) (verb, args string) {
	verb, args, _ = strings.Cut(line, " ")
	return verb, strings.TrimLeft(args, " ")
}
