package assuan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Handlers receive the intermediate responses of a transaction. Any of them
// may be nil.
type Handlers struct {
	// Data receives each decoded D payload.
	Data func([]byte) error
	// Status receives each S line.
	Status func(keyword, args string)
	// Inquire answers an INQUIRE. A nil handler answers with no data.
	Inquire func(ctx context.Context, keyword string) ([]byte, error)
}

// Conn is the client half of a connection.
type Conn struct {
	*lineIO
	closer io.Closer
}

func NewConn(rwc io.ReadWriteCloser) *Conn {
	return &Conn{lineIO: newLineIO(rwc, rwc), closer: rwc}
}

func (c *Conn) Close() error {
	return c.closer.Close()
}

// ReadGreeting consumes the server's initial OK line and returns its text.
func (c *Conn) ReadGreeting() (string, error) {
	for {
		line, err := c.readLine()
		if err != nil {
			return "", fmt.Errorf("read greeting: %w", err)
		}
		verb, rest := SplitCommand(line)
		switch {
		case verb == "OK":
			return rest, nil
		case verb == "ERR":
			return "", parseErrLine(rest)
		case line == "" || strings.HasPrefix(line, "#"):
			continue
		default:
			return "", fmt.Errorf("%w: unexpected greeting %q", ErrProtocol, line)
		}
	}
}

// Transact sends command and processes responses until OK or ERR. An ERR
// response is returned as *Error. Canceling ctx closes the connection to
// release a blocked read and returns ctx.Err().
func (c *Conn) Transact(ctx context.Context, command string, h Handlers) error {
	stop := context.AfterFunc(ctx, func() { _ = c.closer.Close() })
	defer stop()

	err := c.transact(ctx, command, h)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *Conn) transact(ctx context.Context, command string, h Handlers) error {
	if err := c.writeLine(command); err != nil {
		return fmt.Errorf("send %s: %w", firstWord(command), err)
	}

	var handlerErr error
	for {
		line, err := c.readLine()
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		verb, rest := SplitCommand(line)
		switch verb {
		case "OK":
			return handlerErr
		case "ERR":
			return parseErrLine(rest)
		case "D":
			data, err := UnescapeData(dataPayload(line))
			if err != nil {
				return fmt.Errorf("%w: %v", ErrProtocol, err)
			}
			if h.Data != nil && handlerErr == nil {
				handlerErr = h.Data(data)
			}
		case "S":
			if h.Status != nil {
				keyword, args := SplitCommand(rest)
				h.Status(keyword, args)
			}
		case "INQUIRE":
			if err := c.answerInquire(ctx, rest, h.Inquire); err != nil {
				return err
			}
		case "":
		default:
			if strings.HasPrefix(verb, "#") {
				continue
			}
			return fmt.Errorf("%w: unexpected response %q", ErrProtocol, line)
		}
	}
}

func (c *Conn) answerInquire(ctx context.Context, rest string, inquire func(context.Context, string) ([]byte, error)) error {
	keyword, _ := SplitCommand(rest)

	var data []byte
	if inquire != nil {
		var err error
		data, err = inquire(ctx, keyword)
		if err != nil {
			// The server answers CAN with its own ERR line.
			return c.writeLine("CAN")
		}
	}
	if err := c.writeData(data); err != nil {
		return fmt.Errorf("answer inquire %s: %w", keyword, err)
	}
	if err := c.writeLine("END"); err != nil {
		return fmt.Errorf("answer inquire %s: %w", keyword, err)
	}
	return nil
}

func firstWord(s string) string {
	verb, _ := SplitCommand(s)
	return verb
}

// IsProtocolError reports whether err stems from a malformed exchange.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrProtocol) || errors.Is(err, ErrLineTooLong)
}
