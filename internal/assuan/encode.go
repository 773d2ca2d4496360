// Package assuan implements the line protocol spoken between the UI server
// and its clients: argument encoding, data-line escaping, error codes, and
// the client and server halves of a line exchange.
package assuan

import (
	"fmt"
	"strings"
)

const hexDigits = "0123456789ABCDEF"

// Encode percent/plus-encodes an argument. Printable ASCII passes through
// except for the shell specials `"#$%'+=`, space becomes '+', and every other
// byte becomes %XX.
func Encode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == ' ':
			b.WriteByte('+')
		case c > ' ' && c < 0x7f && !isSpecial(c):
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0f])
		}
	}
	return b.String()
}

func isSpecial(c byte) bool {
	switch c {
	case '"', '#', '$', '%', '\'', '+', '=':
		return true
	default:
		return false
	}
}

// Decode reverses Encode. It also accepts %XX escapes for bytes Encode would
// have left alone.
func Decode(s string) (string, error) {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '+':
			b.WriteByte(' ')
		case '%':
			v, err := unhex(s, i)
			if err != nil {
				return "", err
			}
			b.WriteByte(v)
			i += 2
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

func unhex(s string, at int) (byte, error) {
	if at+2 >= len(s) {
		return 0, fmt.Errorf("truncated escape at offset %d", at)
	}
	hi, okHi := fromHex(s[at+1])
	lo, okLo := fromHex(s[at+2])
	if !okHi || !okLo {
		return 0, fmt.Errorf("invalid escape %q at offset %d", s[at:at+3], at)
	}
	return hi<<4 | lo, nil
}

func fromHex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}
