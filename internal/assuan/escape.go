package assuan

import (
	"fmt"
	"strings"
)

// MaxLineLength bounds a protocol line, excluding its terminator.
const MaxLineLength = 1000

// maxDataChunk is the escaped payload that fits after "D ".
const maxDataChunk = MaxLineLength - 2

// EscapeData escapes a D-line payload: '%', CR and LF become %25, %0D and
// %0A.
func EscapeData(p []byte) string {
	var b strings.Builder
	b.Grow(len(p))
	for _, c := range p {
		writeDataByte(&b, c)
	}
	return b.String()
}

func writeDataByte(b *strings.Builder, c byte) {
	switch c {
	case '%', '\r', '\n':
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	default:
		b.WriteByte(c)
	}
}

// UnescapeData decodes %XX escapes in a D-line payload. '+' is literal.
func UnescapeData(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			out = append(out, s[i])
			continue
		}
		v, err := unhex(s, i)
		if err != nil {
			return nil, fmt.Errorf("data line: %w", err)
		}
		out = append(out, v)
		i += 2
	}
	return out, nil
}

// SplitData escapes p into payloads of at most limit bytes each. An escape
// sequence is never split across payloads. limit values below 3 are raised
// to 3.
func SplitData(p []byte, limit int) []string {
	if limit < 3 {
		limit = 3
	}
	var (
		chunks []string
		b      strings.Builder
	)
	for _, c := range p {
		width := 1
		if c == '%' || c == '\r' || c == '\n' {
			width = 3
		}
		if b.Len()+width > limit {
			chunks = append(chunks, b.String())
			b.Reset()
		}
		writeDataByte(&b, c)
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}
	return chunks
}
