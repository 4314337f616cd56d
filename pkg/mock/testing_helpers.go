package mock

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"testing"
)

// SetupLogger returns a logger whose output is only printed when the test
// fails, keeping passing runs quiet.
func SetupLogger(t *testing.T) *slog.Logger {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	t.Cleanup(func() {
		if t.Failed() {
			os.Stdout.Write(buf.Bytes()) //nolint:errcheck
		}
	})

	return logger
}

// StringLiteral is a simple imap.Literal implementation wrapping a string,
// used to feed raw message bodies into fetch results.
type StringLiteral struct {
	s   string
	pos int
}

// NewStringLiteral creates a StringLiteral for s.
func NewStringLiteral(s string) *StringLiteral {
	return &StringLiteral{s: s}
}

func (l *StringLiteral) Read(p []byte) (n int, err error) {
	if l.pos >= len(l.s) {
		return 0, io.EOF
	}
	n = copy(p, l.s[l.pos:])
	l.pos += n
	return n, nil
}

// Len returns the length of the underlying string.
func (l *StringLiteral) Len() int {
	return len(l.s)
}
