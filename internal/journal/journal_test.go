package journal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewReaderNormalizesUnits(t *testing.T) {
	r := NewReader([]string{"myd", "sshd.service", "app.scope", "", "system"})
	assert.Equal(t, []string{"myd.service", "sshd.service", "app.scope"}, r.Units())
}

func TestNewReaderFullJournal(t *testing.T) {
	r := NewReader(nil)
	assert.Empty(t, r.Units())
}

func TestExtractCursor(t *testing.T) {
	out := []byte("some log line\nanother line\n-- cursor: s=abc123;i=44\n")
	assert.Equal(t, "s=abc123;i=44", extractCursor(out))
	assert.Empty(t, extractCursor([]byte("no cursor here\n")))
}
