package testutil

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/systmms/keyrot/internal/logging"
)

// LogBuffer captures logger output for assertions
type LogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// String returns everything logged so far
func (b *LogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// AssertContains fails the test if the output lacks substr
func (b *LogBuffer) AssertContains(t *testing.T, substr string) {
	t.Helper()
	assert.Contains(t, b.String(), substr)
}

// AssertNotContains fails the test if the output contains substr
func (b *LogBuffer) AssertNotContains(t *testing.T, substr string) {
	t.Helper()
	assert.NotContains(t, b.String(), substr)
}

// Lines returns the non-empty output lines
func (b *LogBuffer) Lines() []string {
	var out []string
	for _, line := range strings.Split(b.String(), "\n") {
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// NewTestLogger returns a debug-enabled, colourless logger writing to a buffer.
//
//	logger, logs := testutil.NewTestLogger(t)
//	engine.Rotate(ctx, "ci-deployer")
//	logs.AssertNotContains(t, secret)
func NewTestLogger(t *testing.T) (*logging.Logger, *LogBuffer) {
	t.Helper()

	buf := &LogBuffer{}
	logger := logging.New(true, true)
	logger.SetOutput(buf)
	return logger, buf
}
