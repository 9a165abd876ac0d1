package logging

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecretRedaction(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "secret is redacted",
			input:    "wJalrXUtnFEMI/K7MDENG/bPxRfiCYEXAMPLEKEY",
			expected: "[REDACTED]",
		},
		{
			name:     "empty secret is still redacted",
			input:    "",
			expected: "[REDACTED]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Secret(tt.input).String())
			assert.Equal(t, tt.expected, Secret(tt.input).GoString())
			assert.Equal(t, tt.input, Secret(tt.input).Reveal())
		})
	}
}

func TestLoggerWritesToOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(false, true)
	logger.SetOutput(&buf)

	logger.Info("created key %s", "AKIAEXAMPLE")
	logger.Warn("lock held")
	logger.Error("push failed")

	out := buf.String()
	assert.Contains(t, out, "✓ created key AKIAEXAMPLE")
	assert.Contains(t, out, "⚠ lock held")
	assert.Contains(t, out, "✗ push failed")
	assert.NotContains(t, out, "\033[")
}

func TestLoggerDebugMode(t *testing.T) {
	var buf bytes.Buffer

	quiet := New(false, true)
	quiet.SetOutput(&buf)
	quiet.Debug("hidden")
	assert.Empty(t, buf.String())
	assert.False(t, quiet.DebugEnabled())

	verbose := New(true, true)
	verbose.SetOutput(&buf)
	verbose.Debug("shown %d", 1)
	assert.Contains(t, buf.String(), "[DEBUG] shown 1")
}

func TestSecretNeverReachesOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(true, false)
	logger.SetOutput(&buf)

	secret := Secret("super-secret-value")
	logger.Info("new secret: %s", secret)
	logger.Debug("new secret: %v", secret)
	logger.Debug("new secret: %#v", secret)

	assert.NotContains(t, buf.String(), "super-secret-value")
	assert.Contains(t, buf.String(), "[REDACTED]")
}

func TestRedact(t *testing.T) {
	msg := fmt.Sprintf("push failed for %s with token %s", "AKIA123", "tok-abcdef")
	assert.Equal(t, "push failed for AKIA123 with token [REDACTED]", Redact(msg, []string{"tok-abcdef", "", "abc"}))
}
