package errors_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/keyrot/internal/errors"
)

func TestUserErrorFormatting(t *testing.T) {
	t.Parallel()

	err := errors.UserError{
		Message:    "Operation failed",
		Details:    "Connection timeout",
		Suggestion: "Check network connectivity",
	}

	errMsg := err.Error()

	assert.Contains(t, errMsg, "Operation failed")
	assert.Contains(t, errMsg, "Connection timeout")
	assert.Contains(t, errMsg, "Check network connectivity")
}

func TestUserErrorFallsBackToWrapped(t *testing.T) {
	t.Parallel()

	inner := fmt.Errorf("boom")
	err := errors.UserError{Err: inner}

	assert.Equal(t, "boom", err.Error())
	assert.ErrorIs(t, err, inner)
}

func TestConfigErrorFormatting(t *testing.T) {
	t.Parallel()

	err := errors.ConfigError{
		Field:      "distributors.travis.projects",
		Value:      0,
		Message:    "at least one project is required",
		Suggestion: "Add a project with target, key_id_name and secret_name",
	}

	errMsg := err.Error()

	assert.Contains(t, errMsg, "distributors.travis.projects")
	assert.Contains(t, errMsg, "(value: 0)")
	assert.Contains(t, errMsg, "at least one project is required")
	assert.Contains(t, errMsg, "Add a project")
}

func TestIsConfigError(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("load: %w", errors.ConfigError{Message: "bad"})
	assert.True(t, errors.IsConfigError(wrapped))
	assert.False(t, errors.IsConfigError(fmt.Errorf("other")))
}

func TestProviderErrorSuggestions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		provider   string
		err        error
		suggestion string
	}{
		{
			name:       "iam missing user",
			provider:   "iam",
			err:        fmt.Errorf("api error NoSuchEntity: user not found"),
			suggestion: "aws iam list-users",
		},
		{
			name:       "iam key limit",
			provider:   "iam",
			err:        fmt.Errorf("api error LimitExceeded: cannot exceed quota"),
			suggestion: "two access keys",
		},
		{
			name:       "travis auth",
			provider:   "travis",
			err:        fmt.Errorf("travis returned status 403"),
			suggestion: "Travis CI API token",
		},
		{
			name:       "github missing secret",
			provider:   "github",
			err:        fmt.Errorf("secret AWS_SECRET_ACCESS_KEY not found"),
			suggestion: "Create the repository secret",
		},
		{
			name:       "generic timeout",
			provider:   "vault",
			err:        fmt.Errorf("dial tcp: i/o timeout"),
			suggestion: "timed out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := errors.ProviderError(tt.provider, "push", tt.err)
			var ue errors.UserError
			require.ErrorAs(t, err, &ue)
			assert.Contains(t, ue.Suggestion, tt.suggestion)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	assert.False(t, errors.IsRetryable(nil))
	assert.True(t, errors.IsRetryable(fmt.Errorf("Throttling: Rate exceeded")))
	assert.True(t, errors.IsRetryable(fmt.Errorf("read: connection reset by peer")))
	assert.False(t, errors.IsRetryable(fmt.Errorf("AccessDenied")))
}
