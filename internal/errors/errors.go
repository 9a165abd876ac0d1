package errors

import (
	"errors"
	"fmt"
	"strings"
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// IsConfigError reports whether err is, or wraps, a ConfigError
func IsConfigError(err error) bool {
	var ce ConfigError
	return errors.As(err, &ce)
}

// ProviderError enhances store and distributor errors with context
func ProviderError(provider string, operation string, err error) error {
	suggestion := getProviderSuggestion(provider, err)

	return UserError{
		Message:    fmt.Sprintf("%s error during %s", provider, operation),
		Suggestion: suggestion,
		Err:        err,
	}
}

// getProviderSuggestion returns helpful suggestions based on provider and error
func getProviderSuggestion(provider string, err error) string {
	errStr := err.Error()

	switch provider {
	case "iam", "aws.iam":
		if strings.Contains(errStr, "NoSuchEntity") {
			return "Verify the IAM user name. List users with: 'aws iam list-users'"
		}
		if strings.Contains(errStr, "LimitExceeded") {
			return "The user already has two access keys. Delete one manually before rotating again"
		}
		if strings.Contains(errStr, "AccessDenied") {
			return "Check IAM permissions for iam:ListAccessKeys, iam:CreateAccessKey, iam:UpdateAccessKey and iam:DeleteAccessKey"
		}

	case "travis":
		if strings.Contains(errStr, "403") || strings.Contains(errStr, "401") {
			return "Check the Travis CI API token. Generate one with 'travis token --com'"
		}
		if strings.Contains(errStr, "not found") {
			return "Create the environment variables in the repository settings before the first rotation"
		}

	case "github":
		if strings.Contains(errStr, "401") || strings.Contains(errStr, "403") {
			return "The token needs repository 'secrets' and 'variables' write permission"
		}
		if strings.Contains(errStr, "not found") {
			return "Create the repository secret and variable before the first rotation"
		}

	case "aws", "aws.ssm", "aws.secretsmanager", "aws.sts":
		if strings.Contains(errStr, "credentials") || strings.Contains(errStr, "authorization") {
			return "Configure AWS credentials: 'aws configure' or set AWS_PROFILE"
		}
		if strings.Contains(errStr, "AccessDenied") {
			return "Check IAM permissions for the target service"
		}
		if strings.Contains(errStr, "ThrottlingException") {
			return "AWS rate limit exceeded. Wait a moment and try again"
		}

	case "vault":
		if strings.Contains(errStr, "permission denied") || strings.Contains(errStr, "403") {
			return "Check the Vault token policy allows read and update on the secret path"
		}

	case "kubernetes":
		if strings.Contains(errStr, "forbidden") {
			return "Grant the service account get and update on secrets in the target namespace"
		}
	}

	// Generic suggestions
	if strings.Contains(errStr, "timeout") {
		return "The operation timed out. Check your network connection and try again"
	}
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host") {
		return "Unable to connect. Check your network and endpoint configuration"
	}

	return ""
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()
	retryablePatterns := []string{
		"timeout",
		"temporary failure",
		"connection reset",
		"broken pipe",
		"rate limit",
		"throttling",
		"too many requests",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(strings.ToLower(errStr), pattern) {
			return true
		}
	}

	return false
}
