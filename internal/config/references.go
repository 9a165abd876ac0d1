package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"

	dserrors "github.com/systmms/keyrot/internal/errors"
	"github.com/systmms/keyrot/internal/logging"
)

// Reference prefixes accepted wherever keyrot.yaml takes a credential
const (
	EnvPrefix     = "env:"
	FilePrefix    = "file:"
	KeyringPrefix = "keyring:"
)

// Resolver turns credential references into values.
//
//	env:NAME                 environment variable
//	file:/path               file contents, trailing newline trimmed
//	keyring:service/account  OS keychain through go-keyring
//
// Anything else is taken literally.
type Resolver struct {
	LookupEnv  func(string) (string, bool)
	ReadFile   func(string) ([]byte, error)
	KeyringGet func(service, account string) (string, error)
}

// NewResolver returns a resolver backed by the process environment, the
// filesystem and the OS keychain.
func NewResolver() *Resolver {
	return &Resolver{
		LookupEnv:  os.LookupEnv,
		ReadFile:   os.ReadFile,
		KeyringGet: keyring.Get,
	}
}

// Resolve returns the value behind ref
func (r *Resolver) Resolve(ref string) (logging.Secret, error) {
	switch {
	case strings.HasPrefix(ref, EnvPrefix):
		name := strings.TrimPrefix(ref, EnvPrefix)
		value, ok := r.LookupEnv(name)
		if !ok || value == "" {
			return "", dserrors.ConfigError{
				Field:      "reference",
				Value:      ref,
				Message:    "environment variable is not set",
				Suggestion: fmt.Sprintf("export %s before running keyrot", name),
			}
		}
		return logging.Secret(value), nil

	case strings.HasPrefix(ref, FilePrefix):
		path := strings.TrimPrefix(ref, FilePrefix)
		data, err := r.ReadFile(path)
		if err != nil {
			return "", dserrors.ConfigError{
				Field:      "reference",
				Value:      ref,
				Message:    fmt.Sprintf("cannot read credential file: %v", err),
				Suggestion: "Check the file exists and is readable by the keyrot process",
			}
		}
		return logging.Secret(strings.TrimRight(string(data), "\r\n")), nil

	case strings.HasPrefix(ref, KeyringPrefix):
		spec := strings.TrimPrefix(ref, KeyringPrefix)
		service, account, ok := strings.Cut(spec, "/")
		if !ok || service == "" || account == "" {
			return "", dserrors.ConfigError{
				Field:      "reference",
				Value:      ref,
				Message:    "keyring reference must be keyring:service/account",
				Suggestion: "For example keyring:keyrot/travis-token",
			}
		}
		value, err := r.KeyringGet(service, account)
		if err != nil {
			msg := fmt.Sprintf("keychain lookup failed: %v", err)
			if errors.Is(err, keyring.ErrNotFound) {
				msg = "no keychain item for service/account"
			}
			return "", dserrors.ConfigError{
				Field:      "reference",
				Value:      ref,
				Message:    msg,
				Suggestion: "Store the item with your OS keychain tool or use an env: reference",
			}
		}
		return logging.Secret(value), nil
	}

	return logging.Secret(ref), nil
}
