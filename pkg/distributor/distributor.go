package distributor

import (
	"context"
	"fmt"
	"strconv"

	"github.com/systmms/keyrot/internal/logging"
)

// Distributor pushes a newly created access key to one target system
type Distributor interface {
	// Name returns the configured name of this distributor (e.g. "travis-main")
	Name() string

	// ValidateConfiguration checks that cfg carries an authentication
	// credential, at least one Project, and whatever the target type needs.
	ValidateConfiguration(cfg ServiceConfiguration) error

	// PushNewCredentials overwrites the key id and secret locations of every
	// Project in cfg.
	PushNewCredentials(ctx context.Context, cfg ServiceConfiguration, keyID string, secret logging.Secret) error
}

// ServiceConfiguration describes one distribution target
type ServiceConfiguration struct {
	// Name is the distributor name from keyrot.yaml
	Name string

	// Type selects the implementation ("travis", "github", "vault", ...)
	Type string

	// Auth is the resolved credential used to authenticate to the target
	Auth logging.Secret

	// Projects lists where the key id and secret live at the target
	Projects []Project

	// Options carries type-specific settings such as endpoint or mount
	Options map[string]interface{}
}

// Project names the two locations at a target that hold the key
type Project struct {
	// Target identifies the container at the target system: a repository
	// slug, a secret path, a parameter prefix, a vault URL
	Target string

	// KeyIDName is the location receiving the access key id (public)
	KeyIDName string

	// SecretName is the location receiving the secret access key (private)
	SecretName string
}

// Option returns a string option, or def when it is unset
func (c ServiceConfiguration) Option(key, def string) string {
	v, ok := c.Options[key]
	if !ok || v == nil {
		return def
	}
	switch val := v.(type) {
	case string:
		if val == "" {
			return def
		}
		return val
	default:
		return fmt.Sprint(val)
	}
}

// IntOption returns an integer option, or def when it is unset or malformed
func (c ServiceConfiguration) IntOption(key string, def int) int {
	v, ok := c.Options[key]
	if !ok || v == nil {
		return def
	}
	switch val := v.(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		return int(val)
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return def
}

// BoolOption returns a boolean option, or def when it is unset or malformed
func (c ServiceConfiguration) BoolOption(key string, def bool) bool {
	v, ok := c.Options[key]
	if !ok || v == nil {
		return def
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return def
}

// ValidateCommon applies the checks every distributor shares: an
// authentication credential, at least one Project, and complete Projects.
func ValidateCommon(cfg ServiceConfiguration) error {
	if cfg.Auth.Reveal() == "" {
		return &ValidationError{Distributor: cfg.Name, Message: "authentication credential is required"}
	}
	if len(cfg.Projects) == 0 {
		return &ValidationError{Distributor: cfg.Name, Message: "at least one project is required"}
	}
	for i, p := range cfg.Projects {
		if p.Target == "" || p.KeyIDName == "" || p.SecretName == "" {
			return &ValidationError{
				Distributor: cfg.Name,
				Message:     fmt.Sprintf("project %d needs target, key_id_name and secret_name", i),
			}
		}
	}
	return nil
}
