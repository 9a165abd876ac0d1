// Package keystore adapts an identity system's access-key API to the shape
// the rotation engine works with. It holds no business logic.
package keystore

import (
	"context"
	"errors"
	"time"

	"github.com/systmms/keyrot/internal/logging"
)

// Status is the lifecycle state of an access key
type Status string

const (
	StatusActive   Status = "Active"
	StatusInactive Status = "Inactive"
)

// ErrNotFound is returned when the principal or key does not exist
var ErrNotFound = errors.New("not found")

// AccessKey is a read-only snapshot of one key
type AccessKey struct {
	ID        string
	CreatedAt time.Time
	Status    Status
}

// NewAccessKey is a key returned by CreateKey. Secret is only ever
// available here.
type NewAccessKey struct {
	AccessKey
	Secret logging.Secret
}

// Store manages access keys for principals
type Store interface {
	// ListKeys returns every key the principal currently has, in no
	// particular order.
	ListKeys(ctx context.Context, principal string) ([]AccessKey, error)

	// CreateKey creates an Active key and returns it with its secret.
	CreateKey(ctx context.Context, principal string) (*NewAccessKey, error)

	// UpdateKeyStatus sets the status of one key.
	UpdateKeyStatus(ctx context.Context, principal, keyID string, status Status) error

	// DeleteKey removes one key.
	DeleteKey(ctx context.Context, principal, keyID string) error
}
