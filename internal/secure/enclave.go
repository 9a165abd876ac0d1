package secure

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
	"github.com/systmms/keyrot/internal/logging"
)

// ErrDestroyed is returned by Use after Destroy.
var ErrDestroyed = errors.New("secret box destroyed")

// SecretBox keeps a secret encrypted in memory until it is needed.
type SecretBox struct {
	enclave   *memguard.Enclave
	mu        sync.RWMutex
	destroyed bool
}

// Seal copies value into an encrypted enclave. The intermediate byte slice
// is wiped by memguard.
func Seal(value string) (*SecretBox, error) {
	if value == "" {
		return nil, errors.New("cannot seal an empty secret")
	}

	enclave := memguard.NewEnclave([]byte(value))
	if enclave == nil {
		return nil, errors.New("failed to create enclave")
	}

	return &SecretBox{enclave: enclave}, nil
}

// Use decrypts the secret, hands it to fn and wipes the plaintext buffer
// once fn returns.
func (b *SecretBox) Use(fn func(logging.Secret) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.destroyed {
		return ErrDestroyed
	}

	locked, err := b.enclave.Open()
	if err != nil {
		return err
	}
	defer locked.Destroy()

	return fn(logging.Secret(locked.String()))
}

// Destroy drops the enclave. Safe to call more than once.
func (b *SecretBox) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.enclave = nil
	b.destroyed = true
}
