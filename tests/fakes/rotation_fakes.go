package fakes

import (
	"context"
	"sync"

	"github.com/systmms/keyrot/internal/logging"
	"github.com/systmms/keyrot/pkg/distributor"
)

// Push records one PushNewCredentials call
type Push struct {
	Config distributor.ServiceConfiguration
	KeyID  string
	Secret string
}

// FakeDistributor records pushes instead of sending them
type FakeDistributor struct {
	mu sync.Mutex

	DistributorName string

	// ValidateErr is returned by ValidateConfiguration
	ValidateErr error
	// PushErr is returned by PushNewCredentials after recording the call
	PushErr error
	// PushFunc replaces the default behaviour when set
	PushFunc func(ctx context.Context, cfg distributor.ServiceConfiguration, keyID string, secret logging.Secret) error

	Pushes []Push
}

// NewFakeDistributor creates a fake that accepts every push
func NewFakeDistributor(name string) *FakeDistributor {
	return &FakeDistributor{DistributorName: name}
}

// Name returns the configured name
func (f *FakeDistributor) Name() string {
	return f.DistributorName
}

// ValidateConfiguration applies the shared checks, then ValidateErr
func (f *FakeDistributor) ValidateConfiguration(cfg distributor.ServiceConfiguration) error {
	if err := distributor.ValidateCommon(cfg); err != nil {
		return err
	}
	return f.ValidateErr
}

// PushNewCredentials records the pushed pair
func (f *FakeDistributor) PushNewCredentials(ctx context.Context, cfg distributor.ServiceConfiguration, keyID string, secret logging.Secret) error {
	f.mu.Lock()
	f.Pushes = append(f.Pushes, Push{Config: cfg, KeyID: keyID, Secret: secret.Reveal()})
	f.mu.Unlock()

	if f.PushFunc != nil {
		return f.PushFunc(ctx, cfg, keyID, secret)
	}
	return f.PushErr
}

// PushCount returns the number of recorded pushes
func (f *FakeDistributor) PushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Pushes)
}

// LastPush returns the most recent push
func (f *FakeDistributor) LastPush() (Push, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Pushes) == 0 {
		return Push{}, false
	}
	return f.Pushes[len(f.Pushes)-1], true
}

var _ distributor.Distributor = (*FakeDistributor)(nil)
