// Package lock keeps two rotation steps for the same principal from running
// at once.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrLocked is returned by Acquire when another owner holds the principal
var ErrLocked = errors.New("principal is locked by another rotation")

// Lease is a held lock
type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out per-principal leases. Acquire never blocks waiting for
// another owner: contention returns ErrLocked.
type Locker interface {
	Acquire(ctx context.Context, principal string) (Lease, error)
}

// New returns the locker for a configured lock type
func New(typ string, ssmLocker func() (*SSMLocker, error)) (Locker, error) {
	switch typ {
	case "", "local":
		return NewLocalLocker(), nil
	case "none":
		return NopLocker{}, nil
	case "ssm":
		return ssmLocker()
	default:
		return nil, fmt.Errorf("unknown lock type %q", typ)
	}
}

// LocalLocker locks principals within this process
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker creates an in-process locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

// Acquire takes the principal or fails with ErrLocked
func (l *LocalLocker) Acquire(ctx context.Context, principal string) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[principal]; ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, principal)
	}
	l.held[principal] = struct{}{}
	return &localLease{locker: l, principal: principal}, nil
}

type localLease struct {
	locker    *LocalLocker
	principal string
	once      sync.Once
}

func (l *localLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		l.locker.mu.Lock()
		delete(l.locker.held, l.principal)
		l.locker.mu.Unlock()
	})
	return nil
}

// NopLocker grants every request. Use it when the scheduler already
// guarantees that invocations never overlap.
type NopLocker struct{}

// Acquire always succeeds
func (NopLocker) Acquire(ctx context.Context, principal string) (Lease, error) {
	return nopLease{}, nil
}

type nopLease struct{}

func (nopLease) Release(ctx context.Context) error { return nil }
