package rotation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	dserrors "github.com/systmms/keyrot/internal/errors"
	"github.com/systmms/keyrot/internal/lock"
	"github.com/systmms/keyrot/internal/logging"
	"github.com/systmms/keyrot/internal/secure"
	"github.com/systmms/keyrot/pkg/distributor"
	"github.com/systmms/keyrot/pkg/keystore"
)

const (
	// DefaultGracePeriod is the delay between a key becoming listable and
	// its distribution
	DefaultGracePeriod = 10 * time.Second

	// DefaultConsistencyTimeout bounds the wait for a new key to list
	DefaultConsistencyTimeout = 30 * time.Second

	defaultPollDelay    = time.Second
	defaultMaxPollDelay = 8 * time.Second
)

var errNotListed = errors.New("new key is not listed yet")

// Result describes one rotation step. Fields are filled as far as the step
// got before it finished or failed.
type Result struct {
	Principal string
	Action    Action

	// Keys is the key set the decision was made on, newest first
	Keys []keystore.AccessKey

	// NewKey is the key created by a create step
	NewKey *keystore.AccessKey

	// Distributors lists the targets a create step pushed to
	Distributors []string

	Duration time.Duration
}

// Observer is told about every finished Rotate call, successful or not
type Observer interface {
	RotationFinished(ctx context.Context, result *Result, err error)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(ctx context.Context, result *Result, err error)

// RotationFinished calls f
func (f ObserverFunc) RotationFinished(ctx context.Context, result *Result, err error) {
	f(ctx, result, err)
}

// Engine performs rotation steps against a key store
type Engine struct {
	store  keystore.Store
	logger *logging.Logger

	locker             lock.Locker
	clock              clock.Clock
	gracePeriod        time.Duration
	consistencyTimeout time.Duration
	pollDelay          time.Duration

	fanouts   map[string]*distributor.Fanout
	observers []Observer
}

// Option configures an Engine
type Option func(*Engine)

// WithLocker sets the principal lock (default: in-process)
func WithLocker(l lock.Locker) Option {
	return func(e *Engine) {
		e.locker = l
	}
}

// WithClock sets the clock used for polling and the grace period
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithGracePeriod sets the delay before distribution
func WithGracePeriod(d time.Duration) Option {
	return func(e *Engine) {
		e.gracePeriod = d
	}
}

// WithConsistencyTimeout bounds the wait for a new key to list. Zero skips
// the wait.
func WithConsistencyTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.consistencyTimeout = d
	}
}

// WithPollDelay sets the first delay between listability checks
func WithPollDelay(d time.Duration) Option {
	return func(e *Engine) {
		e.pollDelay = d
	}
}

// WithDistributors sets where new keys of principal are pushed
func WithDistributors(principal string, fanout *distributor.Fanout) Option {
	return func(e *Engine) {
		e.fanouts[principal] = fanout
	}
}

// WithObserver adds an observer of finished steps
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observers = append(e.observers, o)
	}
}

// NewEngine creates an engine over store
func NewEngine(store keystore.Store, logger *logging.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:              store,
		logger:             logger,
		locker:             lock.NewLocalLocker(),
		clock:              clock.WallClock,
		gracePeriod:        DefaultGracePeriod,
		consistencyTimeout: DefaultConsistencyTimeout,
		pollDelay:          defaultPollDelay,
		fanouts:            make(map[string]*distributor.Fanout),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Plan lists the principal's keys and returns the action Rotate would take,
// without locking or mutating anything. Keys are returned newest first.
func (e *Engine) Plan(ctx context.Context, principal string) (Action, []keystore.AccessKey, error) {
	keys, err := e.store.ListKeys(ctx, principal)
	if err != nil {
		return Action{}, nil, fmt.Errorf("list keys for %s: %w", principal, err)
	}
	return Decide(keys), SortNewestFirst(keys), nil
}

// Rotate performs exactly one rotation step for principal. Store errors end
// the step without rollback; the next step re-derives its action from the
// store. The returned Result is never nil.
func (e *Engine) Rotate(ctx context.Context, principal string) (res *Result, err error) {
	start := e.clock.Now()
	res = &Result{Principal: principal}
	defer func() {
		res.Duration = e.clock.Now().Sub(start)
		e.finished(ctx, res, err)
	}()

	fanout := e.fanouts[principal]
	if fanout == nil || fanout.Len() == 0 {
		return res, fmt.Errorf("%s: %w", principal, ErrNoDistributors)
	}

	lease, err := e.locker.Acquire(ctx, principal)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			e.logger.Warn("Skipping %s: %v", principal, err)
		}
		return res, err
	}
	defer func() {
		if rerr := lease.Release(context.WithoutCancel(ctx)); rerr != nil {
			e.logger.Warn("Failed to release lock for %s: %v", principal, rerr)
		}
	}()

	keys, err := e.store.ListKeys(ctx, principal)
	if err != nil {
		return res, fmt.Errorf("list keys for %s: %w", principal, err)
	}
	res.Keys = SortNewestFirst(keys)
	res.Action = Decide(keys)
	e.logger.Info("Principal %s has %d key(s), action: %s", principal, len(keys), res.Action)

	switch res.Action.Kind {
	case KindFatal:
		e.logger.Error("Refusing to rotate %s: %s", principal, res.Action.Reason)
		return res, &InvariantError{Principal: principal, Reason: res.Action.Reason, Keys: res.Keys}

	case KindCreate:
		return res, e.create(ctx, principal, fanout, res)

	case KindInvalidate:
		if err := e.store.UpdateKeyStatus(ctx, principal, res.Action.KeyID, keystore.StatusInactive); err != nil {
			return res, fmt.Errorf("invalidate key %s for %s: %w", res.Action.KeyID, principal, err)
		}
		e.logger.Info("Marked key %s of %s Inactive", res.Action.KeyID, principal)
		return res, nil

	case KindDelete:
		if err := e.store.DeleteKey(ctx, principal, res.Action.KeyID); err != nil {
			return res, fmt.Errorf("delete key %s for %s: %w", res.Action.KeyID, principal, err)
		}
		e.logger.Info("Deleted key %s of %s", res.Action.KeyID, principal)
		return res, nil
	}

	return res, fmt.Errorf("unhandled action %q", res.Action.Kind)
}

// create makes a key, waits for it to list and for the grace period, then
// pushes it. The secret stays sealed except while it is being pushed.
// Cancellation is honoured only before the key exists; an undistributed
// key would get its older sibling disabled by the next step.
func (e *Engine) create(ctx context.Context, principal string, fanout *distributor.Fanout, res *Result) error {
	created, err := e.store.CreateKey(ctx, principal)
	if err != nil {
		return fmt.Errorf("create key for %s: %w", principal, err)
	}
	ctx = context.WithoutCancel(ctx)
	newKey := created.AccessKey
	res.NewKey = &newKey
	e.logger.Info("Created key %s for %s", newKey.ID, principal)

	box, err := secure.Seal(created.Secret.Reveal())
	created.Secret = ""
	if err != nil {
		return &DistributionError{Principal: principal, KeyID: newKey.ID, Err: err}
	}
	defer box.Destroy()

	e.waitListable(ctx, principal, newKey.ID)

	if e.gracePeriod > 0 {
		e.logger.Debug("Waiting %s before distributing %s", e.gracePeriod, newKey.ID)
		<-e.clock.After(e.gracePeriod)
	}

	res.Distributors = fanout.Names()
	err = box.Use(func(secret logging.Secret) error {
		return fanout.Push(ctx, newKey.ID, secret)
	})
	if err != nil {
		e.logger.Error("Key %s of %s was not fully distributed; it is kept and will not be pushed again", newKey.ID, principal)
		return &DistributionError{Principal: principal, KeyID: newKey.ID, Err: err}
	}

	e.logger.Info("Distributed key %s of %s to %d distributor(s)", newKey.ID, principal, fanout.Len())
	return nil
}

// waitListable polls ListKeys with doubling delays until keyID shows up.
// Transient list errors are polled through; any other list error ends the
// wait early. Either way running out of patience is only a warning: the key
// exists and distribution goes ahead.
func (e *Engine) waitListable(ctx context.Context, principal, keyID string) {
	if e.consistencyTimeout <= 0 {
		return
	}

	err := retry.Call(retry.CallArgs{
		Func: func() error {
			keys, err := e.store.ListKeys(ctx, principal)
			if err != nil {
				return err
			}
			for _, k := range keys {
				if k.ID == keyID {
					return nil
				}
			}
			return errNotListed
		},
		IsFatalError: func(err error) bool {
			return !errors.Is(err, errNotListed) && !dserrors.IsRetryable(err)
		},
		NotifyFunc: func(err error, attempt int) {
			e.logger.Debug("Key %s not visible yet (attempt %d): %v", keyID, attempt, err)
		},
		Attempts:    -1,
		Delay:       e.pollDelay,
		MaxDelay:    defaultMaxPollDelay,
		MaxDuration: e.consistencyTimeout,
		BackoffFunc: retry.DoubleDelay,
		Clock:       e.clock,
	})
	switch {
	case err == nil:
	case retry.IsDurationExceeded(err):
		e.logger.Warn("Key %s of %s not listed after %s, distributing anyway: %v", keyID, principal, e.consistencyTimeout, retry.LastError(err))
	default:
		e.logger.Warn("Listing keys of %s failed while waiting for %s, distributing anyway: %v", principal, keyID, retry.LastError(err))
	}
}

func (e *Engine) finished(ctx context.Context, res *Result, err error) {
	ctx = context.WithoutCancel(ctx)
	for _, o := range e.observers {
		o.RotationFinished(ctx, res, err)
	}
}
