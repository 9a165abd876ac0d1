package rotation

import (
	"context"
	"errors"
	"fmt"

	"github.com/systmms/keyrot/internal/lock"
	"github.com/systmms/keyrot/pkg/keystore"
)

// InvariantError means the principal's keys are in a state rotation must
// not touch. Nothing was mutated.
type InvariantError struct {
	Principal string
	Reason    string
	Keys      []keystore.AccessKey
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("rotation invariant violated for %s: %s", e.Principal, e.Reason)
}

// DistributionError means a key was created but at least one distributor
// did not receive it. The key is kept.
type DistributionError struct {
	Principal string
	KeyID     string
	Err       error
}

func (e *DistributionError) Error() string {
	return fmt.Sprintf("key %s for %s was created but not fully distributed: %v", e.KeyID, e.Principal, e.Err)
}

func (e *DistributionError) Unwrap() error {
	return e.Err
}

// ErrNoDistributors is returned when a principal has nowhere to push keys
var ErrNoDistributors = errors.New("no distributors configured")

// Failure reasons used for metrics and notifications
const (
	ReasonInvariant    = "invariant"
	ReasonLocked       = "locked"
	ReasonDistribution = "distribution"
	ReasonCancelled    = "cancelled"
	ReasonStore        = "store"
)

// FailureReason classifies an error returned by Engine.Rotate
func FailureReason(err error) string {
	var invariant *InvariantError
	var distribution *DistributionError
	switch {
	case errors.As(err, &invariant):
		return ReasonInvariant
	case errors.Is(err, lock.ErrLocked):
		return ReasonLocked
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ReasonCancelled
	case errors.As(err, &distribution):
		return ReasonDistribution
	default:
		return ReasonStore
	}
}
