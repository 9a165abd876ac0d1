package commands

import (
	"errors"

	dserrors "github.com/systmms/keyrot/internal/errors"
	"github.com/systmms/keyrot/internal/lock"
	"github.com/systmms/keyrot/pkg/distributor"
	"github.com/systmms/keyrot/pkg/rotation"
)

// Process exit codes
const (
	ExitOK        = 0
	ExitFailure   = 1
	ExitConfig    = 2
	ExitInvariant = 3
	ExitLocked    = 4
)

// ExitCode maps a command error to the process exit code. Configuration
// errors, including a distributor rejecting its settings, stop a run before
// any principal is touched. Otherwise an invariant
// violation on any principal wins over everything else. Lock contention
// only yields ExitLocked when every failure was contention.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var rejected *distributor.ValidationError
	if dserrors.IsConfigError(err) || errors.As(err, &rejected) {
		return ExitConfig
	}

	var invariant *rotation.InvariantError
	if errors.As(err, &invariant) {
		return ExitInvariant
	}

	leaves := flatten(err)
	for _, leaf := range leaves {
		if !errors.Is(leaf, lock.ErrLocked) {
			return ExitFailure
		}
	}
	return ExitLocked
}

// flatten expands errors.Join trees into their leaves
func flatten(err error) []error {
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return []error{err}
	}
	var out []error
	for _, e := range joined.Unwrap() {
		out = append(out, flatten(e)...)
	}
	return out
}
