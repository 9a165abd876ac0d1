package distributor

import (
	"errors"
	"fmt"
)

// ErrLocationNotFound is matched by every *LocationNotFoundError
var ErrLocationNotFound = errors.New("location not found")

// LocationNotFoundError reports a configured location that does not exist
// at the target. Distributors never create locations.
type LocationNotFoundError struct {
	Distributor string
	Target      string
	Location    string
}

func (e *LocationNotFoundError) Error() string {
	return fmt.Sprintf("%s: location %q not found in %s", e.Distributor, e.Location, e.Target)
}

// Is makes errors.Is(err, ErrLocationNotFound) succeed
func (e *LocationNotFoundError) Is(target error) bool {
	return target == ErrLocationNotFound
}

// ValidationError reports an unusable ServiceConfiguration
type ValidationError struct {
	Distributor string
	Message     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration for distributor %s: %s", e.Distributor, e.Message)
}

// PushError wraps the failure of one target inside a fan-out
type PushError struct {
	Distributor string
	Err         error
}

func (e *PushError) Error() string {
	return fmt.Sprintf("push to %s failed: %v", e.Distributor, e.Err)
}

func (e *PushError) Unwrap() error {
	return e.Err
}
