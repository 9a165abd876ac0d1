package notify

import (
	"context"
	"fmt"
	"strings"
)

// Provider delivers events to one destination
type Provider interface {
	// Name identifies the provider in logs.
	Name() string

	// Send delivers a single event.
	Send(ctx context.Context, event Event) error

	// SupportsEvent reports whether the provider subscribes to t.
	SupportsEvent(t EventType) bool

	// Validate checks the provider configuration without sending anything.
	Validate(ctx context.Context) error
}

// subscription is the event filter shared by the providers. An empty list
// subscribes to everything.
type subscription []string

func (s subscription) supports(t EventType) bool {
	if len(s) == 0 {
		return true
	}
	for _, e := range s {
		if strings.EqualFold(e, string(t)) {
			return true
		}
	}
	return false
}

func (s subscription) validate() error {
	for _, e := range s {
		if !isEventType(e) {
			return &unknownEventError{name: e}
		}
	}
	return nil
}

func isEventType(name string) bool {
	for _, t := range AllEventTypes() {
		if strings.EqualFold(name, string(t)) {
			return true
		}
	}
	return false
}

type unknownEventError struct {
	name string
}

func (e *unknownEventError) Error() string {
	return fmt.Sprintf("unknown event type %q (valid: completed, failed, fatal)", e.name)
}
