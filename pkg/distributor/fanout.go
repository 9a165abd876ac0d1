package distributor

import (
	"context"
	"errors"

	"github.com/systmms/keyrot/internal/logging"
)

// Target pairs a distributor with the configuration it pushes with
type Target struct {
	Distributor Distributor
	Config      ServiceConfiguration
}

// Fanout pushes one key to several targets in order
type Fanout struct {
	targets []Target
	logger  *logging.Logger

	// Observe, when set, is called once per target with the push outcome
	Observe func(distributor string, err error)
}

// NewFanout creates a fan-out over targets
func NewFanout(logger *logging.Logger, targets ...Target) *Fanout {
	return &Fanout{targets: targets, logger: logger}
}

// Names returns the distributor names in push order
func (f *Fanout) Names() []string {
	names := make([]string, 0, len(f.targets))
	for _, t := range f.targets {
		names = append(names, t.Distributor.Name())
	}
	return names
}

// Len returns the number of targets
func (f *Fanout) Len() int {
	return len(f.targets)
}

// Push sends keyID and secret to every target. A failing target does not
// stop the others; all failures are returned joined, each as a *PushError.
func (f *Fanout) Push(ctx context.Context, keyID string, secret logging.Secret) error {
	var errs []error
	for _, t := range f.targets {
		name := t.Distributor.Name()
		if err := ctx.Err(); err != nil {
			errs = append(errs, &PushError{Distributor: name, Err: err})
			f.observe(name, err)
			continue
		}

		f.logger.Debug("Pushing key %s to %s (%d project(s))", keyID, name, len(t.Config.Projects))
		err := t.Distributor.PushNewCredentials(ctx, t.Config, keyID, secret)
		f.observe(name, err)
		if err != nil {
			f.logger.Error("Distributor %s failed: %v", name, err)
			errs = append(errs, &PushError{Distributor: name, Err: err})
			continue
		}
		f.logger.Info("Pushed key %s to %s", keyID, name)
	}
	return errors.Join(errs...)
}

func (f *Fanout) observe(name string, err error) {
	if f.Observe != nil {
		f.Observe(name, err)
	}
}
