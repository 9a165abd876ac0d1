package notify

import (
	"context"
	"sync"

	"github.com/juju/clock"

	"github.com/systmms/keyrot/internal/logging"
	"github.com/systmms/keyrot/pkg/rotation"
)

// Manager fans events out to its providers. Delivery is synchronous and a
// provider error is only logged.
type Manager struct {
	mu        sync.RWMutex
	providers []Provider
	logger    *logging.Logger
	clock     clock.Clock
}

// NewManager creates a manager with the given providers
func NewManager(logger *logging.Logger, providers ...Provider) *Manager {
	return &Manager{
		providers: providers,
		logger:    logger,
		clock:     clock.WallClock,
	}
}

// Register adds a provider
func (m *Manager) Register(p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers = append(m.providers, p)
}

// Providers returns a copy of the registered providers
func (m *Manager) Providers() []Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Provider, len(m.providers))
	copy(out, m.providers)
	return out
}

// Notify sends event to every provider subscribed to its type
func (m *Manager) Notify(ctx context.Context, event Event) {
	for _, p := range m.Providers() {
		if !p.SupportsEvent(event.Type) {
			continue
		}
		if err := p.Send(ctx, event); err != nil {
			m.logger.Warn("Notification via %s failed: %v", p.Name(), err)
			continue
		}
		m.logger.Debug("Sent %s event for %s via %s", event.Type, event.Principal, p.Name())
	}
}

// RotationFinished notifies about one finished rotation step
func (m *Manager) RotationFinished(ctx context.Context, res *rotation.Result, err error) {
	m.Notify(ctx, EventFromResult(res, err, m.clock.Now()))
}

// Validate checks every provider's configuration and returns the first
// problem found.
func (m *Manager) Validate(ctx context.Context) error {
	for _, p := range m.Providers() {
		if err := p.Validate(ctx); err != nil {
			return err
		}
	}
	return nil
}

var _ rotation.Observer = (*Manager)(nil)

