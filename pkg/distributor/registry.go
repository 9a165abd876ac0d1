package distributor

import (
	"fmt"
	"sort"

	"github.com/systmms/keyrot/internal/logging"
)

// Factory builds a distributor for a named configuration
type Factory func(name string, cfg ServiceConfiguration, logger *logging.Logger) (Distributor, error)

// Registry maps distributor types to factories
type Registry struct {
	factories map[string]Factory
	logger    *logging.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *logging.Logger) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logger,
	}
}

// Register adds a factory for typ
func (r *Registry) Register(typ string, factory Factory) error {
	if _, exists := r.factories[typ]; exists {
		return fmt.Errorf("distributor type '%s' already registered", typ)
	}
	r.factories[typ] = factory
	r.logger.Debug("Registered distributor type: %s", typ)
	return nil
}

// Create builds the distributor for cfg and validates cfg against it.
// A configuration that fails validation yields no distributor.
func (r *Registry) Create(cfg ServiceConfiguration) (Distributor, error) {
	factory, exists := r.factories[cfg.Type]
	if !exists {
		return nil, fmt.Errorf("unknown distributor type: %s", cfg.Type)
	}

	d, err := factory(cfg.Name, cfg, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create distributor %s: %w", cfg.Name, err)
	}

	if err := d.ValidateConfiguration(cfg); err != nil {
		return nil, err
	}
	return d, nil
}

// Types returns the registered types in sorted order
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.factories))
	for typ := range r.factories {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}

// Has reports whether typ is registered
func (r *Registry) Has(typ string) bool {
	_, exists := r.factories[typ]
	return exists
}
