package config

import (
	"fmt"

	dserrors "github.com/systmms/keyrot/internal/errors"
	"github.com/systmms/keyrot/pkg/distributor"
)

// ServiceConfiguration resolves the named distributor's credential and
// converts it to the shape distributors consume.
func (d *Definition) ServiceConfiguration(name string, r *Resolver) (distributor.ServiceConfiguration, error) {
	dc, ok := d.Distributors[name]
	if !ok {
		return distributor.ServiceConfiguration{}, dserrors.ConfigError{
			Field:      "distributors",
			Value:      name,
			Message:    "distributor not defined",
			Suggestion: availableSuggestion("Defined distributors", d.DistributorNames()),
		}
	}

	auth, err := r.Resolve(dc.Auth)
	if err != nil {
		return distributor.ServiceConfiguration{}, fmt.Errorf("distributor %s auth: %w", name, err)
	}

	projects := make([]distributor.Project, 0, len(dc.Projects))
	for _, p := range dc.Projects {
		projects = append(projects, distributor.Project{
			Target:     p.Target,
			KeyIDName:  p.KeyIDName,
			SecretName: p.SecretName,
		})
	}

	options := make(map[string]interface{}, len(dc.Options))
	for k, v := range dc.Options {
		options[k] = v
	}

	return distributor.ServiceConfiguration{
		Name:     name,
		Type:     dc.Type,
		Auth:     auth,
		Projects: projects,
		Options:  options,
	}, nil
}
