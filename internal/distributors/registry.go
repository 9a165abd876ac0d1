// Package distributors implements the built-in credential distributors.
package distributors

import (
	"github.com/systmms/keyrot/internal/logging"
	"github.com/systmms/keyrot/pkg/distributor"
)

// NewRegistry creates a registry with every built-in distributor type
func NewRegistry(logger *logging.Logger) *distributor.Registry {
	registry := distributor.NewRegistry(logger)

	builtins := map[string]distributor.Factory{
		"travis":             NewTravisDistributorFactory,
		"github":             NewGitHubDistributorFactory,
		"aws.secretsmanager": NewSecretsManagerDistributorFactory,
		"aws.ssm":            NewSSMDistributorFactory,
		"gcp.secretmanager":  NewGCPSecretManagerDistributorFactory,
		"azure.keyvault":     NewAzureKeyVaultDistributorFactory,
		"vault":              NewVaultDistributorFactory,
		"kubernetes":         NewKubernetesDistributorFactory,
	}
	for typ, factory := range builtins {
		if err := registry.Register(typ, factory); err != nil {
			// Only possible for a duplicate key in the literal above.
			panic(err)
		}
	}
	return registry
}

// NewTravisDistributorFactory adapts NewTravisDistributor to distributor.Factory
func NewTravisDistributorFactory(name string, cfg distributor.ServiceConfiguration, logger *logging.Logger) (distributor.Distributor, error) {
	return NewTravisDistributor(name, cfg, logger)
}

// NewGitHubDistributorFactory adapts NewGitHubDistributor to distributor.Factory
func NewGitHubDistributorFactory(name string, cfg distributor.ServiceConfiguration, logger *logging.Logger) (distributor.Distributor, error) {
	return NewGitHubDistributor(name, cfg, logger)
}

// NewSecretsManagerDistributorFactory adapts NewSecretsManagerDistributor to distributor.Factory
func NewSecretsManagerDistributorFactory(name string, cfg distributor.ServiceConfiguration, logger *logging.Logger) (distributor.Distributor, error) {
	return NewSecretsManagerDistributor(name, cfg, logger)
}

// NewSSMDistributorFactory adapts NewSSMDistributor to distributor.Factory
func NewSSMDistributorFactory(name string, cfg distributor.ServiceConfiguration, logger *logging.Logger) (distributor.Distributor, error) {
	return NewSSMDistributor(name, cfg, logger)
}

// NewGCPSecretManagerDistributorFactory adapts NewGCPSecretManagerDistributor to distributor.Factory
func NewGCPSecretManagerDistributorFactory(name string, cfg distributor.ServiceConfiguration, logger *logging.Logger) (distributor.Distributor, error) {
	return NewGCPSecretManagerDistributor(name, cfg, logger)
}

// NewAzureKeyVaultDistributorFactory adapts NewAzureKeyVaultDistributor to distributor.Factory
func NewAzureKeyVaultDistributorFactory(name string, cfg distributor.ServiceConfiguration, logger *logging.Logger) (distributor.Distributor, error) {
	return NewAzureKeyVaultDistributor(name, cfg, logger)
}

// NewVaultDistributorFactory adapts NewVaultDistributor to distributor.Factory
func NewVaultDistributorFactory(name string, cfg distributor.ServiceConfiguration, logger *logging.Logger) (distributor.Distributor, error) {
	return NewVaultDistributor(name, cfg, logger)
}

// NewKubernetesDistributorFactory adapts NewKubernetesDistributor to distributor.Factory
func NewKubernetesDistributorFactory(name string, cfg distributor.ServiceConfiguration, logger *logging.Logger) (distributor.Distributor, error) {
	return NewKubernetesDistributor(name, cfg, logger)
}
