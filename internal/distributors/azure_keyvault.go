package distributors

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	dserrors "github.com/systmms/keyrot/internal/errors"
	"github.com/systmms/keyrot/internal/logging"
	"github.com/systmms/keyrot/pkg/distributor"
)

// AzureKeyVaultClientAPI is the subset of azsecrets.Client used here
type AzureKeyVaultClientAPI interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
	SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error)
}

// AzureKeyVaultDistributor sets two Key Vault secrets per project. The
// project target is the vault URL.
type AzureKeyVaultDistributor struct {
	name   string
	logger *logging.Logger

	mu      sync.Mutex
	clients map[string]AzureKeyVaultClientAPI
	shared  AzureKeyVaultClientAPI
}

// AzureKeyVaultOption configures an AzureKeyVaultDistributor
type AzureKeyVaultOption func(*AzureKeyVaultDistributor)

// WithAzureKeyVaultClient uses client for every vault (for testing)
func WithAzureKeyVaultClient(client AzureKeyVaultClientAPI) AzureKeyVaultOption {
	return func(d *AzureKeyVaultDistributor) {
		d.shared = client
	}
}

// NewAzureKeyVaultDistributor creates an azure.keyvault distributor
func NewAzureKeyVaultDistributor(name string, cfg distributor.ServiceConfiguration, logger *logging.Logger, opts ...AzureKeyVaultOption) (*AzureKeyVaultDistributor, error) {
	d := &AzureKeyVaultDistributor{
		name:    name,
		logger:  logger,
		clients: make(map[string]AzureKeyVaultClientAPI),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Name returns the distributor name
func (d *AzureKeyVaultDistributor) Name() string {
	return d.name
}

// ValidateConfiguration requires https vault URLs, and tenant_id plus
// client_id when auth is a client secret.
func (d *AzureKeyVaultDistributor) ValidateConfiguration(cfg distributor.ServiceConfiguration) error {
	if err := distributor.ValidateCommon(cfg); err != nil {
		return err
	}
	for _, p := range cfg.Projects {
		u, err := url.Parse(p.Target)
		if err != nil || u.Scheme != "https" || u.Host == "" {
			return &distributor.ValidationError{Distributor: cfg.Name, Message: "project target " + p.Target + " must be an https vault URL"}
		}
	}
	if cfg.Auth.Reveal() != authDefault {
		if cfg.Option("tenant_id", "") == "" || cfg.Option("client_id", "") == "" {
			return &distributor.ValidationError{Distributor: cfg.Name, Message: "tenant_id and client_id are required with a client secret"}
		}
	}
	return nil
}

func (d *AzureKeyVaultDistributor) credential(cfg distributor.ServiceConfiguration) (azcore.TokenCredential, error) {
	if auth := cfg.Auth.Reveal(); auth != authDefault {
		return azidentity.NewClientSecretCredential(cfg.Option("tenant_id", ""), cfg.Option("client_id", ""), auth, nil)
	}
	return azidentity.NewDefaultAzureCredential(nil)
}

func (d *AzureKeyVaultDistributor) clientFor(cfg distributor.ServiceConfiguration, vaultURL string) (AzureKeyVaultClientAPI, error) {
	if d.shared != nil {
		return d.shared, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.clients[vaultURL]; ok {
		return c, nil
	}

	cred, err := d.credential(cfg)
	if err != nil {
		return nil, dserrors.ProviderError("azure.keyvault", "create credential", err)
	}
	client, err := azsecrets.NewClient(vaultURL, cred, nil)
	if err != nil {
		return nil, dserrors.ProviderError("azure.keyvault", "create client for "+vaultURL, err)
	}
	d.clients[vaultURL] = client
	return client, nil
}

func isAzureNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

// PushNewCredentials sets a new version of both secrets in every vault
func (d *AzureKeyVaultDistributor) PushNewCredentials(ctx context.Context, cfg distributor.ServiceConfiguration, keyID string, secret logging.Secret) error {
	for _, project := range cfg.Projects {
		client, err := d.clientFor(cfg, project.Target)
		if err != nil {
			return err
		}

		for _, name := range []string{project.KeyIDName, project.SecretName} {
			if _, err := client.GetSecret(ctx, name, "", nil); err != nil {
				if isAzureNotFound(err) {
					return &distributor.LocationNotFoundError{Distributor: d.name, Target: project.Target, Location: name}
				}
				return dserrors.ProviderError("azure.keyvault", "get "+name, err)
			}
		}

		if _, err := client.SetSecret(ctx, project.KeyIDName, azsecrets.SetSecretParameters{
			Value:       to.Ptr(keyID),
			ContentType: to.Ptr("text/plain"),
		}, nil); err != nil {
			return dserrors.ProviderError("azure.keyvault", "set "+project.KeyIDName, err)
		}
		if _, err := client.SetSecret(ctx, project.SecretName, azsecrets.SetSecretParameters{
			Value:       to.Ptr(secret.Reveal()),
			ContentType: to.Ptr("text/plain"),
		}, nil); err != nil {
			return dserrors.ProviderError("azure.keyvault", "set "+project.SecretName, err)
		}

		d.logger.Debug("Set %s and %s in %s", project.KeyIDName, project.SecretName, project.Target)
	}
	return nil
}

var _ distributor.Distributor = (*AzureKeyVaultDistributor)(nil)
