package distributors

import (
	"context"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	dserrors "github.com/systmms/keyrot/internal/errors"
	"github.com/systmms/keyrot/internal/logging"
	"github.com/systmms/keyrot/pkg/distributor"
)

// GCPSecretManagerClientAPI is the subset of the Secret Manager client used here
type GCPSecretManagerClientAPI interface {
	GetSecret(ctx context.Context, req *secretmanagerpb.GetSecretRequest, opts ...gax.CallOption) (*secretmanagerpb.Secret, error)
	AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.SecretVersion, error)
}

// GCPSecretManagerDistributor adds a new version to two Secret Manager
// secrets per project.
type GCPSecretManagerDistributor struct {
	name   string
	logger *logging.Logger
	client GCPSecretManagerClientAPI
}

// GCPSecretManagerOption configures a GCPSecretManagerDistributor
type GCPSecretManagerOption func(*GCPSecretManagerDistributor)

// WithGCPSecretManagerClient sets a custom client (for testing)
func WithGCPSecretManagerClient(client GCPSecretManagerClientAPI) GCPSecretManagerOption {
	return func(d *GCPSecretManagerDistributor) {
		d.client = client
	}
}

// NewGCPSecretManagerDistributor creates a gcp.secretmanager distributor
func NewGCPSecretManagerDistributor(name string, cfg distributor.ServiceConfiguration, logger *logging.Logger, opts ...GCPSecretManagerOption) (*GCPSecretManagerDistributor, error) {
	d := &GCPSecretManagerDistributor{name: name, logger: logger}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Name returns the distributor name
func (d *GCPSecretManagerDistributor) Name() string {
	return d.name
}

// ValidateConfiguration requires bare project ids as targets
func (d *GCPSecretManagerDistributor) ValidateConfiguration(cfg distributor.ServiceConfiguration) error {
	if err := distributor.ValidateCommon(cfg); err != nil {
		return err
	}
	for _, p := range cfg.Projects {
		if strings.Contains(p.Target, "/") {
			return &distributor.ValidationError{
				Distributor: cfg.Name,
				Message:     fmt.Sprintf("project target %q must be a GCP project id", p.Target),
			}
		}
	}
	return nil
}

// connect returns the injected client, or dials a new one that the caller
// closes with the returned func. Auth "default" uses Application Default
// Credentials, anything else is a service account key in JSON.
func (d *GCPSecretManagerDistributor) connect(ctx context.Context, cfg distributor.ServiceConfiguration) (GCPSecretManagerClientAPI, func(), error) {
	if d.client != nil {
		return d.client, func() {}, nil
	}

	var clientOptions []option.ClientOption
	if auth := cfg.Auth.Reveal(); auth != authDefault {
		clientOptions = append(clientOptions, option.WithCredentialsJSON([]byte(auth)))
	}
	if endpoint := cfg.Option("endpoint", ""); endpoint != "" {
		clientOptions = append(clientOptions, option.WithEndpoint(endpoint))
	}

	client, err := secretmanager.NewClient(ctx, clientOptions...)
	if err != nil {
		return nil, nil, dserrors.ProviderError("gcp.secretmanager", "create client", err)
	}
	return client, func() {
		if err := client.Close(); err != nil {
			d.logger.Debug("Closing Secret Manager client: %v", err)
		}
	}, nil
}

// PushNewCredentials adds a version holding the key id to the key id secret
// and one holding the secret to the secret secret.
func (d *GCPSecretManagerDistributor) PushNewCredentials(ctx context.Context, cfg distributor.ServiceConfiguration, keyID string, secret logging.Secret) error {
	client, closeFn, err := d.connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	for _, project := range cfg.Projects {
		keyIDSecret := fmt.Sprintf("projects/%s/secrets/%s", project.Target, project.KeyIDName)
		secretSecret := fmt.Sprintf("projects/%s/secrets/%s", project.Target, project.SecretName)

		for _, loc := range []struct{ resource, name string }{
			{keyIDSecret, project.KeyIDName},
			{secretSecret, project.SecretName},
		} {
			if _, err := client.GetSecret(ctx, &secretmanagerpb.GetSecretRequest{Name: loc.resource}); err != nil {
				if status.Code(err) == codes.NotFound {
					return &distributor.LocationNotFoundError{Distributor: d.name, Target: project.Target, Location: loc.name}
				}
				return dserrors.ProviderError("gcp.secretmanager", "get "+loc.resource, err)
			}
		}

		for _, v := range []struct {
			parent string
			data   []byte
		}{
			{keyIDSecret, []byte(keyID)},
			{secretSecret, []byte(secret.Reveal())},
		} {
			version, err := client.AddSecretVersion(ctx, &secretmanagerpb.AddSecretVersionRequest{
				Parent:  v.parent,
				Payload: &secretmanagerpb.SecretPayload{Data: v.data},
			})
			if err != nil {
				return dserrors.ProviderError("gcp.secretmanager", "add version to "+v.parent, err)
			}
			d.logger.Debug("Added %s", version.GetName())
		}
	}
	return nil
}

var _ distributor.Distributor = (*GCPSecretManagerDistributor)(nil)
