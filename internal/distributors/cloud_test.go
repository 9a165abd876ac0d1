package distributors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/systmms/keyrot/internal/logging"
	"github.com/systmms/keyrot/pkg/distributor"
	"github.com/systmms/keyrot/tests/fakes"
)

func TestGCPSecretManagerDistributor_Push(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakeGCPSecretManagerClient()
	client.AddSecret("acme-prod", "aws-key-id")
	client.AddSecret("acme-prod", "aws-secret")

	cfg := distributor.ServiceConfiguration{
		Name:     "gcp",
		Type:     "gcp.secretmanager",
		Auth:     logging.Secret("default"),
		Projects: []distributor.Project{{Target: "acme-prod", KeyIDName: "aws-key-id", SecretName: "aws-secret"}},
	}
	d, err := NewGCPSecretManagerDistributor("gcp", cfg, logging.New(false, true), WithGCPSecretManagerClient(client))
	require.NoError(t, err)
	require.NoError(t, d.ValidateConfiguration(cfg))

	require.NoError(t, d.PushNewCredentials(context.Background(), cfg, "AKIANEW", logging.Secret("new")))

	value, versions := client.Latest("acme-prod", "aws-key-id")
	assert.Equal(t, "AKIANEW", value)
	assert.Equal(t, 1, versions)
	value, _ = client.Latest("acme-prod", "aws-secret")
	assert.Equal(t, "new", value)
}

func TestGCPSecretManagerDistributor_Errors(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakeGCPSecretManagerClient()
	client.AddSecret("acme", "id")
	client.AddSecret("acme", "denied")
	client.AddError("projects/acme/secrets/denied", status.Error(codes.PermissionDenied, "caller lacks secretmanager.secrets.get"))

	d, err := NewGCPSecretManagerDistributor("gcp", distributor.ServiceConfiguration{}, logging.New(false, true), WithGCPSecretManagerClient(client))
	require.NoError(t, err)

	push := func(secretName string) error {
		cfg := distributor.ServiceConfiguration{
			Name:     "gcp",
			Auth:     logging.Secret("default"),
			Projects: []distributor.Project{{Target: "acme", KeyIDName: "id", SecretName: secretName}},
		}
		return d.PushNewCredentials(context.Background(), cfg, "AKIA", logging.Secret("s"))
	}

	err = push("missing")
	var lnf *distributor.LocationNotFoundError
	require.ErrorAs(t, err, &lnf)
	assert.Equal(t, "missing", lnf.Location)

	err = push("denied")
	require.Error(t, err)
	assert.NotErrorIs(t, err, distributor.ErrLocationNotFound)

	_, versions := client.Latest("acme", "id")
	assert.Zero(t, versions, "no version is added before both secrets are confirmed")
}

func TestGCPSecretManagerDistributor_Validate(t *testing.T) {
	t.Parallel()

	d, err := NewGCPSecretManagerDistributor("gcp", distributor.ServiceConfiguration{}, logging.New(false, true))
	require.NoError(t, err)
	err = d.ValidateConfiguration(distributor.ServiceConfiguration{
		Name:     "gcp",
		Auth:     logging.Secret("default"),
		Projects: []distributor.Project{{Target: "projects/acme", KeyIDName: "a", SecretName: "b"}},
	})
	assert.ErrorContains(t, err, "GCP project id")
}

func azureConfig(auth string, options map[string]interface{}, projects ...distributor.Project) distributor.ServiceConfiguration {
	return distributor.ServiceConfiguration{
		Name:     "kv",
		Type:     "azure.keyvault",
		Auth:     logging.Secret(auth),
		Projects: projects,
		Options:  options,
	}
}

func TestAzureKeyVaultDistributor_Push(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakeAzureKeyVaultClient()
	client.AddSecretString("aws-key-id", "AKIAOLD")
	client.AddSecretString("aws-secret", "old")

	cfg := azureConfig("default", nil, distributor.Project{Target: "https://acme.vault.azure.net", KeyIDName: "aws-key-id", SecretName: "aws-secret"})
	d, err := NewAzureKeyVaultDistributor("kv", cfg, logging.New(false, true), WithAzureKeyVaultClient(client))
	require.NoError(t, err)
	require.NoError(t, d.ValidateConfiguration(cfg))

	require.NoError(t, d.PushNewCredentials(context.Background(), cfg, "AKIANEW", logging.Secret("new")))

	value, versions := client.Latest("aws-key-id")
	assert.Equal(t, "AKIANEW", value)
	assert.Equal(t, 2, versions)
	value, _ = client.Latest("aws-secret")
	assert.Equal(t, "new", value)
	assert.Equal(t, "text/plain", client.ContentTypes["aws-secret"])
}

func TestAzureKeyVaultDistributor_LocationNotFound(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakeAzureKeyVaultClient()
	client.AddSecretString("aws-key-id", "AKIAOLD")

	cfg := azureConfig("default", nil, distributor.Project{Target: "https://acme.vault.azure.net", KeyIDName: "aws-key-id", SecretName: "aws-secret"})
	d, err := NewAzureKeyVaultDistributor("kv", cfg, logging.New(false, true), WithAzureKeyVaultClient(client))
	require.NoError(t, err)

	err = d.PushNewCredentials(context.Background(), cfg, "AKIANEW", logging.Secret("new"))
	require.ErrorIs(t, err, distributor.ErrLocationNotFound)

	_, versions := client.Latest("aws-key-id")
	assert.Equal(t, 1, versions)
}

func TestAzureKeyVaultDistributor_Validate(t *testing.T) {
	t.Parallel()

	d, err := NewAzureKeyVaultDistributor("kv", distributor.ServiceConfiguration{}, logging.New(false, true))
	require.NoError(t, err)

	project := distributor.Project{Target: "https://acme.vault.azure.net", KeyIDName: "a", SecretName: "b"}

	tests := []struct {
		name    string
		cfg     distributor.ServiceConfiguration
		wantErr string
	}{
		{
			name: "default credential",
			cfg:  azureConfig("default", nil, project),
		},
		{
			name: "client secret with ids",
			cfg:  azureConfig("s3cr3t", map[string]interface{}{"tenant_id": "t", "client_id": "c"}, project),
		},
		{
			name:    "client secret without ids",
			cfg:     azureConfig("s3cr3t", nil, project),
			wantErr: "tenant_id and client_id",
		},
		{
			name:    "plain http vault",
			cfg:     azureConfig("default", nil, distributor.Project{Target: "http://acme", KeyIDName: "a", SecretName: "b"}),
			wantErr: "https vault URL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := d.ValidateConfiguration(tt.cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
