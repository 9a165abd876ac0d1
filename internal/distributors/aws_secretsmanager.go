package distributors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/google/uuid"

	"github.com/systmms/keyrot/internal/awsclient"
	dserrors "github.com/systmms/keyrot/internal/errors"
	"github.com/systmms/keyrot/internal/logging"
	"github.com/systmms/keyrot/pkg/distributor"
)

// SecretsManagerClientAPI is the subset of the Secrets Manager client used here
type SecretsManagerClientAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
}

// versionNamespace seeds the deterministic ClientRequestToken of a push
var versionNamespace = uuid.MustParse("6f1c3e2a-52b4-4c1e-9a57-3d1f0f6c2b8e")

// SecretsManagerDistributor writes the key into two JSON fields of an AWS
// Secrets Manager secret.
type SecretsManagerDistributor struct {
	name   string
	logger *logging.Logger

	mu     sync.Mutex
	client SecretsManagerClientAPI
}

// SecretsManagerOption configures a SecretsManagerDistributor
type SecretsManagerOption func(*SecretsManagerDistributor)

// WithSecretsManagerClient sets a custom client (for testing)
func WithSecretsManagerClient(client SecretsManagerClientAPI) SecretsManagerOption {
	return func(d *SecretsManagerDistributor) {
		d.client = client
	}
}

// NewSecretsManagerDistributor creates an aws.secretsmanager distributor.
// The SDK client is built on first push unless one is injected.
func NewSecretsManagerDistributor(name string, cfg distributor.ServiceConfiguration, logger *logging.Logger, opts ...SecretsManagerOption) (*SecretsManagerDistributor, error) {
	d := &SecretsManagerDistributor{name: name, logger: logger}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Name returns the distributor name
func (d *SecretsManagerDistributor) Name() string {
	return d.name
}

// ValidateConfiguration applies the common checks
func (d *SecretsManagerDistributor) ValidateConfiguration(cfg distributor.ServiceConfiguration) error {
	return distributor.ValidateCommon(cfg)
}

func (d *SecretsManagerDistributor) getClient(ctx context.Context, cfg distributor.ServiceConfiguration) (SecretsManagerClientAPI, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		return d.client, nil
	}
	awsCfg, err := awsclient.Load(ctx, awsOptions(cfg))
	if err != nil {
		return nil, dserrors.ProviderError("aws.secretsmanager", "load configuration", err)
	}
	d.client = secretsmanager.NewFromConfig(awsCfg)
	return d.client, nil
}

// PushNewCredentials rewrites both fields of every project's secret and
// stores the result as the new AWSCURRENT version. Other fields are kept.
func (d *SecretsManagerDistributor) PushNewCredentials(ctx context.Context, cfg distributor.ServiceConfiguration, keyID string, secret logging.Secret) error {
	client, err := d.getClient(ctx, cfg)
	if err != nil {
		return err
	}

	for _, project := range cfg.Projects {
		out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
			SecretId: aws.String(project.Target),
		})
		if err != nil {
			var notFound *smtypes.ResourceNotFoundException
			if errors.As(err, &notFound) {
				return &distributor.LocationNotFoundError{Distributor: d.name, Target: project.Target, Location: "secret"}
			}
			return dserrors.ProviderError("aws.secretsmanager", "read "+project.Target, err)
		}

		fields := map[string]interface{}{}
		if err := json.Unmarshal([]byte(aws.ToString(out.SecretString)), &fields); err != nil {
			return fmt.Errorf("%s: secret %s is not a JSON object: %w", d.name, project.Target, err)
		}
		for _, loc := range []string{project.KeyIDName, project.SecretName} {
			if _, ok := fields[loc]; !ok {
				return &distributor.LocationNotFoundError{Distributor: d.name, Target: project.Target, Location: loc}
			}
		}
		fields[project.KeyIDName] = keyID
		fields[project.SecretName] = secret.Reveal()

		payload, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("%s: failed to encode secret %s: %w", d.name, project.Target, err)
		}

		_, err = client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
			SecretId:           aws.String(project.Target),
			SecretString:       aws.String(string(payload)),
			ClientRequestToken: aws.String(uuid.NewSHA1(versionNamespace, []byte(project.Target+"/"+keyID)).String()),
		})
		if err != nil {
			return dserrors.ProviderError("aws.secretsmanager", "write "+project.Target, err)
		}

		d.logger.Debug("Stored new version of %s", project.Target)
	}
	return nil
}

var _ distributor.Distributor = (*SecretsManagerDistributor)(nil)
