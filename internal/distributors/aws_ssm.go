package distributors

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/systmms/keyrot/internal/awsclient"
	dserrors "github.com/systmms/keyrot/internal/errors"
	"github.com/systmms/keyrot/internal/logging"
	"github.com/systmms/keyrot/pkg/distributor"
)

// SSMClientAPI is the subset of the SSM client used by the distributor
type SSMClientAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

// SSMDistributor writes the key into two Parameter Store parameters under
// a path prefix.
type SSMDistributor struct {
	name   string
	logger *logging.Logger

	mu     sync.Mutex
	client SSMClientAPI
}

// SSMOption configures an SSMDistributor
type SSMOption func(*SSMDistributor)

// WithSSMClient sets a custom client (for testing)
func WithSSMClient(client SSMClientAPI) SSMOption {
	return func(d *SSMDistributor) {
		d.client = client
	}
}

// NewSSMDistributor creates an aws.ssm distributor
func NewSSMDistributor(name string, cfg distributor.ServiceConfiguration, logger *logging.Logger, opts ...SSMOption) (*SSMDistributor, error) {
	d := &SSMDistributor{name: name, logger: logger}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Name returns the distributor name
func (d *SSMDistributor) Name() string {
	return d.name
}

// ValidateConfiguration requires absolute parameter path prefixes
func (d *SSMDistributor) ValidateConfiguration(cfg distributor.ServiceConfiguration) error {
	if err := distributor.ValidateCommon(cfg); err != nil {
		return err
	}
	for _, p := range cfg.Projects {
		if !strings.HasPrefix(p.Target, "/") {
			return &distributor.ValidationError{Distributor: cfg.Name, Message: "project target " + p.Target + " must start with /"}
		}
	}
	return nil
}

func (d *SSMDistributor) getClient(ctx context.Context, cfg distributor.ServiceConfiguration) (SSMClientAPI, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		return d.client, nil
	}
	awsCfg, err := awsclient.Load(ctx, awsOptions(cfg))
	if err != nil {
		return nil, dserrors.ProviderError("aws.ssm", "load configuration", err)
	}
	d.client = ssm.NewFromConfig(awsCfg)
	return d.client, nil
}

func parameterName(prefix, name string) string {
	return strings.TrimRight(prefix, "/") + "/" + name
}

// PushNewCredentials overwrites <target>/<key_id_name> as String and
// <target>/<secret_name> as SecureString once both are known to exist.
func (d *SSMDistributor) PushNewCredentials(ctx context.Context, cfg distributor.ServiceConfiguration, keyID string, secret logging.Secret) error {
	client, err := d.getClient(ctx, cfg)
	if err != nil {
		return err
	}
	kmsKey := cfg.Option("kms_key_id", "")

	for _, project := range cfg.Projects {
		keyIDParam := parameterName(project.Target, project.KeyIDName)
		secretParam := parameterName(project.Target, project.SecretName)

		for _, name := range []string{keyIDParam, secretParam} {
			if _, err := client.GetParameter(ctx, &ssm.GetParameterInput{Name: aws.String(name)}); err != nil {
				var notFound *ssmtypes.ParameterNotFound
				if errors.As(err, &notFound) {
					return &distributor.LocationNotFoundError{Distributor: d.name, Target: project.Target, Location: name}
				}
				return dserrors.ProviderError("aws.ssm", "read "+name, err)
			}
		}

		if _, err := client.PutParameter(ctx, &ssm.PutParameterInput{
			Name:      aws.String(keyIDParam),
			Value:     aws.String(keyID),
			Type:      ssmtypes.ParameterTypeString,
			Overwrite: aws.Bool(true),
		}); err != nil {
			return dserrors.ProviderError("aws.ssm", "write "+keyIDParam, err)
		}

		input := &ssm.PutParameterInput{
			Name:      aws.String(secretParam),
			Value:     aws.String(secret.Reveal()),
			Type:      ssmtypes.ParameterTypeSecureString,
			Overwrite: aws.Bool(true),
		}
		if kmsKey != "" {
			input.KeyId = aws.String(kmsKey)
		}
		if _, err := client.PutParameter(ctx, input); err != nil {
			return dserrors.ProviderError("aws.ssm", "write "+secretParam, err)
		}

		d.logger.Debug("Updated %s and %s", keyIDParam, secretParam)
	}
	return nil
}

var _ distributor.Distributor = (*SSMDistributor)(nil)
