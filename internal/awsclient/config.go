// Package awsclient loads aws.Config for the IAM store, the SSM lock and
// the AWS distributors.
package awsclient

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// Options selects region, profile and optionally static credentials
type Options struct {
	Region   string
	Profile  string
	Endpoint string

	// AccessKeyID and SecretAccessKey switch to static credentials when both
	// are set.
	AccessKeyID     string
	SecretAccessKey string
}

// Load builds an aws.Config from the default chain plus opts
func Load(ctx context.Context, opts Options) (aws.Config, error) {
	var configOpts []func(*awsconfig.LoadOptions) error

	if opts.Region != "" {
		configOpts = append(configOpts, awsconfig.WithRegion(opts.Region))
	}

	if opts.Profile != "" {
		configOpts = append(configOpts, awsconfig.WithSharedConfigProfile(opts.Profile))
	}

	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		configOpts = append(configOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	if opts.Endpoint != "" {
		configOpts = append(configOpts, awsconfig.WithBaseEndpoint(opts.Endpoint))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}
