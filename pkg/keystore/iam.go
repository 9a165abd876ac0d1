package keystore

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/smithy-go"

	dserrors "github.com/systmms/keyrot/internal/errors"
	"github.com/systmms/keyrot/internal/logging"
)

// IAMClientAPI is the subset of the IAM client the store calls
type IAMClientAPI interface {
	ListAccessKeys(ctx context.Context, params *iam.ListAccessKeysInput, optFns ...func(*iam.Options)) (*iam.ListAccessKeysOutput, error)
	CreateAccessKey(ctx context.Context, params *iam.CreateAccessKeyInput, optFns ...func(*iam.Options)) (*iam.CreateAccessKeyOutput, error)
	UpdateAccessKey(ctx context.Context, params *iam.UpdateAccessKeyInput, optFns ...func(*iam.Options)) (*iam.UpdateAccessKeyOutput, error)
	DeleteAccessKey(ctx context.Context, params *iam.DeleteAccessKeyInput, optFns ...func(*iam.Options)) (*iam.DeleteAccessKeyOutput, error)
}

// IAMStore manages the access keys of IAM users
type IAMStore struct {
	client IAMClientAPI
	logger *logging.Logger
}

// NewIAMStore creates a store over an IAM client. Pass iam.NewFromConfig(cfg)
// in production.
func NewIAMStore(client IAMClientAPI, logger *logging.Logger) *IAMStore {
	return &IAMStore{client: client, logger: logger}
}

// ListKeys lists every access key of the user, following pagination
func (s *IAMStore) ListKeys(ctx context.Context, principal string) ([]AccessKey, error) {
	var keys []AccessKey

	paginator := iam.NewListAccessKeysPaginator(s.client, &iam.ListAccessKeysInput{
		UserName: aws.String(principal),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, s.wrap("list access keys", principal, err)
		}
		for _, md := range page.AccessKeyMetadata {
			keys = append(keys, AccessKey{
				ID:        aws.ToString(md.AccessKeyId),
				CreatedAt: aws.ToTime(md.CreateDate),
				Status:    Status(md.Status),
			})
		}
	}

	s.logger.Debug("IAM user %s has %d access key(s)", principal, len(keys))
	return keys, nil
}

// CreateKey creates a new Active access key
func (s *IAMStore) CreateKey(ctx context.Context, principal string) (*NewAccessKey, error) {
	out, err := s.client.CreateAccessKey(ctx, &iam.CreateAccessKeyInput{
		UserName: aws.String(principal),
	})
	if err != nil {
		return nil, s.wrap("create access key", principal, err)
	}
	if out.AccessKey == nil {
		return nil, fmt.Errorf("create access key for %s: empty response", principal)
	}

	return &NewAccessKey{
		AccessKey: AccessKey{
			ID:        aws.ToString(out.AccessKey.AccessKeyId),
			CreatedAt: aws.ToTime(out.AccessKey.CreateDate),
			Status:    Status(out.AccessKey.Status),
		},
		Secret: logging.Secret(aws.ToString(out.AccessKey.SecretAccessKey)),
	}, nil
}

// UpdateKeyStatus sets a key Active or Inactive
func (s *IAMStore) UpdateKeyStatus(ctx context.Context, principal, keyID string, status Status) error {
	_, err := s.client.UpdateAccessKey(ctx, &iam.UpdateAccessKeyInput{
		UserName:    aws.String(principal),
		AccessKeyId: aws.String(keyID),
		Status:      iamtypes.StatusType(status),
	})
	if err != nil {
		return s.wrap("update access key "+keyID, principal, err)
	}
	return nil
}

// DeleteKey deletes one access key
func (s *IAMStore) DeleteKey(ctx context.Context, principal, keyID string) error {
	_, err := s.client.DeleteAccessKey(ctx, &iam.DeleteAccessKeyInput{
		UserName:    aws.String(principal),
		AccessKeyId: aws.String(keyID),
	})
	if err != nil {
		return s.wrap("delete access key "+keyID, principal, err)
	}
	return nil
}

func (s *IAMStore) wrap(op, principal string, err error) error {
	if isNoSuchEntity(err) {
		return fmt.Errorf("%s for %s: %w: %w", op, principal, ErrNotFound, err)
	}
	return dserrors.ProviderError("iam", op, err)
}

func isNoSuchEntity(err error) bool {
	var nse *iamtypes.NoSuchEntityException
	if errors.As(err, &nse) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchEntity"
}

var _ Store = (*IAMStore)(nil)
