package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/google/uuid"
	"github.com/juju/clock"

	dserrors "github.com/systmms/keyrot/internal/errors"
	"github.com/systmms/keyrot/internal/logging"
)

// ErrLeaseLost is returned by Release when the parameter no longer names
// this owner, e.g. after the lease expired and was taken over.
var ErrLeaseLost = errors.New("lease is held by another owner")

// SSMClientAPI is the subset of the SSM client the lock needs
type SSMClientAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
	DeleteParameter(ctx context.Context, params *ssm.DeleteParameterInput, optFns ...func(*ssm.Options)) (*ssm.DeleteParameterOutput, error)
}

// SSMLocker stores leases as SSM parameters named <prefix>/<principal>.
// Creation uses Overwrite=false so only one writer wins.
type SSMLocker struct {
	client SSMClientAPI
	prefix string
	ttl    time.Duration
	clock  clock.Clock
	logger *logging.Logger

	newOwner func() string
}

// SSMOption configures an SSMLocker
type SSMOption func(*SSMLocker)

// WithClock sets the clock used for lease expiry
func WithClock(c clock.Clock) SSMOption {
	return func(l *SSMLocker) {
		l.clock = c
	}
}

// WithOwnerFunc overrides owner id generation (for testing)
func WithOwnerFunc(fn func() string) SSMOption {
	return func(l *SSMLocker) {
		l.newOwner = fn
	}
}

// NewSSMLocker creates a lock backed by Parameter Store
func NewSSMLocker(client SSMClientAPI, prefix string, ttl time.Duration, logger *logging.Logger, opts ...SSMOption) *SSMLocker {
	l := &SSMLocker{
		client:   client,
		prefix:   strings.TrimRight(prefix, "/"),
		ttl:      ttl,
		clock:    clock.WallClock,
		logger:   logger,
		newOwner: uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// leaseRecord is the parameter value
type leaseRecord struct {
	Owner   string    `json:"owner"`
	Expires time.Time `json:"expires"`
}

func (l *SSMLocker) parameterName(principal string) string {
	return l.prefix + "/" + principal
}

// Acquire creates the lease parameter. An expired lease left behind by a
// crashed run is removed and creation is tried once more.
func (l *SSMLocker) Acquire(ctx context.Context, principal string) (Lease, error) {
	name := l.parameterName(principal)
	owner := l.newOwner()

	for attempt := 0; attempt < 2; attempt++ {
		record := leaseRecord{Owner: owner, Expires: l.clock.Now().Add(l.ttl).UTC()}
		value, err := json.Marshal(record)
		if err != nil {
			return nil, err
		}

		_, err = l.client.PutParameter(ctx, &ssm.PutParameterInput{
			Name:        aws.String(name),
			Value:       aws.String(string(value)),
			Type:        ssmtypes.ParameterTypeString,
			Overwrite:   aws.Bool(false),
			Description: aws.String("keyrot rotation lease"),
		})
		if err == nil {
			l.logger.Debug("Acquired lease %s as %s until %s", name, owner, record.Expires.Format(time.RFC3339))
			return &ssmLease{locker: l, name: name, owner: owner}, nil
		}

		var exists *ssmtypes.ParameterAlreadyExists
		if !errors.As(err, &exists) {
			return nil, dserrors.ProviderError("aws.ssm", "create lease "+name, err)
		}

		current, err := l.read(ctx, name)
		if err != nil {
			if errors.Is(err, errLeaseGone) {
				continue
			}
			return nil, err
		}
		if l.clock.Now().Before(current.Expires) {
			return nil, fmt.Errorf("%w: %s held by %s until %s", ErrLocked, principal, current.Owner, current.Expires.Format(time.RFC3339))
		}

		l.logger.Warn("Removing expired lease %s left by %s", name, current.Owner)
		if err := l.delete(ctx, name); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: %s lease was re-created concurrently", ErrLocked, principal)
}

var errLeaseGone = errors.New("lease parameter does not exist")

// read returns the stored lease. A value that does not decode counts as
// expired so a corrupt parameter cannot block rotation forever.
func (l *SSMLocker) read(ctx context.Context, name string) (leaseRecord, error) {
	out, err := l.client.GetParameter(ctx, &ssm.GetParameterInput{Name: aws.String(name)})
	if err != nil {
		var notFound *ssmtypes.ParameterNotFound
		if errors.As(err, &notFound) {
			return leaseRecord{}, errLeaseGone
		}
		return leaseRecord{}, dserrors.ProviderError("aws.ssm", "read lease "+name, err)
	}

	var record leaseRecord
	if out.Parameter == nil || json.Unmarshal([]byte(aws.ToString(out.Parameter.Value)), &record) != nil {
		l.logger.Warn("Lease %s is unreadable, treating it as expired", name)
		return leaseRecord{}, nil
	}
	return record, nil
}

func (l *SSMLocker) delete(ctx context.Context, name string) error {
	_, err := l.client.DeleteParameter(ctx, &ssm.DeleteParameterInput{Name: aws.String(name)})
	if err != nil {
		var notFound *ssmtypes.ParameterNotFound
		if errors.As(err, &notFound) {
			return nil
		}
		return dserrors.ProviderError("aws.ssm", "delete lease "+name, err)
	}
	return nil
}

type ssmLease struct {
	locker *SSMLocker
	name   string
	owner  string
}

// Release deletes the parameter if it still names this owner
func (s *ssmLease) Release(ctx context.Context) error {
	current, err := s.locker.read(ctx, s.name)
	if err != nil {
		if errors.Is(err, errLeaseGone) {
			return nil
		}
		return err
	}
	if current.Owner != s.owner {
		return fmt.Errorf("%w: %s", ErrLeaseLost, s.name)
	}
	if err := s.locker.delete(ctx, s.name); err != nil {
		return err
	}
	s.locker.logger.Debug("Released lease %s", s.name)
	return nil
}
