// Package commands implements the keyrot CLI.
package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/juju/clock"

	"github.com/systmms/keyrot/internal/awsclient"
	"github.com/systmms/keyrot/internal/config"
	"github.com/systmms/keyrot/internal/distributors"
	"github.com/systmms/keyrot/internal/lock"
	"github.com/systmms/keyrot/internal/logging"
	"github.com/systmms/keyrot/internal/metrics"
	"github.com/systmms/keyrot/internal/notify"
	"github.com/systmms/keyrot/pkg/distributor"
	"github.com/systmms/keyrot/pkg/keystore"
	"github.com/systmms/keyrot/pkg/rotation"
)

// Runtime builds the collaborators commands need from keyrot.yaml. The
// function fields default to the AWS-backed implementations and are
// replaced in tests.
type Runtime struct {
	Config   *config.Config
	Resolver *config.Resolver
	Clock    clock.Clock

	LoadAWS        func(ctx context.Context, cfg config.AWSConfig) (aws.Config, error)
	NewStore       func(awsCfg aws.Config, logger *logging.Logger) keystore.Store
	NewSSMClient   func(awsCfg aws.Config) lock.SSMClientAPI
	CallerIdentity func(ctx context.Context, awsCfg aws.Config) (string, error)
	NewRegistry    func(logger *logging.Logger) *distributor.Registry
}

// NewRuntime returns a runtime over cfg wired to AWS
func NewRuntime(cfg *config.Config) *Runtime {
	return &Runtime{
		Config:   cfg,
		Resolver: config.NewResolver(),
		Clock:    clock.WallClock,
		LoadAWS: func(ctx context.Context, c config.AWSConfig) (aws.Config, error) {
			return awsclient.Load(ctx, awsclient.Options{
				Region:   c.Region,
				Profile:  c.Profile,
				Endpoint: c.Endpoint,
			})
		},
		NewStore: func(awsCfg aws.Config, logger *logging.Logger) keystore.Store {
			return keystore.NewIAMStore(iam.NewFromConfig(awsCfg), logger)
		},
		NewSSMClient: func(awsCfg aws.Config) lock.SSMClientAPI {
			return ssm.NewFromConfig(awsCfg)
		},
		CallerIdentity: func(ctx context.Context, awsCfg aws.Config) (string, error) {
			out, err := sts.NewFromConfig(awsCfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
			if err != nil {
				return "", err
			}
			return aws.ToString(out.Arn), nil
		},
		NewRegistry: distributors.NewRegistry,
	}
}

func (rt *Runtime) logger() *logging.Logger {
	return rt.Config.Logger
}

func (rt *Runtime) definition() *config.Definition {
	return rt.Config.Definition
}

// store returns the key store and the AWS configuration it was built from
func (rt *Runtime) store(ctx context.Context) (keystore.Store, aws.Config, error) {
	awsCfg, err := rt.LoadAWS(ctx, rt.definition().AWS)
	if err != nil {
		return nil, aws.Config{}, err
	}
	return rt.NewStore(awsCfg, rt.logger()), awsCfg, nil
}

func (rt *Runtime) locker(awsCfg aws.Config) (lock.Locker, error) {
	def := rt.definition()
	return lock.New(def.Lock.Type, func() (*lock.SSMLocker, error) {
		return lock.NewSSMLocker(rt.NewSSMClient(awsCfg), def.Lock.Prefix, def.Lock.TTL.Std(), rt.logger()), nil
	})
}

// targets constructs and validates every configured distributor once, by
// name.
func (rt *Runtime) targets() (map[string]distributor.Target, error) {
	def := rt.definition()
	registry := rt.NewRegistry(rt.logger())

	targets := make(map[string]distributor.Target, len(def.Distributors))
	for _, name := range def.DistributorNames() {
		sc, err := def.ServiceConfiguration(name, rt.Resolver)
		if err != nil {
			return nil, err
		}
		d, err := registry.Create(sc)
		if err != nil {
			return nil, fmt.Errorf("distributor %s: %w", name, err)
		}
		targets[name] = distributor.Target{Distributor: d, Config: sc}
	}
	return targets, nil
}

// rotationSetup holds everything a rotation run needs
type rotationSetup struct {
	engine   *rotation.Engine
	recorder *metrics.Recorder
	notifier *notify.Manager
}

// buildEngine wires the store, lock, distributors and observers into an
// engine. Only the principals' own distributors are built into fanouts.
func (rt *Runtime) buildEngine(ctx context.Context, locker lock.Locker, recorder *metrics.Recorder) (*rotationSetup, error) {
	def := rt.definition()

	store, awsCfg, err := rt.store(ctx)
	if err != nil {
		return nil, err
	}

	if locker == nil {
		if locker, err = rt.locker(awsCfg); err != nil {
			return nil, err
		}
	}

	targets, err := rt.targets()
	if err != nil {
		return nil, err
	}

	notifier, err := notify.FromConfig(def.Notifications, rt.Resolver, rt.logger())
	if err != nil {
		return nil, err
	}

	opts := []rotation.Option{
		rotation.WithLocker(locker),
		rotation.WithClock(rt.Clock),
		rotation.WithGracePeriod(def.GracePeriod.Std()),
		rotation.WithConsistencyTimeout(def.ConsistencyTimeout.Std()),
		rotation.WithObserver(recorder),
		rotation.WithObserver(notifier),
	}
	for _, p := range def.Principals {
		fanoutTargets := make([]distributor.Target, 0, len(p.Distributors))
		for _, name := range p.Distributors {
			fanoutTargets = append(fanoutTargets, targets[name])
		}
		fanout := distributor.NewFanout(rt.logger(), fanoutTargets...)
		fanout.Observe = recorder.ObserveDistribution
		opts = append(opts, rotation.WithDistributors(p.Name, fanout))
	}

	return &rotationSetup{
		engine:   rotation.NewEngine(store, rt.logger(), opts...),
		recorder: recorder,
		notifier: notifier,
	}, nil
}

// principals returns the requested principals, or every configured one.
// Unknown names are a configuration error.
func (rt *Runtime) principals(requested []string) ([]string, error) {
	def := rt.definition()
	if len(requested) == 0 {
		names := make([]string, 0, len(def.Principals))
		for _, p := range def.Principals {
			names = append(names, p.Name)
		}
		return names, nil
	}
	for _, name := range requested {
		if _, err := def.Principal(name); err != nil {
			return nil, err
		}
	}
	return requested, nil
}

// rotateAll runs one step for each principal. A failing principal does not
// stop the others; every failure is returned joined.
func rotateAll(ctx context.Context, engine *rotation.Engine, principals []string) error {
	var errs []error
	for _, p := range principals {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if _, err := engine.Rotate(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
