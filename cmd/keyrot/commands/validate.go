package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/keyrot/internal/lock"
	"github.com/systmms/keyrot/internal/notify"
)

// NewValidateCommand creates the validate command
func NewValidateCommand(rt *Runtime) *cobra.Command {
	var checkAWS bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check keyrot.yaml and every distributor configuration",
		Long: `Validate loads keyrot.yaml, checks it against the schema, resolves every
credential reference and builds each distributor, running its configuration
checks. No key is created and nothing is pushed.

With --aws, the AWS caller identity is also looked up through STS.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := rt.logger()
			out := cmd.OutOrStdout()

			if err := rt.Config.Load(); err != nil {
				return err
			}
			def := rt.definition()
			_, _ = fmt.Fprintf(out, "✓ %s: %d principal(s), %d distributor(s)\n", rt.Config.Path, len(def.Principals), len(def.Distributors))

			targets, err := rt.targets()
			if err != nil {
				return err
			}
			for _, name := range def.DistributorNames() {
				t := targets[name]
				_, _ = fmt.Fprintf(out, "✓ distributor %s (%s, %d project(s))\n", name, t.Config.Type, len(t.Config.Projects))
			}

			notifier, err := notify.FromConfig(def.Notifications, rt.Resolver, logger)
			if err != nil {
				return err
			}
			if err := notifier.Validate(cmd.Context()); err != nil {
				return fmt.Errorf("notifications: %w", err)
			}
			for _, p := range notifier.Providers() {
				_, _ = fmt.Fprintf(out, "✓ notification %s\n", p.Name())
			}

			if _, err := lock.New(def.Lock.Type, func() (*lock.SSMLocker, error) { return nil, nil }); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "✓ lock %s\n", def.Lock.Type)

			if checkAWS {
				awsCfg, err := rt.LoadAWS(cmd.Context(), def.AWS)
				if err != nil {
					return err
				}
				arn, err := rt.CallerIdentity(cmd.Context(), awsCfg)
				if err != nil {
					return fmt.Errorf("AWS caller identity: %w", err)
				}
				_, _ = fmt.Fprintf(out, "✓ AWS identity %s\n", arn)
			}

			logger.Debug("Configuration %s is valid", rt.Config.Path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&checkAWS, "aws", false, "Also verify AWS credentials with STS GetCallerIdentity")
	return cmd
}
