package commands

import (
	"github.com/spf13/cobra"

	"github.com/systmms/keyrot/internal/metrics"
)

// NewRotateCommand creates the rotate command
func NewRotateCommand(rt *Runtime) *cobra.Command {
	var principals []string

	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Run one rotation step for each principal",
		Long: `Rotate inspects the access keys of each principal and performs exactly
one step: create and distribute a new key, mark the older key Inactive, or
delete the older Inactive key. Run it on a schedule; repeated runs walk each
principal through the full cycle.

Exit codes: 0 success, 1 failure, 3 a principal's keys need an operator,
4 another rotation holds the principal's lock.`,
		Example: `  keyrot rotate
  keyrot rotate --principal ci-deployer`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rt.Config.Load(); err != nil {
				return err
			}

			names, err := rt.principals(principals)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			recorder := metrics.New(false)
			setup, err := rt.buildEngine(ctx, nil, recorder)
			if err != nil {
				return err
			}

			rotateErr := rotateAll(ctx, setup.engine, names)

			if gateway := rt.definition().Metrics.Pushgateway; gateway != "" {
				if err := recorder.Push(ctx, gateway, "keyrot"); err != nil {
					rt.logger().Warn("%v", err)
				}
			}
			return rotateErr
		},
	}

	cmd.Flags().StringSliceVar(&principals, "principal", nil, "Principal to rotate (repeatable, default all)")
	return cmd
}

