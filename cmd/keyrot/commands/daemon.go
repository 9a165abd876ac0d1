package commands

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/spf13/cobra"

	"github.com/systmms/keyrot/internal/metrics"
)

// NewDaemonCommand creates the daemon command
func NewDaemonCommand(rt *Runtime) *cobra.Command {
	var (
		listen   string
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Rotate every principal on a fixed interval and serve metrics",
		Long: `Daemon runs rotate for every principal immediately and then once per
interval. Runs never overlap. Prometheus metrics are served on
metrics.listen at /metrics, with /health for liveness probes.

SIGINT or SIGTERM stops the daemon after the step in progress.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rt.Config.Load(); err != nil {
				return err
			}
			def := rt.definition()
			logger := rt.logger()

			if listen == "" {
				listen = def.Metrics.Listen
			}
			if interval <= 0 {
				interval = def.Interval.Std()
			}

			ctx := cmd.Context()
			recorder := metrics.New(true)
			setup, err := rt.buildEngine(ctx, nil, recorder)
			if err != nil {
				return err
			}

			names, err := rt.principals(nil)
			if err != nil {
				return err
			}

			server := metrics.NewServer(listen, recorder, logger)
			if err := server.Start(); err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				_ = server.Stop(shutdownCtx)
			}()
			logger.Info("Rotating %d principal(s) every %s", len(names), interval)

			runSchedule(ctx, rt.Clock, interval, func(ctx context.Context) {
				if err := rotateAll(ctx, setup.engine, names); err != nil {
					logger.Warn("Rotation run finished with errors: %v", err)
				}
			})
			logger.Info("Daemon stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Metrics listen address (default metrics.listen)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Rotation interval (default interval from keyrot.yaml)")
	return cmd
}

// runSchedule calls step now and then every interval until ctx is done.
// The next wait starts only after step returns.
func runSchedule(ctx context.Context, clk clock.Clock, interval time.Duration, step func(context.Context)) {
	for {
		step(ctx)
		select {
		case <-ctx.Done():
			return
		case <-clk.After(interval):
		}
	}
}
