package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"github.com/systmms/keyrot/cmd/keyrot/commands"
	"github.com/systmms/keyrot/internal/config"
	"github.com/systmms/keyrot/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:])
	stop()
	memguard.Purge()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(commands.ExitCode(err))
}

func run(ctx context.Context, args []string) error {
	rootCmd := newRootCommand()
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand() *cobra.Command {
	var (
		configFile string
		noColor    bool
		debug      bool
	)

	cfg := &config.Config{}
	rt := commands.NewRuntime(cfg)

	rootCmd := &cobra.Command{
		Use:   "keyrot",
		Short: "Rotate IAM access keys and distribute them",
		Long: `keyrot rotates the access keys of IAM users one step at a time and pushes
each new key to the systems that use it: CI providers, secret stores and
Kubernetes.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg.Path = configFile
			cfg.Logger = logging.New(debug, noColor)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "keyrot.yaml", "Config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		commands.NewRotateCommand(rt),
		commands.NewPlanCommand(rt),
		commands.NewKeysCommand(rt),
		commands.NewValidateCommand(rt),
		commands.NewDaemonCommand(rt),
	)
	return rootCmd
}
