package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/keyrot/pkg/rotation"
)

// NewKeysCommand creates the keys command
func NewKeysCommand(rt *Runtime) *cobra.Command {
	var (
		principal  string
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "keys",
		Short: "List a principal's access keys, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rt.Config.Load(); err != nil {
				return err
			}
			if _, err := rt.definition().Principal(principal); err != nil {
				return err
			}

			ctx := cmd.Context()
			store, _, err := rt.store(ctx)
			if err != nil {
				return err
			}
			keys, err := store.ListKeys(ctx, principal)
			if err != nil {
				return fmt.Errorf("list keys for %s: %w", principal, err)
			}
			keys = rotation.SortNewestFirst(keys)

			if outputJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(keyViews(keys))
			}

			now := rt.Clock.Now()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tCREATED\tSTATUS\tAGE")
			for _, k := range keys {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", k.ID, k.CreatedAt.UTC().Format(time.RFC3339), k.Status, formatAge(now.Sub(k.CreatedAt)))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&principal, "principal", "", "Principal whose keys to list (required)")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	_ = cmd.MarkFlagRequired("principal")
	return cmd
}

// formatAge renders d as days and hours, or minutes below an hour
func formatAge(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	if days == 0 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dd%dh", days, hours)
}
