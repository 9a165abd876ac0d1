package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/keyrot/pkg/keystore"
	"github.com/systmms/keyrot/pkg/rotation"
)

type planEntry struct {
	Principal string    `json:"principal"`
	Action    string    `json:"action"`
	KeyID     string    `json:"key_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Keys      []keyView `json:"keys"`
}

type keyView struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Status    string    `json:"status"`
}

func keyViews(keys []keystore.AccessKey) []keyView {
	views := make([]keyView, 0, len(keys))
	for _, k := range keys {
		views = append(views, keyView{ID: k.ID, CreatedAt: k.CreatedAt, Status: string(k.Status)})
	}
	return views
}

// NewPlanCommand creates the plan command
func NewPlanCommand(rt *Runtime) *cobra.Command {
	var (
		principals []string
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the step rotate would take for each principal (no changes)",
		Long: `Plan lists each principal's access keys and shows which action the next
rotate would perform. Nothing is locked, created or modified.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rt.Config.Load(); err != nil {
				return err
			}

			names, err := rt.principals(principals)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, _, err := rt.store(ctx)
			if err != nil {
				return err
			}
			engine := rotation.NewEngine(store, rt.logger())

			entries := make([]planEntry, 0, len(names))
			for _, name := range names {
				action, keys, err := engine.Plan(ctx, name)
				if err != nil {
					return err
				}
				entries = append(entries, planEntry{
					Principal: name,
					Action:    string(action.Kind),
					KeyID:     action.KeyID,
					Reason:    action.Reason,
					Keys:      keyViews(keys),
				})
			}

			if outputJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			return writePlanTable(cmd.OutOrStdout(), entries)
		},
	}

	cmd.Flags().StringSliceVar(&principals, "principal", nil, "Principal to plan (repeatable, default all)")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	return cmd
}

func writePlanTable(out io.Writer, entries []planEntry) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PRINCIPAL\tKEYS\tACTION\tKEY\tREASON")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", e.Principal, len(e.Keys), e.Action, dash(e.KeyID), dash(e.Reason))
	}
	return w.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
