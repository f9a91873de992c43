package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newEscalateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "escalate",
		Short: "Run one SLA tracker pass",
		Long: `Escalate marks every unresolved ticket past its SLA deadline as escalated
and notifies supervisors. Notifications that failed on an earlier pass are
retried.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				tracker, err := a.newSLATracker()
				if err != nil {
					return err
				}
				res, err := tracker.Tick(ctx)
				if err != nil {
					return err
				}
				if !wantsTable() {
					return printStructured(res)
				}
				fmt.Printf("Escalated %d tickets, notified %d, %d notifications failed\n", res.Escalated, res.Notified, res.Failed)
				return nil
			})
		},
	}
}
