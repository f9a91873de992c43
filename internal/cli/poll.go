package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pratik-mahalle/threatwatch/internal/api/dto"
)

func newPollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll <source-id>",
		Short: "Poll one source now and run the pipeline on what it returns",
		Long: `Poll fetches the source's latest records, correlates them into the
indicator store, scores them and dispatches notifications, exactly as a
scheduled poll would. The outcome is recorded on the source's health.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				src, err := a.registry.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if !src.Enabled {
					return fmt.Errorf("source %s is disabled", src.Name)
				}

				out := a.scheduler.RunSource(ctx, src)
				resp := dto.PollResponse{
					SourceID:      src.ID,
					Records:       out.Result.Records,
					Created:       out.Result.Created,
					Updated:       out.Result.Updated,
					Skipped:       out.Result.Skipped,
					Notifications: out.Result.Notifications,
					NextPoll:      out.Next,
					Scheduled:     out.Keep,
				}
				if out.Err != nil {
					resp.Error = out.Err.Error()
				}

				if !wantsTable() {
					if err := printStructured(resp); err != nil {
						return err
					}
					return out.Err
				}

				fmt.Printf("Source:        %s (%s)\n", src.Name, src.ID)
				fmt.Printf("Records:       %d\n", resp.Records)
				fmt.Printf("Created:       %d\n", resp.Created)
				fmt.Printf("Updated:       %d\n", resp.Updated)
				fmt.Printf("Skipped:       %d\n", resp.Skipped)
				fmt.Printf("Notifications: %d\n", resp.Notifications)
				if !resp.NextPoll.IsZero() {
					fmt.Printf("Next poll:     %s\n", resp.NextPoll.Local().Format(time.RFC3339))
				}
				if !out.Keep {
					fmt.Println("Source is no longer scheduled; run 'threatwatch sources enable' after fixing it.")
				}
				return out.Err
			})
		},
	}
}
