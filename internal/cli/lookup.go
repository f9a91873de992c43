package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pratik-mahalle/threatwatch/internal/api/dto"
	"github.com/pratik-mahalle/threatwatch/internal/domain/indicator"
)

func newLookupCmd() *cobra.Command {
	var sourceID string
	cmd := &cobra.Command{
		Use:   "lookup <type> <value>",
		Short: "Ask a source about one indicator and store the answer",
		Example: `  threatwatch lookup ip 203.0.113.7 --source src-1
  threatwatch lookup domain evil.example --source src-2 -o json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := indicator.Type(strings.ToLower(args[0]))
			if !kind.IsValid() {
				return fmt.Errorf("unknown indicator type %q", args[0])
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				src, err := a.registry.Get(ctx, sourceID)
				if err != nil {
					return err
				}
				ind, err := a.ingestion.Lookup(ctx, src, kind, args[1])
				if err != nil {
					return err
				}
				score := a.scorer.Value(ind)
				view := dto.FromIndicator(ind, score, a.scorer.Rank(score))
				if !wantsTable() {
					return printStructured(view)
				}

				fmt.Printf("Indicator:  %s %s\n", view.Type, view.Value)
				fmt.Printf("Priority:   %s (score %.2f)\n", formatPriority(view.Priority), view.Score)
				fmt.Printf("Reputation: %d\n", view.Reputation)
				fmt.Printf("Category:   %s\n", view.Category)
				fmt.Printf("Sources:    %s\n", strings.Join(view.Sources, ", "))
				if len(view.Campaigns) > 0 {
					fmt.Printf("Campaigns:  %s\n", strings.Join(view.Campaigns, ", "))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sourceID, "source", "", "source ID to query")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func newSearchCmd() *cobra.Command {
	var sourceID string
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search a source without storing the results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				src, err := a.registry.Get(ctx, sourceID)
				if err != nil {
					return err
				}
				hits, err := a.ingestion.Search(ctx, src, query)
				if err != nil {
					return err
				}

				views := make([]dto.ObservationDTO, len(hits))
				for i, o := range hits {
					views[i] = dto.FromObservation(o)
				}
				if !wantsTable() {
					return printStructured(views)
				}
				if len(views) == 0 {
					fmt.Println("No results.")
					return nil
				}

				table := NewTable("TYPE", "VALUE", "REPUTATION", "CATEGORY", "CAMPAIGN")
				for _, v := range views {
					table.AddRow(v.Type, truncate(v.Value, 60), strconv.Itoa(v.Reputation), v.Category, truncate(v.Campaign, 30))
				}
				table.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sourceID, "source", "", "source ID to query")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}
