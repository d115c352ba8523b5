package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func SummaryCmd() *cobra.Command {
	var (
		printOnly bool
		all       bool
		date      string
	)

	cmd := &cobra.Command{
		Use:   "summary [owner-id]",
		Short: "Build a patient summary from the record store and ingest it",
		Example: `  carecontextd summary p-102
  carecontextd summary p-102 --print
  carecontextd summary --all`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return errors.New("pass exactly one of <owner-id> or --all")
			}
			if all && printOnly {
				return errors.New("--print cannot be combined with --all")
			}
			d, err := parseCLIDate(date)
			if err != nil {
				return err
			}

			return withApp(cmd, func(ctx context.Context, app *App) error {
				out := cmd.OutOrStdout()
				switch {
				case all:
					n, err := app.Summaries.RefreshAll(ctx)
					fmt.Fprintf(out, "refreshed %d patient summaries\n", n)
					return err
				case printOnly:
					text, _, err := app.Summaries.BuildPatientSummary(ctx, args[0])
					if err != nil {
						return err
					}
					fmt.Fprintln(out, text)
					return nil
				default:
					n, err := app.Summaries.BuildAndIngestPatientSummary(ctx, args[0], d)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "stored %d summary chunks for %s\n", n, args[0])
					return nil
				}
			})
		},
	}

	cmd.Flags().BoolVar(&printOnly, "print", false, "print the summary without ingesting it")
	cmd.Flags().BoolVar(&all, "all", false, "refresh summaries for every patient")
	cmd.Flags().StringVar(&date, "date", "", "summary date (YYYY-MM-DD, defaults to today)")
	return cmd
}
