package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bobmcallan/pfreturns/internal/app"
	"github.com/bobmcallan/pfreturns/internal/models"
)

var (
	ingestUniverse bool
	ingestRequests bool
	ingestGroups   []string
)

func init() {
	ingestCmd.Flags().BoolVar(&ingestUniverse, "universe", false, "Include every ticker in the built-in catalog")
	ingestCmd.Flags().BoolVar(&ingestRequests, "requests", false, "Include tickers listed in the asset_requests table")
	ingestCmd.Flags().StringSliceVar(&ingestGroups, "group", nil, "Include a catalog group by name (repeatable)")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(ingestCmd)
}

var addCmd = &cobra.Command{
	Use:   "add <ticker>",
	Short: "Fetch, validate and store the return history of one ticker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			out := a.Ingest.AddTicker(cmd.Context(), args[0])
			printOutcomes(cmd, []models.IngestionOutcome{out})
			if !out.Status.Succeeded() {
				return fmt.Errorf("%s: %s", out.Ticker, out.Status)
			}
			return nil
		})
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [tickers...]",
	Short: "Ingest every requested ticker that is not stored yet",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			requested, err := requestedTickers(cmd, a, args)
			if err != nil {
				return err
			}

			summary, err := a.Ingest.Reconcile(cmd.Context(), requested)
			if summary != nil {
				printOutcomes(cmd, summary.Outcomes)
				fmt.Fprintf(cmd.OutOrStdout(), "\nRequested %d, already stored %d, succeeded %d, failed %d\n",
					summary.Requested, summary.Existing, len(summary.Succeeded), len(summary.Failed))
				if len(summary.Failed) > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "Failed: %s\n", strings.Join(summary.Failed, ", "))
				}
			}
			return err
		})
	},
}

// requestedTickers merges explicit tickers with the selected sources.
// An unreadable requests table contributes nothing.
func requestedTickers(cmd *cobra.Command, a *app.App, args []string) ([]string, error) {
	requested := append([]string{}, args...)
	if ingestUniverse {
		requested = append(requested, a.Catalog.Universe()...)
	}
	for _, name := range ingestGroups {
		tickers, ok := a.Catalog.Group(name)
		if !ok {
			return nil, fmt.Errorf("unknown catalog group %q", name)
		}
		requested = append(requested, tickers...)
	}
	if ingestRequests {
		tickers, err := a.Table.RequestedTickers(cmd.Context())
		if err != nil {
			a.Logger.Warn().Err(err).Msg("Requested assets unavailable, continuing without them")
		}
		requested = append(requested, tickers...)
	}
	if len(requested) == 0 {
		return nil, errors.New("no tickers requested: pass tickers, --universe, --group or --requests")
	}
	return requested, nil
}

func printOutcomes(cmd *cobra.Command, outcomes []models.IngestionOutcome) {
	table := newTable(cmd.OutOrStdout(), "Ticker", "Status", "Rows", "Detail")
	for _, o := range outcomes {
		rows := ""
		if o.Rows > 0 {
			rows = strconv.Itoa(o.Rows)
		}
		table.Append([]string{o.Ticker, string(o.Status), rows, o.Detail})
	}
	table.Render()
}
