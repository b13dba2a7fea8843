package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bobmcallan/pfreturns/internal/app"
)

func init() {
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(coverageCmd)
	rootCmd.AddCommand(performanceCmd)
	rootCmd.AddCommand(schemaCmd)
}

func pct(v float64) string {
	return strconv.FormatFloat(v*100, 'f', 2, 64) + "%"
}

var checkCmd = &cobra.Command{
	Use:   "check [tickers...]",
	Short: "Report whether tickers are stored (default: the catalog universe)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			tickers := args
			if len(tickers) == 0 {
				tickers = a.Catalog.Universe()
			}
			presence, err := a.Diagnostics.Check(cmd.Context(), tickers)
			if err != nil {
				return err
			}

			var missing []string
			table := newTable(cmd.OutOrStdout(), "Ticker", "Stored", "Months", "From", "To")
			for _, p := range presence {
				stored := "yes"
				if !p.Present {
					stored = "no"
					missing = append(missing, p.Ticker)
				}
				table.Append([]string{p.Ticker, stored, strconv.Itoa(p.Months), p.StartDate, p.EndDate})
			}
			table.Render()
			if len(missing) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "\nMissing %d: %s\n", len(missing), strings.Join(missing, ", "))
			}
			return nil
		})
	},
}

var coverageCmd = &cobra.Command{
	Use:   "coverage",
	Short: "Summarise the stored history of every asset",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(func(a *app.App) error {
			coverage, err := a.Diagnostics.Coverage(cmd.Context())
			if err != nil {
				return err
			}
			table := newTable(cmd.OutOrStdout(), "Ticker", "Months", "From", "To", "Avg Return", "Volatility", "Missing", "Extreme")
			for _, c := range coverage {
				table.Append([]string{
					c.Ticker, strconv.Itoa(c.Months), c.StartDate, c.EndDate,
					pct(c.AvgReturn), pct(c.Volatility), strconv.Itoa(c.Missing), strconv.Itoa(c.Extreme),
				})
			}
			table.Render()
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d assets\n", len(coverage))
			return nil
		})
	},
}

var performanceCmd = &cobra.Command{
	Use:   "performance",
	Short: "Rank assets with at least a year of history by Sharpe ratio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(func(a *app.App) error {
			perf, err := a.Diagnostics.Performance(cmd.Context())
			if err != nil {
				return err
			}
			table := newTable(cmd.OutOrStdout(), "Ticker", "Total", "Annualized", "Volatility", "Sharpe", "Max Drawdown", "Months")
			for _, p := range perf {
				table.Append([]string{
					p.Ticker, pct(p.TotalReturn), pct(p.AnnualizedReturn), pct(p.AnnualizedVolatility),
					strconv.FormatFloat(p.SharpeRatio, 'f', 2, 64), pct(p.MaxDrawdown), strconv.Itoa(p.Months),
				})
			}
			table.Render()
			return nil
		})
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "List the columns of the returns table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(func(a *app.App) error {
			cols, err := a.Diagnostics.Schema(cmd.Context())
			if err != nil {
				return err
			}
			for _, c := range cols {
				fmt.Fprintln(cmd.OutOrStdout(), c)
			}
			return nil
		})
	},
}
