package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bobmcallan/pfreturns/internal/app"
)

func init() {
	rootCmd.AddCommand(uploadCmd)
}

var uploadCmd = &cobra.Command{
	Use:   "upload <csv>",
	Short: "Upsert a returns CSV into the store and verify per-ticker row counts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			report, err := a.Backup.Upload(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Uploaded %d of %d rows, %d assets, %s to %s\n",
				report.Uploaded, report.Rows, report.UniqueAssets, report.DateRange.Start, report.DateRange.End)
			for _, w := range report.Warnings {
				fmt.Fprintf(out, "Warning: %s\n", w)
			}

			table := newTable(out, "Ticker", "File Rows", "Stored Rows")
			for _, c := range report.Counts {
				table.Append([]string{c.Ticker, strconv.Itoa(c.FileRows), strconv.Itoa(c.StoredRows)})
			}
			table.Render()

			if !report.Verified() {
				return fmt.Errorf("verification failed: store holds fewer rows than %s", args[0])
			}
			fmt.Fprintln(out, "Verification passed")
			return nil
		})
	},
}
