package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/bobmcallan/pfreturns/internal/app"
	"github.com/bobmcallan/pfreturns/internal/common"
)

var (
	configPath string
	logLevel   string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to pfreturns.toml (default: PFRETURNS_CONFIG, then beside the binary)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
}

var rootCmd = &cobra.Command{
	Use:           "pfreturns",
	Version:       common.GetFullVersion(),
	Short:         "Maintain the monthly asset return store",
	Long:          `Fetches daily prices, derives monthly total returns, validates them and keeps the asset_returns table current. Also backs up, restores and inspects the table.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// openApp loads configuration and wires the application.
var openApp = func() (*app.App, error) {
	config, err := app.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		config.Logging.Level = logLevel
	}
	return app.NewApp(config, common.NewLoggerFromConfig(config.Logging))
}

// withApp runs fn against a freshly wired application and closes it afterwards.
func withApp(fn func(a *app.App) error) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	return table
}

func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
