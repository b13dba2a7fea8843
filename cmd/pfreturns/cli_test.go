package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/pfreturns/internal/app"
	"github.com/bobmcallan/pfreturns/internal/common"
	"github.com/bobmcallan/pfreturns/internal/models"
)

// useMemoryApp points every command at a single in-memory app seeded with records.
func useMemoryApp(t *testing.T, records ...models.ReturnRecord) *app.App {
	t.Helper()
	cfg := common.NewDefaultConfig()
	cfg.Storage.Backend = "memory"
	cfg.Backup.Dir = t.TempDir()

	a, err := app.NewApp(cfg, common.NewSilentLogger())
	require.NoError(t, err)
	if len(records) > 0 {
		require.NoError(t, a.Table.Upsert(context.Background(), records))
	}

	prev := openApp
	openApp = func() (*app.App, error) { return a, nil }
	t.Cleanup(func() { openApp = prev })
	return a
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func history(ticker string, returns ...float64) []models.ReturnRecord {
	dates := []string{
		"2023-01-31", "2023-02-28", "2023-03-31", "2023-04-30", "2023-05-31", "2023-06-30",
		"2023-07-31", "2023-08-31", "2023-09-30", "2023-10-31", "2023-11-30", "2023-12-31",
	}
	var out []models.ReturnRecord
	for i, r := range returns {
		out = append(out, models.ReturnRecord{
			AssetTicker:   ticker,
			ReturnDate:    dates[i],
			MonthlyReturn: null.FloatFrom(r),
		})
	}
	return out
}

func TestCheck_ReportsMissing(t *testing.T) {
	useMemoryApp(t, history("SPY", 0.01, 0.02)...)

	out, err := run(t, "", "check", "spy", "QQQ")
	require.NoError(t, err)
	assert.Contains(t, out, "SPY")
	assert.Contains(t, out, "Missing 1: QQQ")
}

func TestSchema_ListsColumns(t *testing.T) {
	useMemoryApp(t)

	out, err := run(t, "", "schema")
	require.NoError(t, err)
	assert.Contains(t, out, "asset_ticker")
	assert.Contains(t, out, "monthly_return")
}

func TestPerformance_RanksFullYear(t *testing.T) {
	useMemoryApp(t, append(
		history("SPY", 0.01, 0.02, -0.01, 0.03, 0.01, 0.00, 0.02, -0.02, 0.01, 0.01, 0.02, 0.01),
		history("NEW", 0.05, 0.05)...,
	)...)

	out, err := run(t, "", "performance")
	require.NoError(t, err)
	assert.Contains(t, out, "SPY")
	assert.NotContains(t, out, "NEW")
}

func TestCoverage_CountsAssets(t *testing.T) {
	useMemoryApp(t, append(history("SPY", 0.01, 0.02), history("AGG", 0.001)...)...)

	out, err := run(t, "", "coverage")
	require.NoError(t, err)
	assert.Contains(t, out, "2 assets")
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	a := useMemoryApp(t, history("SPY", 0.01, 0.02, 0.03)...)

	out, err := run(t, "", "backup")
	require.NoError(t, err)
	assert.Contains(t, out, "Backup written")

	list, err := a.Backup.List()
	require.NoError(t, err)
	require.Len(t, list, 1)

	out, err = run(t, "", "backups")
	require.NoError(t, err)
	assert.Contains(t, out, list[0].Filename)

	out, err = run(t, "", "restore", "--file", list[0].Filename, "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Restored 3 of 3 rows")
}

func TestRestore_BareNameInWorkingDirectory(t *testing.T) {
	a := useMemoryApp(t, history("SPY", 0.01, 0.02)...)

	_, err := run(t, "", "backup")
	require.NoError(t, err)
	list, err := a.Backup.List()
	require.NoError(t, err)
	require.Len(t, list, 1)

	// Move the archive out of the backup directory into the working directory.
	work := t.TempDir()
	t.Chdir(work)
	require.NoError(t, os.Rename(list[0].Path, filepath.Join(work, list[0].Filename)))

	out, err := run(t, "", "restore", "--file", list[0].Filename, "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Restored 2 of 2 rows")
}

func TestResolveArchive(t *testing.T) {
	work := t.TempDir()
	t.Chdir(work)
	require.NoError(t, os.WriteFile("local.zip", []byte("x"), 0o644))

	backupDir := filepath.Join("var", "backups")
	nested := filepath.Join("sub", "missing.zip")
	assert.Equal(t, "local.zip", resolveArchive("local.zip", backupDir))
	assert.Equal(t, filepath.Join(backupDir, "other.zip"), resolveArchive("other.zip", backupDir))
	assert.Equal(t, nested, resolveArchive(nested, backupDir))
}

func TestRestore_CancelledWithoutConfirmation(t *testing.T) {
	a := useMemoryApp(t, history("SPY", 0.01)...)

	_, err := run(t, "", "backup")
	require.NoError(t, err)
	list, err := a.Backup.List()
	require.NoError(t, err)
	require.Len(t, list, 1)

	out, err := run(t, "no\n", "restore", "--file", list[0].Path, "--yes=false")
	require.NoError(t, err)
	assert.Contains(t, out, "Restore cancelled")
}

func TestUpload_PrintsVerification(t *testing.T) {
	useMemoryApp(t)
	path := filepath.Join(t.TempDir(), "returns.csv")
	require.NoError(t, os.WriteFile(path, []byte("asset_ticker,return_date,monthly_return\nSPY,2024-01-31,0.01\nSPY,2024-02-29,2.5\n"), 0o644))

	out, err := run(t, "", "upload", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Uploaded 2 of 2 rows")
	assert.Contains(t, out, "extreme returns")
	assert.Contains(t, out, "Verification passed")
}

func TestIngest_RequiresTickers(t *testing.T) {
	useMemoryApp(t)

	_, err := run(t, "", "ingest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no tickers requested")
}

func TestIngest_UnknownGroup(t *testing.T) {
	useMemoryApp(t)
	t.Cleanup(func() { ingestGroups = nil })

	_, err := run(t, "", "ingest", "--group", "no-such-group")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown catalog group")
}
