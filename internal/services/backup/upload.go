package backup

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/bobmcallan/pfreturns/internal/models"
	"github.com/bobmcallan/pfreturns/internal/services/returns"
)

// Upload upserts the rows of a CSV export into the store, then compares per
// ticker row counts of the file with the store. Unlike Restore it never deletes.
func (m *Manager) Upload(ctx context.Context, path string) (*models.UploadReport, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	rows, err := ReadRecords(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	meta := buildMetadata(rows, m.now())
	report := &models.UploadReport{
		File:         path,
		Rows:         len(rows),
		UniqueAssets: meta.UniqueAssets,
		DateRange:    meta.DateRange,
		Warnings:     qualityWarnings(rows),
	}

	written, err := m.store.Upsert(ctx, rows)
	report.Uploaded = written
	if err != nil {
		return report, fmt.Errorf("upload rows: %w", err)
	}
	m.logger.Info().Int("rows", written).Str("file", path).Msg("Upload complete")

	stored, err := m.store.SelectAll(ctx)
	if err != nil {
		return report, fmt.Errorf("verify upload: %w", err)
	}
	report.Counts = compareCounts(rows, stored)
	if !report.Verified() {
		m.logger.Warn().Str("file", path).Msg("Store holds fewer rows than the uploaded file")
	}
	return report, nil
}

func qualityWarnings(rows []models.ReturnRecord) []string {
	var extreme, missing int
	for _, r := range rows {
		if !r.MonthlyReturn.Valid {
			missing++
			continue
		}
		if v := r.MonthlyReturn.Float64; v < returns.ExtremeLow || v > returns.ExtremeHigh {
			extreme++
		}
	}
	var out []string
	if extreme > 0 {
		out = append(out, fmt.Sprintf("Found %d extreme returns (below -50%% or above 100%%)", extreme))
	}
	if missing > 0 {
		out = append(out, fmt.Sprintf("Found %d missing returns", missing))
	}
	return out
}

func compareCounts(file, stored []models.ReturnRecord) []models.TickerCount {
	counts := make(map[string]*models.TickerCount)
	for _, r := range file {
		c, ok := counts[r.AssetTicker]
		if !ok {
			c = &models.TickerCount{Ticker: r.AssetTicker}
			counts[r.AssetTicker] = c
		}
		c.FileRows++
	}
	for _, r := range stored {
		if c, ok := counts[r.AssetTicker]; ok {
			c.StoredRows++
		}
	}

	out := make([]models.TickerCount, 0, len(counts))
	for _, c := range counts {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}
