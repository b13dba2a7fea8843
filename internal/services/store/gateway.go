// Package store provides the batching, idempotent gateway over the returns table
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bobmcallan/pfreturns/internal/common"
	"github.com/bobmcallan/pfreturns/internal/interfaces"
	"github.com/bobmcallan/pfreturns/internal/models"
)

// DefaultBatchSize is the number of rows sent per upsert call.
const DefaultBatchSize = 1000

// ErrSchemaUnsupported is returned when the table cannot report its columns.
var ErrSchemaUnsupported = errors.New("table does not report columns")

// BatchError reports the batches that failed during an upsert.
// Rows in other batches were committed.
type BatchError struct {
	Total  int
	Failed []int // zero-based batch numbers
	Errs   []error
}

func (e *BatchError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = fmt.Sprintf("batch %d: %v", e.Failed[i]+1, err)
	}
	return fmt.Sprintf("%d of %d batches failed: %s", len(e.Failed), e.Total, strings.Join(msgs, "; "))
}

func (e *BatchError) Unwrap() []error {
	return e.Errs
}

// Gateway implements interfaces.ReturnStore.
type Gateway struct {
	table     interfaces.ReturnTable
	logger    *common.Logger
	batchSize int
}

// GatewayOption configures a Gateway
type GatewayOption func(*Gateway)

// WithBatchSize sets the upsert batch size
func WithBatchSize(n int) GatewayOption {
	return func(g *Gateway) {
		if n > 0 {
			g.batchSize = n
		}
	}
}

// NewGateway creates a Gateway over table
func NewGateway(table interfaces.ReturnTable, logger *common.Logger, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		table:     table,
		logger:    logger,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Exists checks for a single row of ticker. Errors are logged and reported
// as false so callers fall through to ingestion, which is idempotent.
func (g *Gateway) Exists(ctx context.Context, ticker string) bool {
	rows, err := g.table.Select(ctx, models.Query{
		Ticker:  ticker,
		Columns: []string{"asset_ticker"},
		Limit:   1,
	})
	if err != nil {
		g.logger.Warn().Err(err).Str("ticker", ticker).Msg("Existence check failed, assuming absent")
		return false
	}
	return len(rows) > 0
}

// Tickers returns the distinct tickers stored, sorted.
func (g *Gateway) Tickers(ctx context.Context) ([]string, error) {
	rows, err := g.table.Select(ctx, models.Query{Columns: []string{"asset_ticker"}})
	if err != nil {
		return nil, fmt.Errorf("list stored tickers: %w", err)
	}
	seen := make(map[string]bool)
	var tickers []string
	for _, r := range rows {
		if !seen[r.AssetTicker] {
			seen[r.AssetTicker] = true
			tickers = append(tickers, r.AssetTicker)
		}
	}
	sort.Strings(tickers)
	return tickers, nil
}

// Upsert writes records in serial batches and returns the number of rows committed.
// A transport failure aborts immediately with models.ErrStoreUnavailable in the chain.
// Other batch failures are collected into a *BatchError after all batches are tried.
func (g *Gateway) Upsert(ctx context.Context, records []models.ReturnRecord) (int, error) {
	total := (len(records) + g.batchSize - 1) / g.batchSize
	batchErr := &BatchError{Total: total}
	written := 0

	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		lo := i * g.batchSize
		hi := min(lo+g.batchSize, len(records))
		batch := records[lo:hi]

		if err := g.table.Upsert(ctx, batch); err != nil {
			if errors.Is(err, models.ErrStoreUnavailable) {
				g.logger.Error().Err(err).Int("batch", i+1).Int("batches", total).Msg("Store unavailable, aborting upload")
				return written, fmt.Errorf("upsert batch %d/%d: %w", i+1, total, err)
			}
			g.logger.Warn().Err(err).Int("batch", i+1).Int("batches", total).Msg("Batch upsert failed")
			batchErr.Failed = append(batchErr.Failed, i)
			batchErr.Errs = append(batchErr.Errs, err)
			continue
		}

		written += len(batch)
		g.logger.Debug().Int("batch", i+1).Int("batches", total).Int("rows", len(batch)).Msg("Batch upserted")
	}

	if len(batchErr.Failed) > 0 {
		return written, batchErr
	}
	return written, nil
}

// SelectAll reads the whole table ordered by ticker then date.
func (g *Gateway) SelectAll(ctx context.Context) ([]models.ReturnRecord, error) {
	rows, err := g.table.Select(ctx, models.Query{})
	if err != nil {
		return nil, fmt.Errorf("select all rows: %w", err)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].AssetTicker != rows[j].AssetTicker {
			return rows[i].AssetTicker < rows[j].AssetTicker
		}
		return rows[i].ReturnDate < rows[j].ReturnDate
	})
	return rows, nil
}

// SelectTicker reads the rows of one ticker in date order.
func (g *Gateway) SelectTicker(ctx context.Context, ticker string) ([]models.ReturnRecord, error) {
	rows, err := g.table.Select(ctx, models.Query{Ticker: ticker, OrderBy: "return_date"})
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", ticker, err)
	}
	return rows, nil
}

// DeleteAll removes every row.
func (g *Gateway) DeleteAll(ctx context.Context) error {
	if err := g.table.Delete(ctx, models.Query{}); err != nil {
		return fmt.Errorf("delete all rows: %w", err)
	}
	g.logger.Warn().Msg("All stored return rows deleted")
	return nil
}

// Columns returns the table's column names when the backend can report them.
func (g *Gateway) Columns(ctx context.Context) ([]string, error) {
	lister, ok := g.table.(interfaces.ColumnLister)
	if !ok {
		return nil, ErrSchemaUnsupported
	}
	return lister.Columns(ctx)
}
