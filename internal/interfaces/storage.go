package interfaces

import (
	"context"

	"github.com/bobmcallan/pfreturns/internal/models"
)

// ReturnTable is the keyed asset_returns table. Implementations wrap
// connection failures with models.ErrStoreUnavailable.
type ReturnTable interface {
	// Select returns rows matching the query.
	Select(ctx context.Context, q models.Query) ([]models.ReturnRecord, error)

	// Upsert inserts or overwrites rows keyed on (asset_ticker, return_date).
	Upsert(ctx context.Context, records []models.ReturnRecord) error

	// Delete removes rows matching the query. An empty query removes every row.
	Delete(ctx context.Context, q models.Query) error
}

// ColumnLister is implemented by tables that can report their schema.
type ColumnLister interface {
	Columns(ctx context.Context) ([]string, error)
}

// RequestSource lists tickers that users asked for but may not be stored yet.
type RequestSource interface {
	RequestedTickers(ctx context.Context) ([]string, error)
}
