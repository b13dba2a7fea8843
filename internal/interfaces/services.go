package interfaces

import (
	"context"

	"github.com/bobmcallan/pfreturns/internal/models"
)

// SeriesBuilder turns raw feed history for a ticker into monthly return records.
type SeriesBuilder interface {
	Build(ctx context.Context, ticker string) ([]models.ReturnRecord, error)
}

// SeriesValidator applies data quality thresholds to a candidate series.
type SeriesValidator interface {
	Validate(ticker string, records []models.ReturnRecord) models.ValidationVerdict
}

// ReturnStore is the batching, idempotent view of the returns table used by workflows.
type ReturnStore interface {
	Exists(ctx context.Context, ticker string) bool
	Tickers(ctx context.Context) ([]string, error)
	Upsert(ctx context.Context, records []models.ReturnRecord) (int, error)
	SelectAll(ctx context.Context) ([]models.ReturnRecord, error)
	DeleteAll(ctx context.Context) error
}
