// Package interfaces defines service contracts for pfreturns
package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/pfreturns/internal/models"
)

// PriceFeed provides historical daily prices and static metadata for a ticker.
type PriceFeed interface {
	// GetDailyHistory returns daily observations in ascending date order over [from, to].
	GetDailyHistory(ctx context.Context, ticker string, from, to time.Time) ([]models.PriceBar, error)

	// GetMetadata returns best-effort descriptive data; callers tolerate failures.
	GetMetadata(ctx context.Context, ticker string) (*models.AssetMetadata, error)
}

// Calculator computes portfolio statistics on a remote service.
type Calculator interface {
	// Calculate posts the request and returns the decoded response body.
	Calculate(ctx context.Context, req *models.CalculationRequest) (map[string]interface{}, error)

	// Endpoint returns the configured remote URL.
	Endpoint() string
}
