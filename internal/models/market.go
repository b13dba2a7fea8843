// Package models defines data structures for pfreturns
package models

import (
	"time"

	"github.com/guregu/null/v6"
)

// PriceBar is one daily observation from the market data feed.
// Close is the dividend-adjusted close when the feed supplies one.
type PriceBar struct {
	Date     time.Time  `json:"date"`
	Close    null.Float `json:"close"`
	Volume   null.Float `json:"volume"`
	Dividend float64    `json:"dividend"`
}

// AssetMetadata holds static descriptive data for a ticker.
type AssetMetadata struct {
	Ticker       string  `json:"ticker"`
	Name         string  `json:"name"`
	Category     string  `json:"category"`
	ExpenseRatio float64 `json:"expense_ratio"`
}

// UnknownMetadata returns the placeholder used when no metadata is available.
func UnknownMetadata(ticker string) AssetMetadata {
	return AssetMetadata{
		Ticker:       ticker,
		Name:         ticker,
		Category:     "Unknown",
		ExpenseRatio: 0.0,
	}
}
