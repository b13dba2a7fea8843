package models

import (
	"errors"

	"github.com/guregu/null/v6"
)

// DateLayout is the ISO calendar date format used for return_date.
const DateLayout = "2006-01-02"

// ReturnRecord is one monthly observation for one asset.
// The pair (AssetTicker, ReturnDate) is unique in the store.
type ReturnRecord struct {
	AssetTicker   string      `json:"asset_ticker"`
	ReturnDate    string      `json:"return_date"`
	MonthlyReturn null.Float  `json:"monthly_return"`
	Price         null.Float  `json:"price,omitzero"`
	Volume        null.Float  `json:"volume,omitzero"`
	AssetName     null.String `json:"asset_name,omitzero"`
	AssetCategory null.String `json:"asset_category,omitzero"`
	ExpenseRatio  null.Float  `json:"expense_ratio,omitzero"`
}

// Key returns the upsert conflict key of the record.
func (r ReturnRecord) Key() string {
	return r.AssetTicker + "|" + r.ReturnDate
}

// Columns lists every column of the asset_returns table in export order.
var Columns = []string{
	"asset_ticker",
	"return_date",
	"monthly_return",
	"price",
	"volume",
	"asset_name",
	"asset_category",
	"expense_ratio",
}

// RequiredColumns are the columns every stored row carries.
var RequiredColumns = []string{"asset_ticker", "return_date", "monthly_return"}

// ReturnsTable is the name of the keyed return-series table.
const ReturnsTable = "asset_returns"

// RequestsTable is the name of the table listing requested tickers.
const RequestsTable = "asset_requests"

// ErrStoreUnavailable marks a transport or connection failure talking to the store.
// Workflows abort when they see it.
var ErrStoreUnavailable = errors.New("store unavailable")

// Query selects rows from the returns table.
type Query struct {
	Ticker  string   // exact ticker match; empty means all tickers
	Columns []string // projection; empty means all columns
	OrderBy string   // column to sort ascending by
	Limit   int      // 0 means no limit
}

// ValidationVerdict is the data quality decision for one candidate series.
type ValidationVerdict struct {
	Accepted bool     `json:"accepted"`
	Reasons  []string `json:"reasons,omitempty"`
}
