package models

// AssetCoverage summarises the stored history of one asset.
type AssetCoverage struct {
	Ticker     string  `json:"ticker"`
	Months     int     `json:"months"`
	StartDate  string  `json:"start_date"`
	EndDate    string  `json:"end_date"`
	AvgReturn  float64 `json:"avg_return"`
	Volatility float64 `json:"volatility"`
	Missing    int     `json:"missing_returns"`
	Extreme    int     `json:"extreme_returns"`
	Zero       int     `json:"zero_returns"`
}

// AssetPerformance holds per-asset performance statistics derived from monthly returns.
type AssetPerformance struct {
	Ticker               string  `json:"asset_ticker"`
	TotalReturn          float64 `json:"total_return"`
	AnnualizedReturn     float64 `json:"annualized_return"`
	AnnualizedVolatility float64 `json:"annualized_volatility"`
	SharpeRatio          float64 `json:"sharpe_ratio"`
	MaxDrawdown          float64 `json:"max_drawdown"`
	Months               int     `json:"months_of_data"`
	StartDate            string  `json:"start_date"`
	EndDate              string  `json:"end_date"`
}

// AssetPresence reports whether a requested ticker is stored.
type AssetPresence struct {
	Ticker    string `json:"ticker"`
	Present   bool   `json:"present"`
	Months    int    `json:"months,omitempty"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
}
