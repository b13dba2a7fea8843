// Package diagnostics reports coverage, performance and schema of the stored returns
package diagnostics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/bobmcallan/pfreturns/internal/common"
	"github.com/bobmcallan/pfreturns/internal/models"
	"github.com/bobmcallan/pfreturns/internal/services/returns"
)

// MinPerformanceMonths is the history needed before performance is reported.
const MinPerformanceMonths = 12

// Reader is the read side of the store used by diagnostics.
type Reader interface {
	SelectAll(ctx context.Context) ([]models.ReturnRecord, error)
	Columns(ctx context.Context) ([]string, error)
}

// Service computes diagnostics over the stored table
type Service struct {
	store  Reader
	logger *common.Logger
}

// NewService creates a diagnostics service
func NewService(store Reader, logger *common.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// byTicker groups rows per ticker, each group in date order.
func byTicker(rows []models.ReturnRecord) (map[string][]models.ReturnRecord, []string) {
	groups := make(map[string][]models.ReturnRecord)
	for _, r := range rows {
		groups[r.AssetTicker] = append(groups[r.AssetTicker], r)
	}
	tickers := make([]string, 0, len(groups))
	for t, g := range groups {
		sort.Slice(g, func(i, j int) bool { return g[i].ReturnDate < g[j].ReturnDate })
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	return groups, tickers
}

func validReturns(rows []models.ReturnRecord) []float64 {
	out := make([]float64, 0, len(rows))
	for _, r := range rows {
		if r.MonthlyReturn.Valid {
			out = append(out, r.MonthlyReturn.Float64)
		}
	}
	return out
}

// Coverage summarises every stored asset, sorted by ticker.
func (s *Service) Coverage(ctx context.Context) ([]models.AssetCoverage, error) {
	rows, err := s.store.SelectAll(ctx)
	if err != nil {
		return nil, err
	}
	groups, tickers := byTicker(rows)

	out := make([]models.AssetCoverage, 0, len(tickers))
	for _, t := range tickers {
		g := groups[t]
		c := models.AssetCoverage{
			Ticker:    t,
			Months:    len(g),
			StartDate: g[0].ReturnDate,
			EndDate:   g[len(g)-1].ReturnDate,
		}
		for _, r := range g {
			switch {
			case !r.MonthlyReturn.Valid:
				c.Missing++
			case r.MonthlyReturn.Float64 < returns.ExtremeLow || r.MonthlyReturn.Float64 > returns.ExtremeHigh:
				c.Extreme++
			case r.MonthlyReturn.Float64 == 0:
				c.Zero++
			}
		}
		vals := validReturns(g)
		if len(vals) > 0 {
			c.AvgReturn = stat.Mean(vals, nil)
		}
		if len(vals) > 1 {
			c.Volatility = stat.StdDev(vals, nil)
		}
		out = append(out, c)
	}
	return out, nil
}

// Performance computes per-asset statistics for assets with at least a year of
// returns, sorted by Sharpe ratio descending.
func (s *Service) Performance(ctx context.Context) ([]models.AssetPerformance, error) {
	rows, err := s.store.SelectAll(ctx)
	if err != nil {
		return nil, err
	}
	groups, tickers := byTicker(rows)

	var out []models.AssetPerformance
	for _, t := range tickers {
		g := groups[t]
		if len(g) < MinPerformanceMonths {
			continue
		}
		vals := validReturns(g)
		if len(vals) < 2 {
			continue
		}
		p := Performance(vals)
		p.Ticker = t
		p.Months = len(g)
		p.StartDate = g[0].ReturnDate
		p.EndDate = g[len(g)-1].ReturnDate
		out = append(out, p)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].SharpeRatio > out[j].SharpeRatio })
	return out, nil
}

// Performance derives compounded and annualised statistics from monthly returns.
// Annualised return compounds the mean monthly return over twelve months.
func Performance(monthly []float64) models.AssetPerformance {
	var p models.AssetPerformance
	if len(monthly) == 0 {
		return p
	}

	wealth, peak := 1.0, 1.0
	for _, r := range monthly {
		wealth *= 1 + r
		if wealth > peak {
			peak = wealth
		}
		if dd := (wealth - peak) / peak; dd < p.MaxDrawdown {
			p.MaxDrawdown = dd
		}
	}
	p.TotalReturn = wealth - 1
	p.AnnualizedReturn = math.Pow(1+stat.Mean(monthly, nil), 12) - 1
	if len(monthly) > 1 {
		p.AnnualizedVolatility = stat.StdDev(monthly, nil) * math.Sqrt(12)
	}
	if p.AnnualizedVolatility > 0 {
		p.SharpeRatio = p.AnnualizedReturn / p.AnnualizedVolatility
	}
	return p
}

// Check reports which of tickers are stored, with their date ranges.
func (s *Service) Check(ctx context.Context, tickers []string) ([]models.AssetPresence, error) {
	rows, err := s.store.SelectAll(ctx)
	if err != nil {
		return nil, err
	}
	groups, _ := byTicker(rows)

	out := make([]models.AssetPresence, 0, len(tickers))
	for _, t := range tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		p := models.AssetPresence{Ticker: t}
		if g, ok := groups[t]; ok {
			p.Present = true
			p.Months = len(g)
			p.StartDate = g[0].ReturnDate
			p.EndDate = g[len(g)-1].ReturnDate
		}
		out = append(out, p)
	}
	return out, nil
}

// Schema returns the column names of the table.
func (s *Service) Schema(ctx context.Context) ([]string, error) {
	cols, err := s.store.Columns(ctx)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return cols, nil
}
