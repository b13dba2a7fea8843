package diagnostics

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/pfreturns/internal/common"
	"github.com/bobmcallan/pfreturns/internal/models"
	"github.com/bobmcallan/pfreturns/internal/services/store"
	"github.com/bobmcallan/pfreturns/internal/storage/memory"
)

func newService(t *testing.T, rows []models.ReturnRecord) *Service {
	t.Helper()
	g := store.NewGateway(memory.NewTable(), common.NewSilentLogger())
	_, err := g.Upsert(context.Background(), rows)
	require.NoError(t, err)
	return NewService(g, common.NewSilentLogger())
}

func monthly(ticker string, vals ...float64) []models.ReturnRecord {
	out := make([]models.ReturnRecord, len(vals))
	for i, v := range vals {
		out[i] = models.ReturnRecord{
			AssetTicker:   ticker,
			ReturnDate:    fmt.Sprintf("%04d-%02d-28", 2020+i/12, i%12+1),
			MonthlyReturn: null.FloatFrom(v),
		}
	}
	return out
}

func TestPerformance_Drawdown(t *testing.T) {
	p := Performance([]float64{0.10, -0.20, 0.05})

	assert.InDelta(t, 1.1*0.8*1.05-1, p.TotalReturn, 1e-12)
	assert.InDelta(t, -0.20, p.MaxDrawdown, 1e-12)
	assert.InDelta(t, math.Pow(1+(-0.05/3), 12)-1, p.AnnualizedReturn, 1e-12)
	assert.Positive(t, p.AnnualizedVolatility)
}

func TestPerformance_ZeroVolatility(t *testing.T) {
	p := Performance([]float64{0.01, 0.01, 0.01})
	assert.Zero(t, p.AnnualizedVolatility)
	assert.Zero(t, p.SharpeRatio)
	assert.Zero(t, p.MaxDrawdown)
}

func TestService_Performance_SkipsShortHistory(t *testing.T) {
	vals := make([]float64, 12)
	for i := range vals {
		vals[i] = 0.01 * float64(i%3)
	}
	rows := append(monthly("SPY", vals...), monthly("NEW", 0.1, 0.2)...)
	rows = append(rows, monthly("AGG", append(vals[:6:6], -0.01, -0.02, 0.0, 0.01, -0.03, 0.0)...)...)
	svc := newService(t, rows)

	perf, err := svc.Performance(context.Background())
	require.NoError(t, err)
	require.Len(t, perf, 2)
	assert.Equal(t, "SPY", perf[0].Ticker)
	assert.Equal(t, 12, perf[0].Months)
	assert.GreaterOrEqual(t, perf[0].SharpeRatio, perf[1].SharpeRatio)
}

func TestService_Coverage(t *testing.T) {
	rows := monthly("SPY", 0.01, 0, 1.5, 0.02)
	rows[1].MonthlyReturn = null.Float{}
	rows = append(rows, monthly("AGG", 0.0, 0.01)...)
	svc := newService(t, rows)

	cov, err := svc.Coverage(context.Background())
	require.NoError(t, err)
	require.Len(t, cov, 2)

	assert.Equal(t, "AGG", cov[0].Ticker)
	assert.Equal(t, 1, cov[0].Zero)

	spy := cov[1]
	assert.Equal(t, 4, spy.Months)
	assert.Equal(t, 1, spy.Missing)
	assert.Equal(t, 1, spy.Extreme)
	assert.Equal(t, "2020-01-28", spy.StartDate)
	assert.Equal(t, "2020-04-28", spy.EndDate)
	assert.InDelta(t, (0.01+1.5+0.02)/3, spy.AvgReturn, 1e-12)
}

func TestService_Check(t *testing.T) {
	svc := newService(t, monthly("SPY", 0.01, 0.02))

	out, err := svc.Check(context.Background(), []string{"spy", "QQQ"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.True(t, out[0].Present)
	assert.Equal(t, 2, out[0].Months)
	assert.False(t, out[1].Present)
}

func TestService_Schema(t *testing.T) {
	svc := newService(t, nil)
	cols, err := svc.Schema(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.Columns, cols)
}
