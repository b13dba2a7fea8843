package returns

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/pfreturns/internal/common"
	"github.com/bobmcallan/pfreturns/internal/models"
)

type fakeFeed struct {
	bars    []models.PriceBar
	err     error
	meta    *models.AssetMetadata
	metaErr error
	from    time.Time
	to      time.Time
}

func (f *fakeFeed) GetDailyHistory(_ context.Context, _ string, from, to time.Time) ([]models.PriceBar, error) {
	f.from, f.to = from, to
	return f.bars, f.err
}

func (f *fakeFeed) GetMetadata(_ context.Context, _ string) (*models.AssetMetadata, error) {
	return f.meta, f.metaErr
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// monthlyBars returns three bars per month; the last close of month i is closes[i].
func monthlyBars(start time.Time, closes []float64) []models.PriceBar {
	var bars []models.PriceBar
	for i, c := range closes {
		m := start.AddDate(0, i, 0)
		bars = append(bars,
			models.PriceBar{Date: day(m.Year(), m.Month(), 3), Close: null.FloatFrom(c * 0.9), Volume: null.FloatFrom(100)},
			models.PriceBar{Date: day(m.Year(), m.Month(), 12), Close: null.FloatFrom(c * 1.1), Volume: null.FloatFrom(200)},
			models.PriceBar{Date: day(m.Year(), m.Month(), 25), Close: null.FloatFrom(c), Volume: null.FloatFrom(300)},
		)
	}
	return bars
}

func TestMonthlyReturns_NMinusOneRows(t *testing.T) {
	closes := []float64{100, 102, 99, 105, 110, 108, 111, 115, 113, 118, 120, 119, 125, 130}
	bars := monthlyBars(day(2020, time.January, 1), closes)

	records, err := MonthlyReturns("SPY", bars)
	require.NoError(t, err)
	require.Len(t, records, len(closes)-1)

	for i, r := range records {
		want := closes[i+1]/closes[i] - 1
		if math.Abs(r.MonthlyReturn.Float64-want) > 1e-9 {
			t.Errorf("record %d return = %v, want %v", i, r.MonthlyReturn.Float64, want)
		}
		assert.Equal(t, "SPY", r.AssetTicker)
	}
	assert.Equal(t, "2020-02-29", records[0].ReturnDate)
	assert.Equal(t, "2021-02-28", records[len(records)-1].ReturnDate)
}

func TestMonthlyReturns_UnsortedInput(t *testing.T) {
	bars := []models.PriceBar{
		{Date: day(2020, time.March, 31), Close: null.FloatFrom(121)},
		{Date: day(2020, time.January, 31), Close: null.FloatFrom(100)},
		{Date: day(2020, time.February, 28), Close: null.FloatFrom(110)},
	}
	records, err := MonthlyReturns("X", bars)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.InDelta(t, 0.10, records[0].MonthlyReturn.Float64, 1e-9)
	assert.InDelta(t, 0.10, records[1].MonthlyReturn.Float64, 1e-9)
}

func TestMonthlyReturns_GapMonthIsNull(t *testing.T) {
	bars := []models.PriceBar{
		{Date: day(2020, time.January, 31), Close: null.FloatFrom(100)},
		{Date: day(2020, time.March, 31), Close: null.FloatFrom(120)},
		{Date: day(2020, time.April, 30), Close: null.FloatFrom(132)},
	}
	records, err := MonthlyReturns("X", bars)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "2020-02-29", records[0].ReturnDate)
	assert.False(t, records[0].MonthlyReturn.Valid)
	assert.InDelta(t, 0.20, records[1].MonthlyReturn.Float64, 1e-9)
	assert.InDelta(t, 0.10, records[2].MonthlyReturn.Float64, 1e-9)
}

func TestMonthlyReturns_Errors(t *testing.T) {
	_, err := MonthlyReturns("X", nil)
	assert.True(t, errors.Is(err, ErrNoData))

	_, err = MonthlyReturns("X", []models.PriceBar{{Date: day(2020, time.January, 2), Volume: null.FloatFrom(5)}})
	assert.True(t, errors.Is(err, ErrMissingField))

	_, err = MonthlyReturns("X", []models.PriceBar{
		{Date: day(2020, time.January, 2), Close: null.FloatFrom(1)},
		{Date: day(2020, time.January, 30), Close: null.FloatFrom(2)},
	})
	assert.True(t, errors.Is(err, ErrEmptySeries))
}

func TestMonthEnds_MeanVolume(t *testing.T) {
	bars := monthlyBars(day(2021, time.June, 1), []float64{10, 11})
	months, err := MonthEnds(bars)
	require.NoError(t, err)
	require.Len(t, months, 2)
	assert.InDelta(t, 200, months[0].MeanVolume.Float64, 1e-9)
	assert.Equal(t, day(2021, time.June, 30), months[0].Date)
}

func TestBuild_EnrichedFromFeedMetadata(t *testing.T) {
	feed := &fakeFeed{
		bars: monthlyBars(day(2020, time.January, 1), []float64{100, 110, 121}),
		meta: &models.AssetMetadata{Ticker: "VTI", Name: "Vanguard Total", Category: "US Total Market", ExpenseRatio: 0.0003},
	}
	now := day(2024, time.May, 5)
	b := NewBuilder(feed, common.NewSilentLogger(), WithClock(func() time.Time { return now }))

	records, err := b.Build(context.Background(), " vti ")
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, DefaultStartDate, feed.from)
	assert.Equal(t, now, feed.to)
	assert.Equal(t, "VTI", records[0].AssetTicker)
	assert.Equal(t, 110.0, records[0].Price.Float64)
	assert.InDelta(t, 200, records[0].Volume.Float64, 1e-9)
	assert.Equal(t, "Vanguard Total", records[0].AssetName.String)
	assert.Equal(t, "US Total Market", records[1].AssetCategory.String)
	assert.InDelta(t, 0.0003, records[1].ExpenseRatio.Float64, 1e-12)
}

func TestBuild_MetadataFallsBackToCatalogThenUnknown(t *testing.T) {
	bars := monthlyBars(day(2020, time.January, 1), []float64{100, 110})

	feed := &fakeFeed{bars: bars, metaErr: errors.New("fundamentals unavailable")}
	b := NewBuilder(feed, common.NewSilentLogger())
	records, err := b.Build(context.Background(), "SPY")
	require.NoError(t, err)
	assert.Equal(t, "SPDR S&P 500 ETF", records[0].AssetName.String)
	assert.InDelta(t, 0.0945, records[0].ExpenseRatio.Float64, 1e-12)

	records, err = b.Build(context.Background(), "ZZZZ")
	require.NoError(t, err)
	assert.Equal(t, "ZZZZ", records[0].AssetName.String)
	assert.Equal(t, "Unknown", records[0].AssetCategory.String)
	assert.True(t, records[0].ExpenseRatio.Valid)
	assert.Equal(t, 0.0, records[0].ExpenseRatio.Float64)
}

func TestBuild_EnrichmentDisabled(t *testing.T) {
	feed := &fakeFeed{bars: monthlyBars(day(2020, time.January, 1), []float64{100, 110})}
	b := NewBuilder(feed, common.NewSilentLogger(), WithEnrichment(false), WithStartDate(day(2010, time.January, 1)))

	records, err := b.Build(context.Background(), "SPY")
	require.NoError(t, err)
	assert.Equal(t, day(2010, time.January, 1), feed.from)
	assert.False(t, records[0].Price.Valid)
	assert.False(t, records[0].AssetName.Valid)
}

func TestBuild_FeedErrorWrapped(t *testing.T) {
	feedErr := errors.New("boom")
	b := NewBuilder(&fakeFeed{err: feedErr}, common.NewSilentLogger())
	_, err := b.Build(context.Background(), "SPY")
	assert.True(t, errors.Is(err, feedErr))

	b = NewBuilder(&fakeFeed{}, common.NewSilentLogger())
	_, err = b.Build(context.Background(), "SPY")
	assert.True(t, errors.Is(err, ErrNoData))
}
