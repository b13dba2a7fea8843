// Package returns derives and validates monthly return series from daily price history
package returns

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"gonum.org/v1/gonum/stat"

	"github.com/bobmcallan/pfreturns/internal/common"
	"github.com/bobmcallan/pfreturns/internal/interfaces"
	"github.com/bobmcallan/pfreturns/internal/models"
)

var (
	// ErrNoData is returned when the feed has no observations for the window.
	ErrNoData = errors.New("no price data")
	// ErrMissingField is returned when no observation carries a close price.
	ErrMissingField = errors.New("missing close price")
	// ErrEmptySeries is returned when fewer than two month-ends are observed.
	ErrEmptySeries = errors.New("no monthly returns")
)

// DefaultStartDate is where history begins when no start date is configured.
var DefaultStartDate = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Builder implements interfaces.SeriesBuilder over a PriceFeed.
type Builder struct {
	feed    interfaces.PriceFeed
	catalog *Catalog
	logger  *common.Logger
	enrich  bool
	start   time.Time
	now     func() time.Time
}

// BuilderOption configures a Builder
type BuilderOption func(*Builder)

// WithEnrichment toggles the optional price, volume and metadata columns.
func WithEnrichment(enabled bool) BuilderOption {
	return func(b *Builder) {
		b.enrich = enabled
	}
}

// WithStartDate sets the first date requested from the feed.
func WithStartDate(start time.Time) BuilderOption {
	return func(b *Builder) {
		if !start.IsZero() {
			b.start = start
		}
	}
}

// WithCatalog sets the static metadata fallback.
func WithCatalog(c *Catalog) BuilderOption {
	return func(b *Builder) {
		b.catalog = c
	}
}

// WithClock overrides time.Now for the default end date.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) {
		b.now = now
	}
}

// NewBuilder creates a Builder. Enrichment is on by default.
func NewBuilder(feed interfaces.PriceFeed, logger *common.Logger, opts ...BuilderOption) *Builder {
	b := &Builder{
		feed:    feed,
		catalog: DefaultCatalog(),
		logger:  logger,
		enrich:  true,
		start:   DefaultStartDate,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build fetches history from the start date to today and derives the monthly series.
func (b *Builder) Build(ctx context.Context, ticker string) ([]models.ReturnRecord, error) {
	return b.BuildRange(ctx, ticker, b.start, b.now())
}

// BuildRange fetches history over [from, to] and derives the monthly series.
// It does not retry.
func (b *Builder) BuildRange(ctx context.Context, ticker string, from, to time.Time) ([]models.ReturnRecord, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))

	bars, err := b.feed.GetDailyHistory(ctx, ticker, from, to)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", ticker, err)
	}

	months, err := MonthEnds(bars)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ticker, err)
	}

	records, err := monthlyReturns(ticker, months)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ticker, err)
	}

	if b.enrich {
		meta := b.resolveMetadata(ctx, ticker)
		enrich(records, months[1:], meta)
	}

	b.logger.Info().
		Str("ticker", ticker).
		Int("months", len(records)).
		Str("start", records[0].ReturnDate).
		Str("end", records[len(records)-1].ReturnDate).
		Msg("Built monthly return series")

	return records, nil
}

// resolveMetadata tries the feed, then the catalog, then placeholder values.
func (b *Builder) resolveMetadata(ctx context.Context, ticker string) models.AssetMetadata {
	meta, err := b.feed.GetMetadata(ctx, ticker)
	if err == nil && meta != nil && meta.Name != "" {
		if meta.Category == "" || meta.ExpenseRatio == 0 {
			if known, ok := b.catalog.Metadata(ticker); ok {
				if meta.Category == "" {
					meta.Category = known.Category
				}
				if meta.ExpenseRatio == 0 {
					meta.ExpenseRatio = known.ExpenseRatio
				}
			}
		}
		if meta.Category == "" {
			meta.Category = "Unknown"
		}
		return *meta
	}
	if err != nil {
		b.logger.Debug().Err(err).Str("ticker", ticker).Msg("Feed metadata unavailable")
	}

	if known, ok := b.catalog.Metadata(ticker); ok {
		return known
	}
	return models.UnknownMetadata(ticker)
}

// MonthEnd is one calendar month reduced to its last observed close.
// Close is null when the month had no priced observation.
type MonthEnd struct {
	Date       time.Time
	Close      null.Float
	MeanVolume null.Float
}

// MonthEnds resamples daily bars to one entry per calendar month from the first
// priced month to the last month observed. Months without a priced bar are kept
// with a null close so gaps surface as missing returns.
func MonthEnds(bars []models.PriceBar) ([]MonthEnd, error) {
	if len(bars) == 0 {
		return nil, ErrNoData
	}

	sorted := make([]models.PriceBar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	type bucket struct {
		close   null.Float
		volumes []float64
	}
	buckets := make(map[int]*bucket)
	first, last := -1, -1
	for _, bar := range sorted {
		key := monthKey(bar.Date)
		bk, ok := buckets[key]
		if !ok {
			bk = &bucket{}
			buckets[key] = bk
		}
		if bar.Close.Valid {
			bk.close = bar.Close
			if first < 0 {
				first = key
			}
		}
		if bar.Volume.Valid {
			bk.volumes = append(bk.volumes, bar.Volume.Float64)
		}
		if key > last {
			last = key
		}
	}

	if first < 0 {
		return nil, ErrMissingField
	}

	months := make([]MonthEnd, 0, last-first+1)
	for key := first; key <= last; key++ {
		m := MonthEnd{Date: monthEndDate(key)}
		if bk, ok := buckets[key]; ok {
			m.Close = bk.close
			if len(bk.volumes) > 0 {
				m.MeanVolume = null.FloatFrom(stat.Mean(bk.volumes, nil))
			}
		}
		months = append(months, m)
	}
	return months, nil
}

// monthlyReturns computes close[m]/close[m-1]-1 against the last priced month.
// The first month has no predecessor and produces no record.
func monthlyReturns(ticker string, months []MonthEnd) ([]models.ReturnRecord, error) {
	if len(months) < 2 {
		return nil, ErrEmptySeries
	}

	records := make([]models.ReturnRecord, 0, len(months)-1)
	prev := months[0].Close
	for _, m := range months[1:] {
		rec := models.ReturnRecord{
			AssetTicker: ticker,
			ReturnDate:  m.Date.Format(models.DateLayout),
		}
		if m.Close.Valid && prev.Valid && prev.Float64 != 0 {
			rec.MonthlyReturn = null.FloatFrom(m.Close.Float64/prev.Float64 - 1)
		}
		if m.Close.Valid {
			prev = m.Close
		}
		records = append(records, rec)
	}
	return records, nil
}

// MonthlyReturns derives the 3-column return series for ticker from daily bars.
func MonthlyReturns(ticker string, bars []models.PriceBar) ([]models.ReturnRecord, error) {
	months, err := MonthEnds(bars)
	if err != nil {
		return nil, err
	}
	return monthlyReturns(ticker, months)
}

func enrich(records []models.ReturnRecord, months []MonthEnd, meta models.AssetMetadata) {
	for i := range records {
		records[i].Price = months[i].Close
		records[i].Volume = months[i].MeanVolume
		records[i].AssetName = null.StringFrom(meta.Name)
		records[i].AssetCategory = null.StringFrom(meta.Category)
		records[i].ExpenseRatio = null.FloatFrom(meta.ExpenseRatio)
	}
}

func monthKey(t time.Time) int {
	return t.Year()*12 + int(t.Month()) - 1
}

// monthEndDate returns the last calendar day of the month identified by key.
func monthEndDate(key int) time.Time {
	year, month := key/12, time.Month(key%12+1)
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC)
}
