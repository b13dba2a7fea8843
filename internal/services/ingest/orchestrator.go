// Package ingest drives tickers through build, validate and upload
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/bobmcallan/pfreturns/internal/common"
	"github.com/bobmcallan/pfreturns/internal/interfaces"
	"github.com/bobmcallan/pfreturns/internal/models"
	"github.com/bobmcallan/pfreturns/internal/services/returns"
	"github.com/bobmcallan/pfreturns/internal/services/store"
)

const (
	// MinPacing is the smallest allowed gap between upstream fetches.
	MinPacing          = 500 * time.Millisecond
	DefaultMaxAttempts = 3
	DefaultBackoffBase = 2 * time.Second
)

// Orchestrator runs single-ticker and batch ingestion serially.
type Orchestrator struct {
	builder     interfaces.SeriesBuilder
	validator   interfaces.SeriesValidator
	store       interfaces.ReturnStore
	logger      *common.Logger
	limiter     *rate.Limiter
	maxAttempts int
	backoffBase time.Duration
	now         func() time.Time
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithPacing sets the gap between upstream fetches, never below MinPacing.
func WithPacing(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d < MinPacing {
			d = MinPacing
		}
		o.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithRetry sets the attempt budget and first backoff delay for fetches.
func WithRetry(maxAttempts int, base time.Duration) Option {
	return func(o *Orchestrator) {
		if maxAttempts > 0 {
			o.maxAttempts = maxAttempts
		}
		if base > 0 {
			o.backoffBase = base
		}
	}
}

// NewOrchestrator creates an Orchestrator
func NewOrchestrator(builder interfaces.SeriesBuilder, validator interfaces.SeriesValidator, st interfaces.ReturnStore, logger *common.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		builder:     builder,
		validator:   validator,
		store:       st,
		logger:      logger,
		limiter:     rate.NewLimiter(rate.Every(MinPacing), 1),
		maxAttempts: DefaultMaxAttempts,
		backoffBase: DefaultBackoffBase,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// AddTicker ingests one ticker unless it is already stored.
func (o *Orchestrator) AddTicker(ctx context.Context, ticker string) models.IngestionOutcome {
	outcome, _ := o.process(ctx, normalize(ticker))
	o.logOutcome(outcome)
	return outcome
}

// Reconcile ingests requested tickers that are not yet stored, one at a time.
// A failing ticker never stops the run. An unavailable store does: the
// remaining tickers are reported as errors and the returned error is non-nil.
func (o *Orchestrator) Reconcile(ctx context.Context, requested []string) (*models.RunSummary, error) {
	summary := &models.RunSummary{StartedAt: o.now()}

	wanted := dedupe(requested)
	summary.Requested = len(wanted)

	existing := make(map[string]bool)
	if tickers, err := o.store.Tickers(ctx); err != nil {
		o.logger.Warn().Err(err).Msg("Could not list stored tickers, treating all requested tickers as absent")
	} else {
		for _, t := range tickers {
			existing[t] = true
		}
	}

	var work []string
	for _, t := range wanted {
		if existing[t] {
			summary.Existing++
			continue
		}
		work = append(work, t)
	}

	o.logger.Info().
		Int("requested", summary.Requested).
		Int("existing", summary.Existing).
		Int("to_process", len(work)).
		Msg("Starting ingestion run")

	var fatal error
	for i, ticker := range work {
		if fatal != nil {
			summary.Record(models.IngestionOutcome{Ticker: ticker, Status: models.StatusError, Detail: "not attempted: " + fatal.Error()})
			continue
		}

		o.logger.Info().Str("ticker", ticker).Int("index", i+1).Int("total", len(work)).Msg("Processing ticker")
		outcome, err := o.process(ctx, ticker)
		o.logOutcome(outcome)
		summary.Record(outcome)
		if err != nil {
			fatal = err
		}
	}

	summary.FinishedAt = o.now()
	o.logger.Info().
		Int("succeeded", len(summary.Succeeded)).
		Int("failed", len(summary.Failed)).
		Dur("duration", summary.FinishedAt.Sub(summary.StartedAt)).
		Msg("Ingestion run complete")

	return summary, fatal
}

// process runs exists -> fetch -> validate -> upload for one ticker.
// The returned error is set only when the run must stop.
func (o *Orchestrator) process(ctx context.Context, ticker string) (models.IngestionOutcome, error) {
	outcome := models.IngestionOutcome{Ticker: ticker}
	if ticker == "" {
		outcome.Status = models.StatusError
		outcome.Detail = "empty ticker"
		return outcome, nil
	}

	if o.store.Exists(ctx, ticker) {
		outcome.Status = models.StatusExists
		outcome.Detail = "already present"
		return outcome, nil
	}

	records, err := o.fetch(ctx, ticker)
	if err != nil {
		if ctx.Err() != nil {
			outcome.Status = models.StatusError
			outcome.Detail = ctx.Err().Error()
			return outcome, ctx.Err()
		}
		outcome.Status = models.StatusFetchFailed
		outcome.Detail = err.Error()
		return outcome, nil
	}

	verdict := o.validator.Validate(ticker, records)
	if !verdict.Accepted {
		outcome.Status = models.StatusValidationFailed
		outcome.Detail = strings.Join(verdict.Reasons, "; ")
		return outcome, nil
	}

	written, err := o.store.Upsert(ctx, records)
	outcome.Rows = written
	if err != nil {
		if errors.Is(err, models.ErrStoreUnavailable) || ctx.Err() != nil {
			outcome.Status = models.StatusError
			outcome.Detail = err.Error()
			return outcome, err
		}
		outcome.Status = models.StatusUploadFailed
		var batchErr *store.BatchError
		if errors.As(err, &batchErr) {
			outcome.Detail = batchErr.Error()
		} else {
			outcome.Detail = err.Error()
		}
		return outcome, nil
	}

	outcome.Status = models.StatusAdded
	outcome.Detail = fmt.Sprintf("%d months (%s to %s)", len(records), records[0].ReturnDate, records[len(records)-1].ReturnDate)
	return outcome, nil
}

// fetch builds the series with paced, exponentially backed-off attempts.
// A missing close column is deterministic and is not retried.
func (o *Orchestrator) fetch(ctx context.Context, ticker string) ([]models.ReturnRecord, error) {
	var records []models.ReturnRecord
	attempt := 0

	operation := func() error {
		attempt++
		if err := o.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		r, err := o.builder.Build(ctx, ticker)
		if err != nil {
			if errors.Is(err, returns.ErrMissingField) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		records = r
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.backoffBase
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = o.backoffBase << uint(o.maxAttempts)
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(o.maxAttempts-1)), ctx)
	notify := func(err error, wait time.Duration) {
		o.logger.Warn().Err(err).Str("ticker", ticker).Int("attempt", attempt).Dur("retry_in", wait).Msg("Fetch failed, retrying")
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, fmt.Errorf("after %d attempt(s): %w", attempt, err)
	}
	return records, nil
}

func (o *Orchestrator) logOutcome(out models.IngestionOutcome) {
	ev := o.logger.Info()
	if !out.Status.Succeeded() {
		ev = o.logger.Warn()
	}
	ev.Str("ticker", out.Ticker).
		Str("status", string(out.Status)).
		Str("detail", out.Detail).
		Int("rows", out.Rows).
		Msg("Asset request processed")
}

func normalize(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

func dedupe(tickers []string) []string {
	seen := make(map[string]bool, len(tickers))
	out := make([]string, 0, len(tickers))
	for _, t := range tickers {
		t = normalize(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
