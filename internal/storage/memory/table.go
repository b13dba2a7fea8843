// Package memory implements an in-process returns table for dry runs and tests
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/bobmcallan/pfreturns/internal/models"
)

// Table implements interfaces.ReturnTable, ColumnLister and RequestSource in memory.
type Table struct {
	mu        sync.RWMutex
	rows      map[string]models.ReturnRecord
	requested []string

	// Fail, when set, is consulted before each call; a non-nil result is returned as the error.
	Fail func(op string, records []models.ReturnRecord) error
	// Calls counts invocations per operation.
	Calls map[string]int
}

// NewTable creates an empty table
func NewTable() *Table {
	return &Table{
		rows:  make(map[string]models.ReturnRecord),
		Calls: make(map[string]int),
	}
}

func (t *Table) hook(op string, records []models.ReturnRecord) error {
	t.Calls[op]++
	if t.Fail != nil {
		return t.Fail(op, records)
	}
	return nil
}

// Select returns rows matching q in (ticker, date) order.
func (t *Table) Select(_ context.Context, q models.Query) ([]models.ReturnRecord, error) {
	t.mu.Lock()
	err := t.hook("select", nil)
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]models.ReturnRecord, 0, len(t.rows))
	for _, r := range t.rows {
		if q.Ticker != "" && r.AssetTicker != q.Ticker {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AssetTicker != out[j].AssetTicker {
			return out[i].AssetTicker < out[j].AssetTicker
		}
		return out[i].ReturnDate < out[j].ReturnDate
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Upsert overwrites rows by (asset_ticker, return_date).
func (t *Table) Upsert(_ context.Context, records []models.ReturnRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.hook("upsert", records); err != nil {
		return err
	}
	for _, r := range records {
		t.rows[r.Key()] = r
	}
	return nil
}

// Delete removes rows of q.Ticker, or all rows for an empty query.
func (t *Table) Delete(_ context.Context, q models.Query) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.hook("delete", nil); err != nil {
		return err
	}
	if q.Ticker == "" {
		t.rows = make(map[string]models.ReturnRecord)
		return nil
	}
	for k, r := range t.rows {
		if r.AssetTicker == q.Ticker {
			delete(t.rows, k)
		}
	}
	return nil
}

// Columns returns the full column list.
func (t *Table) Columns(_ context.Context) ([]string, error) {
	return models.Columns, nil
}

// Len returns the number of stored rows.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Request adds tickers to the requested set.
func (t *Table) Request(tickers ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requested = append(t.requested, tickers...)
}

// RequestedTickers returns the requested set.
func (t *Table) RequestedTickers(_ context.Context) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.requested...), nil
}
