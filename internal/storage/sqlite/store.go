// Package sqlite implements the returns table on a local SQLite database.
// It mirrors the hosted table's keyed upsert semantics for offline runs and tests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/bobmcallan/pfreturns/internal/common"
	"github.com/bobmcallan/pfreturns/internal/models"
)

// Store implements interfaces.ReturnTable, ColumnLister and RequestSource.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *common.Logger
}

// NewStore opens (or creates) the database at path and runs migrations.
func NewStore(logger *common.Logger, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && path != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite dir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info().Str("path", path).Msg("SQLite returns table opened")
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS asset_returns (
			asset_ticker   TEXT NOT NULL,
			return_date    TEXT NOT NULL,
			monthly_return REAL,
			price          REAL,
			volume         REAL,
			asset_name     TEXT,
			asset_category TEXT,
			expense_ratio  REAL,
			PRIMARY KEY (asset_ticker, return_date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_returns_date ON asset_returns(return_date)`,
		`CREATE TABLE IF NOT EXISTS asset_requests (
			ticker     TEXT PRIMARY KEY,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func fieldPtr(r *models.ReturnRecord, col string) interface{} {
	switch col {
	case "asset_ticker":
		return &r.AssetTicker
	case "return_date":
		return &r.ReturnDate
	case "monthly_return":
		return &r.MonthlyReturn
	case "price":
		return &r.Price
	case "volume":
		return &r.Volume
	case "asset_name":
		return &r.AssetName
	case "asset_category":
		return &r.AssetCategory
	case "expense_ratio":
		return &r.ExpenseRatio
	}
	return nil
}

func knownColumn(col string) bool {
	for _, c := range models.Columns {
		if c == col {
			return true
		}
	}
	return false
}

// Select returns rows matching q.
func (s *Store) Select(ctx context.Context, q models.Query) ([]models.ReturnRecord, error) {
	cols := q.Columns
	if len(cols) == 0 {
		cols = models.Columns
	}
	for _, c := range cols {
		if !knownColumn(c) {
			return nil, fmt.Errorf("unknown column %q", c)
		}
	}

	query := fmt.Sprintf("SELECT %s FROM asset_returns", strings.Join(cols, ", "))
	var args []interface{}
	if q.Ticker != "" {
		query += " WHERE asset_ticker = ?"
		args = append(args, q.Ticker)
	}
	switch {
	case q.OrderBy != "" && knownColumn(q.OrderBy):
		query += " ORDER BY " + q.OrderBy
	case q.OrderBy == "":
		query += " ORDER BY asset_ticker, return_date"
	default:
		return nil, fmt.Errorf("unknown order column %q", q.OrderBy)
	}
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []models.ReturnRecord
	for rows.Next() {
		var rec models.ReturnRecord
		dest := make([]interface{}, len(cols))
		for i, c := range cols {
			dest[i] = fieldPtr(&rec, c)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Upsert inserts records, overwriting rows with the same (asset_ticker, return_date).
// The batch is written in one transaction.
func (s *Store) Upsert(ctx context.Context, records []models.ReturnRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO asset_returns
		(asset_ticker, return_date, monthly_return, price, volume, asset_name, asset_category, expense_ratio)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(asset_ticker, return_date) DO UPDATE SET
			monthly_return = excluded.monthly_return,
			price          = excluded.price,
			volume         = excluded.volume,
			asset_name     = excluded.asset_name,
			asset_category = excluded.asset_category,
			expense_ratio  = excluded.expense_ratio`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if r.AssetTicker == "" || r.ReturnDate == "" {
			return fmt.Errorf("record missing key: ticker=%q date=%q", r.AssetTicker, r.ReturnDate)
		}
		if _, err := stmt.ExecContext(ctx, r.AssetTicker, r.ReturnDate, r.MonthlyReturn, r.Price, r.Volume,
			r.AssetName, r.AssetCategory, r.ExpenseRatio); err != nil {
			return fmt.Errorf("upsert %s %s: %w", r.AssetTicker, r.ReturnDate, err)
		}
	}

	return tx.Commit()
}

// Delete removes rows for q.Ticker, or every row when the query is empty.
func (s *Store) Delete(ctx context.Context, q models.Query) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if q.Ticker != "" {
		_, err = s.db.ExecContext(ctx, "DELETE FROM asset_returns WHERE asset_ticker = ?", q.Ticker)
	} else {
		_, err = s.db.ExecContext(ctx, "DELETE FROM asset_returns")
	}
	if err != nil {
		return fmt.Errorf("delete rows: %w", err)
	}
	return nil
}

// Columns reports the declared columns of the returns table.
func (s *Store) Columns(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM pragma_table_info('asset_returns') ORDER BY cid")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// RequestTicker records a ticker in the requests table.
func (s *Store) RequestTicker(ctx context.Context, ticker string) error {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return fmt.Errorf("empty ticker")
	}
	_, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO asset_requests (ticker) VALUES (?)", ticker)
	return err
}

// RequestedTickers lists tickers from the requests table in insertion order.
func (s *Store) RequestedTickers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT ticker FROM asset_requests ORDER BY created_at, ticker")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tickers = append(tickers, t)
	}
	return tickers, rows.Err()
}
