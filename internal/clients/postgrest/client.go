// Package postgrest provides a client for PostgREST-style table APIs such as Supabase
package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bobmcallan/pfreturns/internal/common"
	"github.com/bobmcallan/pfreturns/internal/models"
)

const (
	DefaultTimeout  = 30 * time.Second
	DefaultPageSize = 1000
)

// Client implements interfaces.ReturnTable over a PostgREST endpoint
type Client struct {
	baseURL       string
	apiKey        string
	table         string
	requestsTable string
	pageSize      int
	httpClient    *http.Client
	logger        *common.Logger
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithTables overrides the returns and requests table names
func WithTables(returns, requests string) ClientOption {
	return func(c *Client) {
		if returns != "" {
			c.table = returns
		}
		if requests != "" {
			c.requestsTable = requests
		}
	}
}

// WithPageSize sets how many rows are fetched per select page
func WithPageSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a client for the project at baseURL.
// A bare project URL gets the /rest/v1 prefix appended.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	base := strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(base, "/rest/v1") {
		base += "/rest/v1"
	}

	c := &Client{
		baseURL:       base,
		apiKey:        apiKey,
		table:         models.ReturnsTable,
		requestsTable: models.RequestsTable,
		pageSize:      DefaultPageSize,
		httpClient:    &http.Client{Timeout: DefaultTimeout},
		logger:        common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError is a non-2xx response from the table API
type APIError struct {
	StatusCode int
	Message    string
	Table      string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("table API error: %s (status: %d, table: %s)", e.Message, e.StatusCode, e.Table)
}

// do sends one request and decodes a JSON response into result when non-nil.
// Transport failures are wrapped with models.ErrStoreUnavailable.
func (c *Client) do(ctx context.Context, method, table string, params url.Values, body interface{}, headers map[string]string, result interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	reqURL := fmt.Sprintf("%s/%s", c.baseURL, table)
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	c.logger.Debug().Str("method", method).Str("table", table).Msg("Table API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg)), Table: table}
		if resp.StatusCode == http.StatusBadGateway || resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusGatewayTimeout {
			return fmt.Errorf("%w: %w", models.ErrStoreUnavailable, apiErr)
		}
		return apiErr
	}

	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func queryParams(q models.Query) url.Values {
	params := url.Values{}
	if len(q.Columns) > 0 {
		params.Set("select", strings.Join(q.Columns, ","))
	} else {
		params.Set("select", "*")
	}
	if q.Ticker != "" {
		params.Set("asset_ticker", "eq."+q.Ticker)
	}
	if q.OrderBy != "" {
		params.Set("order", q.OrderBy+".asc")
	}
	return params
}

// Select returns rows matching q, paging through the table when no limit is set.
func (c *Client) Select(ctx context.Context, q models.Query) ([]models.ReturnRecord, error) {
	params := queryParams(q)

	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
		var rows []models.ReturnRecord
		if err := c.do(ctx, http.MethodGet, c.table, params, nil, nil, &rows); err != nil {
			return nil, err
		}
		return rows, nil
	}

	// Paging needs a stable order.
	if q.OrderBy == "" {
		params.Set("order", "asset_ticker.asc,return_date.asc")
	}

	var all []models.ReturnRecord
	for offset := 0; ; offset += c.pageSize {
		params.Set("limit", strconv.Itoa(c.pageSize))
		params.Set("offset", strconv.Itoa(offset))

		var page []models.ReturnRecord
		if err := c.do(ctx, http.MethodGet, c.table, params, nil, nil, &page); err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < c.pageSize {
			break
		}
	}
	return all, nil
}

// Upsert writes records, overwriting rows that share (asset_ticker, return_date).
func (c *Client) Upsert(ctx context.Context, records []models.ReturnRecord) error {
	if len(records) == 0 {
		return nil
	}

	params := url.Values{}
	params.Set("on_conflict", "asset_ticker,return_date")
	params.Set("columns", strings.Join(upsertColumns(records), ","))

	headers := map[string]string{"Prefer": "resolution=merge-duplicates,return=minimal"}
	return c.do(ctx, http.MethodPost, c.table, params, records, headers, nil)
}

// upsertColumns returns the required columns plus any optional column set on some record.
func upsertColumns(records []models.ReturnRecord) []string {
	for _, r := range records {
		if r.Price.Valid || r.Volume.Valid || r.AssetName.Valid || r.AssetCategory.Valid || r.ExpenseRatio.Valid {
			return models.Columns
		}
	}
	return models.RequiredColumns
}

// Delete removes rows matching q. An empty query removes every row.
func (c *Client) Delete(ctx context.Context, q models.Query) error {
	params := url.Values{}
	if q.Ticker != "" {
		params.Set("asset_ticker", "eq."+q.Ticker)
	} else {
		params.Set("asset_ticker", "neq.")
	}
	return c.do(ctx, http.MethodDelete, c.table, params, nil, map[string]string{"Prefer": "return=minimal"}, nil)
}

// Columns reports the column names of one sampled row.
// An empty table yields no columns.
func (c *Client) Columns(ctx context.Context) ([]string, error) {
	params := url.Values{}
	params.Set("select", "*")
	params.Set("limit", "1")

	var rows []map[string]json.RawMessage
	if err := c.do(ctx, http.MethodGet, c.table, params, nil, nil, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	cols := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols, nil
}

// RequestedTickers lists tickers from the requests table.
func (c *Client) RequestedTickers(ctx context.Context) ([]string, error) {
	params := url.Values{}
	params.Set("select", "ticker")

	var rows []struct {
		Ticker string `json:"ticker"`
	}
	if err := c.do(ctx, http.MethodGet, c.requestsTable, params, nil, nil, &rows); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(rows))
	tickers := make([]string, 0, len(rows))
	for _, r := range rows {
		t := strings.ToUpper(strings.TrimSpace(r.Ticker))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		tickers = append(tickers, t)
	}
	return tickers, nil
}
