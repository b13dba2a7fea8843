// Package eodhd provides a client for the EODHD API
package eodhd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"golang.org/x/time/rate"

	"github.com/bobmcallan/pfreturns/internal/common"
	"github.com/bobmcallan/pfreturns/internal/models"
)

// flexFloat64 handles JSON values that may be either a number or a string.
type flexFloat64 float64

func (f *flexFloat64) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*f = flexFloat64(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" || s == "N/A" {
			*f = 0
			return nil
		}
		num, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = flexFloat64(num)
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into float64", string(data))
}

const (
	DefaultBaseURL   = "https://eodhd.com/api"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 10 // requests per second
	DefaultExchange  = "US"
)

// Client implements interfaces.PriceFeed against EODHD
type Client struct {
	baseURL    string
	apiKey     string
	exchange   string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithExchange sets the exchange suffix appended to bare tickers
func WithExchange(exchange string) ClientOption {
	return func(c *Client) {
		if exchange != "" {
			c.exchange = strings.ToUpper(exchange)
		}
	}
}

// NewClient creates a new EODHD client
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  DefaultBaseURL,
		apiKey:   apiKey,
		exchange: DefaultExchange,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError represents an API error
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("EODHD API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// symbol qualifies a bare ticker with the configured exchange (SPY -> SPY.US).
func (c *Client) symbol(ticker string) string {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if strings.Contains(ticker, ".") {
		return ticker
	}
	return ticker + "." + c.exchange
}

// get performs a rate-limited GET request
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("api_token", c.apiKey)
	params.Set("fmt", "json")

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	c.logger.Debug().Str("url", c.baseURL+path).Msg("EODHD API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			Endpoint:   path,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// eodBarResponse represents the API response for EOD data.
// Pointers distinguish a missing value from zero.
type eodBarResponse struct {
	Date          string       `json:"date"`
	Close         *flexFloat64 `json:"close"`
	AdjustedClose *flexFloat64 `json:"adjusted_close"`
	Volume        *flexFloat64 `json:"volume"`
}

type dividendResponse struct {
	Date  string      `json:"date"`
	Value flexFloat64 `json:"value"`
}

// GetDailyHistory returns daily bars for [from, to] in ascending order.
// Close carries the split and dividend adjusted close when EODHD supplies one,
// so month-over-month changes are total returns.
func (c *Client) GetDailyHistory(ctx context.Context, ticker string, from, to time.Time) ([]models.PriceBar, error) {
	sym := c.symbol(ticker)

	params := url.Values{}
	params.Set("period", "d")
	params.Set("order", "a")
	if !from.IsZero() {
		params.Set("from", from.Format(models.DateLayout))
	}
	if !to.IsZero() {
		params.Set("to", to.Format(models.DateLayout))
	}

	var raw []eodBarResponse
	if err := c.get(ctx, "/eod/"+sym, params, &raw); err != nil {
		return nil, err
	}

	bars := make([]models.PriceBar, 0, len(raw))
	for _, r := range raw {
		date, err := time.Parse(models.DateLayout, r.Date)
		if err != nil {
			c.logger.Debug().Str("ticker", sym).Str("date", r.Date).Msg("Skipping bar with unparseable date")
			continue
		}
		bar := models.PriceBar{Date: date}
		switch {
		case r.AdjustedClose != nil && *r.AdjustedClose > 0:
			bar.Close = null.FloatFrom(float64(*r.AdjustedClose))
		case r.Close != nil:
			bar.Close = null.FloatFrom(float64(*r.Close))
		}
		if r.Volume != nil {
			bar.Volume = null.FloatFrom(float64(*r.Volume))
		}
		bars = append(bars, bar)
	}

	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	if len(bars) == 0 {
		return bars, nil
	}

	// Dividends are informational; the adjusted close already accounts for them.
	var divs []dividendResponse
	divParams := url.Values{}
	divParams.Set("from", bars[0].Date.Format(models.DateLayout))
	if err := c.get(ctx, "/div/"+sym, divParams, &divs); err != nil {
		c.logger.Debug().Err(err).Str("ticker", sym).Msg("Dividend history unavailable")
		return bars, nil
	}
	index := make(map[string]int, len(bars))
	for i, b := range bars {
		index[b.Date.Format(models.DateLayout)] = i
	}
	for _, d := range divs {
		if i, ok := index[d.Date]; ok {
			bars[i].Dividend += float64(d.Value)
		}
	}

	return bars, nil
}

// fundamentalsResponse carries the subset of /fundamentals used for metadata
type fundamentalsResponse struct {
	General struct {
		Code     string `json:"Code"`
		Name     string `json:"Name"`
		Type     string `json:"Type"`
		Category string `json:"Category"`
		Sector   string `json:"Sector"`
	} `json:"General"`
	ETFData struct {
		NetExpenseRatio flexFloat64 `json:"NetExpenseRatio"`
		OngoingCharge   flexFloat64 `json:"Ongoing_Charge"`
	} `json:"ETF_Data"`
}

// GetMetadata returns name, category and expense ratio from fundamentals.
func (c *Client) GetMetadata(ctx context.Context, ticker string) (*models.AssetMetadata, error) {
	var resp fundamentalsResponse
	if err := c.get(ctx, "/fundamentals/"+c.symbol(ticker), url.Values{"filter": {"General,ETF_Data"}}, &resp); err != nil {
		return nil, err
	}

	if resp.General.Name == "" {
		return nil, fmt.Errorf("no fundamentals for %s", ticker)
	}

	category := resp.General.Category
	if category == "" {
		category = resp.General.Sector
	}
	if category == "" {
		category = resp.General.Type
	}

	expense := float64(resp.ETFData.NetExpenseRatio)
	if expense == 0 {
		expense = float64(resp.ETFData.OngoingCharge)
	}

	return &models.AssetMetadata{
		Ticker:       strings.ToUpper(ticker),
		Name:         resp.General.Name,
		Category:     category,
		ExpenseRatio: expense,
	}, nil
}
