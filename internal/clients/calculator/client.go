// Package calculator provides a client for the remote portfolio return calculator
package calculator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/bobmcallan/pfreturns/internal/common"
	"github.com/bobmcallan/pfreturns/internal/models"
)

const DefaultTimeout = 30 * time.Second

// maxResponseBytes bounds the relayed payload.
const maxResponseBytes = 10 << 20

// Kind classifies why a calculation call produced no usable payload.
type Kind int

const (
	KindConnection Kind = iota
	KindTimeout
	KindInvalidResponse
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindInvalidResponse:
		return "invalid_response"
	default:
		return "connection"
	}
}

// UpstreamError is a transport-level failure talking to the calculator.
// Application errors ({"success": false}) are returned as payloads, not errors.
type UpstreamError struct {
	Kind     Kind
	Endpoint string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("calculator %s error: %v (endpoint: %s)", e.Kind, e.Err, e.Endpoint)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Client implements interfaces.Calculator
type Client struct {
	endpoint   string
	userAgent  string
	httpClient *http.Client
	logger     *common.Logger
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithUserAgent sets the User-Agent header sent upstream
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient creates a calculator client for endpoint
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:   endpoint,
		userAgent:  "Portfolio-MCP-Server/" + common.GetVersion(),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     common.NewSilentLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the configured remote URL
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Calculate posts req and decodes the JSON object in the response body.
// The body is parsed regardless of HTTP status; the calculator reports
// application errors in-band.
func (c *Client) Calculate(ctx context.Context, req *models.CalculationRequest) (map[string]interface{}, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &UpstreamError{Kind: KindConnection, Endpoint: c.endpoint, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		kind := KindConnection
		if isTimeout(err) {
			kind = KindTimeout
		}
		return nil, &UpstreamError{Kind: kind, Endpoint: c.endpoint, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		kind := KindConnection
		if isTimeout(err) {
			kind = KindTimeout
		}
		return nil, &UpstreamError{Kind: kind, Endpoint: c.endpoint, Err: err}
	}

	c.logger.Debug().
		Int("status", resp.StatusCode).
		Int("bytes", len(data)).
		Dur("duration", time.Since(start)).
		Msg("Calculator response")

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var result map[string]interface{}
	if err := dec.Decode(&result); err != nil || result == nil {
		if err == nil {
			err = errors.New("response is not a JSON object")
		}
		return nil, &UpstreamError{Kind: KindInvalidResponse, Endpoint: c.endpoint, Err: err}
	}

	return result, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
