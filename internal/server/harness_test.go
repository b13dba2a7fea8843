package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/pfreturns/internal/app"
	"github.com/bobmcallan/pfreturns/internal/clients/calculator"
	"github.com/bobmcallan/pfreturns/internal/common"
	"github.com/bobmcallan/pfreturns/internal/interfaces"
	"github.com/bobmcallan/pfreturns/internal/metrics"
	"github.com/bobmcallan/pfreturns/internal/models"
	"github.com/bobmcallan/pfreturns/internal/ratelimit"
)

// newTestServer builds a server around calc with default config, adjusted by mutate.
func newTestServer(t *testing.T, calc interfaces.Calculator, mutate func(*common.Config)) *Server {
	t.Helper()
	cfg := common.NewDefaultConfig()
	cfg.Storage.Backend = "memory"
	if mutate != nil {
		mutate(cfg)
	}
	a := &app.App{
		Config:      cfg,
		Logger:      common.NewSilentLogger(),
		Calculator:  calc,
		Limiter:     ratelimit.NewSlidingWindow(cfg.RateLimit.Requests, cfg.RateLimit.GetWindow()),
		Metrics:     metrics.New(),
		StartupTime: time.Now(),
	}
	return NewServer(a)
}

// upstream starts a fake calculator serving handler and returns a client for it.
func upstream(t *testing.T, handler http.HandlerFunc, opts ...calculator.ClientOption) *calculator.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return calculator.NewClient(srv.URL, opts...)
}

// respondJSON returns a handler writing body with status.
func respondJSON(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}
}

type rpcReply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

func post(t *testing.T, s *Server, body string, headers ...string) (*httptest.ResponseRecorder, rpcReply) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var reply rpcReply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply), rec.Body.String())
	return rec, reply
}

// toolText decodes the text content of a tools/call result.
func toolText(t *testing.T, reply rpcReply) map[string]interface{} {
	t.Helper()
	require.Nil(t, reply.Error)
	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	require.NoError(t, json.Unmarshal(reply.Result, &result))
	require.Len(t, result.Content, 1)
	require.Equal(t, "text", result.Content[0].Type)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &payload))
	return payload
}

func toolCall(args string) string {
	return `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"` + models.ToolName + `","arguments":` + args + `}}`
}

const validArgs = `{"assets":["SPY","AGG"],"weights":[0.6,0.4],"startDate":"2020-01-01","endDate":"2023-12-31"}`

// panicCalculator fails every call with a panic.
type panicCalculator struct{}

func (panicCalculator) Calculate(context.Context, *models.CalculationRequest) (map[string]interface{}, error) {
	panic("calculator exploded")
}

func (panicCalculator) Endpoint() string { return "http://panic.invalid" }
