package server

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/bobmcallan/pfreturns/internal/common"
)

// JSON-RPC error codes. The standard ones come from mcp-go.
const (
	CodeParseError     = mcp.PARSE_ERROR
	CodeInvalidRequest = mcp.INVALID_REQUEST
	CodeMethodNotFound = mcp.METHOD_NOT_FOUND
	CodeInvalidParams  = mcp.INVALID_PARAMS
	CodeInternalError  = mcp.INTERNAL_ERROR
	CodeInvalidAPIKey  = -32001
	CodeRateLimited    = -32002
)

// ProtocolVersion is the protocol revision returned by initialize.
// It is one of mcp.ValidProtocolVersions.
const ProtocolVersion = "2024-11-05"

// ServerName identifies the server in initialize and health responses.
const ServerName = "portfolio-calculator-mcp"

const maxRequestBytes = 1 << 20

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// rpcRequest is a parsed JSON-RPC envelope.
type rpcRequest struct {
	ID     json.RawMessage
	Method string
	Params json.RawMessage
}

// rpcResponse carries either Result or Error. A nil ID encodes as null.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// rpcFailure is an error response with the HTTP status it is sent with.
type rpcFailure struct {
	status int
	err    *RPCError
}

func fail(status, code int, message string) *rpcFailure {
	return &rpcFailure{status: status, err: &RPCError{Code: code, Message: message}}
}

// interceptor runs before the envelope is validated. A non-nil failure ends the request.
type interceptor func(r *http.Request) *rpcFailure

// peekID extracts the id of a body when it is a JSON object.
func peekID(body []byte) json.RawMessage {
	var envelope struct {
		ID json.RawMessage `json:"id"`
	}
	if json.Unmarshal(body, &envelope) != nil {
		return nil
	}
	return envelope.ID
}

// parseEnvelope validates the JSON-RPC envelope.
func parseEnvelope(body []byte) (*rpcRequest, *rpcFailure) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fail(http.StatusBadRequest, CodeParseError, "Parse error: No data provided")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return nil, fail(http.StatusBadRequest, CodeParseError, "Parse error: Invalid JSON")
	}

	var version string
	if raw, ok := fields["jsonrpc"]; !ok || json.Unmarshal(raw, &version) != nil || version != mcp.JSONRPC_VERSION {
		return nil, fail(http.StatusBadRequest, CodeInvalidRequest, "Invalid Request: Missing or invalid jsonrpc version")
	}

	req := &rpcRequest{ID: fields["id"], Params: fields["params"]}
	raw, ok := fields["method"]
	if !ok {
		return nil, fail(http.StatusBadRequest, CodeInvalidRequest, "Invalid Request: Missing method")
	}
	if err := json.Unmarshal(raw, &req.Method); err != nil {
		return nil, fail(http.StatusBadRequest, CodeInvalidRequest, "Invalid Request: method must be a string")
	}
	return req, nil
}

// clientIP returns the remote address host used as the rate limit key.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// authInterceptor compares X-API-Key with the configured secret in constant time.
// An empty secret disables the check.
func (s *Server) authInterceptor(r *http.Request) *rpcFailure {
	secret := s.app.Config.Auth.APIKey
	if secret == "" {
		return nil
	}
	key := r.Header.Get("X-API-Key")
	if subtle.ConstantTimeCompare([]byte(key), []byte(secret)) == 1 {
		return nil
	}
	s.logger.Warn().Str("client", clientIP(r)).Msg("Invalid API key")
	s.app.Metrics.RecordRejected("auth")
	return fail(http.StatusUnauthorized, CodeInvalidAPIKey, "Invalid API key")
}

// rateLimitInterceptor applies the per-client sliding window.
func (s *Server) rateLimitInterceptor(r *http.Request) *rpcFailure {
	client := clientIP(r)
	if s.app.Limiter.Allow(r.Context(), client) {
		return nil
	}
	s.logger.Warn().Str("client", client).Msg("Rate limit exceeded")
	s.app.Metrics.RecordRejected("rate_limit")
	cfg := s.app.Config.RateLimit
	return fail(http.StatusTooManyRequests, CodeRateLimited,
		fmt.Sprintf("Rate limit exceeded. Maximum %d requests per %s.", cfg.Requests, windowLabel(cfg.WindowSeconds)))
}

func windowLabel(seconds int) string {
	switch seconds {
	case 3600:
		return "hour"
	case 60:
		return "minute"
	case 86400:
		return "day"
	}
	return fmt.Sprintf("%d seconds", seconds)
}

// handleRPC is the JSON-RPC endpoint.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	start := time.Now()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		s.writeRPC(w, http.StatusBadRequest, nil, nil, &RPCError{Code: CodeParseError, Message: "Parse error: " + err.Error()})
		return
	}
	id := peekID(body)

	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error().
				Str("panic", fmt.Sprintf("%v", rec)).
				Dur("duration", time.Since(start)).
				Msg("Unexpected error in RPC handler")
			s.writeRPC(w, http.StatusOK, id, nil, &RPCError{Code: CodeInternalError, Message: fmt.Sprintf("Internal server error: %v", rec)})
		}
	}()

	for _, check := range s.interceptors {
		if f := check(r); f != nil {
			s.writeRPC(w, f.status, id, nil, f.err)
			return
		}
	}

	req, f := parseEnvelope(body)
	if f != nil {
		s.writeRPC(w, f.status, id, nil, f.err)
		return
	}

	result, rpcErr := s.dispatch(r, req)
	s.writeRPC(w, http.StatusOK, req.ID, result, rpcErr)

	event := s.logger.Info().
		Str("method", req.Method).
		Str("client", clientIP(r)).
		Dur("duration", time.Since(start))
	if rpcErr != nil {
		event = event.Int("error_code", rpcErr.Code)
	}
	event.Msg("MCP request")
}

// dispatch routes a validated request to its method handler.
func (s *Server) dispatch(r *http.Request, req *rpcRequest) (interface{}, *RPCError) {
	s.app.Metrics.RecordRPC(req.Method)
	switch req.Method {
	case string(mcp.MethodInitialize):
		return s.initializeResult(), nil
	case string(mcp.MethodToolsList):
		return mcp.ListToolsResult{Tools: []mcp.Tool{CalculateTool()}}, nil
	case string(mcp.MethodToolsCall):
		result, rpcErr := s.handleToolCall(r.Context(), req.Params)
		if rpcErr != nil {
			return nil, rpcErr
		}
		return result, nil
	default:
		return nil, &RPCError{Code: CodeMethodNotFound, Message: "Method not found: " + req.Method}
	}
}

func (s *Server) initializeResult() mcp.InitializeResult {
	return mcp.InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: mcp.ServerCapabilities{
			Tools:   &struct{ ListChanged bool `json:"listChanged,omitempty"` }{ListChanged: true},
			Logging: &struct{}{},
		},
		ServerInfo: serverInfo(),
	}
}

func serverInfo() mcp.Implementation {
	return mcp.Implementation{
		Name:        ServerName,
		Version:     common.GetVersion(),
		Description: "MCP server for portfolio return calculations with authentication and rate limiting",
	}
}

func (s *Server) writeRPC(w http.ResponseWriter, status int, id json.RawMessage, result interface{}, rpcErr *RPCError) {
	if rpcErr != nil {
		s.app.Metrics.RecordRPCError(rpcErr.Code)
		result = nil
	}
	WriteJSON(w, status, rpcResponse{JSONRPC: mcp.JSONRPC_VERSION, ID: id, Result: result, Error: rpcErr})
}

