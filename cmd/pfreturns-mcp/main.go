package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/bobmcallan/pfreturns/internal/common"
)

// CodeTransportError is returned when the server cannot be reached.
const CodeTransportError = -32000

// StdioProxy forwards JSON-RPC messages from stdin to the tool protocol server
// and writes responses to stdout.
type StdioProxy struct {
	serverURL  string
	apiKey     string
	httpClient *http.Client
	logger     *common.Logger
}

func main() {
	serverURL := os.Getenv("PFRETURNS_SERVER_URL")
	if serverURL == "" {
		serverURL = "http://localhost:8000"
	}

	proxy := &StdioProxy{
		serverURL:  serverURL + "/",
		apiKey:     os.Getenv("PORTFOLIO_API_KEY"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		// stdout carries protocol messages
		logger: common.NewLoggerWithOutput(os.Getenv("PFRETURNS_LOG_LEVEL"), os.Stderr),
	}

	if err := proxy.RunWithIO(os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "proxy error: %v\n", err)
		os.Exit(1)
	}
}

// RunWithIO reads newline-delimited JSON-RPC from r, forwards each message
// to the HTTP server, and writes the response to w.
func (p *StdioProxy) RunWithIO(r io.Reader, w io.Writer) error {
	if p.httpClient == nil {
		p.httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if p.logger == nil {
		p.logger = common.NewSilentLogger()
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		// Notifications get no reply, and the stateless server has nothing to do with them.
		if isNotification(line) {
			p.logger.Debug().Msg("Notification dropped")
			continue
		}

		resp, err := p.forward(line)
		if err != nil {
			p.logger.Warn().Err(err).Msg("Forward failed")
			resp = jsonRPCError(extractID(line), CodeTransportError, err.Error())
		}
		if len(resp) == 0 {
			continue
		}

		w.Write(resp)
		w.Write([]byte("\n"))
	}

	return scanner.Err()
}

// forward sends a JSON-RPC message to the server and returns the response body.
// Error statuses carrying a JSON-RPC body (401, 429, 400) are relayed as-is.
func (p *StdioProxy) forward(body []byte) ([]byte, error) {
	req, err := http.NewRequest(http.MethodPost, p.serverURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("X-API-Key", p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	respBody = bytes.TrimSpace(respBody)

	if resp.StatusCode != http.StatusOK && !isRPCResponse(respBody) {
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// isRPCResponse reports whether body is a JSON-RPC response object.
func isRPCResponse(body []byte) bool {
	var envelope struct {
		JSONRPC string `json:"jsonrpc"`
	}
	return json.Unmarshal(body, &envelope) == nil && envelope.JSONRPC == mcp.JSONRPC_VERSION
}

// isNotification reports whether msg is a JSON-RPC object without an id member.
// Anything that does not decode as an object is forwarded so the server can reject it.
func isNotification(msg []byte) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(msg, &fields); err != nil || fields == nil {
		return false
	}
	_, hasID := fields["id"]
	_, hasMethod := fields["method"]
	return hasMethod && !hasID
}

// extractID pulls the "id" field from a JSON-RPC request for error responses.
func extractID(msg []byte) mcp.RequestId {
	var req struct {
		ID mcp.RequestId `json:"id"`
	}
	if err := json.Unmarshal(msg, &req); err != nil {
		return mcp.RequestId{}
	}
	return req.ID
}

// jsonRPCError creates a JSON-RPC error response.
func jsonRPCError(id mcp.RequestId, code int, message string) []byte {
	data, _ := json.Marshal(mcp.JSONRPCError{
		JSONRPC: mcp.JSONRPC_VERSION,
		ID:      id,
		Error:   mcp.JSONRPCErrorDetails{Code: code, Message: message},
	})
	return data
}
