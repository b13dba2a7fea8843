package server

import (
	"net/http"
	"time"

	"github.com/bobmcallan/pfreturns/internal/common"
	"github.com/bobmcallan/pfreturns/internal/models"
	"github.com/bobmcallan/pfreturns/internal/ratelimit"
)

// registerRoutes sets up the RPC endpoint and the REST routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/{$}", s.handleRPC)
	mux.HandleFunc("/tools", s.handleTools)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleHealth)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.Handle("/metrics/prometheus", s.app.Metrics.Handler())
	mux.HandleFunc("/api/shutdown", s.handleShutdown)
}

// handleTools lists the tool schema outside JSON-RPC.
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	tool, err := listedTool(CalculateTool(), common.GetVersion())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"tools": []interface{}{tool}})
}

// handleHealth serves GET /health and /status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	cfg := s.app.Config
	info := common.Info()
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"server":    ServerName,
		"version":   info.Version,
		"build":     info.Build,
		"commit":    info.Commit,
		"protocol":  "MCP JSON-RPC 2.0",
		"tool":      models.ToolName,
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.app.StartupTime).Round(time.Second).String(),
		"rate_limit": map[string]interface{}{
			"requests_per_window": cfg.RateLimit.Requests,
			"window_seconds":      cfg.RateLimit.WindowSeconds,
			"backend":             cfg.RateLimit.Backend,
		},
		"auth_enabled": cfg.Auth.APIKey != "",
		"api_endpoint": s.app.Calculator.Endpoint(),
	})
}

// metricsResponse reports the rate limit window contents.
type metricsResponse struct {
	ratelimit.Stats
	Timestamp string `json:"timestamp"`
}

// handleMetrics serves GET /metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	resp := metricsResponse{Timestamp: time.Now().Format(time.RFC3339)}
	if reporter, ok := s.app.Limiter.(ratelimit.Reporter); ok {
		stats, err := reporter.Stats(r.Context())
		if err != nil {
			s.logger.Warn().Err(err).Msg("Rate limit stats unavailable")
		}
		resp.Stats = stats
	}
	WriteJSON(w, http.StatusOK, resp)
}

// handleShutdown handles POST /api/shutdown (dev mode only).
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if s.app.Config.IsProduction() {
		WriteError(w, http.StatusForbidden, "Shutdown endpoint disabled in production")
		return
	}

	s.logger.Info().Msg("Shutdown requested via HTTP endpoint")

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Shutting down gracefully...\n"))

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	if s.shutdownChan != nil {
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.shutdownChan <- struct{}{}
		}()
	}
}
