// Package metrics exposes Prometheus counters for the tool protocol server
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the server's collectors on a private registry.
type Recorder struct {
	registry      *prometheus.Registry
	rpcRequests   *prometheus.CounterVec
	rpcErrors     *prometheus.CounterVec
	upstreamCalls *prometheus.CounterVec
	upstreamTime  prometheus.Histogram
	rejected      *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New creates a recorder with process and Go runtime collectors registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		rpcRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pfreturns_rpc_requests_total",
				Help: "JSON-RPC requests by method",
			},
			[]string{"method"},
		),
		rpcErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pfreturns_rpc_errors_total",
				Help: "JSON-RPC error responses by code",
			},
			[]string{"code"},
		),
		upstreamCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pfreturns_calculator_calls_total",
				Help: "Remote calculator calls by outcome",
			},
			[]string{"outcome"},
		),
		upstreamTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pfreturns_calculator_duration_seconds",
				Help:    "Remote calculator call duration in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pfreturns_rejected_requests_total",
				Help: "Requests rejected by authentication or rate limiting",
			},
			[]string{"reason"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pfreturns_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path", "method", "status"},
		),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.rpcRequests, r.rpcErrors, r.upstreamCalls, r.upstreamTime, r.rejected, r.httpDuration,
	)
	return r
}

// RecordRPC counts a dispatched JSON-RPC method.
func (r *Recorder) RecordRPC(method string) {
	r.rpcRequests.WithLabelValues(method).Inc()
}

// RecordRPCError counts a JSON-RPC error response.
func (r *Recorder) RecordRPCError(code int) {
	r.rpcErrors.WithLabelValues(strconv.Itoa(code)).Inc()
}

// RecordUpstream counts a calculator call and observes its duration.
func (r *Recorder) RecordUpstream(outcome string, d time.Duration) {
	r.upstreamCalls.WithLabelValues(outcome).Inc()
	r.upstreamTime.Observe(d.Seconds())
}

// RecordRejected counts a request refused before dispatch.
func (r *Recorder) RecordRejected(reason string) {
	r.rejected.WithLabelValues(reason).Inc()
}

// RecordHTTP observes an HTTP request.
func (r *Recorder) RecordHTTP(path, method string, status int, d time.Duration) {
	r.httpDuration.WithLabelValues(path, method, strconv.Itoa(status)).Observe(d.Seconds())
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
