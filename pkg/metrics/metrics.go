// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// LLMStreamDuration tracks LLM streaming response duration.
	LLMStreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_stream_duration_seconds",
			Help:    "LLM streaming response duration",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"model", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// SSEConnectionsActive tracks active SSE connections served by the backend.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// ThreadsTotal tracks threads created on the backend.
	ThreadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threads_total",
			Help: "Total threads created",
		},
		[]string{"tenant_id"},
	)

	// MessagesTotal tracks messages stored on the backend.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages sent",
		},
		[]string{"tenant_id", "role"},
	)

	// ExchangesTotal counts client exchanges by terminal status.
	ExchangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_exchanges_total",
			Help: "Chat exchanges by terminal status",
		},
		[]string{"status"},
	)

	// ExchangeDuration tracks send-to-terminal latency of client exchanges.
	ExchangeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_exchange_duration_seconds",
			Help:    "Chat exchange duration from send to terminal status",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"status"},
	)

	// ExchangesActive tracks exchanges currently awaiting or streaming.
	ExchangesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_exchanges_active",
			Help: "Chat exchanges currently awaiting or streaming",
		},
	)

	// StreamRecordsTotal counts decoded stream records by kind.
	StreamRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_stream_records_total",
			Help: "Decoded stream records by kind",
		},
		[]string{"kind"},
	)

	// DecodeErrorsTotal counts dropped malformed stream frames.
	DecodeErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_decode_errors_total",
			Help: "Stream frames dropped because they could not be decoded",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLMStream records metrics for an LLM streaming response.
func RecordLLMStream(model, status string, duration float64, tokensIn, tokensOut int) {
	LLMStreamDuration.WithLabelValues(model, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}

// RecordExchange records the terminal status and duration of an exchange.
func RecordExchange(status string, duration float64) {
	ExchangesTotal.WithLabelValues(status).Inc()
	ExchangeDuration.WithLabelValues(status).Observe(duration)
}

// RecordStreamRecord counts a decoded record of the given kind.
func RecordStreamRecord(kind string) {
	StreamRecordsTotal.WithLabelValues(kind).Inc()
}
