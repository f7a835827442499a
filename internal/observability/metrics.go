package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgepipe",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"surface", "method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "edgepipe",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"surface", "method", "route", "status"},
	)
	pipeMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgepipe",
			Subsystem: "pipe",
			Name:      "messages_total",
			Help:      "Pipe payloads by direction and kind.",
		},
		[]string{"pipe", "direction", "kind"},
	)
	pipeRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgepipe",
			Subsystem: "pipe",
			Name:      "requests_total",
			Help:      "Settled pipe requests by outcome.",
		},
		[]string{"pipe", "outcome"},
	)
	pipeHandshakes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgepipe",
			Subsystem: "pipe",
			Name:      "handshakes_total",
			Help:      "Pipe handshake attempts by outcome.",
		},
		[]string{"pipe", "outcome"},
	)
	pipePending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "edgepipe",
			Subsystem: "pipe",
			Name:      "pending_requests",
			Help:      "Entries in the pending request table.",
		},
		[]string{"pipe"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, pipeMessages, pipeRequests, pipeHandshakes, pipePending)
	})
}

// RecordHTTPRequest counts one admin request against its matched route.
func RecordHTTPRequest(surface, method, route string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(surface, method, route, statusLabel).Inc()
	httpDuration.WithLabelValues(surface, method, route, statusLabel).Observe(duration.Seconds())
}

// RecordPipeMessage counts one payload; direction is sent|received and kind
// is control|response|command.
func RecordPipeMessage(pipe, direction, kind string) {
	RegisterMetrics()
	pipeMessages.WithLabelValues(pipe, direction, kind).Inc()
}

// RecordPipeRequest counts one settled request: responded, timeout,
// disposed, rejected or fire_and_forget.
func RecordPipeRequest(pipe, outcome string) {
	RegisterMetrics()
	pipeRequests.WithLabelValues(pipe, outcome).Inc()
}

// RecordPipeHandshake counts one handshake outcome: connected, timeout or failed.
func RecordPipeHandshake(pipe, outcome string) {
	RegisterMetrics()
	pipeHandshakes.WithLabelValues(pipe, outcome).Inc()
}

func SetPipePending(pipe string, n int) {
	RegisterMetrics()
	pipePending.WithLabelValues(pipe).Set(float64(n))
}
