package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// API
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Count of HTTP requests."},
		[]string{"handler", "method", "code"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms..~10s
		},
		[]string{"handler", "method"},
	)

	// Dispatch engine
	SendTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "engine_send_total", Help: "Channel send outcomes."},
		[]string{"outcome"}, // sent | failed
	)
	SendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "engine_send_duration_seconds",
			Help:    "Channel send latency.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms..~40s
		},
	)
	DeliveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "engine_delivered_total", Help: "Confirmed deliveries."},
	)
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "engine_runs_total", Help: "Finished campaign runs."},
		[]string{"result"}, // completed | canceled
	)
	RunsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "engine_runs_active", Help: "Campaign runs in flight."},
	)
)

var registerOnce sync.Once

// MustRegister installs default + our collectors. Idempotent and safe for
// concurrent callers, so tests and the server can both call it.
func MustRegister() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			prometheus.NewGoCollector(),
			prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
			HTTPRequests, HTTPDuration,
			SendTotal, SendDuration, DeliveredTotal, RunsTotal, RunsActive,
		)
	})
}

// RegisterSubscriberGauge exposes the current event subscriber count.
func RegisterSubscriberGauge(count func() int) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "event_subscribers", Help: "Connected event subscribers."},
		func() float64 { return float64(count()) },
	))
}
