package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	streamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simrig",
			Subsystem: "stream",
			Name:      "requests_total",
			Help:      "Total dispatched stream requests.",
		},
		[]string{"protocol", "outcome"},
	)
	streamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "simrig",
			Subsystem: "stream",
			Name:      "request_duration_seconds",
			Help:      "Stream request dispatch duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"protocol"},
	)
	streamConnections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simrig",
			Subsystem: "stream",
			Name:      "connections_total",
			Help:      "Accepted stream connections.",
		},
		[]string{"protocol"},
	)
	schedulerTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "simrig",
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Scheduler ticks executed.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(streamRequests, streamDuration, streamConnections, schedulerTicks)
	})
}

func RecordRequest(protocol, outcome string, duration time.Duration) {
	RegisterMetrics()
	streamRequests.WithLabelValues(protocol, outcome).Inc()
	streamDuration.WithLabelValues(protocol).Observe(duration.Seconds())
}

func RecordConnection(protocol string) {
	RegisterMetrics()
	streamConnections.WithLabelValues(protocol).Inc()
}

func RecordTick() {
	RegisterMetrics()
	schedulerTicks.Inc()
}
