package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "honeypots",
			Subsystem: "sessions",
			Name:      "accepted_total",
			Help:      "Total accepted honeypot connections.",
		},
		[]string{"protocol"},
	)
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "honeypots",
			Subsystem: "events",
			Name:      "emitted_total",
			Help:      "Audit events emitted by action.",
		},
		[]string{"protocol", "action"},
	)
	storedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "honeypots",
			Subsystem: "store",
			Name:      "artifact_bytes_total",
			Help:      "Payload bytes written as store artifacts.",
		},
	)
	replyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "honeypots",
			Subsystem: "replies",
			Name:      "synthesis_duration_seconds",
			Help:      "Time spent synthesizing one protocol reply.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"protocol", "operation"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(sessionsTotal, eventsTotal, storedBytes, replyDuration)
	})
}

func RecordSession(protocol string) {
	RegisterMetrics()
	sessionsTotal.WithLabelValues(protocol).Inc()
}

func RecordEvent(protocol, action string) {
	RegisterMetrics()
	eventsTotal.WithLabelValues(protocol, action).Inc()
}

func RecordStoredArtifact(size int) {
	RegisterMetrics()
	storedBytes.Add(float64(size))
}

func RecordReply(protocol, operation string, duration time.Duration) {
	RegisterMetrics()
	replyDuration.WithLabelValues(protocol, operation).Observe(duration.Seconds())
}
