package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics covers the engine's operational surface: detection latency,
// resolution outcomes, escalations, and waitlist activity.
type Metrics struct {
	registry *prometheus.Registry

	DetectionLatency  *prometheus.HistogramVec
	ConflictsDetected *prometheus.CounterVec
	Resolutions       *prometheus.CounterVec
	Escalations       prometheus.Counter
	WaitlistMatches   prometheus.Counter
	WaitlistOverdue   prometheus.Counter
	SweepDuration     prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		DetectionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "conflict_engine",
			Name:      "detection_latency_seconds",
			Help:      "Time spent detecting conflicts for one booking.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"trigger"}),
		ConflictsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conflict_engine",
			Name:      "conflicts_detected_total",
			Help:      "Conflicts detected by type and severity.",
		}, []string{"type", "severity"}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conflict_engine",
			Name:      "resolutions_total",
			Help:      "Resolved conflicts by resolution method.",
		}, []string{"method"}),
		Escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "conflict_engine",
			Name:      "escalations_total",
			Help:      "Conflicts routed to manual handling.",
		}),
		WaitlistMatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "conflict_engine",
			Name:      "waitlist_matches_total",
			Help:      "Waitlist entries matched to freed capacity.",
		}),
		WaitlistOverdue: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "conflict_engine",
			Name:      "waitlist_overdue_total",
			Help:      "Waitlist entries flagged past their max wait.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "conflict_engine",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of full-scan detection sweeps.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}),
	}

	reg.MustRegister(
		m.DetectionLatency,
		m.ConflictsDetected,
		m.Resolutions,
		m.Escalations,
		m.WaitlistMatches,
		m.WaitlistOverdue,
		m.SweepDuration,
	)
	return m
}

func (m *Metrics) ObserveDetection(trigger string, d time.Duration) {
	m.DetectionLatency.WithLabelValues(trigger).Observe(d.Seconds())
}

func (m *Metrics) CountConflict(conflictType string, severity int) {
	m.ConflictsDetected.WithLabelValues(conflictType, strconv.Itoa(severity)).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
