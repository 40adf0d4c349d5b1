// Package metrics exports cascade and mutation counters to Prometheus.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/felixgeelhaar/milepost/pkg/domain/events"
)

type Metrics struct {
	Mutations             *prometheus.CounterVec
	Cascades              *prometheus.CounterVec
	PrimaryRollupFailures *prometheus.CounterVec
	PrimaryRollupDuration prometheus.Histogram
	MilestoneProgress     *prometheus.GaugeVec
	BookingProgress       *prometheus.GaugeVec
	HTTPRequestDuration   *prometheus.HistogramVec
}

// New registers every collector with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Mutations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "milepost_mutations_total",
				Help: "Writes accepted by the mutation gateway",
			},
			[]string{"kind", "to_status"},
		),
		Cascades: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "milepost_cascades_total",
				Help: "Finished cascades by booking rollup strategy and outcome",
			},
			[]string{"strategy", "outcome"}, // outcome: completed, degraded
		),
		PrimaryRollupFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "milepost_primary_rollup_failures_total",
				Help: "Primary booking rollup failures that fell back",
			},
			[]string{"reason"},
		),
		PrimaryRollupDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "milepost_primary_rollup_duration_seconds",
				Help:    "Time spent in the primary booking rollup",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 13), // 1ms to ~4s
			},
		),
		MilestoneProgress: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "milepost_milestone_progress_percentage",
				Help: "Last aggregated milestone progress",
			},
			[]string{"booking_id", "milestone_id"},
		),
		BookingProgress: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "milepost_booking_progress_percentage",
				Help: "Last rolled-up booking progress",
			},
			[]string{"booking_id"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "milepost_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
			},
			[]string{"method", "route", "status"},
		),
	}
}

// Handle updates collectors from one domain event.
func (m *Metrics) Handle(_ context.Context, event events.DomainEvent) error {
	switch e := event.(type) {
	case *events.TaskMutated:
		m.Mutations.WithLabelValues("task", e.ToStatus.String()).Inc()
	case *events.MilestoneMutated:
		m.Mutations.WithLabelValues("milestone", e.ToStatus.String()).Inc()
	case *events.MilestoneDeleted:
		m.MilestoneProgress.DeleteLabelValues(e.BookingID, e.MilestoneID)
	case *events.MilestoneRecalculated:
		m.MilestoneProgress.WithLabelValues(e.BookingID, e.MilestoneID).Set(float64(e.Progress))
	case *events.BookingProgressUpdated:
		m.BookingProgress.WithLabelValues(e.BookingID).Set(float64(e.Progress))
	case *events.CascadeFinished:
		outcome := "completed"
		if e.Degraded {
			outcome = "degraded"
		}
		m.Cascades.WithLabelValues(e.Strategy, outcome).Inc()
		if e.PrimaryFailure != "" {
			m.PrimaryRollupFailures.WithLabelValues(e.PrimaryFailure).Inc()
		}
		if e.PrimaryDuration > 0 {
			m.PrimaryRollupDuration.Observe(e.PrimaryDuration.Seconds())
		}
	}
	return nil
}

// Register subscribes the collectors to every event on d.
func (m *Metrics) Register(d *events.EventDispatcher) {
	d.RegisterWildcard("metrics", m.Handle)
}

// RecordHTTPRequest observes one served request.
func (m *Metrics) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	m.HTTPRequestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}
