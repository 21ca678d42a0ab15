// Package metrics holds the Prometheus collectors exported on /metrics.
//
// Collectors are package-level so any component can record without
// plumbing. They work unregistered (tests); MustRegister exposes them on
// the default registry once at startup.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "medtwin"

// Outcome label values shared by several collectors.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeDropped   = "dropped"
	OutcomeSkipped   = "skipped"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
	OutcomeConflict  = "conflict"
)

var (
	IngestMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_messages_total",
			Help:      "Inbound device messages by topic suffix and outcome.",
		},
		[]string{"suffix", "outcome"},
	)

	SchedulerTicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_ticks_total",
			Help:      "Scheduler ticks started.",
		},
	)

	SchedulerTwinRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_twin_runs_total",
			Help:      "Per-twin evaluations by outcome.",
		},
		[]string{"outcome"},
	)

	SchedulerTickDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_tick_duration_seconds",
			Help:      "Duration of a full scheduler tick.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Operator notification deliveries by resolution path and outcome.",
		},
		[]string{"path", "outcome"},
	)

	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts raised by twin services.",
		},
		[]string{"type"},
	)

	RemindersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_total",
			Help:      "Device wake reminders by outcome.",
		},
		[]string{"outcome"},
	)

	PairingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairings_total",
			Help:      "Pairing handshakes by outcome.",
		},
		[]string{"outcome"},
	)

	IntegrityAlertsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integrity_alerts_total",
			Help:      "Replicas found linked to more than one twin.",
		},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

var registerOnce sync.Once

// MustRegister adds every collector to the default registry. Safe to
// call more than once.
func MustRegister() {
	registerOnce.Do(func() {
		prometheus.MustRegister(collectors()...)
	})
}

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		IngestMessagesTotal,
		SchedulerTicksTotal,
		SchedulerTwinRunsTotal,
		SchedulerTickDurationSeconds,
		NotificationsTotal,
		AlertsTotal,
		RemindersTotal,
		PairingsTotal,
		IntegrityAlertsTotal,
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
	}
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
