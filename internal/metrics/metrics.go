// Package metrics holds the Prometheus collectors of a database handle.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder groups the collectors. A nil *Recorder is valid and records
// nothing.
type Recorder struct {
	// StatementsTotal counts executed statements by kind and status.
	StatementsTotal *prometheus.CounterVec
	// StatementDuration is the latency of executed statements.
	StatementDuration *prometheus.HistogramVec
	// EventsTotal counts change events emitted per collection.
	EventsTotal *prometheus.CounterVec
	// NotificationsTotal counts subscription callbacks fired or skipped.
	NotificationsTotal *prometheus.CounterVec
}

// New creates a Recorder and registers its collectors with reg. When reg
// is nil the collectors are created but not registered. Collectors that
// reg already holds are reused, so several handles can share a registry.
func New(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		StatementsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "neboa_statements_total",
				Help: "Total number of executed SQL statements",
			},
			[]string{"kind", "status"},
		),
		StatementDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "neboa_statement_duration_seconds",
				Help:    "SQL statement latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "neboa_events_total",
				Help: "Total number of change events emitted",
			},
			[]string{"collection", "event"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "neboa_notifications_total",
				Help: "Total number of subscription notifications by outcome",
			},
			[]string{"scope", "event", "outcome"},
		),
	}
	if reg == nil {
		return r, nil
	}

	var err error
	if r.StatementsTotal, err = register(reg, r.StatementsTotal); err != nil {
		return nil, err
	}
	if r.StatementDuration, err = register(reg, r.StatementDuration); err != nil {
		return nil, err
	}
	if r.EventsTotal, err = register(reg, r.EventsTotal); err != nil {
		return nil, err
	}
	if r.NotificationsTotal, err = register(reg, r.NotificationsTotal); err != nil {
		return nil, err
	}
	return r, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// ObserveStatement records one statement execution.
func (r *Recorder) ObserveStatement(kind string, d time.Duration, err error) {
	if r == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.StatementsTotal.WithLabelValues(kind, status).Inc()
	r.StatementDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// IncEvent records an emitted change event.
func (r *Recorder) IncEvent(collection, event string) {
	if r == nil {
		return
	}
	r.EventsTotal.WithLabelValues(collection, event).Inc()
}

// IncNotification records whether a subscription callback fired.
func (r *Recorder) IncNotification(scope, event string, fired bool) {
	if r == nil {
		return
	}
	outcome := "fired"
	if !fired {
		outcome = "skipped"
	}
	r.NotificationsTotal.WithLabelValues(scope, event, outcome).Inc()
}

// Handler returns the HTTP handler for /metrics over g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
