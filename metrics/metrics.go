// Package metrics exposes per-peer prometheus counters for the sync session.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pairsync"

type Metrics struct {
	registry *prometheus.Registry

	sends         *prometheus.CounterVec // outcome label
	received      prometheus.Counter
	statusChanges *prometheus.CounterVec // status_key label
	counter       prometheus.Gauge
	pending       prometheus.Gauge
}

const (
	OutcomeDelivered   = "delivered"
	OutcomeUnreachable = "unreachable"
	OutcomeFailed      = "failed"
	OutcomeTimeout     = "timeout"
	OutcomeSuperseded  = "superseded"
)

func NewMetrics(host string) *Metrics {
	labels := prometheus.Labels{"host": host}

	mt := &Metrics{
		registry: prometheus.NewRegistry(),
		sends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "sends_total",
				Help:        "Counter updates pushed to the peer, by outcome.",
				ConstLabels: labels,
			},
			[]string{"outcome"},
		),
		received: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "received_total",
				Help:        "Counter updates received from the peer.",
				ConstLabels: labels,
			},
		),
		statusChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "status_changes_total",
				Help:        "Session status transitions, by new status key.",
				ConstLabels: labels,
			},
			[]string{"status_key"},
		),
		counter: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Name:        "counter",
				Help:        "Current local SyncValue.",
				ConstLabels: labels,
			},
		),
		pending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Name:        "pending_sends",
				Help:        "In-flight counter updates awaiting a reply, zero or one.",
				ConstLabels: labels,
			},
		),
	}

	mt.registry.MustRegister(
		mt.sends,
		mt.received,
		mt.statusChanges,
		mt.counter,
		mt.pending,
	)

	return mt
}

func (mt *Metrics) Registry() *prometheus.Registry {
	if mt == nil {
		return nil
	}
	return mt.registry
}

func (mt *Metrics) SendOutcome(outcome string) {
	if mt == nil {
		return
	}
	mt.sends.WithLabelValues(outcome).Inc()
}

func (mt *Metrics) Received() {
	if mt == nil {
		return
	}
	mt.received.Inc()
}

func (mt *Metrics) StatusChanged(statusKey string) {
	if mt == nil {
		return
	}
	mt.statusChanges.WithLabelValues(statusKey).Inc()
}

func (mt *Metrics) Counter(value int64) {
	if mt == nil {
		return
	}
	mt.counter.Set(float64(value))
}

func (mt *Metrics) Pending(inFlight bool) {
	if mt == nil {
		return
	}
	if inFlight {
		mt.pending.Set(1)
	} else {
		mt.pending.Set(0)
	}
}
