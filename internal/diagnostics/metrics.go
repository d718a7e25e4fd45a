/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package diagnostics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aspnet/AspLabs-sub007/internal/protocol"
)

const metricsNamespace = "diagnostics"

// Outcomes of an EnableEvents request.
const (
	enableOutcomeApplied = "applied"
	enableOutcomePending = "pending"
	enableOutcomeFailed  = "failed"
)

// Metrics holds the Prometheus collectors of a diagnostic server.
// All methods are no-ops on a nil *Metrics.
type Metrics struct {
	sessionsActive  prometheus.Gauge
	sessionsTotal   prometheus.Counter
	sessionDuration prometheus.Histogram
	messagesSent    *prometheus.CounterVec // By message kind
	enableRequests  *prometheus.CounterVec // By outcome (applied/pending/failed)
	protocolErrors  prometheus.Counter
	acceptErrors    prometheus.Counter
}

// NewMetrics creates the collectors and registers them with the passed registerer.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_active",
			Help:      "Number of monitor connections currently being served.",
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_total",
			Help:      "Total number of monitor connections accepted.",
		}),
		sessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of monitor connections in seconds.",
			Buckets:   []float64{0.1, 1, 10, 60, 600, 3600},
		}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_sent_total",
			Help:      "Total number of messages sent to monitors.",
		}, []string{"kind"}),
		enableRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "enable_requests_total",
			Help:      "Total number of EnableEvents requests received from monitors.",
		}, []string{"outcome"}),
		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "protocol_errors_total",
			Help:      "Total number of connections closed because of malformed frames.",
		}),
		acceptErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "accept_errors_total",
			Help:      "Total number of failures to accept a connection.",
		}),
	}

	collectors := []prometheus.Collector{
		m.sessionsActive, m.sessionsTotal, m.sessionDuration,
		m.messagesSent, m.enableRequests, m.protocolErrors, m.acceptErrors,
	}
	var errs []error
	for _, c := range collectors {
		if registerErr := reg.Register(c); registerErr != nil {
			errs = append(errs, registerErr)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return m, nil
}

func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
	m.sessionsTotal.Inc()
}

func (m *Metrics) sessionEnded(duration time.Duration) {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
	m.sessionDuration.Observe(duration.Seconds())
}

func (m *Metrics) messageSent(kind protocol.Kind) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) enableRequest(outcome string) {
	if m == nil {
		return
	}
	m.enableRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) protocolError() {
	if m == nil {
		return
	}
	m.protocolErrors.Inc()
}

func (m *Metrics) acceptError() {
	if m == nil {
		return
	}
	m.acceptErrors.Inc()
}
