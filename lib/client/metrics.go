// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bureau-foundation/defang/lib/service"
)

// Metrics counts worker lifecycles and calls. A nil *Metrics records
// nothing.
type Metrics struct {
	connects     *prometheus.CounterVec
	connectTime  prometheus.Histogram
	calls        *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	disposals    prometheus.Counter
}

// NewMetrics creates the client metrics and registers them with
// registerer.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		connects: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: "defang", Subsystem: "client", Name: "connects_total",
				Help: "Worker connection attempts by result."},
			[]string{"result"},
		),
		connectTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{Namespace: "defang", Subsystem: "client", Name: "connect_seconds",
				Help:    "Time from worker start until its channel answered.",
				Buckets: []float64{0.5, 1, 1.25, 1.5, 2, 3, 5}},
		),
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: "defang", Subsystem: "client", Name: "calls_total",
				Help: "Worker calls by action and result."},
			[]string{"action", "result"},
		),
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Namespace: "defang", Subsystem: "client", Name: "call_seconds",
				Help:    "Worker call latency by action.",
				Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10)},
			[]string{"action"},
		),
		disposals: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: "defang", Subsystem: "client", Name: "disposals_total",
				Help: "Workers disposed."},
		),
	}
	for _, collector := range []prometheus.Collector{m.connects, m.connectTime, m.calls, m.callDuration, m.disposals} {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) connected(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.connects.WithLabelValues("ok").Inc()
	m.connectTime.Observe(elapsed.Seconds())
}

func (m *Metrics) connectFailed() {
	if m == nil {
		return
	}
	m.connects.WithLabelValues("failed").Inc()
}

func (m *Metrics) disposed() {
	if m == nil {
		return
	}
	m.disposals.Inc()
}

func (m *Metrics) observeCall(action string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(action, callResult(err)).Inc()
	m.callDuration.WithLabelValues(action).Observe(elapsed.Seconds())
}

func callResult(err error) string {
	if err == nil {
		return "ok"
	}
	var usage *service.UsageError
	var malformed *service.MalformedTargetError
	var unreachable *service.UnreachableError
	switch {
	case errors.As(err, &usage):
		return service.KindUsage
	case errors.As(err, &malformed):
		return service.KindMalformedTarget
	case errors.As(err, &unreachable):
		return "unreachable"
	default:
		return "error"
	}
}
