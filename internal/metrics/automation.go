// SPDX-License-Identifier: MIT

// Package metrics exposes prometheus instrumentation for the portal daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	automationsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_automations_submitted_total",
		Help: "Automation requests accepted for background execution, by kind",
	}, []string{"kind"})

	automationsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_automations_completed_total",
		Help: "Automations reaching a terminal state, by kind and outcome",
	}, []string{"kind", "outcome"}) // outcome=success|failed

	dispatchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_automation_dispatch_failures_total",
		Help: "Console dispatches that never reached the remote system, by kind",
	}, []string{"kind"})

	verificationAttempts = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portal_automation_verification_attempts",
		Help:    "Verification poll attempts used before a terminal state, by kind",
		Buckets: []float64{1, 2, 3, 4, 5, 6},
	}, []string{"kind"})

	automationsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portal_automations_in_flight",
		Help: "Background automation tasks currently running",
	})
)

func IncSubmitted(kind string) { automationsSubmitted.WithLabelValues(kind).Inc() }

func IncCompleted(kind, outcome string) {
	automationsCompleted.WithLabelValues(kind, outcome).Inc()
}

func IncDispatchFailure(kind string) { dispatchFailures.WithLabelValues(kind).Inc() }

func ObserveVerificationAttempts(kind string, attempts int) {
	verificationAttempts.WithLabelValues(kind).Observe(float64(attempts))
}

func AutomationStarted()  { automationsInFlight.Inc() }
func AutomationFinished() { automationsInFlight.Dec() }
