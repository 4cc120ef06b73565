// Package metrics holds the prometheus collectors for lifecycle operations,
// configuration resolution and run submission. The CLI is short lived, so
// collected values are pushed to a Pushgateway instead of being scraped.
package metrics

import (
	"context"
	"errors"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "pipestack"

type Metrics struct {
	registry    *prometheus.Registry
	transitions *prometheus.CounterVec
	resolutions *prometheus.CounterVec
	submissions *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_transitions_total",
			Help:      "Orchestrator lifecycle operations by requested transition, observed state and outcome.",
		}, []string{"operation", "from_state", "outcome"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_resolutions_total",
			Help:      "Pipeline configuration resolutions by outcome.",
		}, []string{"outcome"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_submissions_total",
			Help:      "Pipeline run submissions by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}
	m.registry.MustRegister(m.transitions, m.resolutions, m.submissions)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveTransition(operation, fromState, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(operation, fromState, outcome).Inc()
}

func (m *Metrics) ObserveResolution(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.resolutions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveSubmission(kind, outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(kind, outcome).Inc()
}

// Push sends the collected series to a Pushgateway under the given job name.
func (m *Metrics) Push(ctx context.Context, gatewayURL, job string) error {
	if m == nil {
		return nil
	}
	gatewayURL = strings.TrimSpace(gatewayURL)
	if gatewayURL == "" {
		return errors.New("pushgateway url is required")
	}
	if strings.TrimSpace(job) == "" {
		job = namespace
	}
	return push.New(gatewayURL, job).Gatherer(m.registry).PushContext(ctx)
}
