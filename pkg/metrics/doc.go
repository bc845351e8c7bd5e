/*
Package metrics provides Prometheus metrics collection and exposition for Stark.

Metrics are registered at package init via prometheus.MustRegister and exposed through
Handler() for scraping. Categories: cluster (nodes/services/deployments/pods), Raft
consensus, Session Hub traffic, scheduler cycles and placement outcomes, pod lifecycle
transitions, rollouts, signaling frames, network policy decisions, agent network stack
(target cache, envelopes), and the PodGroup/ephemeral plane.

Timer is the shared helper for observing operation duration:

	timer := metrics.NewTimer()
	// ... do work ...
	timer.ObserveDuration(metrics.SchedulingLatency)

HealthChecker (health.go) tracks named component readiness independent of the Prometheus
registry and backs the /health, /ready, and /live HTTP handlers.
*/
package metrics
