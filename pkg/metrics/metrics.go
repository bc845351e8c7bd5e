package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stark_nodes_total",
			Help: "Total number of nodes by runtime type and status",
		},
		[]string{"runtime_type", "status"},
	)

	ServicesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stark_services_total",
			Help: "Total number of services",
		},
	)

	DeploymentsTotalGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stark_deployments_total",
			Help: "Total number of deployments",
		},
	)

	PodsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stark_pods_total",
			Help: "Total number of pods by status",
		},
		[]string{"status"},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stark_raft_is_leader",
			Help: "Whether this orchestrator replica is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stark_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stark_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stark_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stark_raft_apply_duration_seconds",
			Help:    "Time taken to apply a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Session Hub metrics
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stark_sessions_active",
			Help: "Number of currently connected agent sessions",
		},
	)

	SessionMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stark_session_messages_total",
			Help: "Total number of session-hub messages by type and direction",
		},
		[]string{"type", "direction"},
	)

	// Scheduler metrics
	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stark_scheduling_cycle_duration_seconds",
			Help:    "Time taken per scheduler reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	PodsScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stark_pods_scheduled_total",
			Help: "Total number of pods scheduled",
		},
	)

	PodsScheduleFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stark_pods_schedule_failed_total",
			Help: "Total number of pods that failed placement",
		},
	)

	PodsPreempted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stark_pods_preempted_total",
			Help: "Total number of pods evicted by the preemption path",
		},
	)

	// Pod lifecycle metrics
	PodTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stark_pod_transitions_total",
			Help: "Total number of pod state transitions by from/to status",
		},
		[]string{"from", "to"},
	)

	// Rollout metrics
	RolloutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stark_rollouts_total",
			Help: "Total number of rollouts by status",
		},
		[]string{"status"},
	)

	RolloutDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stark_rollout_duration_seconds",
			Help:    "Rollout duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	// Signaling Hub metrics
	SignalFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stark_signal_frames_total",
			Help: "Total number of signaling frames relayed by type",
		},
		[]string{"type"},
	)

	// Network Policy Engine metrics
	PolicyDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stark_policy_decisions_total",
			Help: "Total number of network policy decisions by verdict",
		},
		[]string{"verdict", "form"},
	)

	// Agent Network Stack metrics
	TargetCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stark_target_cache_hits_total",
			Help: "Total number of target cache hits",
		},
	)

	TargetCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stark_target_cache_misses_total",
			Help: "Total number of target cache misses",
		},
	)

	EnvelopesInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stark_envelopes_in_flight",
			Help: "Number of request envelopes awaiting a reply",
		},
	)

	EnvelopeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stark_envelope_duration_seconds",
			Help:    "Round-trip duration of request envelopes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// PodGroup + ephemeral plane metrics
	PodGroupsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stark_podgroups_total",
			Help: "Total number of live pod groups",
		},
	)

	PodGroupMembershipsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stark_podgroup_memberships_expired_total",
			Help: "Total number of pod group memberships reaped due to TTL expiry",
		},
	)

	EphemeralQueryFanout = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stark_ephemeral_query_fanout_size",
			Help:    "Number of targets per ephemeral query",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		},
	)

	EphemeralQueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stark_ephemeral_query_duration_seconds",
			Help:    "Time for an ephemeral query to complete or time out",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		NodesTotal, ServicesTotal, DeploymentsTotalGauge, PodsTotal,
		RaftLeader, RaftPeers, RaftLogIndex, RaftAppliedIndex, RaftApplyDuration,
		SessionsActive, SessionMessagesTotal,
		SchedulingLatency, PodsScheduled, PodsScheduleFailed, PodsPreempted,
		PodTransitionsTotal,
		RolloutsTotal, RolloutDuration,
		SignalFramesTotal,
		PolicyDecisionsTotal,
		TargetCacheHits, TargetCacheMisses, EnvelopesInFlight, EnvelopeDuration,
		PodGroupsTotal, PodGroupMembershipsExpired, EphemeralQueryFanout, EphemeralQueryDuration,
	)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
