package scheduler

import (
	"time"

	"github.com/cuemby/stark/pkg/types"
)

// PodController is the write path for pod state transitions (pkg/lifecycle).
// The scheduler only ever creates the initial pending row for a pod; every
// subsequent transition — scheduled, stopping, evicted — goes through this
// interface so the lifecycle controller remains the sole writer of
// Pod.status (§4.5).
type PodController interface {
	// Schedule assigns a pending pod to nodeID and advances it to scheduled.
	Schedule(pod *types.Pod, nodeID string) error
	// RequestStop asks the lifecycle controller to gracefully stop pod,
	// force-terminating after gracePeriod if it doesn't comply.
	RequestStop(pod *types.Pod, reason string, gracePeriod time.Duration) error
	// Evict immediately preempts pod to free resources for a higher-priority pod.
	Evict(pod *types.Pod, reason string) error
}
