package lifecycle

import "github.com/cuemby/stark/pkg/types"

// legalTransitions enumerates every arrow in the pod state diagram. Evicted
// is reachable from any non-terminal status and is handled separately in
// isLegalTransition rather than listed per-source here.
var legalTransitions = map[types.PodStatus][]types.PodStatus{
	// Pending may go straight to Stopped: a scale-down or cancellation can
	// target a pod that was never dispatched to an agent.
	types.PodPending:   {types.PodScheduled, types.PodFailed, types.PodStopped},
	types.PodScheduled: {types.PodStarting, types.PodFailed, types.PodStopping},
	types.PodStarting:  {types.PodRunning, types.PodFailed, types.PodStopping},
	types.PodRunning:   {types.PodStopping, types.PodFailed},
	types.PodStopping:  {types.PodStopped, types.PodFailed},
}

// terminal statuses accept no further transitions, including eviction.
func isTerminal(status types.PodStatus) bool {
	switch status {
	case types.PodStopped, types.PodFailed, types.PodEvicted:
		return true
	default:
		return false
	}
}

// isLegalTransition reports whether from -> to is an arrow in the state
// diagram, or an eviction of a non-terminal pod.
func isLegalTransition(from, to types.PodStatus) bool {
	if isTerminal(from) {
		return false
	}
	if to == types.PodEvicted {
		return true
	}
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
