package scheduler

import (
	"sort"

	"github.com/cuemby/stark/pkg/types"
)

const defaultMaxUnavailable = 1

// planRollout decides which old-version pods to retire this cycle, per
// §4.4 "Rollouts". A rollback is just a version change in the opposite
// direction — this function doesn't care which direction packVersion moved.
//
// Old pods are stopped in batches of maxUnavailable; a batch only advances
// once the previous batch's replacements (new-version pods) have reached
// running, so the replica set never has fewer than replicas-maxUnavailable
// pods in a non-terminal state.
func planRollout(rs replicaSet, pods []*types.Pod, maxUnavailable int) []*types.Pod {
	if maxUnavailable <= 0 {
		maxUnavailable = defaultMaxUnavailable
	}

	var oldActive, oldRetiring, newPods []*types.Pod
	for _, p := range pods {
		if p.PackVersion == rs.packVersion {
			newPods = append(newPods, p)
			continue
		}
		switch p.Status {
		case types.PodStopping, types.PodStopped:
			oldRetiring = append(oldRetiring, p)
		default:
			if p.Active() {
				oldActive = append(oldActive, p)
			}
		}
	}

	if len(oldActive) == 0 {
		return nil
	}

	newRunning := 0
	for _, p := range newPods {
		if p.Status == types.PodRunning {
			newRunning++
		}
	}

	inFlight := 0
	for _, p := range oldActive {
		if p.Status == types.PodStopping {
			inFlight++
		}
	}

	// Replacements for everything already retired must be running before
	// the next batch goes out.
	if newRunning < len(oldRetiring) {
		return nil
	}

	room := maxUnavailable - inFlight
	if room <= 0 {
		return nil
	}

	var retirable []*types.Pod
	for _, p := range oldActive {
		if p.Status != types.PodStopping {
			retirable = append(retirable, p)
		}
	}
	sort.Slice(retirable, func(i, j int) bool { return retirable[i].CreatedAt.Before(retirable[j].CreatedAt) })

	if room > len(retirable) {
		room = len(retirable)
	}
	return retirable[:room]
}
