package scheduler

import (
	"sort"

	"github.com/cuemby/stark/pkg/types"
)

// preemptionPlan names the node to place pending on and the victims to
// evict there first, per §4.4 step 4.
type preemptionPlan struct {
	node    *types.Node
	victims []*types.Pod
}

// planPreemption looks for a node where evicting lower-priority pods would
// free enough room for pending. It tries every Ready, otherwise-compatible
// node (ignoring the resource-fit filter, since that's exactly what
// eviction is meant to relax) and picks the plan needing the fewest
// victims, then the lowest total victim priority.
func planPreemption(pending *types.Pod, pack *types.Pack, scheduling types.Scheduling, nodes []*types.Node, allPods []*types.Pod, usage nodeUsage) *preemptionPlan {
	if pending.Priority <= 0 {
		return nil
	}

	candidates := filterNodes(pending, pack, scheduling, nodes, usage, true)
	if len(candidates) == 0 {
		return nil
	}

	podsByNode := make(map[string][]*types.Pod)
	for _, p := range allPods {
		if p.NodeID != "" && p.Active() {
			podsByNode[p.NodeID] = append(podsByNode[p.NodeID], p)
		}
	}

	var best *preemptionPlan
	for _, node := range candidates {
		victims := selectVictims(pending, node, podsByNode[node.ID], usage[node.ID])
		if victims == nil {
			continue
		}
		if best == nil || betterPlan(node, victims, best) {
			best = &preemptionPlan{node: node, victims: victims}
		}
	}
	return best
}

// selectVictims finds the minimal set of priority-eligible pods on node
// whose eviction frees enough resources for pending, or nil if even
// evicting every eligible pod wouldn't be enough.
func selectVictims(pending *types.Pod, node *types.Node, residents []*types.Pod, used types.ResourceList) []*types.Pod {
	var eligible []*types.Pod
	for _, p := range residents {
		if p.Priority < pending.Priority {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	// Evict lowest priority first, fewest victims needed.
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].Priority < eligible[j].Priority })

	freed := types.ResourceList{}
	var victims []*types.Pod
	for _, p := range eligible {
		freed.CPUMillis += p.ResourceRequests.CPUMillis
		freed.MemBytes += p.ResourceRequests.MemBytes
		freed.StorageBytes += p.ResourceRequests.StorageBytes
		victims = append(victims, p)

		remaining := types.ResourceList{
			CPUMillis:    used.CPUMillis - freed.CPUMillis,
			MemBytes:     used.MemBytes - freed.MemBytes,
			StorageBytes: used.StorageBytes - freed.StorageBytes,
		}
		if fitsResources(pending.ResourceRequests, node.Allocatable, remaining) {
			return victims
		}
	}
	return nil
}

func betterPlan(node *types.Node, victims []*types.Pod, current *preemptionPlan) bool {
	if len(victims) != len(current.victims) {
		return len(victims) < len(current.victims)
	}
	return totalPriority(victims) < totalPriority(current.victims)
}

func totalPriority(pods []*types.Pod) int {
	total := 0
	for _, p := range pods {
		total += p.Priority
	}
	return total
}
