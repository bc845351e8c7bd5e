package scheduler

import (
	"hash/fnv"

	"github.com/cuemby/stark/pkg/types"
)

// nodeUsage tracks resources already claimed by active pods, keyed by node ID.
type nodeUsage map[string]types.ResourceList

func computeNodeUsage(pods []*types.Pod) nodeUsage {
	usage := make(nodeUsage)
	for _, pod := range pods {
		if pod.NodeID == "" || !pod.Active() {
			continue
		}
		u := usage[pod.NodeID]
		u.CPUMillis += pod.ResourceRequests.CPUMillis
		u.MemBytes += pod.ResourceRequests.MemBytes
		u.StorageBytes += pod.ResourceRequests.StorageBytes
		usage[pod.NodeID] = u
	}
	return usage
}

func fitsResources(requested types.ResourceList, allocatable *types.NodeResources, used types.ResourceList) bool {
	if allocatable == nil {
		return true
	}
	return used.CPUMillis+requested.CPUMillis <= allocatable.CPUMillis &&
		used.MemBytes+requested.MemBytes <= allocatable.MemBytes &&
		used.StorageBytes+requested.StorageBytes <= allocatable.StorageBytes
}

func tolerates(tolerations []types.Toleration, taints []types.Taint) bool {
	for _, taint := range taints {
		matched := false
		for _, tol := range tolerations {
			if tol.Key == taint.Key && tol.Value == taint.Value && tol.Effect == taint.Effect {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func matchesLabels(labels, selector map[string]string) bool {
	for k, v := range selector {
		if labels[k] != v {
			return false
		}
	}
	return true
}

func matchesRequiredNodeAffinity(node *types.Node, affinity *types.Affinity) bool {
	if affinity == nil || affinity.NodeAffinity == nil {
		return true
	}
	terms := affinity.NodeAffinity.RequiredDuringSchedulingIgnoredDuringExecution
	if len(terms) == 0 {
		return true
	}
	for _, term := range terms {
		if matchesLabels(node.Labels, term.MatchLabels) {
			return true
		}
	}
	return false
}

func hasCapabilities(granted, required []string) bool {
	set := make(map[string]struct{}, len(granted))
	for _, c := range granted {
		set[c] = struct{}{}
	}
	for _, c := range required {
		if _, ok := set[c]; !ok {
			return false
		}
	}
	return true
}

// filterNodes returns the nodes eligible to host pod, per §4.4 step 3a.
// skipResourceCheck is set by DaemonSet-mode reconciliation, which places
// one pod per matching node regardless of current load.
func filterNodes(pod *types.Pod, pack *types.Pack, scheduling types.Scheduling, nodes []*types.Node, usage nodeUsage, skipResourceCheck bool) []*types.Node {
	var required []string
	if pack != nil {
		required = pack.GrantedCapabilities
	}

	eligible := make([]*types.Node, 0, len(nodes))
	for _, node := range nodes {
		if node.Status != types.NodeReady {
			continue
		}
		if pack != nil && !pack.RuntimeTag.Matches(node.RuntimeType) {
			continue
		}
		if !hasCapabilities(node.Capabilities, required) {
			continue
		}
		if !tolerates(scheduling.Tolerations, node.Taints) {
			continue
		}
		if !matchesLabels(node.Labels, scheduling.NodeSelector) {
			continue
		}
		if !matchesRequiredNodeAffinity(node, scheduling.Affinity) {
			continue
		}
		if !skipResourceCheck && !fitsResources(pod.ResourceRequests, node.Allocatable, usage[node.ID]) {
			continue
		}
		eligible = append(eligible, node)
	}
	return eligible
}

// scoreNodes weighs each eligible node per §4.4 step 3b: preferred node
// affinity, least-loaded fraction, and inter-pod affinity/anti-affinity.
func scoreNodes(pod *types.Pod, scheduling types.Scheduling, nodes []*types.Node, usage nodeUsage, allPods []*types.Pod) map[string]float64 {
	scores := make(map[string]float64, len(nodes))
	podsByNode := make(map[string][]*types.Pod)
	for _, p := range allPods {
		if p.NodeID != "" && p.Active() {
			podsByNode[p.NodeID] = append(podsByNode[p.NodeID], p)
		}
	}

	var preferred []types.WeightedNodeSelectorTerm
	if scheduling.Affinity != nil && scheduling.Affinity.NodeAffinity != nil {
		preferred = scheduling.Affinity.NodeAffinity.PreferredDuringSchedulingIgnoredDuringExecution
	}

	for _, node := range nodes {
		var score float64

		for _, term := range preferred {
			if matchesLabels(node.Labels, term.Term.MatchLabels) {
				score += float64(term.Weight)
			}
		}

		if node.Allocatable != nil && node.Allocatable.CPUMillis > 0 {
			used := usage[node.ID]
			fraction := float64(used.CPUMillis) / float64(node.Allocatable.CPUMillis)
			if fraction > 1 {
				fraction = 1
			}
			score += (1 - fraction) * 100
		}

		for _, co := range podsByNode[node.ID] {
			for _, term := range affinityTerms(scheduling.Affinity, false) {
				if matchesLabels(co.Labels, term.LabelSelector) {
					score += float64(term.Weight)
				}
			}
			for _, term := range affinityTerms(scheduling.Affinity, true) {
				if matchesLabels(co.Labels, term.LabelSelector) {
					score -= float64(term.Weight)
				}
			}
		}

		scores[node.ID] = score
	}
	return scores
}

// podAffinityTerms/podAntiAffinityTerms tolerate a nil Affinity so callers
// don't need a nil check at every use site.
func affinityTerms(a *types.Affinity, anti bool) []types.PodAffinityTerm {
	if a == nil {
		return nil
	}
	if anti {
		return a.PodAntiAffinity
	}
	return a.PodAffinity
}

// selectNode picks the highest-scoring node, breaking ties with a
// deterministic hash of the node ID so repeated cycles over an unchanged
// candidate set place pods the same way (§4.4 step 3c).
func selectNode(nodes []*types.Node, scores map[string]float64) *types.Node {
	var best *types.Node
	var bestScore float64
	var bestHash uint32

	for _, node := range nodes {
		score := scores[node.ID]
		h := hashString(node.ID)
		if best == nil || score > bestScore || (score == bestScore && h < bestHash) {
			best = node
			bestScore = score
			bestHash = h
		}
	}
	return best
}

func hashString(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
