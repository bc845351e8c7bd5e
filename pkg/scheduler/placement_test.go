package scheduler

import (
	"testing"

	"github.com/cuemby/stark/pkg/types"
)

func readyNode(id string, cpu, mem int64) *types.Node {
	return &types.Node{
		ID:          id,
		RuntimeType: types.RuntimeServer,
		Status:      types.NodeReady,
		Allocatable: &types.NodeResources{CPUMillis: cpu, MemBytes: mem},
	}
}

func TestFilterNodesExcludesNotReady(t *testing.T) {
	pod := &types.Pod{ResourceRequests: types.ResourceList{CPUMillis: 100}}
	nodes := []*types.Node{
		readyNode("n1", 1000, 1000),
		{ID: "n2", RuntimeType: types.RuntimeServer, Status: types.NodeNotReady, Allocatable: &types.NodeResources{CPUMillis: 1000, MemBytes: 1000}},
	}

	got := filterNodes(pod, nil, types.Scheduling{}, nodes, nodeUsage{}, false)
	if len(got) != 1 || got[0].ID != "n1" {
		t.Fatalf("filterNodes() = %v, want only n1", got)
	}
}

func TestFilterNodesRuntimeTagMismatch(t *testing.T) {
	pod := &types.Pod{}
	pack := &types.Pack{RuntimeTag: types.RuntimeTagBrowser}
	nodes := []*types.Node{readyNode("n1", 1000, 1000)}

	got := filterNodes(pod, pack, types.Scheduling{}, nodes, nodeUsage{}, false)
	if len(got) != 0 {
		t.Fatalf("filterNodes() = %v, want none (server node vs browser-only pack)", got)
	}
}

func TestFilterNodesResourceFit(t *testing.T) {
	pod := &types.Pod{ResourceRequests: types.ResourceList{CPUMillis: 600}}
	nodes := []*types.Node{readyNode("n1", 1000, 1000)}
	usage := nodeUsage{"n1": types.ResourceList{CPUMillis: 500}}

	got := filterNodes(pod, nil, types.Scheduling{}, nodes, usage, false)
	if len(got) != 0 {
		t.Fatalf("filterNodes() = %v, want none (500 used + 600 requested > 1000 allocatable)", got)
	}
}

func TestFilterNodesTaintWithoutToleration(t *testing.T) {
	pod := &types.Pod{}
	nodes := []*types.Node{
		{ID: "n1", RuntimeType: types.RuntimeServer, Status: types.NodeReady,
			Taints: []types.Taint{{Key: "dedicated", Value: "gpu", Effect: types.TaintNoSchedule}}},
	}

	got := filterNodes(pod, nil, types.Scheduling{}, nodes, nodeUsage{}, false)
	if len(got) != 0 {
		t.Fatalf("filterNodes() = %v, want none (tainted node, no toleration)", got)
	}

	scheduling := types.Scheduling{Tolerations: []types.Toleration{{Key: "dedicated", Value: "gpu", Effect: types.TaintNoSchedule}}}
	got = filterNodes(pod, nil, scheduling, nodes, nodeUsage{}, false)
	if len(got) != 1 {
		t.Fatalf("filterNodes() with matching toleration = %v, want n1", got)
	}
}

func TestFilterNodesCapabilityGrant(t *testing.T) {
	pod := &types.Pod{}
	pack := &types.Pack{GrantedCapabilities: []string{"gpu"}}
	nodes := []*types.Node{
		{ID: "n1", RuntimeType: types.RuntimeServer, Status: types.NodeReady, Capabilities: []string{"gpu", "net"}},
		{ID: "n2", RuntimeType: types.RuntimeServer, Status: types.NodeReady, Capabilities: []string{"net"}},
	}

	got := filterNodes(pod, pack, types.Scheduling{}, nodes, nodeUsage{}, false)
	if len(got) != 1 || got[0].ID != "n1" {
		t.Fatalf("filterNodes() = %v, want only n1 (has gpu capability)", got)
	}
}

func TestScoreNodesLeastLoaded(t *testing.T) {
	pod := &types.Pod{}
	nodes := []*types.Node{readyNode("busy", 1000, 1000), readyNode("idle", 1000, 1000)}
	usage := nodeUsage{"busy": types.ResourceList{CPUMillis: 900}}

	scores := scoreNodes(pod, types.Scheduling{}, nodes, usage, nil)
	if scores["idle"] <= scores["busy"] {
		t.Errorf("scores = %+v, want idle scored higher than busy", scores)
	}
}

func TestScoreNodesPreferredAffinity(t *testing.T) {
	pod := &types.Pod{}
	nodes := []*types.Node{
		{ID: "n1", Labels: map[string]string{"zone": "a"}},
		{ID: "n2", Labels: map[string]string{"zone": "b"}},
	}
	scheduling := types.Scheduling{
		Affinity: &types.Affinity{
			NodeAffinity: &types.NodeAffinity{
				PreferredDuringSchedulingIgnoredDuringExecution: []types.WeightedNodeSelectorTerm{
					{Weight: 50, Term: types.NodeSelectorTerm{MatchLabels: map[string]string{"zone": "a"}}},
				},
			},
		},
	}

	scores := scoreNodes(pod, scheduling, nodes, nodeUsage{}, nil)
	if scores["n1"] <= scores["n2"] {
		t.Errorf("scores = %+v, want n1 (matches preferred zone) scored higher", scores)
	}
}

func TestSelectNodeDeterministicTieBreak(t *testing.T) {
	nodes := []*types.Node{{ID: "node-a"}, {ID: "node-b"}}
	scores := map[string]float64{"node-a": 10, "node-b": 10}

	first := selectNode(nodes, scores)
	second := selectNode(nodes, scores)
	if first.ID != second.ID {
		t.Errorf("selectNode() not deterministic across calls: %v vs %v", first.ID, second.ID)
	}
}

func TestSelectNodeHighestScoreWins(t *testing.T) {
	nodes := []*types.Node{{ID: "low"}, {ID: "high"}}
	scores := map[string]float64{"low": 1, "high": 99}

	got := selectNode(nodes, scores)
	if got.ID != "high" {
		t.Errorf("selectNode() = %v, want high", got.ID)
	}
}
