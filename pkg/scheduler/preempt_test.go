package scheduler

import (
	"testing"

	"github.com/cuemby/stark/pkg/types"
)

func TestPlanPreemptionFindsVictim(t *testing.T) {
	pending := &types.Pod{ID: "pending", Priority: 10, ResourceRequests: types.ResourceList{CPUMillis: 500}}
	node := readyNode("n1", 1000, 1000)
	resident := &types.Pod{ID: "low-pri", NodeID: "n1", Priority: 1, Status: types.PodRunning,
		ResourceRequests: types.ResourceList{CPUMillis: 900}}

	usage := computeNodeUsage([]*types.Pod{resident})
	plan := planPreemption(pending, nil, types.Scheduling{}, []*types.Node{node}, []*types.Pod{resident}, usage)

	if plan == nil {
		t.Fatal("planPreemption() = nil, want a plan evicting the low-priority resident")
	}
	if plan.node.ID != "n1" || len(plan.victims) != 1 || plan.victims[0].ID != "low-pri" {
		t.Errorf("planPreemption() = %+v, want n1 evicting low-pri", plan)
	}
}

func TestPlanPreemptionNoEligibleVictims(t *testing.T) {
	pending := &types.Pod{ID: "pending", Priority: 1, ResourceRequests: types.ResourceList{CPUMillis: 500}}
	node := readyNode("n1", 1000, 1000)
	resident := &types.Pod{ID: "high-pri", NodeID: "n1", Priority: 10, Status: types.PodRunning,
		ResourceRequests: types.ResourceList{CPUMillis: 900}}

	usage := computeNodeUsage([]*types.Pod{resident})
	plan := planPreemption(pending, nil, types.Scheduling{}, []*types.Node{node}, []*types.Pod{resident}, usage)

	if plan != nil {
		t.Errorf("planPreemption() = %+v, want nil (resident outranks pending)", plan)
	}
}

func TestPlanPreemptionZeroPriorityNeverPreempts(t *testing.T) {
	pending := &types.Pod{ID: "pending", Priority: 0}
	node := readyNode("n1", 1000, 1000)

	plan := planPreemption(pending, nil, types.Scheduling{}, []*types.Node{node}, nil, nodeUsage{})
	if plan != nil {
		t.Errorf("planPreemption() = %+v, want nil for zero-priority pod", plan)
	}
}

func TestSelectVictimsInsufficientEvenAfterAll(t *testing.T) {
	pending := &types.Pod{Priority: 10, ResourceRequests: types.ResourceList{CPUMillis: 2000}}
	node := readyNode("n1", 1000, 1000)
	residents := []*types.Pod{
		{ID: "a", Priority: 1, ResourceRequests: types.ResourceList{CPUMillis: 500}},
	}

	victims := selectVictims(pending, node, residents, types.ResourceList{CPUMillis: 500})
	if victims != nil {
		t.Errorf("selectVictims() = %v, want nil (even evicting everyone isn't enough)", victims)
	}
}
