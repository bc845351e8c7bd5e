package agentnet

import (
	"testing"
	"time"

	"github.com/cuemby/stark/pkg/starkerr"
	"github.com/cuemby/stark/pkg/types"
)

type fakeStore struct {
	pods  map[string][]*types.Pod
	nodes map[string]*types.Node
}

func (f *fakeStore) ListPodsByService(serviceID string) ([]*types.Pod, error) {
	return f.pods[serviceID], nil
}

func (f *fakeStore) GetNode(id string) (*types.Node, error) { return f.nodes[id], nil }

func readyStore() *fakeStore {
	return &fakeStore{
		pods: map[string][]*types.Pod{
			"svc-b": {
				{ID: "pod-1", ServiceID: "svc-b", NodeID: "node-1", Status: types.PodRunning},
				{ID: "pod-2", ServiceID: "svc-b", NodeID: "node-2", Status: types.PodRunning},
			},
		},
		nodes: map[string]*types.Node{
			"node-1": {ID: "node-1", Status: types.NodeReady},
			"node-2": {ID: "node-2", Status: types.NodeReady},
		},
	}
}

func TestSelectTargetReturnsEntryWithTTL(t *testing.T) {
	sel := NewSelector(readyStore())

	entry, err := sel.SelectTarget("svc-b", StrategyStickyRandomFirst, 30*time.Second)
	if err != nil {
		t.Fatalf("SelectTarget() error = %v", err)
	}
	if entry.ServiceID != "svc-b" {
		t.Errorf("entry.ServiceID = %q, want svc-b", entry.ServiceID)
	}
	if entry.TargetPodID != "pod-1" && entry.TargetPodID != "pod-2" {
		t.Errorf("entry.TargetPodID = %q, want pod-1 or pod-2", entry.TargetPodID)
	}
	if entry.Health != types.HealthOK {
		t.Errorf("entry.Health = %q, want ok", entry.Health)
	}
	if !entry.Valid(time.Now()) {
		t.Error("freshly selected entry should be Valid()")
	}
}

func TestSelectTargetExcludesNonRunningAndNotReadyNodes(t *testing.T) {
	store := readyStore()
	store.pods["svc-b"][1].Status = types.PodStopped
	store.nodes["node-1"].Status = types.NodeNotReady

	sel := NewSelector(store)
	_, err := sel.SelectTarget("svc-b", StrategyStickyRandomFirst, time.Second)
	if err == nil {
		t.Fatal("SelectTarget() error = nil, want not-found (no selectable endpoint left)")
	}
	if kind, ok := starkerr.KindOf(err); !ok || kind != starkerr.KindNotFound {
		t.Errorf("KindOf(err) = %v, want KindNotFound", kind)
	}
}

func TestSelectTargetRoundRobinCyclesThroughCandidates(t *testing.T) {
	sel := NewSelector(readyStore())

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		entry, err := sel.SelectTarget("svc-b", StrategyRoundRobin, time.Second)
		if err != nil {
			t.Fatalf("SelectTarget() error = %v", err)
		}
		seen[entry.TargetPodID] = true
	}
	if len(seen) != 2 {
		t.Errorf("round-robin over 2 calls visited %d distinct pods, want 2", len(seen))
	}
}

func TestSelectTargetUnknownServiceIsNotFound(t *testing.T) {
	sel := NewSelector(readyStore())
	_, err := sel.SelectTarget("svc-missing", StrategyStickyRandomFirst, time.Second)
	if err == nil {
		t.Fatal("SelectTarget() error = nil, want not-found")
	}
}
