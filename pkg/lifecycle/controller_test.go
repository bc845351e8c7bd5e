package lifecycle

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/stark/pkg/types"
)

type fakeStore struct {
	mu      sync.Mutex
	pods    map[string]*types.Pod
	packs   map[string]*types.Pack
	history []*types.PodHistoryEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{pods: make(map[string]*types.Pod), packs: make(map[string]*types.Pack)}
}

func (f *fakeStore) GetPod(id string) (*types.Pod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pods[id], nil
}

func (f *fakeStore) UpdatePod(pod *types.Pod) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pods[pod.ID] = pod
	return nil
}

func (f *fakeStore) GetPack(id string) (*types.Pack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.packs[id]; ok {
		return p, nil
	}
	return &types.Pack{ID: id}, nil
}

func (f *fakeStore) AppendPodHistory(entry *types.PodHistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, entry)
	return nil
}

type fakeTokens struct{}

func (fakeTokens) IssuePodToken(podID string) (string, string, error) {
	return "pod-token-" + podID, "refresh-token-" + podID, nil
}

type fakeDispatcher struct {
	mu          sync.Mutex
	deployed    []string
	stopped     []string
	deployErr   error
	stopErr     error
}

func (d *fakeDispatcher) Deploy(nodeID string, pod *types.Pod, pack *types.Pack, capabilities []string, podToken, refreshToken string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.deployErr != nil {
		return d.deployErr
	}
	d.deployed = append(d.deployed, pod.ID)
	return nil
}

func (d *fakeDispatcher) Stop(nodeID, podID, reason string, gracePeriod time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopErr != nil {
		return d.stopErr
	}
	d.stopped = append(d.stopped, podID)
	return nil
}

func TestScheduleAdvancesPendingToScheduled(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	c := NewController(store, fakeTokens{}, dispatcher, nil)

	pod := &types.Pod{ID: "p1", PackID: "pack-1", Status: types.PodPending}
	if err := c.Schedule(pod, "n1"); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if pod.Status != types.PodScheduled {
		t.Errorf("pod.Status = %v, want scheduled", pod.Status)
	}
	if pod.NodeID != "n1" {
		t.Errorf("pod.NodeID = %v, want n1", pod.NodeID)
	}
	if len(dispatcher.deployed) != 1 || dispatcher.deployed[0] != "p1" {
		t.Errorf("dispatcher.deployed = %v, want [p1]", dispatcher.deployed)
	}
	if len(store.history) != 1 || store.history[0].NewStatus != types.PodScheduled {
		t.Errorf("history = %+v, want one entry transitioning to scheduled", store.history)
	}
}

func TestScheduleFailsPodWhenDeployDispatchErrors(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{deployErr: errors.New("transport closed")}
	c := NewController(store, fakeTokens{}, dispatcher, nil)

	pod := &types.Pod{ID: "p1", PackID: "pack-1", Status: types.PodPending}
	if err := c.Schedule(pod, "n1"); err == nil {
		t.Fatal("Schedule() error = nil, want dispatch error surfaced")
	}
	if pod.Status != types.PodFailed {
		t.Errorf("pod.Status = %v, want failed after dispatch failure", pod.Status)
	}
}

func TestScheduleRejectsIllegalSourceStatus(t *testing.T) {
	store := newFakeStore()
	c := NewController(store, fakeTokens{}, &fakeDispatcher{}, nil)

	pod := &types.Pod{ID: "p1", PackID: "pack-1", Status: types.PodRunning}
	if err := c.Schedule(pod, "n1"); err == nil {
		t.Fatal("Schedule() error = nil, want rejection of running -> scheduled")
	}
	if pod.Status != types.PodRunning {
		t.Errorf("pod.Status = %v, want unchanged running", pod.Status)
	}
}

func TestRequestStopPendingPodSkipsAgentRoundTrip(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	c := NewController(store, fakeTokens{}, dispatcher, nil)

	pod := &types.Pod{ID: "p1", Status: types.PodPending}
	if err := c.RequestStop(pod, "scale_down", time.Second); err != nil {
		t.Fatalf("RequestStop() error = %v", err)
	}
	if pod.Status != types.PodStopped {
		t.Errorf("pod.Status = %v, want stopped", pod.Status)
	}
	if len(dispatcher.stopped) != 0 {
		t.Errorf("dispatcher.stopped = %v, want no agent round trip for a pending pod", dispatcher.stopped)
	}
}

func TestRequestStopRunningPodGoesThroughStopping(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	c := NewController(store, fakeTokens{}, dispatcher, nil)

	pod := &types.Pod{ID: "p1", NodeID: "n1", Status: types.PodRunning}
	if err := c.RequestStop(pod, "scale_down", 50*time.Millisecond); err != nil {
		t.Fatalf("RequestStop() error = %v", err)
	}
	if pod.Status != types.PodStopping {
		t.Errorf("pod.Status = %v, want stopping", pod.Status)
	}
	if len(dispatcher.stopped) != 1 || dispatcher.stopped[0] != "p1" {
		t.Errorf("dispatcher.stopped = %v, want [p1]", dispatcher.stopped)
	}
}

func TestRequestStopForceStopsAfterGracePeriod(t *testing.T) {
	store := newFakeStore()
	c := NewController(store, fakeTokens{}, &fakeDispatcher{}, nil)

	pod := &types.Pod{ID: "p1", NodeID: "n1", Status: types.PodRunning}
	if err := c.RequestStop(pod, "scale_down", 20*time.Millisecond); err != nil {
		t.Fatalf("RequestStop() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if pod.Status != types.PodStopped {
		t.Errorf("pod.Status = %v, want stopped after grace period expiry", pod.Status)
	}
}

func TestHandlePodStatusClearsDeadlineOnAgentConfirmation(t *testing.T) {
	store := newFakeStore()
	c := NewController(store, fakeTokens{}, &fakeDispatcher{}, nil)

	pod := &types.Pod{ID: "p1", NodeID: "n1", Status: types.PodRunning}
	if err := c.RequestStop(pod, "scale_down", 30*time.Millisecond); err != nil {
		t.Fatalf("RequestStop() error = %v", err)
	}
	if err := c.HandlePodStatus(pod, types.PodStopped, ""); err != nil {
		t.Fatalf("HandlePodStatus() error = %v", err)
	}

	time.Sleep(80 * time.Millisecond)

	if pod.Status != types.PodStopped {
		t.Errorf("pod.Status = %v, want stopped (agent confirmation, not the force timer)", pod.Status)
	}
}

func TestHandlePodStatusRejectsIllegalTransition(t *testing.T) {
	store := newFakeStore()
	c := NewController(store, fakeTokens{}, &fakeDispatcher{}, nil)

	pod := &types.Pod{ID: "p1", Status: types.PodPending}
	if err := c.HandlePodStatus(pod, types.PodRunning, ""); err == nil {
		t.Fatal("HandlePodStatus() error = nil, want rejection of pending -> running")
	}
	if pod.Status != types.PodPending {
		t.Errorf("pod.Status = %v, want unchanged pending", pod.Status)
	}
}

func TestEvictTransitionsFromRunningDirectly(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	c := NewController(store, fakeTokens{}, dispatcher, nil)

	pod := &types.Pod{ID: "p1", NodeID: "n1", Status: types.PodRunning}
	if err := c.Evict(pod, "preempted"); err != nil {
		t.Fatalf("Evict() error = %v", err)
	}
	if pod.Status != types.PodEvicted {
		t.Errorf("pod.Status = %v, want evicted", pod.Status)
	}
	if len(dispatcher.stopped) != 1 {
		t.Errorf("dispatcher.stopped = %v, want agent notified of eviction", dispatcher.stopped)
	}
}

func TestEvictIsNoOpOnTerminalPod(t *testing.T) {
	store := newFakeStore()
	c := NewController(store, fakeTokens{}, &fakeDispatcher{}, nil)

	pod := &types.Pod{ID: "p1", Status: types.PodStopped}
	if err := c.Evict(pod, "preempted"); err != nil {
		t.Fatalf("Evict() error = %v", err)
	}
	if pod.Status != types.PodStopped {
		t.Errorf("pod.Status = %v, want unchanged stopped", pod.Status)
	}
}

func TestHandleNodeLostFailsNonTerminalPods(t *testing.T) {
	store := newFakeStore()
	c := NewController(store, fakeTokens{}, &fakeDispatcher{}, nil)

	pods := []*types.Pod{
		{ID: "p1", NodeID: "n1", Status: types.PodRunning},
		{ID: "p2", NodeID: "n1", Status: types.PodStopped},
	}
	c.HandleNodeLost(pods)

	if pods[0].Status != types.PodFailed {
		t.Errorf("pods[0].Status = %v, want failed", pods[0].Status)
	}
	if pods[1].Status != types.PodStopped {
		t.Errorf("pods[1].Status = %v, want unchanged (already terminal)", pods[1].Status)
	}
}
