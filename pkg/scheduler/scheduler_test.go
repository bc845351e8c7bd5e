package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/cuemby/stark/pkg/types"
)

// fakeStore is an in-memory Store for scheduler unit tests.
type fakeStore struct {
	mu          sync.Mutex
	services    map[string]*types.Service
	deployments map[string]*types.Deployment
	nodes       map[string]*types.Node
	pods        map[string]*types.Pod
	packs       map[string]*types.Pack
	history     []*types.PodHistoryEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		services:    make(map[string]*types.Service),
		deployments: make(map[string]*types.Deployment),
		nodes:       make(map[string]*types.Node),
		pods:        make(map[string]*types.Pod),
		packs:       make(map[string]*types.Pack),
	}
}

func (f *fakeStore) ListServices() ([]*types.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Service
	for _, s := range f.services {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeStore) ListDeployments() ([]*types.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Deployment
	for _, d := range f.deployments {
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeStore) ListNodes() ([]*types.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Node
	for _, n := range f.nodes {
		out = append(out, n)
	}
	return out, nil
}

func (f *fakeStore) ListPodsByService(serviceID string) ([]*types.Pod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Pod
	for _, p := range f.pods {
		if p.ServiceID == serviceID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) ListPodsByDeployment(deploymentID string) ([]*types.Pod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Pod
	for _, p := range f.pods {
		if p.DeploymentID == deploymentID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) GetPack(id string) (*types.Pack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.packs[id], nil
}

func (f *fakeStore) CreatePod(pod *types.Pod) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pods[pod.ID] = pod
	return nil
}

func (f *fakeStore) UpdatePod(pod *types.Pod) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pods[pod.ID] = pod
	return nil
}

func (f *fakeStore) UpdateService(service *types.Service) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.services[service.ID] = service
	return nil
}

func (f *fakeStore) UpdateDeployment(deployment *types.Deployment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deployments[deployment.ID] = deployment
	return nil
}

func (f *fakeStore) AppendPodHistory(entry *types.PodHistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, entry)
	return nil
}

// fakeController records scheduling/stop/eviction decisions instead of
// driving real pod state transitions.
type fakeController struct {
	mu        sync.Mutex
	scheduled map[string]string // podID -> nodeID
	stopped   []string
	evicted   []string
}

func newFakeController() *fakeController {
	return &fakeController{scheduled: make(map[string]string)}
}

func (f *fakeController) Schedule(pod *types.Pod, nodeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled[pod.ID] = nodeID
	pod.NodeID = nodeID
	pod.Status = types.PodScheduled
	return nil
}

func (f *fakeController) RequestStop(pod *types.Pod, reason string, gracePeriod time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, pod.ID)
	pod.Status = types.PodStopping
	return nil
}

func (f *fakeController) Evict(pod *types.Pod, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evicted = append(f.evicted, pod.ID)
	pod.Status = types.PodEvicted
	return nil
}

func TestSchedulerCreatesPodsToMatchReplicas(t *testing.T) {
	store := newFakeStore()
	controller := newFakeController()
	store.services["svc-1"] = &types.Service{ID: "svc-1", Name: "web", Replicas: 2, PackID: "pack-1"}
	store.nodes["n1"] = readyNode("n1", 1000, 1000)

	s := New(store, controller, nil, Config{})
	if err := s.cycle(); err != nil {
		t.Fatalf("cycle() error = %v", err)
	}

	pods, _ := store.ListPodsByService("svc-1")
	if len(pods) != 2 {
		t.Fatalf("len(pods) = %d, want 2", len(pods))
	}
}

func TestSchedulerPlacesPendingPodsOnReadyNode(t *testing.T) {
	store := newFakeStore()
	controller := newFakeController()
	store.services["svc-1"] = &types.Service{ID: "svc-1", Name: "web", Replicas: 1, PackID: "pack-1"}
	store.nodes["n1"] = readyNode("n1", 1000, 1000)

	s := New(store, controller, nil, Config{})
	if err := s.cycle(); err != nil {
		t.Fatalf("cycle() error = %v", err)
	}
	if err := s.cycle(); err != nil {
		t.Fatalf("second cycle() error = %v", err)
	}

	pods, _ := store.ListPodsByService("svc-1")
	if len(pods) != 1 {
		t.Fatalf("len(pods) = %d, want 1", len(pods))
	}
	if pods[0].NodeID != "n1" {
		t.Errorf("pods[0].NodeID = %v, want n1", pods[0].NodeID)
	}
}

func TestSchedulerScalesDownExcessPods(t *testing.T) {
	store := newFakeStore()
	controller := newFakeController()
	store.services["svc-1"] = &types.Service{ID: "svc-1", Name: "web", Replicas: 1, PackID: "pack-1"}
	store.pods["p1"] = &types.Pod{ID: "p1", ServiceID: "svc-1", Status: types.PodRunning, CreatedAt: time.Now()}
	store.pods["p2"] = &types.Pod{ID: "p2", ServiceID: "svc-1", Status: types.PodRunning, CreatedAt: time.Now().Add(time.Minute)}

	s := New(store, controller, nil, Config{})
	if err := s.cycle(); err != nil {
		t.Fatalf("cycle() error = %v", err)
	}

	if len(controller.stopped) != 1 || controller.stopped[0] != "p2" {
		t.Errorf("stopped = %v, want [p2] (the youngest excess pod)", controller.stopped)
	}
}

func TestSchedulerDaemonSetOnePerNode(t *testing.T) {
	store := newFakeStore()
	controller := newFakeController()
	store.services["svc-1"] = &types.Service{ID: "svc-1", Name: "agent", Replicas: 0, PackID: "pack-1"}
	store.nodes["n1"] = readyNode("n1", 1000, 1000)
	store.nodes["n2"] = readyNode("n2", 1000, 1000)

	s := New(store, controller, nil, Config{})
	for i := 0; i < 2; i++ {
		if err := s.cycle(); err != nil {
			t.Fatalf("cycle() error = %v", err)
		}
	}

	pods, _ := store.ListPodsByService("svc-1")
	if len(pods) != 2 {
		t.Fatalf("len(pods) = %d, want 2 (one per node)", len(pods))
	}
}
