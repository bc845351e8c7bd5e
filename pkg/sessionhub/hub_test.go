package sessionhub

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/stark/pkg/agentnet"
	"github.com/cuemby/stark/pkg/types"
	"github.com/gorilla/websocket"
)

type fakeStore struct {
	mu    sync.Mutex
	nodes map[string]*types.Node
	pods  map[string]*types.Pod
}

func newFakeStore() *fakeStore {
	return &fakeStore{nodes: make(map[string]*types.Node), pods: make(map[string]*types.Pod)}
}

func (f *fakeStore) GetNode(id string) (*types.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nodes[id], nil
}

func (f *fakeStore) CreateNode(node *types.Node) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[node.ID] = node
	return nil
}

func (f *fakeStore) UpdateNode(node *types.Node) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[node.ID] = node
	return nil
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

type fakeTokens struct{ validRole string }

func (f fakeTokens) ValidateJoinToken(token string) (string, error) {
	if token == "valid" {
		return f.validRole, nil
	}
	return "", websocket.ErrBadHandshake
}

type fakePodStatusHandler struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakePodStatusHandler) HandlePodStatus(pod *types.Pod, status types.PodStatus, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, pod.ID+":"+string(status))
	pod.Status = status
	return nil
}

func dialTestHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, msgType MessageType, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	env := Envelope{Type: msgType, Payload: data}
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func TestHubAuthThenRegisterCreatesNode(t *testing.T) {
	store := newFakeStore()
	hub := NewHub(store, fakeTokens{validRole: "agent"}, &fakePodStatusHandler{}, nil, nil)
	conn := dialTestHub(t, hub)

	sendFrame(t, conn, MsgAuth, AuthPayload{Token: "valid"})
	sendFrame(t, conn, MsgRegister, RegisterPayload{NodeName: "n1", Capabilities: []string{"gpu"}})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.SessionCount() == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if hub.SessionCount() != 1 {
		t.Fatalf("SessionCount() = %d, want 1 after register", hub.SessionCount())
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.nodes) != 1 {
		t.Fatalf("len(store.nodes) = %d, want 1", len(store.nodes))
	}
}

func TestHubHeartbeatPersistsPodHealth(t *testing.T) {
	store := newFakeStore()
	store.pods["p1"] = &types.Pod{ID: "p1", Healthy: true}
	hub := NewHub(store, fakeTokens{validRole: "agent"}, &fakePodStatusHandler{}, nil, nil)
	conn := dialTestHub(t, hub)

	sendFrame(t, conn, MsgAuth, AuthPayload{Token: "valid"})
	sendFrame(t, conn, MsgRegister, RegisterPayload{NodeName: "n1"})
	sendFrame(t, conn, MsgHeartbeat, HeartbeatPayload{
		PodStatuses: []PodStatusEntry{{PodID: "p1", Alive: true, Healthy: false}},
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		store.mu.Lock()
		healthy := store.pods["p1"].Healthy
		store.mu.Unlock()
		if !healthy {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("heartbeat's Healthy=false was never persisted onto the pod")
}

func TestHubRegisterBeforeAuthIsRejected(t *testing.T) {
	store := newFakeStore()
	hub := NewHub(store, fakeTokens{validRole: "agent"}, &fakePodStatusHandler{}, nil, nil)
	conn := dialTestHub(t, hub)

	sendFrame(t, conn, MsgRegister, RegisterPayload{NodeName: "n1"})

	time.Sleep(100 * time.Millisecond)
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.nodes) != 0 {
		t.Errorf("len(store.nodes) = %d, want 0 (register before auth must be rejected)", len(store.nodes))
	}
}

func TestHubDeployReturnsErrorForUnknownNode(t *testing.T) {
	store := newFakeStore()
	hub := NewHub(store, fakeTokens{validRole: "agent"}, &fakePodStatusHandler{}, nil, nil)

	pod := &types.Pod{ID: "p1", PackID: "pack-1"}
	if err := hub.Deploy("no-such-node", pod, &types.Pack{}, nil, "tok", "ref"); err == nil {
		t.Fatal("Deploy() error = nil, want error for node with no active session")
	}
}

func TestHubPodStatusInvokesHandler(t *testing.T) {
	store := newFakeStore()
	store.pods["p1"] = &types.Pod{ID: "p1", Status: types.PodRunning}
	handler := &fakePodStatusHandler{}
	hub := NewHub(store, fakeTokens{validRole: "agent"}, handler, nil, nil)
	conn := dialTestHub(t, hub)

	sendFrame(t, conn, MsgAuth, AuthPayload{Token: "valid"})
	sendFrame(t, conn, MsgPodStatus, PodStatusPayload{PodID: "p1", Status: "stopping"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		handler.mu.Lock()
		n := len(handler.calls)
		handler.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if len(handler.calls) != 1 || handler.calls[0] != "p1:stopping" {
		t.Errorf("handler.calls = %v, want [p1:stopping]", handler.calls)
	}
}

type fakeQueryResultHandler struct {
	mu  sync.Mutex
	got []types.EphemeralResponse
}

func (f *fakeQueryResultHandler) HandleResponse(resp types.EphemeralResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, resp)
}

func TestHubSendQueryReturnsErrorForUnknownNode(t *testing.T) {
	store := newFakeStore()
	hub := NewHub(store, fakeTokens{validRole: "agent"}, &fakePodStatusHandler{}, nil, nil)

	err := hub.SendQuery("no-such-node", types.EphemeralQuery{QueryID: "q1", TargetIDs: []string{"p1"}})
	if err == nil {
		t.Fatal("SendQuery() error = nil, want error for node with no active session")
	}
}

func TestHubGroupQueryResultResolvesHandler(t *testing.T) {
	store := newFakeStore()
	hub := NewHub(store, fakeTokens{validRole: "agent"}, &fakePodStatusHandler{}, nil, nil)
	results := &fakeQueryResultHandler{}
	hub.SetQueryResultHandler(results)
	conn := dialTestHub(t, hub)

	sendFrame(t, conn, MsgAuth, AuthPayload{Token: "valid"})
	sendFrame(t, conn, MsgGroupQueryResult, PodGroupQueryResultPayload{
		QueryID: "q1", PodID: "p1", Status: 200, Body: []byte("pong"),
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		results.mu.Lock()
		n := len(results.got)
		results.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	results.mu.Lock()
	defer results.mu.Unlock()
	if len(results.got) != 1 || results.got[0].PodID != "p1" || string(results.got[0].Body) != "pong" {
		t.Errorf("results.got = %+v, want one response for p1 with body pong", results.got)
	}
}

type fakeTargetResolver struct {
	entry *types.TargetCacheEntry
	err   error
}

func (f *fakeTargetResolver) SelectTarget(serviceID string, strategy agentnet.Strategy, ttl time.Duration) (*types.TargetCacheEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.entry, nil
}

func TestHubTargetResolveRepliesOnSameConnection(t *testing.T) {
	store := newFakeStore()
	hub := NewHub(store, fakeTokens{validRole: "agent"}, &fakePodStatusHandler{}, nil, nil)
	hub.SetTargetResolver(&fakeTargetResolver{entry: &types.TargetCacheEntry{
		ServiceID: "svc-1", TargetPodID: "p1", TargetNodeID: "n1",
	}})
	conn := dialTestHub(t, hub)

	sendFrame(t, conn, MsgAuth, AuthPayload{Token: "valid"})
	sendFrame(t, conn, MsgTargetResolve, TargetResolvePayload{ServiceID: "svc-1"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Type != MsgTargetResolved {
		t.Fatalf("env.Type = %q, want %q", env.Type, MsgTargetResolved)
	}
	var resolved TargetResolvedPayload
	if err := json.Unmarshal(env.Payload, &resolved); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if resolved.TargetPodID != "p1" || resolved.TargetNodeID != "n1" {
		t.Errorf("resolved = %+v, want targetPodId=p1 targetNodeId=n1", resolved)
	}
}

func TestHubGroupQueryResultWithoutHandlerWiredIsRejected(t *testing.T) {
	store := newFakeStore()
	hub := NewHub(store, fakeTokens{validRole: "agent"}, &fakePodStatusHandler{}, nil, nil)
	conn := dialTestHub(t, hub)

	sendFrame(t, conn, MsgAuth, AuthPayload{Token: "valid"})
	sendFrame(t, conn, MsgGroupQueryResult, PodGroupQueryResultPayload{QueryID: "q1", PodID: "p1"})

	// No handler wired: the frame is logged and dropped, not a hard error;
	// the connection stays open for a subsequent auth-scoped frame.
	time.Sleep(100 * time.Millisecond)
	sendFrame(t, conn, MsgHeartbeat, HeartbeatPayload{})
}
