package adminapi

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/cuemby/stark/pkg/statestore"
	"github.com/cuemby/stark/pkg/types"
)

type fakeReconciler struct{ kicks int }

func (f *fakeReconciler) Kick() { f.kicks++ }

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func newBootstrappedStateStore(t *testing.T) *statestore.StateStore {
	t.Helper()
	dir, err := os.MkdirTemp("", "stark-adminapi-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp() error = %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(freePort(t)))
	ss, err := statestore.New(&statestore.Config{NodeID: "node-1", BindAddr: addr, DataDir: dir})
	if err != nil {
		t.Fatalf("statestore.New() error = %v", err)
	}
	t.Cleanup(func() { ss.Shutdown() })

	if err := ss.Bootstrap(); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if ss.IsLeader() {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !ss.IsLeader() {
		t.Fatal("single-node cluster never elected itself leader")
	}
	return ss
}

func newTestHandler(t *testing.T) (*Handler, *fakeReconciler) {
	store := newBootstrappedStateStore(t)
	rec := &fakeReconciler{}
	return NewHandler(store, rec), rec
}

func doRequest(t *testing.T, h *Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("json.Marshal() error = %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func TestHandleRegisterAndListNodes(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/nodes/", registerNodeRequest{
		Name:        "node-a",
		RuntimeType: types.RuntimeServer,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var created types.Node
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if created.Status != types.NodeReady {
		t.Errorf("registered node status = %q, want Ready", created.Status)
	}

	rec = doRequest(t, h, http.MethodGet, "/nodes/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", rec.Code)
	}
	var listResp struct {
		Nodes []*types.Node `json:"nodes"`
		Count int           `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if listResp.Count != 1 {
		t.Errorf("node count = %d, want 1", listResp.Count)
	}
}

func TestHandleCordonNode(t *testing.T) {
	h, rec := newTestHandler(t)

	createRec := doRequest(t, h, http.MethodPost, "/nodes/", registerNodeRequest{Name: "node-b", RuntimeType: types.RuntimeServer})
	var node types.Node
	json.Unmarshal(createRec.Body.Bytes(), &node)

	cordonRec := doRequest(t, h, http.MethodPost, "/nodes/"+node.ID+"/cordon", nil)
	if cordonRec.Code != http.StatusOK {
		t.Fatalf("cordon status = %d, want 200: %s", cordonRec.Code, cordonRec.Body.String())
	}
	var cordoned types.Node
	json.Unmarshal(cordonRec.Body.Bytes(), &cordoned)
	if cordoned.Status != types.NodeCordoned {
		t.Errorf("node status after cordon = %q, want Cordoned", cordoned.Status)
	}
	if rec.kicks != 1 {
		t.Errorf("reconciler kicked %d times, want 1", rec.kicks)
	}
}

func TestHandleCordonUnknownNodeReturnsNotFound(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := doRequest(t, h, http.MethodPost, "/nodes/does-not-exist/cordon", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleCreateAndScaleService(t *testing.T) {
	h, rec := newTestHandler(t)

	createRec := doRequest(t, h, http.MethodPost, "/services/", createServiceRequest{
		Name:     "web",
		PackID:   "pack-1",
		Replicas: 2,
	})
	if createRec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201: %s", createRec.Code, createRec.Body.String())
	}
	var svc types.Service
	json.Unmarshal(createRec.Body.Bytes(), &svc)

	scaleRec := doRequest(t, h, http.MethodPut, "/services/"+svc.ID+"/scale", scaleServiceRequest{Replicas: 5})
	if scaleRec.Code != http.StatusOK {
		t.Fatalf("scale status = %d, want 200: %s", scaleRec.Code, scaleRec.Body.String())
	}
	var scaled types.Service
	json.Unmarshal(scaleRec.Body.Bytes(), &scaled)
	if scaled.Replicas != 5 {
		t.Errorf("replicas after scale = %d, want 5", scaled.Replicas)
	}
	if rec.kicks != 2 {
		t.Errorf("reconciler kicked %d times, want 2 (create + scale)", rec.kicks)
	}
}

func TestHandleScaleServiceRejectsNegativeReplicas(t *testing.T) {
	h, _ := newTestHandler(t)
	createRec := doRequest(t, h, http.MethodPost, "/services/", createServiceRequest{Name: "web", PackID: "pack-1"})
	var svc types.Service
	json.Unmarshal(createRec.Body.Bytes(), &svc)

	rec := doRequest(t, h, http.MethodPut, "/services/"+svc.ID+"/scale", scaleServiceRequest{Replicas: -1})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleRolloutService(t *testing.T) {
	h, _ := newTestHandler(t)
	createRec := doRequest(t, h, http.MethodPost, "/services/", createServiceRequest{Name: "web", PackID: "pack-1", PackVersion: "v1"})
	var svc types.Service
	json.Unmarshal(createRec.Body.Bytes(), &svc)

	rolloutRec := doRequest(t, h, http.MethodPost, "/services/"+svc.ID+"/rollout", rolloutServiceRequest{PackVersion: "v2"})
	if rolloutRec.Code != http.StatusAccepted {
		t.Fatalf("rollout status = %d, want 202: %s", rolloutRec.Code, rolloutRec.Body.String())
	}
	var rolled types.Service
	json.Unmarshal(rolloutRec.Body.Bytes(), &rolled)
	if rolled.PackVersion != "v2" || rolled.Status != types.ReplicaSetRolling {
		t.Errorf("rolled service = %+v, want packVersion v2 and status rolling", rolled)
	}
}

func TestHandleCreateNetworkPolicyAllowAndDeny(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/network-policies/", createNetworkPolicyRequest{
		SourceService: "svc-a",
		TargetService: "svc-b",
		Action:        types.PolicyAllow,
		Namespace:     "default",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	badRec := doRequest(t, h, http.MethodPost, "/network-policies/", createNetworkPolicyRequest{
		SourceService: "svc-a",
		TargetService: "svc-b",
		Action:        "maybe",
	})
	if badRec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for invalid action: %s", badRec.Code, badRec.Body.String())
	}

	listRec := doRequest(t, h, http.MethodGet, "/network-policies/", nil)
	var listResp struct {
		Policies []*types.NetworkPolicy `json:"policies"`
		Count    int                    `json:"count"`
	}
	json.Unmarshal(listRec.Body.Bytes(), &listResp)
	if listResp.Count != 1 {
		t.Errorf("policy count = %d, want 1", listResp.Count)
	}
}

func TestHandleListPodsFiltersByService(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doRequest(t, h, http.MethodGet, "/pods/?serviceId=svc-x", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var listResp struct {
		Pods  []*types.Pod `json:"pods"`
		Count int          `json:"count"`
	}
	json.Unmarshal(rec.Body.Bytes(), &listResp)
	if listResp.Count != 0 {
		t.Errorf("pod count = %d, want 0 for unknown service", listResp.Count)
	}
}
