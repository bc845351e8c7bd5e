package podgroup

import (
	"testing"
	"time"

	"github.com/cuemby/stark/pkg/types"
)

type fakeLocator struct {
	pods map[string]*types.Pod
}

func (f *fakeLocator) GetPod(id string) (*types.Pod, error) { return f.pods[id], nil }

type fakeSender struct {
	correlator *QueryCorrelator
	respond    func(query types.EphemeralQuery) *types.EphemeralResponse
}

func (f *fakeSender) SendQuery(nodeID string, query types.EphemeralQuery) error {
	if f.respond == nil {
		return nil // simulate a send with no reply (times out)
	}
	if resp := f.respond(query); resp != nil {
		go f.correlator.HandleResponse(*resp)
	}
	return nil
}

func TestQueryAggregatesAllResponses(t *testing.T) {
	correlator := NewQueryCorrelator()
	locator := &fakeLocator{pods: map[string]*types.Pod{
		"pod-1": {ID: "pod-1", NodeID: "node-1"},
		"pod-2": {ID: "pod-2", NodeID: "node-2"},
	}}
	sender := &fakeSender{correlator: correlator, respond: func(q types.EphemeralQuery) *types.EphemeralResponse {
		return &types.EphemeralResponse{QueryID: q.QueryID, PodID: q.TargetIDs[0], Status: 200}
	}}

	results := correlator.Query(locator, sender, []string{"pod-1", "pod-2"}, "/ping", nil, time.Second)
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	for id, resp := range results {
		if resp.Status != 200 {
			t.Errorf("results[%s].Status = %d, want 200", id, resp.Status)
		}
	}
}

func TestQueryTimesOutUnansweredTargets(t *testing.T) {
	correlator := NewQueryCorrelator()
	locator := &fakeLocator{pods: map[string]*types.Pod{
		"pod-1": {ID: "pod-1", NodeID: "node-1"},
		"pod-2": {ID: "pod-2", NodeID: "node-2"},
	}}
	sender := &fakeSender{correlator: correlator, respond: func(q types.EphemeralQuery) *types.EphemeralResponse {
		if q.TargetIDs[0] == "pod-1" {
			return &types.EphemeralResponse{QueryID: q.QueryID, PodID: "pod-1", Status: 200}
		}
		return nil // pod-2 never answers
	}}

	results := correlator.Query(locator, sender, []string{"pod-1", "pod-2"}, "/ping", nil, 30*time.Millisecond)
	if results["pod-1"].Status != 200 {
		t.Errorf("results[pod-1].Status = %d, want 200", results["pod-1"].Status)
	}
	if results["pod-2"].Err == "" {
		t.Error("results[pod-2].Err is empty, want a timeout message")
	}
}

func TestQueryRecordsImmediateErrorForUnresolvablePod(t *testing.T) {
	correlator := NewQueryCorrelator()
	locator := &fakeLocator{pods: map[string]*types.Pod{}} // pod-1 unknown
	sender := &fakeSender{correlator: correlator}

	results := correlator.Query(locator, sender, []string{"pod-1"}, "/ping", nil, 20*time.Millisecond)
	if results["pod-1"].Err == "" {
		t.Error("results[pod-1].Err is empty, want an error for an unresolvable pod")
	}
}

func TestQueryResolvesEarlyWhenAllRespondBeforeDeadline(t *testing.T) {
	correlator := NewQueryCorrelator()
	locator := &fakeLocator{pods: map[string]*types.Pod{"pod-1": {ID: "pod-1", NodeID: "node-1"}}}
	sender := &fakeSender{correlator: correlator, respond: func(q types.EphemeralQuery) *types.EphemeralResponse {
		return &types.EphemeralResponse{QueryID: q.QueryID, PodID: "pod-1", Status: 204}
	}}

	start := time.Now()
	results := correlator.Query(locator, sender, []string{"pod-1"}, "/ping", nil, 2*time.Second)
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Query() took %v, want early resolution well under the 2s deadline", elapsed)
	}
	if results["pod-1"].Status != 204 {
		t.Errorf("results[pod-1].Status = %d, want 204", results["pod-1"].Status)
	}
}
