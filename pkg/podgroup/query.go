package podgroup

import (
	"sync"
	"time"

	"github.com/cuemby/stark/pkg/types"
	"github.com/google/uuid"
)

// PodLocator resolves a pod ID to the pod row, so a query can be routed
// to the node currently hosting it. Satisfied by statestore.StateStore.
type PodLocator interface {
	GetPod(id string) (*types.Pod, error)
}

// QuerySender delivers one fan-out query leg to the node hosting its
// target pod, reusing §4.8's peer channels. Satisfied by an adapter
// over pkg/agentnet/pkg/sessionhub wired in cmd/stark.
type QuerySender interface {
	SendQuery(nodeID string, query types.EphemeralQuery) error
}

type pendingQuery struct {
	expected  int
	responses map[string]types.EphemeralResponse
	done      chan struct{}
	closeOnce sync.Once
}

// QueryCorrelator implements queryPods(ids, path, query, timeout)
// (§4.9): it fans a query out to every target pod and aggregates
// responses keyed by pod ID, resolving when all have answered or the
// deadline passes. Queries are never persisted and never retried.
type QueryCorrelator struct {
	mu      sync.Mutex
	pending map[string]*pendingQuery
}

// NewQueryCorrelator creates an empty query correlator.
func NewQueryCorrelator() *QueryCorrelator {
	return &QueryCorrelator{pending: make(map[string]*pendingQuery)}
}

// Query fans a query out to every pod in ids and blocks until each has
// responded or timeout elapses, whichever comes first.
func (c *QueryCorrelator) Query(locator PodLocator, sender QuerySender, ids []string, path string, params map[string]string, timeout time.Duration) map[string]types.EphemeralResponse {
	queryID := uuid.New().String()
	deadline := time.Now().Add(timeout)

	q := &pendingQuery{expected: len(ids), responses: make(map[string]types.EphemeralResponse)}
	q.done = make(chan struct{})

	c.mu.Lock()
	c.pending[queryID] = q
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, queryID)
		c.mu.Unlock()
	}()

	for _, id := range ids {
		pod, err := locator.GetPod(id)
		if err != nil || pod == nil || pod.NodeID == "" {
			c.recordImmediate(q, types.EphemeralResponse{QueryID: queryID, PodID: id, Err: "target pod is not currently assigned to a node"})
			continue
		}
		query := types.EphemeralQuery{
			QueryID: queryID, TargetIDs: []string{id}, Path: path, Query: params,
			Deadline: deadline, CreatedAt: time.Now(),
		}
		if err := sender.SendQuery(pod.NodeID, query); err != nil {
			c.recordImmediate(q, types.EphemeralResponse{QueryID: queryID, PodID: id, Err: err.Error()})
		}
	}

	select {
	case <-q.done:
	case <-time.After(time.Until(deadline)):
	}

	c.mu.Lock()
	result := make(map[string]types.EphemeralResponse, len(ids))
	for _, id := range ids {
		if resp, ok := q.responses[id]; ok {
			result[id] = resp
		} else {
			result[id] = types.EphemeralResponse{QueryID: queryID, PodID: id, Err: "timed out waiting for response"}
		}
	}
	c.mu.Unlock()
	return result
}

// HandleResponse records one target pod's answer, resolving the
// in-flight Query call once every expected pod has responded.
func (c *QueryCorrelator) HandleResponse(resp types.EphemeralResponse) {
	c.mu.Lock()
	q, ok := c.pending[resp.QueryID]
	if !ok {
		c.mu.Unlock()
		return
	}
	q.responses[resp.PodID] = resp
	complete := len(q.responses) >= q.expected
	c.mu.Unlock()

	if complete {
		q.closeOnce.Do(func() { close(q.done) })
	}
}

// recordImmediate records a response synthesized before any request was
// ever sent (pod unresolvable, or send failed outright).
func (c *QueryCorrelator) recordImmediate(q *pendingQuery, resp types.EphemeralResponse) {
	c.mu.Lock()
	q.responses[resp.PodID] = resp
	complete := len(q.responses) >= q.expected
	c.mu.Unlock()

	if complete {
		q.closeOnce.Do(func() { close(q.done) })
	}
}
