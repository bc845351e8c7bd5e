package lifecycle

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/stark/pkg/events"
	"github.com/cuemby/stark/pkg/log"
	"github.com/cuemby/stark/pkg/starkerr"
	"github.com/cuemby/stark/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Controller owns the pod state machine. It is the only writer of
// Pod.status; every other package that wants a pod to change state goes
// through Schedule/RequestStop/Evict (satisfying pkg/scheduler's
// PodController interface) or reports agent-observed state through
// HandlePodStatus/HandleNodeLost.
type Controller struct {
	store      Store
	tokens     TokenIssuer
	dispatcher AgentDispatcher
	broker     *events.Broker
	logger     zerolog.Logger

	mu            sync.Mutex
	stopDeadlines map[string]*time.Timer // podID -> force-terminate timer
}

// NewController creates a pod lifecycle controller.
func NewController(store Store, tokens TokenIssuer, dispatcher AgentDispatcher, broker *events.Broker) *Controller {
	return &Controller{
		store:         store,
		tokens:        tokens,
		dispatcher:    dispatcher,
		broker:        broker,
		logger:        log.WithComponent("lifecycle"),
		stopDeadlines: make(map[string]*time.Timer),
	}
}

// Schedule assigns nodeID to pod, advances it to scheduled, mints its
// signaling tokens, and dispatches pod:deploy to the agent (§4.5).
func (c *Controller) Schedule(pod *types.Pod, nodeID string) error {
	if !isLegalTransition(pod.Status, types.PodScheduled) {
		return starkerr.Invalid("Schedule", fmt.Sprintf("illegal transition %s -> %s", pod.Status, types.PodScheduled))
	}

	pack, err := c.store.GetPack(pod.PackID)
	if err != nil {
		return fmt.Errorf("failed to load pack %s: %w", pod.PackID, err)
	}

	podToken, refreshToken, err := c.tokens.IssuePodToken(pod.ID)
	if err != nil {
		return fmt.Errorf("failed to issue pod token: %w", err)
	}

	pod.NodeID = nodeID
	if err := c.transition(pod, types.PodScheduled, "scheduled", "", "scheduler"); err != nil {
		return err
	}

	if err := c.dispatcher.Deploy(nodeID, pod, pack, pack.GrantedCapabilities, podToken, refreshToken); err != nil {
		c.logger.Error().Err(err).Str("pod_id", pod.ID).Str("node_id", nodeID).Msg("deploy dispatch failed")
		_ = c.transition(pod, types.PodFailed, "deploy_dispatch_failed", err.Error(), "lifecycle")
		return err
	}
	return nil
}

// RequestStop asks the agent to gracefully stop pod, force-terminating
// after gracePeriod if it doesn't comply. A pod that was never dispatched
// to an agent (still pending) is stopped immediately with no agent round
// trip (§4.5).
func (c *Controller) RequestStop(pod *types.Pod, reason string, gracePeriod time.Duration) error {
	if isTerminal(pod.Status) {
		return nil
	}

	if pod.Status == types.PodPending {
		return c.transition(pod, types.PodStopped, reason, "", "lifecycle")
	}

	if !isLegalTransition(pod.Status, types.PodStopping) {
		return starkerr.Invalid("RequestStop", fmt.Sprintf("illegal transition %s -> %s", pod.Status, types.PodStopping))
	}
	if err := c.transition(pod, types.PodStopping, reason, "", "lifecycle"); err != nil {
		return err
	}

	if err := c.dispatcher.Stop(pod.NodeID, pod.ID, reason, gracePeriod); err != nil {
		c.logger.Error().Err(err).Str("pod_id", pod.ID).Msg("stop dispatch failed")
	}

	c.armStopDeadline(pod, gracePeriod)
	return nil
}

// Evict immediately preempts pod, per §4.4 (freeing a node for a
// higher-priority pod) without going through the graceful stopping state.
func (c *Controller) Evict(pod *types.Pod, reason string) error {
	if isTerminal(pod.Status) {
		return nil
	}
	if pod.NodeID != "" {
		if err := c.dispatcher.Stop(pod.NodeID, pod.ID, reason, 0); err != nil {
			c.logger.Warn().Err(err).Str("pod_id", pod.ID).Msg("evict stop dispatch failed")
		}
	}
	return c.transition(pod, types.PodEvicted, reason, "", "scheduler")
}

// HandlePodStatus applies an agent-reported pod:status frame, validating
// the transition against the state machine before writing it (§4.5, §6).
func (c *Controller) HandlePodStatus(pod *types.Pod, status types.PodStatus, message string) error {
	if pod.Status == status {
		return nil
	}
	if !isLegalTransition(pod.Status, status) {
		c.logger.Warn().Str("pod_id", pod.ID).Str("from", string(pod.Status)).Str("to", string(status)).
			Msg("rejected illegal pod status transition reported by agent")
		return starkerr.Invalid("HandlePodStatus", fmt.Sprintf("illegal transition %s -> %s", pod.Status, status))
	}
	c.clearStopDeadline(pod.ID)
	return c.transition(pod, status, "agent_report", message, "agent")
}

// HandleNodeLost fails every non-terminal pod resident on a node that has
// exceeded the Lost heartbeat threshold, so the scheduler reschedules them
// on its next cycle instead of leaving them stuck (§8 "Node loss").
func (c *Controller) HandleNodeLost(pods []*types.Pod) {
	for _, pod := range pods {
		if isTerminal(pod.Status) {
			continue
		}
		if err := c.transition(pod, types.PodFailed, "NodeLost", "node heartbeat lost", "reconciler"); err != nil {
			c.logger.Error().Err(err).Str("pod_id", pod.ID).Msg("failed to fail pod on lost node")
		}
	}
}

// transition validates, applies, and persists a single state change,
// writing the PodHistoryEntry before the pod row (§4.5 "atomically with").
func (c *Controller) transition(pod *types.Pod, to types.PodStatus, reason, message, actor string) error {
	from := pod.Status
	now := time.Now()

	entry := &types.PodHistoryEntry{
		ID:             uuid.New().String(),
		PodID:          pod.ID,
		Action:         "transition",
		PreviousStatus: from,
		NewStatus:      to,
		PreviousNodeID: pod.NodeID,
		NewNodeID:      pod.NodeID,
		Reason:         reason,
		Message:        message,
		ActorID:        actor,
		Timestamp:      now,
	}
	if err := c.store.AppendPodHistory(entry); err != nil {
		return fmt.Errorf("failed to append pod history: %w", err)
	}

	pod.Status = to
	pod.StatusMessage = message
	pod.UpdatedAt = now
	if err := c.store.UpdatePod(pod); err != nil {
		return fmt.Errorf("failed to update pod: %w", err)
	}

	c.logger.Info().Str("pod_id", pod.ID).Str("from", string(from)).Str("to", string(to)).Str("reason", reason).Msg("pod transitioned")
	c.publish(pod, to, message)
	return nil
}

func (c *Controller) publish(pod *types.Pod, status types.PodStatus, message string) {
	if c.broker == nil {
		return
	}
	var evtType events.EventType
	switch status {
	case types.PodRunning:
		evtType = events.EventPodStarted
	case types.PodFailed:
		evtType = events.EventPodFailed
	case types.PodStopped:
		evtType = events.EventPodStopped
	case types.PodEvicted:
		evtType = events.EventPodEvicted
	default:
		return
	}
	c.broker.Publish(&events.Event{Type: evtType, ServiceID: pod.ServiceID, PodID: pod.ID, NodeID: pod.NodeID, Message: message})
}

// armStopDeadline force-stops pod if the agent hasn't confirmed shutdown
// within gracePeriod.
func (c *Controller) armStopDeadline(pod *types.Pod, gracePeriod time.Duration) {
	if gracePeriod <= 0 {
		gracePeriod = 30 * time.Second
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.stopDeadlines[pod.ID]; ok {
		existing.Stop()
	}
	c.stopDeadlines[pod.ID] = time.AfterFunc(gracePeriod, func() {
		c.mu.Lock()
		delete(c.stopDeadlines, pod.ID)
		c.mu.Unlock()

		if pod.Status != types.PodStopping {
			return
		}
		if err := c.transition(pod, types.PodStopped, "grace_period_expired", "", "lifecycle"); err != nil {
			c.logger.Error().Err(err).Str("pod_id", pod.ID).Msg("failed to force-stop pod after grace period")
		}
	})
}

func (c *Controller) clearStopDeadline(podID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.stopDeadlines[podID]; ok {
		t.Stop()
		delete(c.stopDeadlines, podID)
	}
}
