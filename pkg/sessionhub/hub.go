package sessionhub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/stark/pkg/agentnet"
	"github.com/cuemby/stark/pkg/log"
	"github.com/cuemby/stark/pkg/starkerr"
	"github.com/cuemby/stark/pkg/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Hub accepts one websocket connection per agent node, authenticates it,
// and dispatches the framed protocol to the collaborators that own the
// decisions behind each frame.
type Hub struct {
	store     Store
	tokens    TokenValidator
	pods      PodStatusHandler
	signaling SignalRelay
	groups    PodGroupRouter
	queries   QueryResultHandler
	targets   TargetResolver
	logger    zerolog.Logger

	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*session // nodeID -> session
}

// NewHub creates a session hub. signaling and groups may be nil until
// pkg/signaling and pkg/podgroup are wired in; frames destined for them are
// rejected with a clear error in that case rather than panicking.
func NewHub(store Store, tokens TokenValidator, pods PodStatusHandler, signaling SignalRelay, groups PodGroupRouter) *Hub {
	return &Hub{
		store:     store,
		tokens:    tokens,
		pods:      pods,
		signaling: signaling,
		groups:    groups,
		logger:    log.WithComponent("sessionhub"),
		upgrader:  websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		sessions:  make(map[string]*session),
	}
}

// SetQueryResultHandler wires the podgroup query correlator so
// podgroup:query-result frames resolve their pending fan-out. It may be
// called after NewHub once pkg/podgroup is constructed, since the
// correlator and the hub are mutually referential (the correlator needs a
// QuerySender backed by this same Hub).
func (h *Hub) SetQueryResultHandler(handler QueryResultHandler) {
	h.queries = handler
}

// SetSignalRelay wires pkg/signaling's Hub in after construction, for the
// same reason as SetQueryResultHandler: pkg/signaling.NewHub takes this Hub
// as its AgentSender, so neither side can be built first.
func (h *Hub) SetSignalRelay(relay SignalRelay) {
	h.signaling = relay
}

// SetPodGroupRouter wires pkg/podgroup's Store in after construction.
func (h *Hub) SetPodGroupRouter(router PodGroupRouter) {
	h.groups = router
}

// SetPodStatusHandler wires pkg/lifecycle's Controller in after
// construction: the same mutual-reference shape as the setters above, since
// Controller's constructor takes this Hub as its AgentDispatcher.
func (h *Hub) SetPodStatusHandler(handler PodStatusHandler) {
	h.pods = handler
}

// SetTargetResolver wires pkg/agentnet's Selector in after construction, so
// target:resolve frames can be answered. Unlike the other collaborators this
// one has no back-reference to the Hub, but the setter keeps construction
// order uniform across all of this Hub's collaborators.
func (h *Hub) SetTargetResolver(resolver TargetResolver) {
	h.targets = resolver
}

// ServeHTTP upgrades the connection and runs the session until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	s := newSession(conn)
	go s.writePump()
	h.readLoop(s)
}

func (h *Hub) readLoop(s *session) {
	defer h.unregister(s)
	defer s.close()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.logger.Warn().Err(err).Msg("malformed envelope, dropping connection")
			return
		}
		if err := h.handle(s, env); err != nil {
			h.logger.Warn().Err(err).Str("type", string(env.Type)).Msg("envelope handling failed")
			if kind, ok := starkerr.KindOf(err); ok && kind == starkerr.KindAuth {
				return
			}
		}
	}
}

func (h *Hub) unregister(s *session) {
	if s.nodeID == "" {
		return
	}
	h.mu.Lock()
	if h.sessions[s.nodeID] == s {
		delete(h.sessions, s.nodeID)
	}
	h.mu.Unlock()
}

func (h *Hub) handle(s *session, env Envelope) error {
	switch env.Type {
	case MsgAuth:
		return h.handleAuth(s, env)
	case MsgRegister:
		return h.handleRegister(s, env)
	case MsgHeartbeat:
		return h.handleHeartbeat(s, env)
	case MsgPodStatus:
		return h.handlePodStatus(s, env)
	case MsgSignalOffer, MsgSignalAnswer, MsgSignalICE:
		return h.handleSignal(s, env)
	case MsgGroupJoin, MsgGroupLeave:
		return h.handleGroup(s, env)
	case MsgGroupQueryResult:
		return h.handleGroupQueryResult(s, env)
	case MsgTargetResolve:
		return h.handleTargetResolve(s, env)
	default:
		if s.nodeID == "" {
			return starkerr.Auth("handle", "first frame on a connection must be auth")
		}
		return starkerr.Invalid("handle", fmt.Sprintf("unknown message type %q", env.Type))
	}
}

func (h *Hub) handleAuth(s *session, env Envelope) error {
	var payload AuthPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return starkerr.Invalid("handleAuth", "malformed auth payload")
	}
	role, err := h.tokens.ValidateJoinToken(payload.Token)
	if err != nil {
		return starkerr.Auth("handleAuth", "token rejected: "+err.Error())
	}
	s.role = role
	return nil
}

func (h *Hub) handleRegister(s *session, env Envelope) error {
	if s.role == "" {
		return starkerr.Auth("handleRegister", "register received before auth")
	}
	var payload RegisterPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return starkerr.Invalid("handleRegister", "malformed register payload")
	}

	taints := make([]types.Taint, 0, len(payload.Taints))
	for _, t := range payload.Taints {
		taints = append(taints, types.Taint{Key: t.Key, Value: t.Value, Effect: types.TaintEffect(t.Effect)})
	}

	node := &types.Node{
		ID:           uuid.New().String(),
		Name:         payload.NodeName,
		RuntimeType:  types.RuntimeServer,
		Capabilities: payload.Capabilities,
		Allocatable: &types.NodeResources{
			CPUMillis:    payload.Allocatable.CPUMillis,
			MemBytes:     payload.Allocatable.MemBytes,
			StorageBytes: payload.Allocatable.StorageBytes,
		},
		Labels:        payload.Labels,
		Taints:        taints,
		Status:        types.NodeReady,
		LastHeartbeat: time.Now(),
		CreatedAt:     time.Now(),
	}
	if err := h.store.CreateNode(node); err != nil {
		return fmt.Errorf("failed to register node: %w", err)
	}

	s.nodeID = node.ID
	h.mu.Lock()
	h.sessions[node.ID] = s
	h.mu.Unlock()

	h.logger.Info().Str("node_id", node.ID).Str("node_name", node.Name).Msg("agent registered")
	return nil
}

func (h *Hub) handleHeartbeat(s *session, env Envelope) error {
	if s.nodeID == "" {
		return starkerr.Auth("handleHeartbeat", "heartbeat before register")
	}
	var payload HeartbeatPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return starkerr.Invalid("handleHeartbeat", "malformed heartbeat payload")
	}

	node, err := h.store.GetNode(s.nodeID)
	if err != nil {
		return fmt.Errorf("failed to load node %s: %w", s.nodeID, err)
	}
	node.LastHeartbeat = time.Now()
	if node.Status != types.NodeReady {
		node.Status = types.NodeReady
	}
	if err := h.store.UpdateNode(node); err != nil {
		return err
	}

	for _, entry := range payload.PodStatuses {
		pod, err := h.store.GetPod(entry.PodID)
		if err != nil || pod == nil || pod.Healthy == entry.Healthy {
			continue
		}
		pod.Healthy = entry.Healthy
		_ = h.store.UpdatePod(pod)
	}
	return nil
}

func (h *Hub) handlePodStatus(s *session, env Envelope) error {
	var payload PodStatusPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return starkerr.Invalid("handlePodStatus", "malformed pod:status payload")
	}
	pod, err := h.store.GetPod(payload.PodID)
	if err != nil {
		return fmt.Errorf("failed to load pod %s: %w", payload.PodID, err)
	}
	if pod == nil {
		return starkerr.NotFound("handlePodStatus", "pod "+payload.PodID+" not found")
	}
	return h.pods.HandlePodStatus(pod, types.PodStatus(payload.Status), payload.Message)
}

func (h *Hub) handleSignal(s *session, env Envelope) error {
	if h.signaling == nil {
		return starkerr.Invalid("handleSignal", "signaling hub not wired")
	}
	var payload SignalPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return starkerr.Invalid("handleSignal", "malformed signal payload")
	}
	return h.signaling.Relay(env.Type, payload)
}

func (h *Hub) handleGroup(s *session, env Envelope) error {
	if h.groups == nil {
		return starkerr.Invalid("handleGroup", "podgroup store not wired")
	}
	var payload PodGroupPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return starkerr.Invalid("handleGroup", "malformed podgroup payload")
	}
	switch env.Type {
	case MsgGroupJoin:
		return h.groups.Join(payload.GroupID, payload.PodID, time.Duration(payload.TTLMs)*time.Millisecond, payload.Metadata)
	case MsgGroupLeave:
		return h.groups.Leave(payload.GroupID, payload.PodID)
	default:
		return starkerr.Invalid("handleGroup", fmt.Sprintf("unexpected group message type %q", env.Type))
	}
}

func (h *Hub) handleGroupQueryResult(s *session, env Envelope) error {
	if h.queries == nil {
		return starkerr.Invalid("handleGroupQueryResult", "query correlator not wired")
	}
	var payload PodGroupQueryResultPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return starkerr.Invalid("handleGroupQueryResult", "malformed podgroup:query-result payload")
	}
	h.queries.HandleResponse(types.EphemeralResponse{
		QueryID: payload.QueryID,
		PodID:   payload.PodID,
		Status:  payload.Status,
		Body:    payload.Body,
		Err:     payload.Err,
	})
	return nil
}

// handleTargetResolve answers an agent's selectTarget(serviceId, strategy)
// call (§4.3) synchronously, replying on the same connection with the same
// correlationId so the agent can pair the response to its pending call.
func (h *Hub) handleTargetResolve(s *session, env Envelope) error {
	if h.targets == nil {
		return starkerr.Invalid("handleTargetResolve", "target resolver not wired")
	}
	var payload TargetResolvePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return starkerr.Invalid("handleTargetResolve", "malformed target:resolve payload")
	}
	strategy := agentnet.Strategy(payload.Strategy)
	ttl := time.Duration(payload.TTLMs) * time.Millisecond

	entry, err := h.targets.SelectTarget(payload.ServiceID, strategy, ttl)
	resp := TargetResolvedPayload{ServiceID: payload.ServiceID}
	if err != nil {
		resp.Err = err.Error()
	} else {
		resp.TargetPodID = entry.TargetPodID
		resp.TargetNodeID = entry.TargetNodeID
		resp.ExpiresAtMs = entry.ExpiresAt.UnixMilli()
	}

	data, marshalErr := json.Marshal(resp)
	if marshalErr != nil {
		return fmt.Errorf("failed to marshal target:resolved payload: %w", marshalErr)
	}
	return s.sendEnvelope(Envelope{Type: MsgTargetResolved, CorrelationID: env.CorrelationID, Payload: data})
}

// SendQuery implements pkg/podgroup's QuerySender by sending a
// podgroup:query frame to the session registered for nodeID; the reply
// arrives asynchronously as a podgroup:query-result frame resolved through
// SetQueryResultHandler.
func (h *Hub) SendQuery(nodeID string, query types.EphemeralQuery) error {
	s, err := h.sessionFor(nodeID)
	if err != nil {
		return err
	}
	payload := PodGroupQueryPayload{
		QueryID:    query.QueryID,
		TargetIDs:  query.TargetIDs,
		Path:       query.Path,
		Query:      query.Query,
		DeadlineMs: query.Deadline.UnixMilli(),
	}
	return h.sendPayload(s, MsgGroupQuery, payload)
}

// Deploy implements pkg/lifecycle's AgentDispatcher by sending a pod:deploy
// frame to the session currently registered for nodeID.
func (h *Hub) Deploy(nodeID string, pod *types.Pod, pack *types.Pack, capabilities []string, podToken, refreshToken string) error {
	s, err := h.sessionFor(nodeID)
	if err != nil {
		return err
	}
	payload := PodDeployPayload{
		PodID:        pod.ID,
		ServiceID:    pod.ServiceID,
		DeploymentID: pod.DeploymentID,
		PackID:       pod.PackID,
		PackVersion:  pod.PackVersion,
		Capabilities: capabilities,
		PodToken:     podToken,
		RefreshToken: refreshToken,
	}
	if pack != nil {
		payload.BundleRef = pack.BundleRef
	}
	return h.sendPayload(s, MsgPodDeploy, payload)
}

// Stop implements pkg/lifecycle's AgentDispatcher by sending a pod:stop frame.
func (h *Hub) Stop(nodeID, podID, reason string, gracePeriod time.Duration) error {
	s, err := h.sessionFor(nodeID)
	if err != nil {
		return err
	}
	payload := PodStopPayload{PodID: podID, Reason: reason, GracePeriod: gracePeriod.Milliseconds()}
	return h.sendPayload(s, MsgPodStop, payload)
}

func (h *Hub) sessionFor(nodeID string) (*session, error) {
	h.mu.RLock()
	s, ok := h.sessions[nodeID]
	h.mu.RUnlock()
	if !ok {
		return nil, starkerr.TransportClosed("sessionFor", "no active session for node "+nodeID)
	}
	return s, nil
}

func (h *Hub) sendPayload(s *session, msgType MessageType, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
	}
	return s.sendEnvelope(Envelope{Type: msgType, CorrelationID: uuid.New().String(), Payload: data})
}

// SendSignal delivers a signal:* frame to the session registered for
// nodeID. Satisfies pkg/signaling's AgentSender interface, letting the
// signaling hub forward an offer/answer/ICE frame to its destination
// without this package needing to know anything about policy or pod
// token verification.
func (h *Hub) SendSignal(nodeID string, msgType MessageType, payload SignalPayload) error {
	s, err := h.sessionFor(nodeID)
	if err != nil {
		return err
	}
	return h.sendPayload(s, msgType, payload)
}

// SessionCount reports the number of currently registered agent sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
