package sessionhub

import "encoding/json"

// MessageType discriminates frames on the Agent <-> Orchestrator wire
// protocol (§6).
type MessageType string

const (
	MsgAuth             MessageType = "auth"
	MsgRegister         MessageType = "register"
	MsgHeartbeat        MessageType = "heartbeat"
	MsgPodDeploy        MessageType = "pod:deploy"
	MsgPodStop          MessageType = "pod:stop"
	MsgPodStatus        MessageType = "pod:status"
	MsgSignalOffer      MessageType = "signal:offer"
	MsgSignalAnswer     MessageType = "signal:answer"
	MsgSignalICE        MessageType = "signal:ice"
	MsgGroupJoin        MessageType = "podgroup:join"
	MsgGroupLeave       MessageType = "podgroup:leave"
	MsgGroupMembers     MessageType = "podgroup:members"
	MsgGroupQuery       MessageType = "podgroup:query"
	MsgGroupQueryResult MessageType = "podgroup:query-result"
	MsgTargetResolve    MessageType = "target:resolve"
	MsgTargetResolved   MessageType = "target:resolved"
)

// Envelope is the outer frame every message is wrapped in. CorrelationID
// pairs a request with its response; it is echoed back verbatim and is
// otherwise opaque to the hub.
type Envelope struct {
	Type          MessageType     `json:"type"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// AuthPayload authenticates a newly opened connection.
type AuthPayload struct {
	Token string `json:"token"`
}

// RegisterPayload declares the node's identity and capacity.
type RegisterPayload struct {
	NodeName     string            `json:"nodeName"`
	Capabilities []string          `json:"capabilities"`
	Allocatable  ResourcesPayload  `json:"allocatable"`
	Labels       map[string]string `json:"labels"`
	Taints       []TaintPayload    `json:"taints"`
}

// ResourcesPayload mirrors types.NodeResources on the wire.
type ResourcesPayload struct {
	CPUMillis    int64 `json:"cpuMillis"`
	MemBytes     int64 `json:"memBytes"`
	StorageBytes int64 `json:"storageBytes"`
}

// TaintPayload mirrors types.Taint on the wire.
type TaintPayload struct {
	Key    string `json:"key"`
	Value  string `json:"value"`
	Effect string `json:"effect"`
}

// HeartbeatPayload reports node load and per-pod running/dead state,
// independent of explicit pod:status transitions (§4.5).
type HeartbeatPayload struct {
	UsedResources ResourcesPayload `json:"usedResources"`
	PodStatuses   []PodStatusEntry `json:"podStatuses"`
}

// PodStatusEntry is one pod's reported state within a heartbeat. Healthy
// reflects the agent's own application-level check (pkg/health), distinct
// from Alive which only reflects whether the container process is up.
type PodStatusEntry struct {
	PodID   string `json:"podId"`
	Alive   bool   `json:"alive"`
	Healthy bool   `json:"healthy"`
}

// PodDeployPayload is the orchestrator -> agent command to start a pod.
type PodDeployPayload struct {
	PodID        string            `json:"podId"`
	ServiceID    string            `json:"serviceId,omitempty"`
	DeploymentID string            `json:"deploymentId,omitempty"`
	PackID       string            `json:"packId"`
	PackVersion  string            `json:"packVersion"`
	BundleRef    string            `json:"bundleRef"`
	Capabilities []string          `json:"capabilities"`
	PodToken     string            `json:"podToken"`
	RefreshToken string            `json:"refreshToken"`
	Env          map[string]string `json:"env,omitempty"`
}

// PodStopPayload is the orchestrator -> agent command to stop a pod.
type PodStopPayload struct {
	PodID       string `json:"podId"`
	Reason      string `json:"reason"`
	GracePeriod int64  `json:"gracePeriodMs"`
}

// PodStatusPayload is the agent -> orchestrator report of a pod transition.
type PodStatusPayload struct {
	PodID   string `json:"podId"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// SignalPayload carries a WebRTC offer/answer/ICE frame (§4.6).
type SignalPayload struct {
	FromPodID string          `json:"fromPodId"`
	ToPodID   string          `json:"toPodId"`
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature"`
}

// PodGroupPayload carries a join/leave/members frame (§4.9).
type PodGroupPayload struct {
	GroupID  string            `json:"groupId"`
	PodID    string            `json:"podId"`
	TTLMs    int64             `json:"ttlMs,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Members  []string          `json:"members,omitempty"`
}

// PodGroupQueryPayload is the orchestrator -> agent leg of a queryPods
// fan-out (§4.9): deliver path/query to every target pod's hosting node.
type PodGroupQueryPayload struct {
	QueryID   string            `json:"queryId"`
	TargetIDs []string          `json:"targetIds"`
	Path      string            `json:"path"`
	Query     map[string]string `json:"query,omitempty"`
	DeadlineMs int64            `json:"deadlineMs"`
}

// PodGroupQueryResultPayload is the agent -> orchestrator reply to one
// target pod's leg of a queryPods fan-out.
type PodGroupQueryResultPayload struct {
	QueryID string `json:"queryId"`
	PodID   string `json:"podId"`
	Status  int    `json:"status,omitempty"`
	Body    []byte `json:"body,omitempty"`
	Err     string `json:"err,omitempty"`
}

// TargetResolvePayload is an agent's selectTarget(serviceId, strategy) call
// (§4.3) when its local Target Cache misses. Answered synchronously via the
// correlationId the envelope carries.
type TargetResolvePayload struct {
	ServiceID string `json:"serviceId"`
	Strategy  string `json:"strategy,omitempty"`
	TTLMs     int64  `json:"ttlMs,omitempty"`
}

// TargetResolvedPayload mirrors types.TargetCacheEntry on the wire, or
// carries Err when the service has no selectable target.
type TargetResolvedPayload struct {
	ServiceID    string `json:"serviceId"`
	TargetPodID  string `json:"targetPodId,omitempty"`
	TargetNodeID string `json:"targetNodeId,omitempty"`
	ExpiresAtMs  int64  `json:"expiresAtMs,omitempty"`
	Err          string `json:"err,omitempty"`
}
