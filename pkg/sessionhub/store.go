package sessionhub

import (
	"time"

	"github.com/cuemby/stark/pkg/agentnet"
	"github.com/cuemby/stark/pkg/types"
)

// Store is the narrow slice of StateStore the hub reads and writes:
// node registration and the pod row a pod:status frame reports against.
type Store interface {
	GetNode(id string) (*types.Node, error)
	CreateNode(node *types.Node) error
	UpdateNode(node *types.Node) error
	GetPod(id string) (*types.Pod, error)
	UpdatePod(pod *types.Pod) error
}

// TokenValidator authenticates the auth frame's bearer token and reports
// the role it was issued for. Satisfied by statestore.StateStore.
type TokenValidator interface {
	ValidateJoinToken(token string) (role string, err error)
}

// PodStatusHandler applies an agent-reported pod:status frame to the pod
// state machine. Satisfied by pkg/lifecycle.Controller.
type PodStatusHandler interface {
	HandlePodStatus(pod *types.Pod, status types.PodStatus, message string) error
}

// SignalRelay forwards a signaling frame toward its destination pod,
// applying the network-policy and token checks in §4.6. Satisfied by
// pkg/signaling.Hub.
type SignalRelay interface {
	Relay(msgType MessageType, payload SignalPayload) error
}

// PodGroupRouter applies a podgroup:* frame to the ephemeral membership
// plane. Satisfied by pkg/podgroup.Store.
type PodGroupRouter interface {
	Join(groupID, podID string, ttl time.Duration, metadata map[string]string) error
	Leave(groupID, podID string) error
}

// QueryResultHandler resolves one target pod's leg of a queryPods fan-out
// (§4.9) as its podgroup:query-result frame arrives. Satisfied by
// pkg/podgroup.QueryCorrelator.
type QueryResultHandler interface {
	HandleResponse(resp types.EphemeralResponse)
}

// TargetResolver answers a target:resolve frame with the Service Registry's
// selectTarget(serviceId, strategy) decision (§4.3). Satisfied by
// pkg/agentnet.Selector.
type TargetResolver interface {
	SelectTarget(serviceID string, strategy agentnet.Strategy, ttl time.Duration) (*types.TargetCacheEntry, error)
}
