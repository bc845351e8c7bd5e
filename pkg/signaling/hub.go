package signaling

import (
	"fmt"

	"github.com/cuemby/stark/pkg/log"
	"github.com/cuemby/stark/pkg/netpolicy"
	"github.com/cuemby/stark/pkg/sessionhub"
	"github.com/cuemby/stark/pkg/starkerr"
	"github.com/rs/zerolog"
)

// AgentSender delivers an already-verified frame to the node currently
// hosting its destination pod. Satisfied directly by *sessionhub.Hub's
// SendSignal method.
type AgentSender interface {
	SendSignal(nodeID string, msgType sessionhub.MessageType, payload sessionhub.SignalPayload) error
}

// Hub implements pkg/sessionhub's SignalRelay: it is the collaborator
// sessionhub.Hub hands every signal:* frame to.
type Hub struct {
	store  Store
	tokens TokenVerifier
	policy PolicyChecker
	sender AgentSender
	logger zerolog.Logger
}

// NewHub creates a signaling hub. sender is typically the same
// *sessionhub.Hub that will later call Relay on this hub, wired together
// by cmd/stark at startup.
func NewHub(store Store, tokens TokenVerifier, policy PolicyChecker, sender AgentSender) *Hub {
	return &Hub{
		store:  store,
		tokens: tokens,
		policy: policy,
		sender: sender,
		logger: log.WithComponent("signaling"),
	}
}

// Relay verifies and forwards one offer/answer/ICE frame, implementing
// pkg/sessionhub's SignalRelay interface.
func (h *Hub) Relay(msgType sessionhub.MessageType, payload sessionhub.SignalPayload) error {
	if err := h.verifySignature(payload); err != nil {
		return err
	}

	fromPod, err := h.store.GetPod(payload.FromPodID)
	if err != nil {
		return fmt.Errorf("failed to load fromPodId %s: %w", payload.FromPodID, err)
	}
	if fromPod == nil {
		return starkerr.NotFound("Relay", "fromPodId "+payload.FromPodID+" not found")
	}

	toPod, err := h.store.GetPod(payload.ToPodID)
	if err != nil {
		return fmt.Errorf("failed to load toPodId %s: %w", payload.ToPodID, err)
	}
	if toPod == nil || toPod.NodeID == "" {
		return starkerr.NotFound("Relay", "toPodId "+payload.ToPodID+" is not assigned to a known node")
	}

	allowed, err := h.policy.IsAllowed(netpolicy.Request{
		SourceServiceID: fromPod.ServiceID,
		TargetServiceID: toPod.ServiceID,
	})
	if err != nil {
		return fmt.Errorf("failed to evaluate network policy for %s -> %s: %w", fromPod.ServiceID, toPod.ServiceID, err)
	}
	if !allowed {
		h.logger.Info().Str("from_pod", fromPod.ID).Str("to_pod", toPod.ID).
			Str("from_service", fromPod.ServiceID).Str("to_service", toPod.ServiceID).
			Msg("signaling frame denied by network policy")
		return starkerr.PolicyDenied("Relay", fmt.Sprintf("%s -> %s is not permitted", fromPod.ServiceID, toPod.ServiceID))
	}

	return h.sender.SendSignal(toPod.NodeID, msgType, payload)
}

// verifySignature confirms the signature on the frame is a live token
// issued for exactly fromPodId, preventing one pod from signaling on
// another pod's behalf.
func (h *Hub) verifySignature(payload sessionhub.SignalPayload) error {
	if payload.Signature == "" {
		return starkerr.Auth("verifySignature", "signal frame carries no signature")
	}
	role, err := h.tokens.ValidateJoinToken(payload.Signature)
	if err != nil {
		return starkerr.Auth("verifySignature", "signature rejected: "+err.Error())
	}
	if role != "pod:"+payload.FromPodID {
		return starkerr.Auth("verifySignature", "signature does not authorize fromPodId "+payload.FromPodID)
	}
	return nil
}
