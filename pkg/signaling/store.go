package signaling

import (
	"github.com/cuemby/stark/pkg/netpolicy"
	"github.com/cuemby/stark/pkg/types"
)

// Store is the narrow slice of StateStore the signaling hub reads.
// Satisfied by statestore.StateStore.
type Store interface {
	GetPod(id string) (*types.Pod, error)
}

// TokenVerifier validates the signature a frame carries and reports the
// role it was issued for, mirroring statestore.StateStore's
// GenerateSignalingToken/ValidateJoinToken pair: a pod's signaling token
// is always minted with role "pod:"+podID.
type TokenVerifier interface {
	ValidateJoinToken(token string) (role string, err error)
}

// PolicyChecker is the subset of pkg/netpolicy's Engine this package
// depends on. Satisfied directly by *netpolicy.Engine.
type PolicyChecker interface {
	IsAllowed(req netpolicy.Request) (bool, error)
}
