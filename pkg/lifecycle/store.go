package lifecycle

import "github.com/cuemby/stark/pkg/types"

// Store is the narrow slice of StateStore the lifecycle controller reads
// and writes. Declared locally so the controller can be unit-tested against
// a fake without bringing up Raft.
type Store interface {
	GetPod(id string) (*types.Pod, error)
	UpdatePod(pod *types.Pod) error
	GetPack(id string) (*types.Pack, error)
	AppendPodHistory(entry *types.PodHistoryEntry) error
}

// TokenIssuer mints the short-lived pod-scoped token (and its refresh
// counterpart) handed to an agent on deploy, used to authenticate signaling
// frames originating from that pod (§4.5 "Token issuance"). cmd/stark wires
// this to statestore.StateStore.GenerateSignalingToken.
type TokenIssuer interface {
	IssuePodToken(podID string) (podToken, refreshToken string, err error)
}
