package agentnet

import "github.com/cuemby/stark/pkg/types"

// Store is the narrow slice of StateStore the target selector reads.
// Satisfied by statestore.StateStore.
type Store interface {
	ListPodsByService(serviceID string) ([]*types.Pod, error)
	GetNode(id string) (*types.Node, error)
}
