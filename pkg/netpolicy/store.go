package netpolicy

import "github.com/cuemby/stark/pkg/types"

// Store is the narrow slice of StateStore the policy engine reads.
// Satisfied by statestore.StateStore.
type Store interface {
	ListNetworkPolicies() ([]*types.NetworkPolicy, error)
	GetServiceNetworkMeta(serviceID string) (*types.ServiceNetworkMeta, error)
}
