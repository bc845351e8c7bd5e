package statestore

import "github.com/cuemby/stark/pkg/types"

// CAStore is the subset of Store the certificate authority persists through.
// Kept as its own interface so pkg/security depends on nothing else here.
type CAStore interface {
	SaveCA(data []byte) error
	GetCA() ([]byte, error)
}

// Store defines the interface for cluster state storage. BoltStore is the
// only implementation; it backs both the Raft FSM (replicated writes) and
// direct local reads.
type Store interface {
	// Nodes
	CreateNode(node *types.Node) error
	GetNode(id string) (*types.Node, error)
	ListNodes() ([]*types.Node, error)
	UpdateNode(node *types.Node) error
	DeleteNode(id string) error

	// Packs
	CreatePack(pack *types.Pack) error
	GetPack(id string) (*types.Pack, error)
	GetPackByNameVersion(name, version string) (*types.Pack, error)
	ListPacks() ([]*types.Pack, error)
	DeletePack(id string) error

	// Services
	CreateService(service *types.Service) error
	GetService(id string) (*types.Service, error)
	GetServiceByName(name string) (*types.Service, error)
	ListServices() ([]*types.Service, error)
	UpdateService(service *types.Service) error
	DeleteService(id string) error

	// Deployments
	CreateDeployment(deployment *types.Deployment) error
	GetDeployment(id string) (*types.Deployment, error)
	GetDeploymentByName(name string) (*types.Deployment, error)
	ListDeployments() ([]*types.Deployment, error)
	UpdateDeployment(deployment *types.Deployment) error
	DeleteDeployment(id string) error

	// Pods
	CreatePod(pod *types.Pod) error
	GetPod(id string) (*types.Pod, error)
	ListPods() ([]*types.Pod, error)
	ListPodsByService(serviceID string) ([]*types.Pod, error)
	ListPodsByDeployment(deploymentID string) ([]*types.Pod, error)
	ListPodsByNode(nodeID string) ([]*types.Pod, error)
	UpdatePod(pod *types.Pod) error
	DeletePod(id string) error

	// Pod history (append-only)
	AppendPodHistory(entry *types.PodHistoryEntry) error
	ListPodHistory(podID string) ([]*types.PodHistoryEntry, error)

	// Network policy (legacy explicit-rule form, §4.7)
	CreateNetworkPolicy(policy *types.NetworkPolicy) error
	ListNetworkPolicies() ([]*types.NetworkPolicy, error)
	DeleteNetworkPolicy(id string) error

	// Service network metadata (expose-model form, §4.7)
	SaveServiceNetworkMeta(meta *types.ServiceNetworkMeta) error
	GetServiceNetworkMeta(serviceID string) (*types.ServiceNetworkMeta, error)

	// Certificate Authority
	CAStore

	// Utility
	Close() error
}
