package scheduler

import "github.com/cuemby/stark/pkg/types"

// Store is the narrow slice of StateStore the scheduler reads and writes.
// Declared locally so the scheduler can be unit-tested against a fake
// without bringing up Raft.
type Store interface {
	ListServices() ([]*types.Service, error)
	ListDeployments() ([]*types.Deployment, error)
	ListNodes() ([]*types.Node, error)
	ListPodsByService(serviceID string) ([]*types.Pod, error)
	ListPodsByDeployment(deploymentID string) ([]*types.Pod, error)
	GetPack(id string) (*types.Pack, error)

	CreatePod(pod *types.Pod) error
	UpdatePod(pod *types.Pod) error
	UpdateService(service *types.Service) error
	UpdateDeployment(deployment *types.Deployment) error
	AppendPodHistory(entry *types.PodHistoryEntry) error
}
