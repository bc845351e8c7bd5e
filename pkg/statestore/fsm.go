package statestore

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/cuemby/stark/pkg/types"
	"github.com/hashicorp/raft"
)

// FSM implements the Raft finite state machine over a Store. Every write to
// cluster state goes through Apply so it is replicated and ordered before it
// lands in the local BoltDB copy.
type FSM struct {
	mu    sync.RWMutex
	store Store
}

// NewFSM creates an FSM backed by store.
func NewFSM(store Store) *FSM {
	return &FSM{store: store}
}

// Command is a single state-change operation carried in the Raft log.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// Op names recognized by Apply. Defined as constants so Apply's switch and
// the command constructors in manager.go can't drift out of sync the way
// the op names only loosely agreed before.
const (
	OpCreateNode   = "create_node"
	OpUpdateNode   = "update_node"
	OpDeleteNode   = "delete_node"

	OpCreatePack = "create_pack"
	OpDeletePack = "delete_pack"

	OpCreateService = "create_service"
	OpUpdateService = "update_service"
	OpDeleteService = "delete_service"

	OpCreateDeployment = "create_deployment"
	OpUpdateDeployment = "update_deployment"
	OpDeleteDeployment = "delete_deployment"

	OpCreatePod = "create_pod"
	OpUpdatePod = "update_pod"
	OpDeletePod = "delete_pod"

	OpAppendPodHistory = "append_pod_history"

	OpCreateNetworkPolicy = "create_network_policy"
	OpDeleteNetworkPolicy = "delete_network_policy"

	OpSaveServiceNetworkMeta = "save_service_network_meta"
)

// Apply applies a committed Raft log entry to the FSM.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case OpCreateNode, OpUpdateNode:
		var node types.Node
		if err := json.Unmarshal(cmd.Data, &node); err != nil {
			return err
		}
		return f.store.CreateNode(&node)

	case OpDeleteNode:
		var id string
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteNode(id)

	case OpCreatePack:
		var pack types.Pack
		if err := json.Unmarshal(cmd.Data, &pack); err != nil {
			return err
		}
		return f.store.CreatePack(&pack)

	case OpDeletePack:
		var id string
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeletePack(id)

	case OpCreateService, OpUpdateService:
		var service types.Service
		if err := json.Unmarshal(cmd.Data, &service); err != nil {
			return err
		}
		return f.store.CreateService(&service)

	case OpDeleteService:
		var id string
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteService(id)

	case OpCreateDeployment, OpUpdateDeployment:
		var deployment types.Deployment
		if err := json.Unmarshal(cmd.Data, &deployment); err != nil {
			return err
		}
		return f.store.CreateDeployment(&deployment)

	case OpDeleteDeployment:
		var id string
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteDeployment(id)

	case OpCreatePod, OpUpdatePod:
		var pod types.Pod
		if err := json.Unmarshal(cmd.Data, &pod); err != nil {
			return err
		}
		return f.store.CreatePod(&pod)

	case OpDeletePod:
		var id string
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeletePod(id)

	case OpAppendPodHistory:
		var entry types.PodHistoryEntry
		if err := json.Unmarshal(cmd.Data, &entry); err != nil {
			return err
		}
		return f.store.AppendPodHistory(&entry)

	case OpCreateNetworkPolicy:
		var policy types.NetworkPolicy
		if err := json.Unmarshal(cmd.Data, &policy); err != nil {
			return err
		}
		return f.store.CreateNetworkPolicy(&policy)

	case OpDeleteNetworkPolicy:
		var id string
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteNetworkPolicy(id)

	case OpSaveServiceNetworkMeta:
		var meta types.ServiceNetworkMeta
		if err := json.Unmarshal(cmd.Data, &meta); err != nil {
			return err
		}
		return f.store.SaveServiceNetworkMeta(&meta)

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// Snapshot captures a point-in-time copy of cluster state for log compaction.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	nodes, err := f.store.ListNodes()
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	packs, err := f.store.ListPacks()
	if err != nil {
		return nil, fmt.Errorf("failed to list packs: %w", err)
	}
	services, err := f.store.ListServices()
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	deployments, err := f.store.ListDeployments()
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	pods, err := f.store.ListPods()
	if err != nil {
		return nil, fmt.Errorf("failed to list pods: %w", err)
	}
	policies, err := f.store.ListNetworkPolicies()
	if err != nil {
		return nil, fmt.Errorf("failed to list network policies: %w", err)
	}

	return &Snapshot{
		Nodes:       nodes,
		Packs:       packs,
		Services:    services,
		Deployments: deployments,
		Pods:        pods,
		Policies:    policies,
	}, nil
}

// Restore rebuilds the FSM from a previously persisted snapshot.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap Snapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, node := range snap.Nodes {
		if err := f.store.CreateNode(node); err != nil {
			return fmt.Errorf("failed to restore node: %w", err)
		}
	}
	for _, pack := range snap.Packs {
		if err := f.store.CreatePack(pack); err != nil {
			return fmt.Errorf("failed to restore pack: %w", err)
		}
	}
	for _, service := range snap.Services {
		if err := f.store.CreateService(service); err != nil {
			return fmt.Errorf("failed to restore service: %w", err)
		}
	}
	for _, deployment := range snap.Deployments {
		if err := f.store.CreateDeployment(deployment); err != nil {
			return fmt.Errorf("failed to restore deployment: %w", err)
		}
	}
	for _, pod := range snap.Pods {
		if err := f.store.CreatePod(pod); err != nil {
			return fmt.Errorf("failed to restore pod: %w", err)
		}
	}
	for _, policy := range snap.Policies {
		if err := f.store.CreateNetworkPolicy(policy); err != nil {
			return fmt.Errorf("failed to restore network policy: %w", err)
		}
	}

	return nil
}

// Snapshot is a point-in-time copy of replicated cluster state.
type Snapshot struct {
	Nodes       []*types.Node
	Packs       []*types.Pack
	Services    []*types.Service
	Deployments []*types.Deployment
	Pods        []*types.Pod
	Policies    []*types.NetworkPolicy
}

// Persist writes the snapshot to the Raft-provided sink.
func (s *Snapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

// Release is a no-op; Snapshot holds no resources beyond the encoded bytes.
func (s *Snapshot) Release() {}
