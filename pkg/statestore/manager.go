package statestore

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/stark/pkg/events"
	"github.com/cuemby/stark/pkg/log"
	"github.com/cuemby/stark/pkg/metrics"
	"github.com/cuemby/stark/pkg/types"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// StateStore is a single Raft-replicated orchestrator replica: a local
// BoltDB-backed Store fronted by a Raft log that orders and replicates every
// write across the cluster.
type StateStore struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft        *raft.Raft
	fsm         *FSM
	store       Store
	tokenMgr    *TokenManager
	eventBroker *events.Broker
}

// Config holds the parameters needed to create a StateStore.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// New creates a StateStore. Call Bootstrap or Join afterward to start Raft.
func New(cfg *Config) (*StateStore, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	eventBroker := events.NewBroker()
	eventBroker.Start()

	return &StateStore{
		nodeID:      cfg.NodeID,
		bindAddr:    cfg.BindAddr,
		dataDir:     cfg.DataDir,
		fsm:         NewFSM(store),
		store:       store,
		tokenMgr:    NewTokenManager(),
		eventBroker: eventBroker,
	}, nil
}

// Store returns the underlying local store, e.g. so the CA can persist
// through it without statestore depending on the security package.
func (s *StateStore) Store() Store { return s.store }

// NodeID returns this replica's Raft server ID.
func (s *StateStore) NodeID() string { return s.nodeID }

// EventBroker returns the cluster event broker.
func (s *StateStore) EventBroker() *events.Broker { return s.eventBroker }

func (s *StateStore) raftConfig() *raft.Config {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(s.nodeID)

	// Tuned down from Hashicorp's WAN-conservative defaults for LAN/edge
	// deployments targeting sub-10s failover (§8 testable properties).
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond
	return config
}

func (s *StateStore) newRaft() (*raft.Raft, error) {
	addr, err := net.ResolveTCPAddr("tcp", s.bindAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(s.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(s.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(s.dataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(s.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create stable store: %w", err)
	}

	r, err := raft.NewRaft(s.raftConfig(), s.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("failed to create raft: %w", err)
	}
	return r, nil
}

// Bootstrap starts a brand new single-node Raft cluster with this replica as
// its only member.
func (s *StateStore) Bootstrap() error {
	r, err := s.newRaft()
	if err != nil {
		return err
	}
	s.raft = r

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{ID: raft.ServerID(s.nodeID), Address: raft.ServerAddress(s.bindAddr)},
		},
	}
	future := s.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to bootstrap cluster: %w", err)
	}

	log.Info(fmt.Sprintf("bootstrapped cluster as %s at %s", s.nodeID, s.bindAddr))
	return nil
}

// JoinAsVoter starts Raft for this replica; the caller is expected to have
// already had the leader AddVoter this replica's ID/address (via the
// admin API's node-join flow, §6 CLI surface).
func (s *StateStore) JoinAsVoter() error {
	r, err := s.newRaft()
	if err != nil {
		return err
	}
	s.raft = r
	return nil
}

// AddVoter adds a new replica to the Raft cluster. Must be called on the leader.
func (s *StateStore) AddVoter(nodeID, address string) error {
	if s.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !s.IsLeader() {
		return fmt.Errorf("not the leader, current leader: %s", s.LeaderAddr())
	}
	future := s.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	return future.Error()
}

// RemoveServer removes a replica from the Raft cluster. Must be called on the leader.
func (s *StateStore) RemoveServer(nodeID string) error {
	if s.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !s.IsLeader() {
		return fmt.Errorf("not the leader")
	}
	future := s.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	return future.Error()
}

// GetClusterServers lists the current Raft configuration's servers.
func (s *StateStore) GetClusterServers() ([]raft.Server, error) {
	if s.raft == nil {
		return nil, fmt.Errorf("raft not initialized")
	}
	future := s.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, err
	}
	return future.Configuration().Servers, nil
}

// IsLeader reports whether this replica currently holds Raft leadership.
func (s *StateStore) IsLeader() bool {
	return s.raft != nil && s.raft.State() == raft.Leader
}

// LeaderAddr returns the bind address of the current Raft leader, if known.
func (s *StateStore) LeaderAddr() string {
	if s.raft == nil {
		return ""
	}
	return string(s.raft.Leader())
}

// GetRaftStats reports Raft health for the metrics collector and admin API.
func (s *StateStore) GetRaftStats() map[string]interface{} {
	if s.raft == nil {
		return nil
	}
	stats := map[string]interface{}{
		"state":          s.raft.State().String(),
		"last_log_index": s.raft.LastIndex(),
		"applied_index":  s.raft.AppliedIndex(),
		"leader":         string(s.raft.Leader()),
	}
	if cfgFuture := s.raft.GetConfiguration(); cfgFuture.Error() == nil {
		stats["peers"] = uint64(len(cfgFuture.Configuration().Servers))
	} else {
		stats["peers"] = uint64(0)
	}
	return stats
}

// Apply submits a command to the Raft log and waits for it to commit.
func (s *StateStore) Apply(cmd Command) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftApplyDuration)

	if s.raft == nil {
		return fmt.Errorf("raft not initialized")
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	future := s.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to apply command: %w", err)
	}
	if resp := future.Response(); resp != nil {
		if applyErr, ok := resp.(error); ok && applyErr != nil {
			return applyErr
		}
	}
	return nil
}

func apply(s *StateStore, op string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Apply(Command{Op: op, Data: data})
}

// Node writes (replicated)

func (s *StateStore) CreateNode(node *types.Node) error { return apply(s, OpCreateNode, node) }
func (s *StateStore) UpdateNode(node *types.Node) error { return apply(s, OpUpdateNode, node) }
func (s *StateStore) DeleteNode(id string) error        { return apply(s, OpDeleteNode, id) }

// Pack writes (replicated)

func (s *StateStore) CreatePack(pack *types.Pack) error { return apply(s, OpCreatePack, pack) }
func (s *StateStore) DeletePack(id string) error        { return apply(s, OpDeletePack, id) }

// Service writes (replicated)

func (s *StateStore) CreateService(service *types.Service) error {
	return apply(s, OpCreateService, service)
}
func (s *StateStore) UpdateService(service *types.Service) error {
	return apply(s, OpUpdateService, service)
}
func (s *StateStore) DeleteService(id string) error { return apply(s, OpDeleteService, id) }

// Deployment writes (replicated)

func (s *StateStore) CreateDeployment(deployment *types.Deployment) error {
	return apply(s, OpCreateDeployment, deployment)
}
func (s *StateStore) UpdateDeployment(deployment *types.Deployment) error {
	return apply(s, OpUpdateDeployment, deployment)
}
func (s *StateStore) DeleteDeployment(id string) error { return apply(s, OpDeleteDeployment, id) }

// Pod writes (replicated)

func (s *StateStore) CreatePod(pod *types.Pod) error { return apply(s, OpCreatePod, pod) }
func (s *StateStore) UpdatePod(pod *types.Pod) error { return apply(s, OpUpdatePod, pod) }
func (s *StateStore) DeletePod(id string) error      { return apply(s, OpDeletePod, id) }

func (s *StateStore) AppendPodHistory(entry *types.PodHistoryEntry) error {
	return apply(s, OpAppendPodHistory, entry)
}

// Network policy writes (replicated)

func (s *StateStore) CreateNetworkPolicy(policy *types.NetworkPolicy) error {
	return apply(s, OpCreateNetworkPolicy, policy)
}
func (s *StateStore) DeleteNetworkPolicy(id string) error {
	return apply(s, OpDeleteNetworkPolicy, id)
}
func (s *StateStore) SaveServiceNetworkMeta(meta *types.ServiceNetworkMeta) error {
	return apply(s, OpSaveServiceNetworkMeta, meta)
}

// Reads go straight to the local store; Raft linearizability for reads is a
// non-goal here the same way it was for the teacher's manager.

func (s *StateStore) GetNode(id string) (*types.Node, error)       { return s.store.GetNode(id) }
func (s *StateStore) ListNodes() ([]*types.Node, error)             { return s.store.ListNodes() }
func (s *StateStore) GetPack(id string) (*types.Pack, error)       { return s.store.GetPack(id) }
func (s *StateStore) ListPacks() ([]*types.Pack, error)             { return s.store.ListPacks() }
func (s *StateStore) GetService(id string) (*types.Service, error) { return s.store.GetService(id) }
func (s *StateStore) GetServiceByName(name string) (*types.Service, error) {
	return s.store.GetServiceByName(name)
}
func (s *StateStore) ListServices() ([]*types.Service, error) { return s.store.ListServices() }
func (s *StateStore) GetDeployment(id string) (*types.Deployment, error) {
	return s.store.GetDeployment(id)
}
func (s *StateStore) ListDeployments() ([]*types.Deployment, error) {
	return s.store.ListDeployments()
}
func (s *StateStore) GetPod(id string) (*types.Pod, error) { return s.store.GetPod(id) }
func (s *StateStore) ListPods() ([]*types.Pod, error)       { return s.store.ListPods() }
func (s *StateStore) ListPodsByService(serviceID string) ([]*types.Pod, error) {
	return s.store.ListPodsByService(serviceID)
}
func (s *StateStore) ListPodsByDeployment(deploymentID string) ([]*types.Pod, error) {
	return s.store.ListPodsByDeployment(deploymentID)
}
func (s *StateStore) ListPodsByNode(nodeID string) ([]*types.Pod, error) {
	return s.store.ListPodsByNode(nodeID)
}
func (s *StateStore) ListPodHistory(podID string) ([]*types.PodHistoryEntry, error) {
	return s.store.ListPodHistory(podID)
}
func (s *StateStore) ListNetworkPolicies() ([]*types.NetworkPolicy, error) {
	return s.store.ListNetworkPolicies()
}
func (s *StateStore) GetServiceNetworkMeta(serviceID string) (*types.ServiceNetworkMeta, error) {
	return s.store.GetServiceNetworkMeta(serviceID)
}

// GenerateJoinToken mints a token a new node can present when joining.
func (s *StateStore) GenerateJoinToken(role string) (*JoinToken, error) {
	if !s.IsLeader() {
		return nil, fmt.Errorf("not the leader, tokens can only be generated by the leader")
	}
	return s.tokenMgr.GenerateToken(role, 24*time.Hour)
}

// ValidateJoinToken checks a join token and returns its granted role.
func (s *StateStore) ValidateJoinToken(token string) (string, error) {
	return s.tokenMgr.ValidateToken(token)
}

// GenerateSignalingToken mints a short-lived token scoped to one pod's
// signaling-hub session (§4.6 supplemented feature).
func (s *StateStore) GenerateSignalingToken(podID string) (*JoinToken, error) {
	return s.tokenMgr.GenerateToken("pod:"+podID, 5*time.Minute)
}

// Shutdown gracefully stops Raft and closes the local store.
func (s *StateStore) Shutdown() error {
	if s.eventBroker != nil {
		s.eventBroker.Stop()
	}
	if s.raft != nil {
		if err := s.raft.Shutdown().Error(); err != nil {
			return fmt.Errorf("failed to shutdown raft: %w", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return fmt.Errorf("failed to close store: %w", err)
		}
	}
	return nil
}
