package statestore

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/stark/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketNodes        = []byte("nodes")
	bucketPacks        = []byte("packs")
	bucketServices     = []byte("services")
	bucketDeployments  = []byte("deployments")
	bucketPods         = []byte("pods")
	bucketPodHistory   = []byte("pod_history")
	bucketNetPolicies  = []byte("network_policies")
	bucketSvcNetMeta   = []byte("service_network_meta")
	bucketCA           = []byte("ca")
)

// BoltStore implements Store using BoltDB as the on-disk backend.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the BoltDB file under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "stark.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketNodes, bucketPacks, bucketServices, bucketDeployments,
			bucketPods, bucketPodHistory, bucketNetPolicies, bucketSvcNetMeta,
			bucketCA,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Node operations

func (s *BoltStore) CreateNode(node *types.Node) error {
	return s.put(bucketNodes, node.ID, node)
}

func (s *BoltStore) GetNode(id string) (*types.Node, error) {
	var node types.Node
	if err := s.get(bucketNodes, id, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *BoltStore) ListNodes() ([]*types.Node, error) {
	var nodes []*types.Node
	err := s.forEach(bucketNodes, func(v []byte) error {
		var node types.Node
		if err := json.Unmarshal(v, &node); err != nil {
			return err
		}
		nodes = append(nodes, &node)
		return nil
	})
	return nodes, err
}

func (s *BoltStore) UpdateNode(node *types.Node) error { return s.CreateNode(node) }

func (s *BoltStore) DeleteNode(id string) error {
	return s.delete(bucketNodes, id)
}

// Pack operations

func (s *BoltStore) CreatePack(pack *types.Pack) error {
	return s.put(bucketPacks, pack.ID, pack)
}

func (s *BoltStore) GetPack(id string) (*types.Pack, error) {
	var pack types.Pack
	if err := s.get(bucketPacks, id, &pack); err != nil {
		return nil, err
	}
	return &pack, nil
}

func (s *BoltStore) GetPackByNameVersion(name, version string) (*types.Pack, error) {
	var found *types.Pack
	err := s.forEach(bucketPacks, func(v []byte) error {
		var pack types.Pack
		if err := json.Unmarshal(v, &pack); err != nil {
			return err
		}
		if pack.Name == name && pack.Version == version {
			found = &pack
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("pack not found: %s@%s", name, version)
	}
	return found, nil
}

func (s *BoltStore) ListPacks() ([]*types.Pack, error) {
	var packs []*types.Pack
	err := s.forEach(bucketPacks, func(v []byte) error {
		var pack types.Pack
		if err := json.Unmarshal(v, &pack); err != nil {
			return err
		}
		packs = append(packs, &pack)
		return nil
	})
	return packs, err
}

func (s *BoltStore) DeletePack(id string) error {
	return s.delete(bucketPacks, id)
}

// Service operations

func (s *BoltStore) CreateService(service *types.Service) error {
	return s.put(bucketServices, service.ID, service)
}

func (s *BoltStore) GetService(id string) (*types.Service, error) {
	var service types.Service
	if err := s.get(bucketServices, id, &service); err != nil {
		return nil, err
	}
	return &service, nil
}

func (s *BoltStore) GetServiceByName(name string) (*types.Service, error) {
	var found *types.Service
	err := s.forEach(bucketServices, func(v []byte) error {
		var service types.Service
		if err := json.Unmarshal(v, &service); err != nil {
			return err
		}
		if service.Name == name {
			found = &service
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("service not found: %s", name)
	}
	return found, nil
}

func (s *BoltStore) ListServices() ([]*types.Service, error) {
	var services []*types.Service
	err := s.forEach(bucketServices, func(v []byte) error {
		var service types.Service
		if err := json.Unmarshal(v, &service); err != nil {
			return err
		}
		services = append(services, &service)
		return nil
	})
	return services, err
}

func (s *BoltStore) UpdateService(service *types.Service) error { return s.CreateService(service) }

func (s *BoltStore) DeleteService(id string) error {
	return s.delete(bucketServices, id)
}

// Deployment operations

func (s *BoltStore) CreateDeployment(deployment *types.Deployment) error {
	return s.put(bucketDeployments, deployment.ID, deployment)
}

func (s *BoltStore) GetDeployment(id string) (*types.Deployment, error) {
	var deployment types.Deployment
	if err := s.get(bucketDeployments, id, &deployment); err != nil {
		return nil, err
	}
	return &deployment, nil
}

func (s *BoltStore) GetDeploymentByName(name string) (*types.Deployment, error) {
	var found *types.Deployment
	err := s.forEach(bucketDeployments, func(v []byte) error {
		var deployment types.Deployment
		if err := json.Unmarshal(v, &deployment); err != nil {
			return err
		}
		if deployment.Name == name {
			found = &deployment
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("deployment not found: %s", name)
	}
	return found, nil
}

func (s *BoltStore) ListDeployments() ([]*types.Deployment, error) {
	var deployments []*types.Deployment
	err := s.forEach(bucketDeployments, func(v []byte) error {
		var deployment types.Deployment
		if err := json.Unmarshal(v, &deployment); err != nil {
			return err
		}
		deployments = append(deployments, &deployment)
		return nil
	})
	return deployments, err
}

func (s *BoltStore) UpdateDeployment(deployment *types.Deployment) error {
	return s.CreateDeployment(deployment)
}

func (s *BoltStore) DeleteDeployment(id string) error {
	return s.delete(bucketDeployments, id)
}

// Pod operations

func (s *BoltStore) CreatePod(pod *types.Pod) error {
	return s.put(bucketPods, pod.ID, pod)
}

func (s *BoltStore) GetPod(id string) (*types.Pod, error) {
	var pod types.Pod
	if err := s.get(bucketPods, id, &pod); err != nil {
		return nil, err
	}
	return &pod, nil
}

func (s *BoltStore) ListPods() ([]*types.Pod, error) {
	var pods []*types.Pod
	err := s.forEach(bucketPods, func(v []byte) error {
		var pod types.Pod
		if err := json.Unmarshal(v, &pod); err != nil {
			return err
		}
		pods = append(pods, &pod)
		return nil
	})
	return pods, err
}

func (s *BoltStore) ListPodsByService(serviceID string) ([]*types.Pod, error) {
	pods, err := s.ListPods()
	if err != nil {
		return nil, err
	}
	var filtered []*types.Pod
	for _, pod := range pods {
		if pod.ServiceID == serviceID {
			filtered = append(filtered, pod)
		}
	}
	return filtered, nil
}

func (s *BoltStore) ListPodsByDeployment(deploymentID string) ([]*types.Pod, error) {
	pods, err := s.ListPods()
	if err != nil {
		return nil, err
	}
	var filtered []*types.Pod
	for _, pod := range pods {
		if pod.DeploymentID == deploymentID {
			filtered = append(filtered, pod)
		}
	}
	return filtered, nil
}

func (s *BoltStore) ListPodsByNode(nodeID string) ([]*types.Pod, error) {
	pods, err := s.ListPods()
	if err != nil {
		return nil, err
	}
	var filtered []*types.Pod
	for _, pod := range pods {
		if pod.NodeID == nodeID {
			filtered = append(filtered, pod)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdatePod(pod *types.Pod) error { return s.CreatePod(pod) }

func (s *BoltStore) DeletePod(id string) error {
	return s.delete(bucketPods, id)
}

// Pod history operations (append-only, keyed by history entry ID)

func (s *BoltStore) AppendPodHistory(entry *types.PodHistoryEntry) error {
	return s.put(bucketPodHistory, entry.ID, entry)
}

func (s *BoltStore) ListPodHistory(podID string) ([]*types.PodHistoryEntry, error) {
	var entries []*types.PodHistoryEntry
	err := s.forEach(bucketPodHistory, func(v []byte) error {
		var entry types.PodHistoryEntry
		if err := json.Unmarshal(v, &entry); err != nil {
			return err
		}
		if entry.PodID == podID {
			entries = append(entries, &entry)
		}
		return nil
	})
	return entries, err
}

// Network policy operations (legacy explicit-rule form)

func (s *BoltStore) CreateNetworkPolicy(policy *types.NetworkPolicy) error {
	return s.put(bucketNetPolicies, policy.ID, policy)
}

func (s *BoltStore) ListNetworkPolicies() ([]*types.NetworkPolicy, error) {
	var policies []*types.NetworkPolicy
	err := s.forEach(bucketNetPolicies, func(v []byte) error {
		var policy types.NetworkPolicy
		if err := json.Unmarshal(v, &policy); err != nil {
			return err
		}
		policies = append(policies, &policy)
		return nil
	})
	return policies, err
}

func (s *BoltStore) DeleteNetworkPolicy(id string) error {
	return s.delete(bucketNetPolicies, id)
}

// Service network metadata operations (expose-model form)

func (s *BoltStore) SaveServiceNetworkMeta(meta *types.ServiceNetworkMeta) error {
	return s.put(bucketSvcNetMeta, meta.ServiceID, meta)
}

func (s *BoltStore) GetServiceNetworkMeta(serviceID string) (*types.ServiceNetworkMeta, error) {
	var meta types.ServiceNetworkMeta
	if err := s.get(bucketSvcNetMeta, serviceID, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Certificate Authority operations

func (s *BoltStore) SaveCA(data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCA).Put([]byte("ca"), data)
	})
}

func (s *BoltStore) GetCA() ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketCA).Get([]byte("ca"))
		if raw == nil {
			return fmt.Errorf("CA not found")
		}
		data = make([]byte, len(raw))
		copy(data, raw)
		return nil
	})
	return data, err
}

// put/get/delete/forEach are small generic helpers shared by every bucket
// above; they keep the per-entity methods to a marshal call and a key.

func (s *BoltStore) put(bucket []byte, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

func (s *BoltStore) get(bucket []byte, key string, out interface{}) error {
	return s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("not found: %s", key)
		}
		return json.Unmarshal(data, out)
	})
}

func (s *BoltStore) delete(bucket []byte, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}

func (s *BoltStore) forEach(bucket []byte, fn func(v []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(_, v []byte) error {
			return fn(v)
		})
	})
}
