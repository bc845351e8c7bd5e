package agentnet

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/stark/pkg/log"
	"github.com/cuemby/stark/pkg/starkerr"
	"github.com/cuemby/stark/pkg/types"
	"github.com/rs/zerolog"
)

// Strategy is a selectTarget strategy (§4.3).
type Strategy string

const (
	StrategyStickyRandomFirst Strategy = "sticky-random-first"
	StrategyRoundRobin        Strategy = "round-robin"
	StrategyRandom            Strategy = "random"
)

// Selector picks a target pod for a service, the orchestrator-side half
// of a Target Cache miss. It only ever considers pods with status
// running on a Ready node (§4.3's selectability rule).
type Selector struct {
	store  Store
	rnd    *rand.Rand
	logger zerolog.Logger

	mu       sync.Mutex // guards rrCursor only
	rrCursor map[string]int
}

// NewSelector creates a target selector over store.
func NewSelector(store Store) *Selector {
	return &Selector{
		store:    store,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:   log.WithComponent("agentnet"),
		rrCursor: make(map[string]int),
	}
}

// SelectTarget implements Service Registry's selectTarget(serviceId, strategy)
// (§4.3), returning a fresh TargetCacheEntry for the caller to cache.
func (s *Selector) SelectTarget(serviceID string, strategy Strategy, ttl time.Duration) (*types.TargetCacheEntry, error) {
	if strategy == "" {
		strategy = StrategyStickyRandomFirst
	}

	pods, err := s.store.ListPodsByService(serviceID)
	if err != nil {
		return nil, err
	}

	candidates := s.selectableEndpoints(pods)
	if len(candidates) == 0 {
		return nil, starkerr.NotFound("SelectTarget", "no running endpoint for service "+serviceID)
	}

	var chosen *types.Pod
	switch strategy {
	case StrategyRoundRobin:
		chosen = s.nextRoundRobin(serviceID, candidates)
	case StrategyRandom:
		chosen = candidates[s.rnd.Intn(len(candidates))]
	default: // sticky-random-first: pick once, caller records it
		chosen = candidates[s.rnd.Intn(len(candidates))]
	}

	s.logger.Debug().Str("service_id", serviceID).Str("strategy", string(strategy)).
		Str("pod_id", chosen.ID).Msg("selected target endpoint")

	return &types.TargetCacheEntry{
		ServiceID:    serviceID,
		TargetPodID:  chosen.ID,
		TargetNodeID: chosen.NodeID,
		ExpiresAt:    time.Now().Add(ttl),
		Health:       types.HealthOK,
	}, nil
}

// selectableEndpoints filters pods down to those running on a Ready node,
// sorted by ID so round-robin's cursor is stable across calls.
func (s *Selector) selectableEndpoints(pods []*types.Pod) []*types.Pod {
	var candidates []*types.Pod
	for _, p := range pods {
		if p.Status != types.PodRunning || p.NodeID == "" {
			continue
		}
		node, err := s.store.GetNode(p.NodeID)
		if err != nil || node == nil || node.Status != types.NodeReady {
			continue
		}
		candidates = append(candidates, p)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	return candidates
}

func (s *Selector) nextRoundRobin(serviceID string, candidates []*types.Pod) *types.Pod {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.rrCursor[serviceID] % len(candidates)
	s.rrCursor[serviceID] = i + 1
	return candidates[i]
}
