package metrics

import (
	"time"

	"github.com/cuemby/stark/pkg/types"
)

// ClusterView is the subset of the StateStore a Collector polls. Declared
// locally so this package never imports pkg/statestore.
type ClusterView interface {
	ListNodes() ([]*types.Node, error)
	ListServices() ([]*types.Service, error)
	ListPods() ([]*types.Pod, error)
	IsLeader() bool
	GetRaftStats() map[string]interface{}
}

// Collector polls the StateStore on a ticker and republishes cluster-wide
// gauges (node/service/pod counts, Raft leadership and log position) the
// way a request-scoped metric never could.
type Collector struct {
	store  ClusterView
	stopCh chan struct{}
}

// NewCollector builds a Collector over store. Start must be called to
// begin polling.
func NewCollector(store ClusterView) *Collector {
	return &Collector{store: store, stopCh: make(chan struct{})}
}

// Start begins polling on a 15s ticker, collecting once immediately.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts polling.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectNodeMetrics()
	c.collectServiceMetrics()
	c.collectPodMetrics()
	c.collectRaftMetrics()
}

func (c *Collector) collectNodeMetrics() {
	nodes, err := c.store.ListNodes()
	if err != nil {
		return
	}
	counts := make(map[string]map[string]int)
	for _, n := range nodes {
		rt := string(n.RuntimeType)
		if counts[rt] == nil {
			counts[rt] = make(map[string]int)
		}
		counts[rt][string(n.Status)]++
	}
	for rt, statuses := range counts {
		for status, count := range statuses {
			NodesTotal.WithLabelValues(rt, status).Set(float64(count))
		}
	}
}

func (c *Collector) collectServiceMetrics() {
	services, err := c.store.ListServices()
	if err != nil {
		return
	}
	ServicesTotal.Set(float64(len(services)))
}

func (c *Collector) collectPodMetrics() {
	pods, err := c.store.ListPods()
	if err != nil {
		return
	}
	counts := make(map[types.PodStatus]int)
	for _, p := range pods {
		counts[p.Status]++
	}
	for status, count := range counts {
		PodsTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (c *Collector) collectRaftMetrics() {
	if c.store.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}

	stats := c.store.GetRaftStats()
	if lastIndex, ok := stats["last_log_index"].(uint64); ok {
		RaftLogIndex.Set(float64(lastIndex))
	}
	if appliedIndex, ok := stats["applied_index"].(uint64); ok {
		RaftAppliedIndex.Set(float64(appliedIndex))
	}

	// Server-count enumeration needs the raft.Configuration type this package
	// deliberately doesn't import; report this replica as the known lower bound.
	if c.store.IsLeader() {
		RaftPeers.Set(1)
	}
}
