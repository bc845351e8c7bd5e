package sessionhub

import (
	"time"

	"github.com/cuemby/stark/pkg/log"
	"github.com/cuemby/stark/pkg/types"
	"github.com/rs/zerolog"
)

// Default heartbeat-liveness thresholds (§4.1, §5's timeout table): a node
// is marked NotReady after 3H without a heartbeat and Lost after 10H, H
// being the agent's heartbeat interval (default 15s).
const (
	DefaultHeartbeatInterval = 15 * time.Second
	defaultNotReadyThreshold = 3 * DefaultHeartbeatInterval
	defaultLostThreshold     = 10 * DefaultHeartbeatInterval
)

// LivenessStore is the narrow slice of StateStore LivenessMonitor polls:
// every node's LastHeartbeat and the pods resident on one gone Lost.
type LivenessStore interface {
	ListNodes() ([]*types.Node, error)
	UpdateNode(node *types.Node) error
	ListPodsByNode(nodeID string) ([]*types.Pod, error)
}

// NodeLostHandler fails a newly-Lost node's resident pods so the scheduler
// reschedules them. Satisfied by pkg/lifecycle.Controller.
type NodeLostHandler interface {
	HandleNodeLost(pods []*types.Pod)
}

// LivenessMonitor scans every registered node on a ticker and transitions
// Ready -> NotReady -> Lost against the elapsed time since its last
// heartbeat, the way pkg/podgroup.Reaper owns its own independent sweep
// over TTL-keyed membership rather than being driven by request handling.
type LivenessMonitor struct {
	store    LivenessStore
	lost     NodeLostHandler
	interval time.Duration
	notReady time.Duration
	lostAt   time.Duration
	logger   zerolog.Logger
	stopCh   chan struct{}
}

// NewLivenessMonitor creates a monitor over store, failing a Lost node's
// pods through lost. interval <= 0 uses the default heartbeat interval;
// notReadyAfter/lostAfter <= 0 use the §5 3H/10H defaults.
func NewLivenessMonitor(store LivenessStore, lost NodeLostHandler, interval, notReadyAfter, lostAfter time.Duration) *LivenessMonitor {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if notReadyAfter <= 0 {
		notReadyAfter = defaultNotReadyThreshold
	}
	if lostAfter <= 0 {
		lostAfter = defaultLostThreshold
	}
	return &LivenessMonitor{
		store:    store,
		lost:     lost,
		interval: interval,
		notReady: notReadyAfter,
		lostAt:   lostAfter,
		logger:   log.WithComponent("sessionhub"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the sweep loop in a new goroutine.
func (m *LivenessMonitor) Start() {
	go m.run()
}

// Stop ends the sweep loop. Safe to call once.
func (m *LivenessMonitor) Stop() {
	close(m.stopCh)
}

func (m *LivenessMonitor) run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stopCh:
			return
		}
	}
}

func (m *LivenessMonitor) sweep() {
	nodes, err := m.store.ListNodes()
	if err != nil {
		m.logger.Error().Err(err).Msg("liveness sweep: failed to list nodes")
		return
	}

	now := time.Now()
	for _, node := range nodes {
		silence := now.Sub(node.LastHeartbeat)
		switch node.Status {
		case types.NodeReady:
			if silence >= m.lostAt {
				m.markLost(node)
			} else if silence >= m.notReady {
				m.markNotReady(node)
			}
		case types.NodeNotReady:
			if silence >= m.lostAt {
				m.markLost(node)
			}
		}
	}
}

func (m *LivenessMonitor) markNotReady(node *types.Node) {
	node.Status = types.NodeNotReady
	if err := m.store.UpdateNode(node); err != nil {
		m.logger.Error().Err(err).Str("node_id", node.ID).Msg("failed to mark node NotReady")
		return
	}
	m.logger.Warn().Str("node_id", node.ID).Str("node_name", node.Name).Msg("node marked NotReady: heartbeat silence exceeded 3H")
}

func (m *LivenessMonitor) markLost(node *types.Node) {
	node.Status = types.NodeLost
	if err := m.store.UpdateNode(node); err != nil {
		m.logger.Error().Err(err).Str("node_id", node.ID).Msg("failed to mark node Lost")
		return
	}
	m.logger.Warn().Str("node_id", node.ID).Str("node_name", node.Name).Msg("node marked Lost: heartbeat silence exceeded 10H")

	pods, err := m.store.ListPodsByNode(node.ID)
	if err != nil {
		m.logger.Error().Err(err).Str("node_id", node.ID).Msg("failed to list pods resident on lost node")
		return
	}
	if m.lost != nil {
		m.lost.HandleNodeLost(pods)
	}
}
