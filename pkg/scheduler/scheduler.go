package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/stark/pkg/events"
	"github.com/cuemby/stark/pkg/log"
	"github.com/cuemby/stark/pkg/metrics"
	"github.com/cuemby/stark/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// failureThreshold is the default consecutiveFailures ceiling before a
// replica-set slot is backed off instead of retried every cycle (§4.4
// "Failure policy").
const failureThreshold = 3

// Scheduler reconciles desired replica counts against the Pod table and
// runs the filter/score/select/preempt placement pipeline for pending pods.
type Scheduler struct {
	store      Store
	controller PodController
	broker     *events.Broker
	logger     zerolog.Logger

	tickInterval   time.Duration
	maxUnavailable int
	gracePeriod    time.Duration

	mu      sync.Mutex
	stopCh  chan struct{}
	kickCh  chan struct{}
	backoff map[string]*backoffState
}

type backoffState struct {
	nextRetry time.Time
	attempt   int
}

// Config holds scheduler tuning parameters; zero values fall back to spec
// defaults (§4.4, §5 timeouts).
type Config struct {
	TickInterval   time.Duration
	MaxUnavailable int
	GracePeriod    time.Duration
}

// New creates a Scheduler. Call Start to begin its ticker loop.
func New(store Store, controller PodController, broker *events.Broker, cfg Config) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 2 * time.Second
	}
	if cfg.MaxUnavailable <= 0 {
		cfg.MaxUnavailable = defaultMaxUnavailable
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 30 * time.Second
	}
	return &Scheduler{
		store:          store,
		controller:     controller,
		broker:         broker,
		logger:         log.WithComponent("scheduler"),
		tickInterval:   cfg.TickInterval,
		maxUnavailable: cfg.MaxUnavailable,
		gracePeriod:    cfg.GracePeriod,
		stopCh:         make(chan struct{}),
		kickCh:         make(chan struct{}, 1),
		backoff:        make(map[string]*backoffState),
	}
}

// Start begins the scheduler's ticker loop.
func (s *Scheduler) Start() { go s.run() }

// Stop halts the scheduler loop.
func (s *Scheduler) Stop() { close(s.stopCh) }

// Kick requests an out-of-cycle reconciliation, coalescing with any pending
// kick. pkg/adminapi calls it after service writes and node status changes;
// pod terminal-state transitions do not call it and are picked up on the
// next tick.
func (s *Scheduler) Kick() {
	select {
	case s.kickCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runCycle()
		case <-s.kickCh:
			s.runCycle()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) runCycle() {
	if err := s.cycle(); err != nil {
		s.logger.Error().Err(err).Msg("scheduling cycle failed")
	}
}

// cycle performs one scheduling pass, per §4.4 "Per cycle".
func (s *Scheduler) cycle() error {
	services, err := s.store.ListServices()
	if err != nil {
		return fmt.Errorf("failed to list services: %w", err)
	}
	deployments, err := s.store.ListDeployments()
	if err != nil {
		return fmt.Errorf("failed to list deployments: %w", err)
	}
	nodes, err := s.store.ListNodes()
	if err != nil {
		return fmt.Errorf("failed to list nodes: %w", err)
	}

	if len(filterReadyNodes(nodes)) == 0 {
		s.logger.Warn().Msg("no ready nodes available for scheduling")
	}

	for _, svc := range services {
		pods, err := s.store.ListPodsByService(svc.ID)
		if err != nil {
			s.logger.Error().Err(err).Str("service_id", svc.ID).Msg("failed to list pods for service")
			continue
		}
		if err := s.reconcile(fromService(svc), pods, nodes); err != nil {
			s.logger.Error().Err(err).Str("service_name", svc.Name).Msg("failed to reconcile service")
		}
	}

	for _, dep := range deployments {
		pods, err := s.store.ListPodsByDeployment(dep.ID)
		if err != nil {
			s.logger.Error().Err(err).Str("deployment_id", dep.ID).Msg("failed to list pods for deployment")
			continue
		}
		if err := s.reconcile(fromDeployment(dep), pods, nodes); err != nil {
			s.logger.Error().Err(err).Str("deployment_name", dep.Name).Msg("failed to reconcile deployment")
		}
	}

	return nil
}

func filterReadyNodes(nodes []*types.Node) []*types.Node {
	var ready []*types.Node
	for _, n := range nodes {
		if n.Status == types.NodeReady {
			ready = append(ready, n)
		}
	}
	return ready
}

// reconcile runs the full per-replica-set pipeline: desired-count create/stop,
// placement of pending pods, rolling update, and the failure backoff policy.
func (s *Scheduler) reconcile(rs replicaSet, pods []*types.Pod, nodes []*types.Node) error {
	if rs.replicas == 0 {
		return s.reconcileDaemonSet(rs, pods, nodes)
	}

	failed := failedPods(pods)
	permanentlyFailed := 0
	for _, p := range failed {
		if p.ConsecutiveFailures >= failureThreshold {
			permanentlyFailed++
		}
	}

	active := 0
	for _, p := range pods {
		if p.Active() {
			active++
		}
	}

	effectiveDesired := rs.replicas
	if permanentlyFailed > 0 {
		s.markDegraded(rs)
		if s.backoffAllows(rs.id) {
			// One more try this cycle; noteCreateFailure grows the wait
			// before the next one if it fails again.
			s.noteCreateFailure(rs.id)
		} else {
			effectiveDesired -= permanentlyFailed
		}
	} else {
		s.resetBackoff(rs.id)
	}

	toCreate := effectiveDesired - active
	if toCreate > 0 {
		for i := 0; i < toCreate; i++ {
			if err := s.createPod(rs); err != nil {
				s.logger.Error().Err(err).Str("replica_set", rs.name).Msg("failed to create pod")
				metrics.PodsScheduleFailed.Inc()
				continue
			}
		}
	} else if toCreate < 0 {
		s.stopExcess(pods, -toCreate)
	}

	s.placePending(rs, pods, nodes)

	batch := planRollout(rs, pods, s.maxUnavailable)
	for _, p := range batch {
		if err := s.controller.RequestStop(p, "rollout", s.gracePeriod); err != nil {
			s.logger.Error().Err(err).Str("pod_id", p.ID).Msg("failed to request rollout stop")
		}
	}

	return nil
}

func failedPods(pods []*types.Pod) []*types.Pod {
	var failed []*types.Pod
	for _, p := range pods {
		if p.Status == types.PodFailed {
			failed = append(failed, p)
		}
	}
	return failed
}

func (s *Scheduler) createPod(rs replicaSet) error {
	timer := metrics.NewTimer()
	pod := rs.newPod()
	pod.ID = uuid.New().String()
	pod.CreatedAt = time.Now()
	pod.UpdatedAt = pod.CreatedAt

	if err := s.store.CreatePod(pod); err != nil {
		return err
	}
	timer.ObserveDuration(metrics.SchedulingLatency)
	metrics.PodsScheduled.Inc()

	_ = s.store.AppendPodHistory(&types.PodHistoryEntry{
		ID:        uuid.New().String(),
		PodID:     pod.ID,
		Action:    "created",
		NewStatus: types.PodPending,
		NewNodeID: "",
		Timestamp: pod.CreatedAt,
	})

	if s.broker != nil {
		s.broker.Publish(&events.Event{Type: events.EventPodScheduled, ServiceID: rs.id, PodID: pod.ID})
	}
	return nil
}

// stopExcess marks the youngest n pods of a shrinking replica set for
// graceful stop (§4.4 step 2: "youngest excess pods").
func (s *Scheduler) stopExcess(pods []*types.Pod, n int) {
	var active []*types.Pod
	for _, p := range pods {
		if p.Active() {
			active = append(active, p)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].CreatedAt.After(active[j].CreatedAt) })

	if n > len(active) {
		n = len(active)
	}
	for _, p := range active[:n] {
		if err := s.controller.RequestStop(p, "scale_down", s.gracePeriod); err != nil {
			s.logger.Error().Err(err).Str("pod_id", p.ID).Msg("failed to request stop for excess pod")
		}
	}
}

// placePending runs filter/score/select (and, on failure, preempt) for every
// pending unplaced pod in the replica set.
func (s *Scheduler) placePending(rs replicaSet, pods []*types.Pod, nodes []*types.Node) {
	pack, _ := s.store.GetPack(rs.packID)
	usage := computeNodeUsage(pods)

	for _, pod := range pods {
		if pod.Status != types.PodPending || pod.NodeID != "" {
			continue
		}

		candidates := filterNodes(pod, pack, rs.scheduling, nodes, usage, false)
		var chosen *types.Node
		var evicted []*types.Pod

		if len(candidates) > 0 {
			scores := scoreNodes(pod, rs.scheduling, candidates, usage, pods)
			chosen = selectNode(candidates, scores)
		} else if plan := planPreemption(pod, pack, rs.scheduling, nodes, pods, usage); plan != nil {
			chosen = plan.node
			evicted = plan.victims
		}

		if chosen == nil {
			pod.ConsecutiveFailures++
			pod.StatusMessage = "no eligible node found"
			_ = s.store.UpdatePod(pod)
			metrics.PodsScheduleFailed.Inc()
			if s.broker != nil {
				s.broker.Publish(&events.Event{Type: events.EventPodScheduleFailed, PodID: pod.ID, Message: pod.StatusMessage})
			}
			continue
		}

		for _, victim := range evicted {
			if err := s.controller.Evict(victim, "preempted by higher-priority pod "+pod.ID); err != nil {
				s.logger.Error().Err(err).Str("pod_id", victim.ID).Msg("failed to evict preemption victim")
			}
			metrics.PodsPreempted.Inc()
		}

		if err := s.controller.Schedule(pod, chosen.ID); err != nil {
			s.logger.Error().Err(err).Str("pod_id", pod.ID).Msg("failed to schedule pod")
			continue
		}
		used := usage[chosen.ID]
		used.CPUMillis += pod.ResourceRequests.CPUMillis
		used.MemBytes += pod.ResourceRequests.MemBytes
		used.StorageBytes += pod.ResourceRequests.StorageBytes
		usage[chosen.ID] = used
	}
}

// reconcileDaemonSet ensures exactly one pod per eligible node (§4.4
// "DaemonSet mode").
func (s *Scheduler) reconcileDaemonSet(rs replicaSet, pods []*types.Pod, nodes []*types.Node) error {
	pack, _ := s.store.GetPack(rs.packID)
	usage := computeNodeUsage(pods)
	eligible := filterNodes(&types.Pod{ResourceRequests: rs.resources.Requests}, pack, rs.scheduling, nodes, usage, true)

	covered := make(map[string]bool)
	var unplaced []*types.Pod
	for _, p := range pods {
		if p.Active() && p.NodeID == "" {
			unplaced = append(unplaced, p)
		} else if p.Active() {
			covered[p.NodeID] = true
		}
	}

	// An uncovered node takes a waiting unplaced daemon pod before a new
	// one is created, so each pod is bound to exactly one node.
	for _, node := range eligible {
		if covered[node.ID] {
			continue
		}
		if len(unplaced) > 0 {
			if err := s.controller.Schedule(unplaced[0], node.ID); err != nil {
				s.logger.Error().Err(err).Str("pod_id", unplaced[0].ID).Msg("failed to schedule daemon pod")
			}
			unplaced = unplaced[1:]
			continue
		}
		if err := s.createPod(rs); err != nil {
			s.logger.Error().Err(err).Str("replica_set", rs.name).Msg("failed to create daemon pod")
			continue
		}
	}

	nodeIDs := make(map[string]bool, len(eligible))
	for _, n := range eligible {
		nodeIDs[n.ID] = true
	}
	for _, p := range pods {
		if p.Active() && !nodeIDs[p.NodeID] {
			if err := s.controller.RequestStop(p, "node no longer eligible", s.gracePeriod); err != nil {
				s.logger.Error().Err(err).Str("pod_id", p.ID).Msg("failed to stop orphaned daemon pod")
			}
		}
	}

	s.placePending(rs, pods, nodes)
	return nil
}

func (s *Scheduler) markDegraded(rs replicaSet) {
	s.logger.Warn().Str("replica_set", rs.name).Msg("replica set degraded: consecutive failures exceeded threshold")

	switch {
	case rs.service != nil && rs.service.Status != types.ReplicaSetDegraded:
		rs.service.Status = types.ReplicaSetDegraded
		if err := s.store.UpdateService(rs.service); err != nil {
			s.logger.Error().Err(err).Str("service_id", rs.id).Msg("failed to mark service degraded")
		}
	case rs.deployment != nil && rs.deployment.Status != types.ReplicaSetDegraded:
		rs.deployment.Status = types.ReplicaSetDegraded
		if err := s.store.UpdateDeployment(rs.deployment); err != nil {
			s.logger.Error().Err(err).Str("deployment_id", rs.id).Msg("failed to mark deployment degraded")
		}
	}
}

// backoffAllows reports whether enough time has passed since the last
// failed creation attempt for this replica set, doubling the wait on each
// consecutive failure up to a one-minute cap (§4.4 "back off exponentially").
func (s *Scheduler) backoffAllows(rsID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.backoff[rsID]
	if !ok {
		s.backoff[rsID] = &backoffState{nextRetry: time.Now()}
		return true
	}
	if time.Now().Before(b.nextRetry) {
		return false
	}
	return true
}

// noteCreateFailure records a failed create attempt against the replica
// set's backoff state, doubling the delay before the next attempt.
func (s *Scheduler) noteCreateFailure(rsID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.backoff[rsID]
	if !ok {
		b = &backoffState{}
		s.backoff[rsID] = b
	}
	b.attempt++
	wait := time.Duration(1<<uint(b.attempt)) * time.Second
	if wait > time.Minute {
		wait = time.Minute
	}
	b.nextRetry = time.Now().Add(wait)
}

// resetBackoff clears a replica set's backoff state once it's no longer
// degraded, so a future failure starts the exponential climb from scratch.
func (s *Scheduler) resetBackoff(rsID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.backoff, rsID)
}
