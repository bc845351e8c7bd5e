/*
Package scheduler reconciles desired replica counts against the Pod table and
places pending pods onto eligible nodes.

# Architecture

The scheduler runs a closed-loop controller triggered by a ticker (default
2s), and is also nudged explicitly via Kick(), which pkg/adminapi calls after
service writes and node status changes. Pod terminal-state transitions do
not call Kick(); they are seen on the next tick. Each cycle:

	┌──────────────────────────────────────────────────────────────┐
	│                      Scheduler.cycle()                       │
	└────────────────┬───────────────────────────────────────────-─┘
	                 │
	                 ▼
	┌──────────────────────────────────────────────────────────────┐
	│ 1. Snapshot services, deployments, nodes, pods                │
	│ 2. For each replica set: desired - active → create/stop       │
	│ 3. For each pending pod: filter → score → select → (preempt)  │
	│ 4. Roll out packVersion changes in maxUnavailable batches      │
	└──────────────────────────────────────────────────────────────┘

The scheduler never writes Pod.status directly beyond the initial
pending row it creates — placement, eviction, and stop requests are handed
to a PodController (implemented by pkg/lifecycle), which remains the sole
writer of pod state transitions.

# Placement pipeline

filterNodes removes nodes that fail runtime compatibility, capability
grants, taint/toleration, node selector, or required node affinity, or that
lack free allocatable capacity. scoreNodes weighs the survivors by
preferred node affinity, least-loaded fraction, and inter-pod
affinity/anti-affinity. selectNode picks the highest score, breaking ties by
a deterministic hash of the node ID so that repeated cycles over an
unchanged candidate set are stable.

When no node fits and the pod is preempt-eligible (Priority > 0), the
preemption pass looks for victim pods of lower priority whose eviction
would free enough room, preferring the node that needs the fewest victims.

# DaemonSet mode

A Service or Deployment with Replicas == 0 runs exactly one pod per
eligible node instead of a fixed replica count; eligibility is the same
filter pipeline minus the resource-fit check (daemon pods are expected to
fit by construction on every targeted node). Daemon pods skip the
score/select pass: an unplaced daemon pod is scheduled straight onto an
eligible node that has none.
*/
package scheduler
