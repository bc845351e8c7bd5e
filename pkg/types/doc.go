/*
Package types defines the core data structures used throughout Stark.

This package contains the fundamental types that represent the orchestrator's domain
model: nodes, packs, services, deployments, pods, network policy, pod groups, and the
agent-side peer/target cache records. These types are used by every other package for
state management, wire framing, and scheduling logic.

# Core Types

Cluster topology:
  - Node: a registered runtime agent (server or browser)
  - NodeStatus: Ready, NotReady, Cordoned, Draining, Lost

Workloads:
  - Pack: an immutable published code bundle
  - Service: an overlay-addressable replica set
  - Deployment: a replica set without overlay addressability
  - Pod: a single scheduled instance of a pack
  - PodHistoryEntry: append-only audit trail of pod transitions

Overlay networking:
  - NetworkPolicy: legacy explicit allow/deny rule
  - ServiceNetworkMeta: visibility/exposed/allowedSources form
  - PeerConnection, TargetCacheEntry: agent-side overlay bookkeeping

Ephemeral plane:
  - PodGroup, PodGroupMembership: TTL-scoped presence sets
  - EphemeralQuery, EphemeralResponse: fan-out query correlation

# Design Patterns

Enums are typed string constants:

	type PodStatus string
	const (
		PodPending PodStatus = "pending"
		PodRunning PodStatus = "running"
	)

Optional configuration uses pointers or zero-value defaults (TTL <= 0 means "never
expires", Priority 0 is the default scheduling priority).

# Thread Safety

Types in this package carry no internal synchronization; callers (the StateStore,
in-memory caches) are responsible for serializing mutation.
*/
package types
