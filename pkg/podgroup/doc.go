// Package podgroup implements the PodGroup Store + Ephemeral Plane
// (§4.9): a TTL-scoped group-membership store and a fan-out query
// correlator layered on the same peer channels and signaling hub as
// pkg/agentnet, but with its own state.
//
// Unlike Node/Service/Pod/NetworkPolicy/ServiceNetworkMeta, PodGroup
// membership is never written through the StateStore (§5 draws this
// boundary explicitly) — it churns on a seconds timescale, is never
// read back after it expires, and costing it a raft round trip per
// join/refresh would buy durability nobody asked for. Each
// orchestrator node keeps its own Store guarded by one mutex, exactly
// the trade-off spec.md's concurrency model describes for "the
// PodGroup reaper" owning its own task independent of the StateStore
// access path.
package podgroup
