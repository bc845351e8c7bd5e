/*
Package statestore is the replicated cluster state layer: a BoltDB-backed
Store wrapped by a Hashicorp Raft log (FSM in fsm.go) so every write to
nodes, packs, services, deployments, pods, pod history, and network policy
is ordered and replicated before it is visible locally.

StateStore (manager.go) is the entry point: New creates a replica, Bootstrap
starts a fresh single-node cluster, JoinAsVoter starts Raft on a replica the
leader has already admitted via AddVoter. Writes go through Apply and the
FSM's op-name switch; reads are served directly from the local BoltStore
without going through Raft.

TokenManager (token.go) issues the bearer tokens used by both cluster join
(role "server"/"browser") and per-pod signaling-hub sessions (role
"pod:<id>").

pkg/security depends only on the narrow CAStore interface (SaveCA/GetCA)
declared in store.go, not on StateStore itself, so certificate-authority
bootstrap stays free of a security<->statestore import cycle; the caller
(cmd/stark) wires security.NewCertAuthority(store.Store()) explicitly.
*/
package statestore
