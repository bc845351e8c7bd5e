// Package agentruntime implements the Agent Runtime (§4.10): the
// per-pod isolate the server-class agent runs a pack in. Each
// server-hosted pod gets its own OCI-ish isolate driven through
// containerd, with env vars, a tagged logging shim, and a lifecycle
// object installed before user code runs.
//
// Browser-hosted pods (one Web Worker per pod) have no containerd
// analogue and are out of scope for this package; the Phase/Handlers
// state machine in lifecycle.go is still the shared shape both runtimes
// expose to pack code, since §4.10 describes one `lifecycle` object
// contract regardless of host.
package agentruntime
