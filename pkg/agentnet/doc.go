// Package agentnet implements the orchestrator-side half of the Agent
// Network Stack (§4.8): target selection for the overlay's
// *.internal addressing, the per-pod sticky Target Cache, a
// PeerConnection bookkeeping table, and an envelope correlator that
// pairs an outbound request frame with its eventual reply.
//
// The agent-side interception (patching the HTTP client/server, the
// worker-to-main proxy) lives in the agent runtime and is out of
// scope here; this package is what an agent's Network Stack and the
// orchestrator's Service Registry both call into to decide "which pod,
// on which node, answers for this service right now".
package agentnet
