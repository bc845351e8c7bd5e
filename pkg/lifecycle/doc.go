// Package lifecycle owns the pod state machine and is the only package that
// writes Pod.status. It turns scheduler placement decisions and agent
// pod:status/heartbeat reports into legal transitions:
//
//	pending -> scheduled -> starting -> running
//	             |            |           |
//	             |            |           +-> stopping -> stopped
//	             |            |           +-> failed
//	             +-> failed  +-> failed
//	 (from any non-terminal) -------------------------> evicted
//
// Four further arrows are legal but not drawn above: pending -> failed,
// pending -> stopped (a pod never dispatched to an agent), scheduled ->
// stopping and starting -> stopping.
//
// Every transition writes a PodHistoryEntry before or atomically with the
// status write, and illegal transitions are rejected and logged rather than
// silently applied. Deploy and stop commands to the agent go through the
// narrow AgentDispatcher interface, kept separate from pkg/sessionhub (the
// framed-JSON transport that actually carries them) so this package can be
// exercised without a live agent connection.
package lifecycle
