// Package sessionhub is the Agent <-> Orchestrator transport: a
// gorilla/websocket server that accepts one long-lived connection per
// agent node, authenticates it with a join token, and exchanges the
// bidirectional framed-JSON protocol from §6 (auth, register, heartbeat,
// pod:deploy, pod:stop, pod:status, signal:*, podgroup:*).
//
// Hub implements pkg/lifecycle's AgentDispatcher by looking up the session
// currently registered for a node and writing a framed command to it, and
// forwards signal:* and podgroup:* frames to pkg/signaling and
// pkg/podgroup respectively — this package only owns session bookkeeping
// and auth, not the decisions made on top of a frame's contents.
package sessionhub
