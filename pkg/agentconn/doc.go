// Package agentconn is the agent-side half of the Agent Network Stack
// (§4.8): it turns a signal:offer/signal:answer exchange relayed through
// the orchestrator's Signaling Hub into an open data channel between two
// nodes, then frames RequestEnvelope/ResponseEnvelope pairs (from
// pkg/agentnet) over it for *.internal calls.
//
// The corpus this module was built from carries no WebRTC/ICE library,
// so the "data channel" here is a direct gorilla/websocket connection
// between the two agents' own listeners rather than a UDP/SCTP peer
// connection negotiated with STUN/TURN. A signal:offer's Data carries the
// offering node's dial address instead of an SDP blob, and signal:ice
// frames are accepted but otherwise ignored, since a direct
// TCP connection on a shared network needs no candidate negotiation.
// Everything above this layer -- envelope correlation, target selection,
// the *.internal addressing model -- behaves exactly as §4.8 describes.
package agentconn
