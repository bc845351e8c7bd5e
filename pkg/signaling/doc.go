// Package signaling implements the Signaling Hub (§4.6): it relays
// connection-establishment frames (WebRTC-style offer/answer/ICE
// candidates) between two agents that want to open a direct peer
// channel for overlay traffic.
//
// The orchestrator never inspects or parses the signaling payload
// itself — Data is opaque to this package. What it does verify, on
// every frame, before forwarding a single byte:
//
//  1. fromPodId matches the pod token (signature) presented on the
//     frame — proves the sending session really speaks for that pod.
//  2. toPodId is currently assigned to a known node — there must be
//     somewhere to deliver the frame.
//  3. A network policy decision (pkg/netpolicy) permits
//     fromService -> toService.
//
// Only once all three hold does the hub forward the frame onto the
// destination node's session via pkg/sessionhub.
package signaling
