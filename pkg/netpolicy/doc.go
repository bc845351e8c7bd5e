// Package netpolicy is the centralized enforcement point for overlay
// reachability (§4.7). pkg/signaling calls Engine.IsAllowed before relaying
// a connection-establishment frame. That is its only caller: pkg/agentnet
// and the agent do not check policy again before a channel is used.
//
// Two coexisting evaluation forms, tried in order:
//
//  1. Explicit-rule form (legacy): if any NetworkPolicy row exists at all,
//     the engine is deny-by-default — a source/target/namespace triple with
//     no matching row is denied even though no row names it explicitly.
//  2. Expose-model form: otherwise, an ingress-originated request is gated
//     solely by the target's exposed flag; an internal request is gated by
//     the target's visibility (public/private/system) and allowedSources.
package netpolicy
