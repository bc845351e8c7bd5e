// Package adminapi is the thin HTTP/REST surface the CLI and other admin
// tooling talk to (§6's CLI surface: "stark network allow|deny",
// "stark service create|scale|rollout", "stark node register|cordon|drain").
// It is pure glue: every handler either reads through the StateStore or
// issues a single write against it. Node status changes (cordon, uncordon,
// drain) and service writes then nudge the Scheduler so the reconciliation
// loop picks up the change on its next cycle; node registration and
// deregistration and network-policy writes do not. It holds no
// state of its own and enforces no policy beyond request decoding --
// authorization and scheduling decisions live in the core components.
package adminapi
