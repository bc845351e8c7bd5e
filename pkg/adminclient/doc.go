// Package adminclient is the CLI-facing counterpart to pkg/adminapi: a thin
// HTTP client cmd/stark's subcommands use to talk to a running orchestrator,
// the same role the teacher's pkg/client plays over gRPC. It holds no
// cluster state of its own and does no retrying beyond what net/http gives
// it for free.
package adminclient
