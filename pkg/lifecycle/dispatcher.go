package lifecycle

import (
	"time"

	"github.com/cuemby/stark/pkg/types"
)

// AgentDispatcher delivers pod:deploy and pod:stop frames to the agent
// currently holding the named node's session (§4.5 "Commands to agent",
// §6 wire protocol table). pkg/sessionhub implements this over the framed
// websocket transport; it is kept separate here so the controller can be
// unit-tested without a live agent connection.
type AgentDispatcher interface {
	Deploy(nodeID string, pod *types.Pod, pack *types.Pack, capabilities []string, podToken, refreshToken string) error
	Stop(nodeID, podID, reason string, gracePeriod time.Duration) error
}
