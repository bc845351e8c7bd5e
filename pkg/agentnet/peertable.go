package agentnet

import (
	"sync"
	"time"

	"github.com/cuemby/stark/pkg/types"
)

// PeerTable tracks one PeerConnection per remote node, the connection
// table §5 describes as "protected by a single mutex acquired only
// around map mutation; data-channel sends are concurrent per peer" —
// the lock here never wraps an actual send.
type PeerTable struct {
	mu    sync.Mutex
	peers map[string]*types.PeerConnection // remoteNodeID -> connection
}

// NewPeerTable creates an empty peer connection table.
func NewPeerTable() *PeerTable {
	return &PeerTable{peers: make(map[string]*types.PeerConnection)}
}

// Get returns the connection to remoteNodeID, if any.
func (t *PeerTable) Get(remoteNodeID string) (*types.PeerConnection, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[remoteNodeID]
	return p, ok
}

// Connecting records a new in-flight connection attempt, replacing any
// prior entry for the same node.
func (t *PeerTable) Connecting(remoteNodeID string) *types.PeerConnection {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := &types.PeerConnection{
		RemoteNodeID: remoteNodeID,
		State:        types.PeerConnecting,
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
	}
	t.peers[remoteNodeID] = p
	return p
}

// SetState transitions an existing connection's state, creating no new
// entry if one isn't already tracked.
func (t *PeerTable) SetState(remoteNodeID string, state types.PeerConnectionState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[remoteNodeID]
	if !ok {
		return
	}
	p.State = state
	p.LastActivity = time.Now()
}

// AttachPod records that podID now rides over the connection to remoteNodeID.
func (t *PeerTable) AttachPod(remoteNodeID, podID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[remoteNodeID]
	if !ok {
		return
	}
	for _, existing := range p.RemotePodIDs {
		if existing == podID {
			return
		}
	}
	p.RemotePodIDs = append(p.RemotePodIDs, podID)
}

// Remove drops the tracked connection, e.g. on close or permanent failure.
func (t *PeerTable) Remove(remoteNodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, remoteNodeID)
}
