package agentnet

import (
	"testing"

	"github.com/cuemby/stark/pkg/types"
)

func TestPeerTableConnectingThenSetState(t *testing.T) {
	pt := NewPeerTable()

	p := pt.Connecting("node-2")
	if p.State != types.PeerConnecting {
		t.Fatalf("p.State = %q, want Connecting", p.State)
	}

	pt.SetState("node-2", types.PeerConnected)
	got, ok := pt.Get("node-2")
	if !ok {
		t.Fatal("Get() after SetState() = miss, want hit")
	}
	if got.State != types.PeerConnected {
		t.Errorf("got.State = %q, want Connected", got.State)
	}
}

func TestPeerTableAttachPodDeduplicates(t *testing.T) {
	pt := NewPeerTable()
	pt.Connecting("node-2")

	pt.AttachPod("node-2", "pod-a")
	pt.AttachPod("node-2", "pod-a")
	pt.AttachPod("node-2", "pod-b")

	got, _ := pt.Get("node-2")
	if len(got.RemotePodIDs) != 2 {
		t.Errorf("len(RemotePodIDs) = %d, want 2", len(got.RemotePodIDs))
	}
}

func TestPeerTableRemove(t *testing.T) {
	pt := NewPeerTable()
	pt.Connecting("node-2")
	pt.Remove("node-2")

	if _, ok := pt.Get("node-2"); ok {
		t.Error("Get() after Remove() = hit, want miss")
	}
}

func TestPeerTableSetStateOnUnknownNodeIsNoop(t *testing.T) {
	pt := NewPeerTable()
	pt.SetState("node-missing", types.PeerConnected) // must not panic

	if _, ok := pt.Get("node-missing"); ok {
		t.Error("Get() on never-connected node = hit, want miss")
	}
}
