package agentnet

import (
	"testing"
	"time"

	"github.com/cuemby/stark/pkg/starkerr"
)

func TestCorrelatorAwaitResolvesOnMatchingReply(t *testing.T) {
	c := NewCorrelator()
	req := RequestEnvelope{EnvelopeID: "env-1", Deadline: time.Now().Add(time.Second)}

	go func() {
		time.Sleep(5 * time.Millisecond)
		c.Resolve(ResponseEnvelope{EnvelopeID: "env-1", Status: 200})
	}()

	resp, err := c.Await(req)
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if resp.Status != 200 {
		t.Errorf("resp.Status = %d, want 200", resp.Status)
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d after resolve, want 0", c.Pending())
	}
}

func TestCorrelatorAwaitTimesOutPastDeadline(t *testing.T) {
	c := NewCorrelator()
	req := RequestEnvelope{EnvelopeID: "env-2", Deadline: time.Now().Add(10 * time.Millisecond)}

	_, err := c.Await(req)
	if err == nil {
		t.Fatal("Await() error = nil, want timeout past deadline")
	}
	if kind, ok := starkerr.KindOf(err); !ok || kind != starkerr.KindTimeout {
		t.Errorf("KindOf(err) = %v, want KindTimeout", kind)
	}
}

func TestCorrelatorResolveWithNoWaiterIsNoop(t *testing.T) {
	c := NewCorrelator()
	c.Resolve(ResponseEnvelope{EnvelopeID: "ghost", Status: 200}) // must not panic or block
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}

func TestCorrelatorFailAllResolvesEveryOutstandingRequest(t *testing.T) {
	c := NewCorrelator()
	type result struct {
		resp ResponseEnvelope
		err  error
	}
	results := make(chan result, 2)

	for _, id := range []string{"env-a", "env-b"} {
		go func(id string) {
			resp, err := c.Await(RequestEnvelope{EnvelopeID: id, Deadline: time.Now().Add(time.Second)})
			results <- result{resp, err}
		}(id)
	}

	time.Sleep(5 * time.Millisecond) // let both register as pending
	c.FailAll("peer connection closed")

	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			t.Errorf("Await() error = %v, want nil (FailAll delivers an error reply, not an Await error)", r.err)
		}
		if r.resp.Err == "" {
			t.Error("resp.Err is empty, want a transport-closed message from FailAll")
		}
	}
}
