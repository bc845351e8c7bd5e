package agentnet

import (
	"sync"
	"time"

	"github.com/cuemby/stark/pkg/starkerr"
)

// pendingRequest is the future a Correlator holds open between sending a
// RequestEnvelope and resolving it with a matching ResponseEnvelope.
type pendingRequest struct {
	ch chan ResponseEnvelope
}

// Correlator pairs outbound request envelopes with their eventual reply
// by envelopeId (§4.8 step 5/6). One Correlator serves every peer
// connection a node holds open; envelopeId is assumed unique across all
// of them.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
}

// NewCorrelator creates an empty correlator.
func NewCorrelator() *Correlator {
	return &Correlator{pending: make(map[string]*pendingRequest)}
}

// Await registers envelopeID as in flight and blocks until Resolve is
// called for it or the deadline on req passes; a zero deadline waits with
// no time limit. A missed deadline is a typed Timeout error so the caller
// can distinguish "no answer" from "got an error reply". When the
// underlying channel closes, FailAll resolves the wait with an error
// reply (ResponseEnvelope.Err set) rather than an Await error.
func (c *Correlator) Await(req RequestEnvelope) (ResponseEnvelope, error) {
	p := &pendingRequest{ch: make(chan ResponseEnvelope, 1)}

	c.mu.Lock()
	c.pending[req.EnvelopeID] = p
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.EnvelopeID)
		c.mu.Unlock()
	}()

	var timer *time.Timer
	var timeout <-chan time.Time
	if !req.Deadline.IsZero() {
		timer = time.NewTimer(time.Until(req.Deadline))
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case resp := <-p.ch:
		return resp, nil
	case <-timeout:
		return ResponseEnvelope{}, starkerr.Timeout("Await", "no reply for envelope "+req.EnvelopeID+" before deadline")
	}
}

// Resolve delivers resp to whichever Await call is waiting on its
// EnvelopeID. It is a no-op if nothing is waiting (late or duplicate
// reply after the caller already timed out).
func (c *Correlator) Resolve(resp ResponseEnvelope) {
	c.mu.Lock()
	p, ok := c.pending[resp.EnvelopeID]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case p.ch <- resp:
	default:
	}
}

// FailAll resolves every pending future on this correlator with a
// transport-closed error, used when the underlying peer channel drops
// with requests still outstanding.
func (c *Correlator) FailAll(reason string) {
	c.mu.Lock()
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.Resolve(ResponseEnvelope{EnvelopeID: id, Err: starkerr.TransportClosed("FailAll", reason).Error()})
	}
}

// Pending reports how many requests are currently awaiting a reply.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
