package agentconn

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cuemby/stark/pkg/agentnet"
	"github.com/cuemby/stark/pkg/log"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// RequestHandler answers an inbound RequestEnvelope arriving over a
// peer data channel, e.g. by proxying it to the local pod's own HTTP
// port. Satisfied by whatever component cmd/stark-agent wires as the
// local *.internal request target.
type RequestHandler interface {
	HandleRequest(req agentnet.RequestEnvelope) agentnet.ResponseEnvelope
}

// frameKind discriminates the two envelope shapes a Channel carries.
type frameKind string

const (
	frameRequest  frameKind = "request"
	frameResponse frameKind = "response"
)

type wireFrame struct {
	Kind     frameKind                 `json:"kind"`
	Request  *agentnet.RequestEnvelope  `json:"request,omitempty"`
	Response *agentnet.ResponseEnvelope `json:"response,omitempty"`
}

// Channel is one open data channel to a remote node, carrying both
// directions of RequestEnvelope/ResponseEnvelope traffic over a single
// gorilla/websocket connection. Writes are serialized through a single
// goroutine the same way pkg/sessionhub's session does, since gorilla
// connections are not safe for concurrent writers.
type Channel struct {
	remoteNodeID string
	conn         *websocket.Conn
	correlator   *agentnet.Correlator
	handler      RequestHandler
	logger       zerolog.Logger

	send chan wireFrame
	done chan struct{}
}

// NewChannel wraps an already-established websocket connection to
// remoteNodeID. handler answers inbound requests the peer sends; it may
// be nil if this node never expects inbound calls on this channel.
func NewChannel(remoteNodeID string, conn *websocket.Conn, handler RequestHandler) *Channel {
	c := &Channel{
		remoteNodeID: remoteNodeID,
		conn:         conn,
		correlator:   agentnet.NewCorrelator(),
		handler:      handler,
		logger:       log.WithComponent("agentconn"),
		send:         make(chan wireFrame, 32),
		done:         make(chan struct{}),
	}
	go c.writePump()
	go c.readPump()
	return c
}

// Send delivers req to the peer and blocks for its reply, an envelope
// deadline, or channel closure.
func (c *Channel) Send(req agentnet.RequestEnvelope) (agentnet.ResponseEnvelope, error) {
	select {
	case c.send <- wireFrame{Kind: frameRequest, Request: &req}:
	case <-c.done:
		return agentnet.ResponseEnvelope{}, fmt.Errorf("channel to %s is closed", c.remoteNodeID)
	}
	return c.correlator.Await(req)
}

// Close tears down the underlying connection and fails every pending
// request outstanding on this channel.
func (c *Channel) Close() error {
	select {
	case <-c.done:
		return nil
	default:
		close(c.done)
	}
	c.correlator.FailAll("peer channel to " + c.remoteNodeID + " closed")
	return c.conn.Close()
}

func (c *Channel) writePump() {
	for {
		select {
		case f := <-c.send:
			data, err := json.Marshal(f)
			if err != nil {
				c.logger.Error().Err(err).Msg("failed to marshal peer frame")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn().Err(err).Str("remote_node", c.remoteNodeID).Msg("peer channel write failed")
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Channel) readPump() {
	defer c.Close()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.logger.Debug().Err(err).Str("remote_node", c.remoteNodeID).Msg("peer channel read loop exiting")
			return
		}
		var f wireFrame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn().Err(err).Msg("dropping malformed peer frame")
			continue
		}
		switch f.Kind {
		case frameResponse:
			if f.Response != nil {
				c.correlator.Resolve(*f.Response)
			}
		case frameRequest:
			if f.Request == nil {
				continue
			}
			go c.serve(*f.Request)
		}
	}
}

func (c *Channel) serve(req agentnet.RequestEnvelope) {
	var resp agentnet.ResponseEnvelope
	if c.handler == nil {
		resp = agentnet.ResponseEnvelope{EnvelopeID: req.EnvelopeID, Err: "node has no request handler wired"}
	} else {
		resp = c.handler.HandleRequest(req)
		resp.EnvelopeID = req.EnvelopeID
	}
	select {
	case c.send <- wireFrame{Kind: frameResponse, Response: &resp}:
	case <-c.done:
	}
}

// DialPeer opens an outbound data channel to a peer agent listening at
// addr (the dial address carried in a signal:answer payload).
func DialPeer(remoteNodeID, addr string, handler RequestHandler) (*Channel, error) {
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial peer %s at %s: %w", remoteNodeID, addr, err)
	}
	return NewChannel(remoteNodeID, conn, handler), nil
}

// Listener accepts inbound peer data channel connections on a local
// HTTP server, handing each one to onAccept as soon as the websocket
// upgrade completes.
type Listener struct {
	upgrader websocket.Upgrader
	handler  RequestHandler
	onAccept func(remoteNodeID string, ch *Channel)
	logger   zerolog.Logger
}

// NewListener creates a peer-channel acceptor. onAccept is called once
// per inbound connection with the newly wrapped channel; handler answers
// every inbound request arriving on any accepted channel.
func NewListener(handler RequestHandler, onAccept func(remoteNodeID string, ch *Channel)) *Listener {
	return &Listener{
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		handler:  handler,
		onAccept: onAccept,
		logger:   log.WithComponent("agentconn"),
	}
}

// ServeHTTP upgrades the connection and wires it as a Channel from the
// node identified by the "node" query parameter.
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	remoteNodeID := r.URL.Query().Get("node")
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Warn().Err(err).Msg("peer channel upgrade failed")
		return
	}
	ch := NewChannel(remoteNodeID, conn, l.handler)
	if l.onAccept != nil {
		l.onAccept(remoteNodeID, ch)
	}
}
