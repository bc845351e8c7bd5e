package sessionhub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// session is one agent's live connection. It is only ever touched from the
// Hub's readLoop and its own writePump goroutine plus sendEnvelope, which serializes
// writes through the send channel rather than calling conn.WriteMessage
// directly from arbitrary goroutines (gorilla/websocket connections are not
// safe for concurrent writers).
type session struct {
	nodeID string
	role   string

	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newSession(conn *websocket.Conn) *session {
	return &session{
		conn:   conn,
		send:   make(chan []byte, 32),
		closed: make(chan struct{}),
	}
}

func (s *session) sendEnvelope(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	select {
	case s.send <- data:
		return nil
	case <-s.closed:
		return websocket.ErrCloseSent
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.conn.Close()
	})
}

// writePump drains the send channel onto the socket until the session
// closes. It owns the only goroutine allowed to call conn.WriteMessage.
func (s *session) writePump() {
	const pingInterval = 15 * time.Second
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-s.send:
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.close()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		case <-s.closed:
			return
		}
	}
}
