package agentconn

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/stark/pkg/agentnet"
	"github.com/gorilla/websocket"
)

type echoHandler struct{}

func (echoHandler) HandleRequest(req agentnet.RequestEnvelope) agentnet.ResponseEnvelope {
	return agentnet.ResponseEnvelope{Status: 200, Body: append([]byte("echo:"), req.Body...)}
}

func TestChannelRequestResponseRoundTrip(t *testing.T) {
	accepted := make(chan *Channel, 1)
	listener := NewListener(echoHandler{}, func(remoteNodeID string, ch *Channel) {
		accepted <- ch
	})
	srv := httptest.NewServer(listener)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?node=n-client"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	client := NewChannel("n-server", conn, nil)
	defer client.Close()

	select {
	case <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted the peer connection")
	}

	resp, err := client.Send(agentnet.RequestEnvelope{
		EnvelopeID: "e1",
		Method:     "GET",
		Path:       "/ping",
		Body:       []byte("hi"),
		Deadline:   time.Now().Add(2 * time.Second),
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if resp.Status != 200 || string(resp.Body) != "echo:hi" {
		t.Errorf("resp = %+v, want status=200 body=echo:hi", resp)
	}
}

func TestChannelSendReportsMissingHandler(t *testing.T) {
	accepted := make(chan *Channel, 1)
	listener := NewListener(nil, func(remoteNodeID string, ch *Channel) {
		accepted <- ch
	})
	srv := httptest.NewServer(listener)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?node=n-client"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	client := NewChannel("n-server", conn, nil)
	defer client.Close()

	select {
	case <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted the peer connection")
	}

	resp, err := client.Send(agentnet.RequestEnvelope{
		EnvelopeID: "e2",
		Method:     "GET",
		Path:       "/ping",
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if resp.Err == "" {
		t.Error("resp.Err is empty, want a no-handler-wired error from the server side")
	}
}
