package rpc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// dialTestWS starts the hub, serves handleWS over httptest and dials it.
func dialTestWS(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()

	s.wsHub = NewWSHub()
	go s.wsHub.Run()
	t.Cleanup(s.wsHub.Stop)

	server := httptest.NewServer(http.HandlerFunc(s.handleWS))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	waitForClients(t, s.wsHub, 1)
	return conn
}

func waitForClients(t *testing.T, hub *WSHub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", hub.ClientCount(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) *WSEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	var event WSEvent
	if err := json.Unmarshal(message, &event); err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}
	return &event
}

func TestWSBroadcast(t *testing.T) {
	s := newTestServer(t, nil)
	conn := dialTestWS(t, s)

	s.wsHub.Broadcast(EventSwapAssembled, map[string]string{"request_id": "req-1"})

	event := readEvent(t, conn)
	if event.Type != EventSwapAssembled {
		t.Errorf("event type = %s, want %s", event.Type, EventSwapAssembled)
	}
	data, ok := event.Data.(map[string]interface{})
	if !ok || data["request_id"] != "req-1" {
		t.Errorf("event data = %+v", event.Data)
	}
	if event.Timestamp == 0 {
		t.Error("event timestamp is zero")
	}
}

func TestWSSubscriptionFilter(t *testing.T) {
	s := newTestServer(t, nil)
	conn := dialTestWS(t, s)

	sub, _ := json.Marshal(WSSubscription{
		Action: "subscribe",
		Events: []string{string(EventSwapSubmitted)},
	})
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		t.Fatalf("failed to send subscription: %v", err)
	}
	// Subscription is applied by the server's read loop
	time.Sleep(300 * time.Millisecond)

	s.wsHub.Broadcast(EventSwapAssembled, map[string]string{"request_id": "skipped"})
	s.wsHub.Broadcast(EventSwapSubmitted, map[string]string{"request_id": "wanted"})

	event := readEvent(t, conn)
	if event.Type != EventSwapSubmitted {
		t.Errorf("event type = %s, want %s (filtered event leaked)", event.Type, EventSwapSubmitted)
	}
}

func TestWSHubStopDisconnectsClients(t *testing.T) {
	s := newTestServer(t, nil)
	conn := dialTestWS(t, s)

	s.wsHub.Stop()

	// The hub closes every client's send channel; the write pump turns that
	// into a close frame and the connection dies.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	// Stop is idempotent
	s.wsHub.Stop()
}

func TestWSHubBroadcastChannelFull(t *testing.T) {
	hub := NewWSHub()
	// Run is never started: the channel fills and further events are dropped
	// without blocking the caller.
	for i := 0; i < 300; i++ {
		hub.Broadcast(EventSwapAssembled, nil)
	}
	if len(hub.broadcast) != 256 {
		t.Errorf("broadcast queue length = %d, want 256", len(hub.broadcast))
	}
}
