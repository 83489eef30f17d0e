package signaling

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeServer is a minimal session socket endpoint: it records every accepted
// connection and every frame each one delivers.
type fakeServer struct {
	*httptest.Server

	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	received []Message
	authz    []string
}

func newFakeServer(t *testing.T, onConnect func(conn *websocket.Conn, nth int)) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := fs.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		fs.mu.Lock()
		fs.conns = append(fs.conns, conn)
		fs.authz = append(fs.authz, r.Header.Get("Authorization"))
		nth := len(fs.conns)
		fs.mu.Unlock()

		if onConnect != nil {
			onConnect(conn, nth)
		}

		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			fs.mu.Lock()
			fs.received = append(fs.received, msg)
			fs.mu.Unlock()
		}
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) wsURL() string {
	return "ws" + strings.TrimPrefix(fs.URL, "http")
}

func (fs *fakeServer) connCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.conns)
}

func (fs *fakeServer) messages() []Message {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]Message, len(fs.received))
	copy(out, fs.received)
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestChannelConnectAndReceive(t *testing.T) {
	fs := newFakeServer(t, func(conn *websocket.Conn, _ int) {
		conn.WriteJSON(MustMessage(MessageTypeRoomState, "", RoomStatePayload{
			YourID: "u1",
			Participants: []PeerInfo{
				{UserID: "u1", Name: "Amina", Role: "teacher"},
			},
		}))
	})

	c := NewChannel(fs.wsURL(), "tok-123")
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	if got := c.State(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}

	select {
	case ev := <-c.Incoming():
		state, ok := ev.(RoomStateEvent)
		if !ok {
			t.Fatalf("got %T, want RoomStateEvent", ev)
		}
		if state.YourID != "u1" {
			t.Errorf("YourID = %q, want u1", state.YourID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no event delivered")
	}

	fs.mu.Lock()
	authz := fs.authz[0]
	fs.mu.Unlock()
	if authz != "Bearer tok-123" {
		t.Errorf("Authorization = %q, want Bearer tok-123", authz)
	}
}

func TestChannelSendDeliversToServer(t *testing.T) {
	fs := newFakeServer(t, nil)

	c := NewChannel(fs.wsURL(), "")
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	c.Send(MustMessage(MessageTypeChat, "", ChatPayload{Content: "hi", FromName: "Amina"}))

	waitFor(t, "chat frame", func() bool {
		for _, msg := range fs.messages() {
			if msg.Type == MessageTypeChat {
				return true
			}
		}
		return false
	})
}

func TestChannelReconnectsAfterDrop(t *testing.T) {
	fs := newFakeServer(t, func(conn *websocket.Conn, nth int) {
		if nth == 1 {
			// Kill the first connection to simulate a transport failure.
			conn.Close()
		}
	})

	c := NewChannel(fs.wsURL(), "", WithBackoff(10*time.Millisecond, 50*time.Millisecond))
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	waitFor(t, "second connection", func() bool { return fs.connCount() >= 2 })
	waitFor(t, "reopened channel", func() bool { return c.State() == StateOpen })

	if got := c.Attempts(); got != 0 {
		t.Errorf("attempts = %d, want 0 after successful reconnect", got)
	}

	sawReconnecting := false
	for drained := false; !drained; {
		select {
		case st := <-c.States():
			if st == StateReconnecting {
				sawReconnecting = true
			}
		default:
			drained = true
		}
	}
	if !sawReconnecting {
		t.Error("never observed reconnecting state")
	}
}

func TestChannelDisconnectSuppressesReconnect(t *testing.T) {
	fs := newFakeServer(t, nil)

	c := NewChannel(fs.wsURL(), "", WithBackoff(10*time.Millisecond, 50*time.Millisecond))
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	c.Disconnect()
	if got := c.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed", got)
	}

	// Give any stray reconnect loop time to misbehave.
	time.Sleep(150 * time.Millisecond)
	if got := fs.connCount(); got != 1 {
		t.Errorf("connections = %d, want 1 after intentional close", got)
	}

	// Disconnect is idempotent.
	c.Disconnect()
}

func TestChannelQueuedFramesDoNotSurviveIntoNewConnection(t *testing.T) {
	fs := newFakeServer(t, nil)

	c := NewChannel(fs.wsURL(), "")
	// A frame accepted by a previous connection but never flushed before it
	// died: it must not ride out over the next dial.
	c.outgoing <- MustMessage(MessageTypeChat, "", ChatPayload{Content: "stranded", FromName: "Amina"})

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	c.Send(MustMessage(MessageTypeMediaState, "", MediaStatePayload{Video: true}))

	waitFor(t, "fresh frame", func() bool {
		for _, msg := range fs.messages() {
			if msg.Type == MessageTypeMediaState {
				return true
			}
		}
		return false
	})

	for _, msg := range fs.messages() {
		if msg.Type == MessageTypeChat {
			t.Fatal("frame queued before the connection was delivered over it")
		}
	}
}

func TestChannelSendWhileNotOpenDrops(t *testing.T) {
	c := NewChannel("ws://192.0.2.1:1/ws/sessions/x", "")
	// Never connected; Send must not block or panic.
	c.Send(MustMessage(MessageTypeChat, "", ChatPayload{Content: "dropped"}))

	if got := c.State(); got != StateDisconnected {
		t.Errorf("state = %v, want disconnected", got)
	}
}
