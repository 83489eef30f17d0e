package signaling

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/EdwinAdvine/liveroom/internal/dns"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 25 * time.Second
	maxMessageSize = 256 * 1024

	defaultReconnectBase = 1 * time.Second
	defaultReconnectCap  = 30 * time.Second
)

// State is the lifecycle of the session socket. StateClosed is terminal and
// only reached through Disconnect.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Channel is one authenticated, ordered, duplex message stream per room.
// It owns the reconnection policy: an unexpected close schedules a redial
// with exponential backoff; Disconnect suppresses any further attempt.
type Channel struct {
	serverURL string
	token     string

	// Reconnect bookkeeping lives here as plain fields so the policy is
	// inspectable rather than buried in closures.
	mu          sync.Mutex
	conn        *websocket.Conn
	state       State
	intentional bool
	attempts    int
	backoff     *backoff.ExponentialBackOff

	incoming chan Event
	outgoing chan Message
	states   chan State
	done     chan struct{}

	closeOnce sync.Once
}

// Option tweaks channel construction; used by tests to shrink backoff.
type Option func(*Channel)

func WithBackoff(base, cap time.Duration) Option {
	return func(c *Channel) {
		c.backoff.InitialInterval = base
		c.backoff.MaxInterval = cap
	}
}

// NewChannel creates a session socket client for a room-scoped URL.
// The token rides as the ambient bearer credential on the upgrade request.
func NewChannel(serverURL, token string, opts ...Option) *Channel {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = defaultReconnectBase
	bo.MaxInterval = defaultReconnectCap
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0 // keep trying until told to stop

	c := &Channel{
		serverURL: serverURL,
		token:     token,
		state:     StateDisconnected,
		backoff:   bo,
		incoming:  make(chan Event, 32),
		outgoing:  make(chan Message, 32),
		states:    make(chan State, 16),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect opens the transport. On success the channel is open, the backoff
// counter resets, and subsequent unexpected closes are handled internally.
func (c *Channel) Connect() error {
	c.mu.Lock()
	if c.intentional {
		c.mu.Unlock()
		return fmt.Errorf("channel closed")
	}
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	conn, err := c.dial()
	if err != nil {
		c.mu.Lock()
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.adopt(conn)
	return nil
}

// dial performs one websocket handshake using the resolver fallback chain.
func (c *Channel) dial() (*websocket.Conn, error) {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}

	dialer := *websocket.DefaultDialer
	dialer.NetDial = func(network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		resolvedIP, err := dns.Lookup(host)
		if err != nil {
			return nil, fmt.Errorf("dns lookup failed: %w", err)
		}
		return net.Dial(network, net.JoinHostPort(resolvedIP, port))
	}

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, _, err := dialer.Dial(u.String(), header)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxMessageSize)
	return conn, nil
}

// adopt installs a freshly dialed connection and starts its pumps.
func (c *Channel) adopt(conn *websocket.Conn) {
	// Frames queued against the previous connection die with it; callers
	// resend from fresh room state. The channel is not open yet, so nothing
	// new can slip in behind the drain.
drain:
	for {
		select {
		case msg := <-c.outgoing:
			slog.Debug("discarding stale outbound message", "type", msg.Type)
		default:
			break drain
		}
	}

	c.mu.Lock()
	c.conn = conn
	c.attempts = 0
	c.backoff.Reset()
	c.setStateLocked(StateOpen)
	c.mu.Unlock()

	connDone := make(chan struct{})
	go c.writePump(conn, connDone)
	go c.readPump(conn, connDone)
}

// readPump reads frames until the connection dies, then hands control to the
// reconnect loop. Malformed frames and unknown types are dropped in place.
func (c *Channel) readPump(conn *websocket.Conn, connDone chan struct{}) {
	defer func() {
		conn.Close()
		close(connDone)
	}()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			c.connectionLost()
			return
		}

		event, err := Decode(&msg)
		if err != nil {
			// Dead-letter branch: unknown and malformed frames never
			// surface to the coordinator.
			slog.Debug("discarding signaling frame", "type", msg.Type, "err", err)
			continue
		}
		if _, ok := event.(PongEvent); ok {
			continue
		}

		select {
		case c.incoming <- event:
		case <-c.done:
			return
		}
	}
}

// writePump drains outbound messages and heartbeats until the connection or
// the channel dies.
func (c *Channel) writePump(conn *websocket.Conn, connDone chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message := <-c.outgoing:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(Message{Type: MessageTypePing}); err != nil {
				return
			}

		case <-connDone:
			return

		case <-c.done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// connectionLost runs after an unexpected transport close. It redials with
// exponential backoff until a dial succeeds or Disconnect is called.
func (c *Channel) connectionLost() {
	c.mu.Lock()
	if c.intentional {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateReconnecting)
	c.mu.Unlock()

	go c.reconnectLoop()
}

func (c *Channel) reconnectLoop() {
	for {
		c.mu.Lock()
		if c.intentional {
			c.mu.Unlock()
			return
		}
		c.attempts++
		attempt := c.attempts
		delay := c.backoff.NextBackOff()
		c.mu.Unlock()

		slog.Debug("scheduling signaling reconnect", "attempt", attempt, "delay", delay)

		select {
		case <-c.done:
			return
		case <-time.After(delay):
		}

		conn, err := c.dial()
		if err != nil {
			slog.Debug("signaling reconnect failed", "attempt", attempt, "err", err)
			continue
		}

		c.adopt(conn)
		return
	}
}

// Send transmits a message if the channel is open. Messages sent while the
// transport is down are dropped; callers resend from fresh state after the
// next room_state.
func (c *Channel) Send(msg Message) {
	c.mu.Lock()
	open := c.state == StateOpen
	c.mu.Unlock()
	if !open {
		slog.Debug("dropping outbound signaling message", "type", msg.Type)
		return
	}

	select {
	case c.outgoing <- msg:
	default:
		slog.Warn("outbound signaling queue full, dropping", "type", msg.Type)
	}
}

// Incoming returns the ordered stream of decoded inbound events.
func (c *Channel) Incoming() <-chan Event {
	return c.incoming
}

// States reports connection state transitions. Stale notifications are
// dropped when the consumer lags; only the progression matters.
func (c *Channel) States() <-chan State {
	return c.states
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the current reconnect attempt counter.
func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Disconnect closes the transport and suppresses every further reconnect
// attempt. Safe to call at any point, any number of times.
func (c *Channel) Disconnect() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.intentional = true
		conn := c.conn
		c.setStateLocked(StateClosed)
		c.mu.Unlock()

		close(c.done)
		if conn != nil {
			conn.Close()
		}
	})
}

func (c *Channel) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	select {
	case c.states <- s:
	default:
	}
}
