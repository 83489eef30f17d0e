// Package session implements the live video session core: the participant
// registry, the peer-connection mesh, local media control, chat relay, and
// the coordinator that composes them over a signaling channel.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/EdwinAdvine/liveroom/internal/iceconfig"
	"github.com/EdwinAdvine/liveroom/internal/signaling"
)

// State is the coordinator lifecycle.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Options wires a coordinator to its collaborators.
type Options struct {
	RoomID      string
	DisplayName string

	Ice      *iceconfig.Provider
	Channel  *signaling.Channel
	Capturer Capturer

	// NewPeerConnection is passed through to the mesh. Leave nil for the
	// default pion API; the device capturer supplies its own.
	NewPeerConnection func(webrtc.Configuration) (*webrtc.PeerConnection, error)

	ForceRelay bool
	MaxPeers   int
}

// Snapshot is a consistent read of the session for rendering.
type Snapshot struct {
	State        State
	Connectivity signaling.State
	SelfID       string
	DisplayName  string
	Self         MediaFlags
	Participants []Participant
	Chat         []ChatMessage
}

// Summary is printed when the user leaves.
type Summary struct {
	Duration         time.Duration
	PeakParticipants int
	ChatMessages     int
}

// Coordinator composes the session core. All state mutation runs on its
// single event loop: inbound signaling, channel state changes, UI commands,
// and pion callbacks all funnel through it, so ordering is the loop's
// arrival order and nothing else holds locks across component calls.
type Coordinator struct {
	opts Options

	mu       sync.RWMutex
	state    State
	registry *Registry
	media    *MediaController
	mesh     *Mesh
	chat     *ChatRelay

	started   time.Time
	peakPeers int

	cmds   chan func()
	events chan Event
	done   chan struct{}

	stopOnce sync.Once
}

func NewCoordinator(opts Options) *Coordinator {
	c := &Coordinator{
		opts:     opts,
		state:    StateIdle,
		registry: NewRegistry(),
		media:    NewMediaController(opts.Capturer),
		cmds:     make(chan func(), 64),
		events:   make(chan Event, 64),
		done:     make(chan struct{}),
	}
	c.chat = NewChatRelay(opts.Channel.Send, opts.DisplayName)
	return c
}

// Connect joins the room: fetch ICE config, acquire local media (best
// effort), open the signaling channel, and start the event loop. Idempotent
// while already connecting or connected.
func (c *Coordinator) Connect(ctx context.Context) error {
	select {
	case <-c.done:
		// Teardown already ran; a coordinator is single-use.
		return NewError("connect", ErrSessionClosed)
	default:
	}

	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	servers := c.opts.Ice.Fetch(ctx, c.opts.RoomID)
	c.media.Acquire()

	if err := c.opts.Channel.Connect(); err != nil {
		c.mu.Lock()
		c.media.Stop()
		c.state = StateDisconnected
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.mesh = NewMesh(MeshConfig{
		ICEServers:        servers,
		ForceRelay:        c.opts.ForceRelay,
		MaxPeers:          c.opts.MaxPeers,
		NewPeerConnection: c.opts.NewPeerConnection,
		Send:              c.opts.Channel.Send,
		Dispatch:          func(fn func()) { c.post(fn) },
		LocalVideo:        c.media.OutgoingVideo,
		LocalAudio:        c.media.OutgoingAudio,
		OnTrack:           c.handleRemoteTrack,
		OnPeerFailure:     c.handlePeerGone,
	})
	c.media.SetSwitcher(c.mesh)
	c.media.SetScreenEndedHandler(func() {
		c.post(func() { c.stopScreenShare() })
	})
	c.started = time.Now()
	c.mu.Unlock()

	go c.run()
	return nil
}

func (c *Coordinator) run() {
	for {
		select {
		case <-c.done:
			return

		case fn := <-c.cmds:
			c.mu.Lock()
			fn()
			c.mu.Unlock()

		case ev := <-c.opts.Channel.Incoming():
			c.mu.Lock()
			c.handleSignal(ev)
			c.mu.Unlock()

		case st := <-c.opts.Channel.States():
			c.mu.Lock()
			c.handleChannelState(st)
			c.mu.Unlock()
		}
	}
}

// handleSignal is the exhaustive match over the inbound event union.
// Decode already dead-letters unknown frames, so an unexpected type here
// means the union itself grew.
func (c *Coordinator) handleSignal(ev signaling.Event) {
	switch e := ev.(type) {

	case signaling.RoomStateEvent:
		c.applyRoomState(e)

	case signaling.PeerJoinedEvent:
		// The newcomer initiates all offers; our side just records them.
		c.registry.Add(e.Peer)
		c.trackPeak()
		c.emit(RosterChanged{})

	case signaling.PeerLeftEvent:
		c.mesh.Remove(e.PeerID)
		c.registry.Remove(e.PeerID)
		c.emit(RosterChanged{})

	case signaling.OfferEvent:
		// A senderless frame would key a link under the empty id, which no
		// peer_left could ever clean up.
		if e.From == "" {
			slog.Debug("offer without sender dropped")
			return
		}
		if err := c.mesh.HandleOffer(e.From, e.SDP); err != nil {
			slog.Warn("offer dropped", "err", err)
		}

	case signaling.AnswerEvent:
		if e.From == "" {
			slog.Debug("answer without sender dropped")
			return
		}
		if err := c.mesh.HandleAnswer(e.From, e.SDP); err != nil {
			slog.Debug("answer dropped", "err", err)
		}

	case signaling.ICECandidateEvent:
		if e.From == "" {
			slog.Debug("candidate without sender dropped")
			return
		}
		if err := c.mesh.HandleCandidate(e.From, e.Candidate); err != nil {
			slog.Debug("candidate dropped", "err", err)
		}

	case signaling.MediaStateEvent:
		if c.registry.UpdateMedia(e.PeerID, e.Video, e.Audio, e.ScreenSharing) {
			c.emit(RosterChanged{})
		}

	case signaling.ChatEvent:
		msg := c.chat.Receive(e)
		c.emit(ChatReceived{Message: msg})

	case signaling.PongEvent:
		// Heartbeat replies carry nothing.

	default:
		slog.Warn("unhandled signaling event", "event", ev)
	}
}

// applyRoomState is the join (and rejoin) entry point: record self, replace
// the roster, and offer to everyone already present. The newcomer-offers
// rule keeps join order deterministic and avoids double-offer races.
func (c *Coordinator) applyRoomState(e signaling.RoomStateEvent) {
	// A room_state is always a fresh join. Any links surviving a signaling
	// outage are torn down here, not on the channel's Open notice: the two
	// arrive on independent channels after a redial and either may drain
	// first, so the reset has to ride the room_state itself.
	c.mesh.Shutdown()
	c.registry.ApplyRoomState(e.YourID, e.Participants)
	c.mesh.SetSelfID(e.YourID)
	c.chat.SetSelfID(e.YourID)
	c.state = StateConnected
	c.trackPeak()

	for _, p := range e.Participants {
		if p.UserID == e.YourID {
			continue
		}
		if err := c.mesh.OfferTo(p.UserID); err != nil {
			slog.Warn("offer failed", "peer", p.UserID, "err", err)
		}
	}

	// Peers learn our flags only through media_state, so announce them.
	c.broadcastMediaState(c.media.Flags())
	c.emit(RosterChanged{})
}

func (c *Coordinator) handleChannelState(st signaling.State) {
	// A reconnected session rejoins from scratch, but the teardown happens
	// in applyRoomState when the fresh room_state lands; here we only
	// surface the transition.
	c.emit(ConnectivityChanged{State: st})
}

func (c *Coordinator) handleRemoteTrack(peerID string, track *webrtc.TrackRemote) {
	if c.registry.AttachTrack(peerID, track) {
		c.emit(TrackArrived{PeerID: peerID})
	}
}

// handlePeerGone is the cleanup path for failed or disconnected peer
// connections; it mirrors peer_left handling.
func (c *Coordinator) handlePeerGone(peerID string) {
	c.mesh.Remove(peerID)
	c.registry.Remove(peerID)
	c.emit(RosterChanged{})
}

// ToggleVideo pauses or resumes the camera and broadcasts the new flags.
func (c *Coordinator) ToggleVideo() {
	c.post(func() {
		flags := c.media.ToggleVideo()
		c.broadcastMediaState(flags)
		c.emit(SelfMediaChanged{Flags: flags})
	})
}

// ToggleAudio pauses or resumes the microphone and broadcasts the new flags.
func (c *Coordinator) ToggleAudio() {
	c.post(func() {
		flags := c.media.ToggleAudio()
		c.broadcastMediaState(flags)
		c.emit(SelfMediaChanged{Flags: flags})
	})
}

// StartScreenShare swaps the outgoing video slot to a display capture.
func (c *Coordinator) StartScreenShare() {
	c.post(func() {
		flags, err := c.media.StartScreenShare()
		if err != nil {
			slog.Warn("screen share start failed", "err", err)
			return
		}
		c.broadcastMediaState(flags)
		c.emit(SelfMediaChanged{Flags: flags})
	})
}

// StopScreenShare restores the camera on the outgoing video slot.
func (c *Coordinator) StopScreenShare() {
	c.post(func() { c.stopScreenShare() })
}

// stopScreenShare is the single stop routine shared by the explicit call
// and the capture backend's end-of-stream signal.
func (c *Coordinator) stopScreenShare() {
	flags, err := c.media.StopScreenShare()
	if err != nil {
		slog.Debug("screen share stop", "err", err)
		return
	}
	c.broadcastMediaState(flags)
	c.emit(SelfMediaChanged{Flags: flags})
}

// SendChat relays a chat message to the room. While the transport is down
// the message is refused outright rather than appended to a log the room
// never saw.
func (c *Coordinator) SendChat(content string) {
	c.post(func() {
		if c.opts.Channel.State() != signaling.StateOpen {
			slog.Warn("chat not sent", "err", ErrChannelNotOpen)
			return
		}
		if msg, ok := c.chat.Send(content); ok {
			c.emit(ChatReceived{Message: msg})
		}
	})
}

// Disconnect is the single deterministic teardown path: close every peer
// connection, release every device handle, close the channel with the
// intentional flag, empty the registry. Safe at any lifecycle point.
func (c *Coordinator) Disconnect() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		if c.mesh != nil {
			c.mesh.Shutdown()
		}
		c.media.Stop()
		c.opts.Channel.Disconnect()
		c.registry.Clear()
		c.state = StateDisconnected
		c.mu.Unlock()

		close(c.done)
		c.emit(SessionEnded{})
	})
}

// Events is the stream the rendering layer consumes. Never closed; consume
// until SessionEnded.
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

// State returns the coordinator lifecycle state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Snapshot returns a consistent copy of everything the room view renders.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		State:        c.state,
		Connectivity: c.opts.Channel.State(),
		SelfID:       c.registry.SelfID(),
		DisplayName:  c.opts.DisplayName,
		Self:         c.media.Flags(),
		Participants: c.registry.List(),
		Chat:         c.chat.History(),
	}
}

// Summarize reports session totals for the exit table.
func (c *Coordinator) Summarize() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var dur time.Duration
	if !c.started.IsZero() {
		dur = time.Since(c.started)
	}
	return Summary{
		Duration:         dur,
		PeakParticipants: c.peakPeers,
		ChatMessages:     c.chat.Len(),
	}
}

func (c *Coordinator) trackPeak() {
	if n := c.registry.Len() + 1; n > c.peakPeers {
		c.peakPeers = n
	}
}

func (c *Coordinator) broadcastMediaState(flags MediaFlags) {
	c.opts.Channel.Send(signaling.MustMessage(signaling.MessageTypeMediaState, "",
		signaling.MediaStatePayload{
			Video:         flags.Video,
			Audio:         flags.Audio,
			ScreenSharing: flags.ScreenSharing,
		}))
}

func (c *Coordinator) post(fn func()) bool {
	select {
	case <-c.done:
		return false
	case c.cmds <- fn:
		return true
	}
}

func (c *Coordinator) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
	}
}
