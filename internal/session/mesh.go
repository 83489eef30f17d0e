package session

import (
	"log/slog"

	"github.com/pion/webrtc/v4"

	"github.com/EdwinAdvine/liveroom/internal/signaling"
)

// maxBufferedCandidates bounds the per-peer early-candidate buffer.
const maxBufferedCandidates = 64

// MeshConfig wires a mesh into its owner. All callbacks re-enter the
// coordinator loop through Dispatch; the mesh itself is only ever touched
// from that loop.
type MeshConfig struct {
	ICEServers []webrtc.ICEServer
	ForceRelay bool
	MaxPeers   int

	// NewPeerConnection defaults to webrtc.NewPeerConnection; the device
	// capturer supplies its codec-matched API instead.
	NewPeerConnection func(webrtc.Configuration) (*webrtc.PeerConnection, error)

	Send     func(signaling.Message)
	Dispatch func(func())

	LocalVideo func() webrtc.TrackLocal
	LocalAudio func() webrtc.TrackLocal

	OnTrack       func(peerID string, track *webrtc.TrackRemote)
	OnPeerFailure func(peerID string)
}

// link is one bidirectional media connection to a remote participant.
// Transceivers for both kinds are created up front so the outgoing slots
// always have senders and track swaps never renegotiate.
type link struct {
	pc          *webrtc.PeerConnection
	videoSender *webrtc.RTPSender
	audioSender *webrtc.RTPSender
	remoteSet   bool
	initiator   bool
}

// Mesh maintains one connection per remote participant: full-mesh topology,
// N-1 connections per client. Join order is deterministic: the newcomer
// offers to everyone already present.
type Mesh struct {
	cfg    MeshConfig
	selfID string

	links   map[string]*link
	pending map[string][]webrtc.ICECandidateInit
}

func NewMesh(cfg MeshConfig) *Mesh {
	if cfg.NewPeerConnection == nil {
		cfg.NewPeerConnection = webrtc.NewPeerConnection
	}
	return &Mesh{
		cfg:     cfg,
		links:   make(map[string]*link),
		pending: make(map[string][]webrtc.ICECandidateInit),
	}
}

// SetSelfID records our id for the glare tie-break.
func (m *Mesh) SetSelfID(id string) {
	m.selfID = id
}

// OfferTo creates a connection to peerID, attaches local tracks, and sends
// the offer. Called for every existing participant when room_state arrives.
func (m *Mesh) OfferTo(peerID string) error {
	if _, ok := m.links[peerID]; ok {
		return nil
	}
	if m.cfg.MaxPeers > 0 && len(m.links) >= m.cfg.MaxPeers {
		return NewPeerError("offer", peerID, ErrMeshFull)
	}

	l, err := m.createLink(peerID, true)
	if err != nil {
		return err
	}

	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		m.discard(peerID)
		return NewPeerError("create offer", peerID, err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		m.discard(peerID)
		return NewPeerError("set local description", peerID, err)
	}

	m.cfg.Send(signaling.MustMessage(signaling.MessageTypeOffer, peerID,
		signaling.SDPPayload{SDP: offer.SDP}))
	return nil
}

// HandleOffer answers an inbound offer, creating the connection when it is
// the first contact. Glare resolves deterministically: the lexicographically
// smaller id keeps its offer, the other side yields and answers.
func (m *Mesh) HandleOffer(from, sdp string) error {
	if l, ok := m.links[from]; ok && l.initiator {
		if m.selfID < from {
			slog.Debug("glare: holding our offer", "peer", from)
			return nil
		}
		// Their offer wins; rebuild as the answering side.
		m.discard(from)
	}

	l, ok := m.links[from]
	if !ok {
		var err error
		if m.cfg.MaxPeers > 0 && len(m.links) >= m.cfg.MaxPeers {
			return NewPeerError("answer offer", from, ErrMeshFull)
		}
		l, err = m.createLink(from, false)
		if err != nil {
			return err
		}
	}

	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := l.pc.SetRemoteDescription(remote); err != nil {
		m.discard(from)
		return NewPeerError("set remote description", from, err)
	}
	l.remoteSet = true
	m.flushPending(from, l)

	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		m.discard(from)
		return NewPeerError("create answer", from, err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		m.discard(from)
		return NewPeerError("set local description", from, err)
	}

	m.cfg.Send(signaling.MustMessage(signaling.MessageTypeAnswer, from,
		signaling.SDPPayload{SDP: answer.SDP}))
	return nil
}

// HandleAnswer applies an inbound answer to the pending offer's connection.
// An answer for an unknown peer is dropped.
func (m *Mesh) HandleAnswer(from, sdp string) error {
	l, ok := m.links[from]
	if !ok {
		return NewPeerError("apply answer", from, ErrPeerUnknown)
	}

	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := l.pc.SetRemoteDescription(remote); err != nil {
		return NewPeerError("apply answer", from, err)
	}
	l.remoteSet = true
	m.flushPending(from, l)
	return nil
}

// HandleCandidate adds a remote candidate, buffering it while the connection
// or its remote description is still pending.
func (m *Mesh) HandleCandidate(from string, candidate webrtc.ICECandidateInit) error {
	l, ok := m.links[from]
	if !ok || !l.remoteSet {
		if len(m.pending[from]) >= maxBufferedCandidates {
			return NewPeerError("buffer candidate", from, ErrNegotiationFailed)
		}
		m.pending[from] = append(m.pending[from], candidate)
		return nil
	}
	if err := l.pc.AddICECandidate(candidate); err != nil {
		return NewPeerError("add candidate", from, err)
	}
	return nil
}

func (m *Mesh) flushPending(peerID string, l *link) {
	for _, candidate := range m.pending[peerID] {
		if err := l.pc.AddICECandidate(candidate); err != nil {
			slog.Debug("buffered candidate rejected", "peer", peerID, "err", err)
		}
	}
	delete(m.pending, peerID)
}

// Remove closes and discards the connection for a departed peer.
func (m *Mesh) Remove(peerID string) {
	m.discard(peerID)
}

// Shutdown closes every connection. Part of the single teardown path.
func (m *Mesh) Shutdown() {
	for peerID := range m.links {
		m.discard(peerID)
	}
}

// ReplaceVideoTrack swaps the outgoing video feed on every open connection
// without renegotiating. A nil track pauses the slot.
func (m *Mesh) ReplaceVideoTrack(t webrtc.TrackLocal) error {
	var firstErr error
	for peerID, l := range m.links {
		if err := l.videoSender.ReplaceTrack(t); err != nil && firstErr == nil {
			firstErr = NewPeerError("replace video track", peerID, err)
		}
	}
	return firstErr
}

// ReplaceAudioTrack is ReplaceVideoTrack for the audio slot.
func (m *Mesh) ReplaceAudioTrack(t webrtc.TrackLocal) error {
	var firstErr error
	for peerID, l := range m.links {
		if err := l.audioSender.ReplaceTrack(t); err != nil && firstErr == nil {
			firstErr = NewPeerError("replace audio track", peerID, err)
		}
	}
	return firstErr
}

func (m *Mesh) Has(peerID string) bool {
	_, ok := m.links[peerID]
	return ok
}

func (m *Mesh) Len() int {
	return len(m.links)
}

func (m *Mesh) Peers() []string {
	out := make([]string, 0, len(m.links))
	for id := range m.links {
		out = append(out, id)
	}
	return out
}

// createLink builds the peer connection, its two outgoing slots, and the
// callback plumbing back into the coordinator loop.
func (m *Mesh) createLink(peerID string, initiator bool) (*link, error) {
	policy := webrtc.ICETransportPolicyAll
	if m.cfg.ForceRelay {
		policy = webrtc.ICETransportPolicyRelay
	}

	pc, err := m.cfg.NewPeerConnection(webrtc.Configuration{
		ICEServers:         m.cfg.ICEServers,
		ICETransportPolicy: policy,
	})
	if err != nil {
		return nil, NewPeerError("create peer connection", peerID, err)
	}

	l := &link{pc: pc, initiator: initiator}

	videoTr, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendrecv})
	if err != nil {
		pc.Close()
		return nil, NewPeerError("add video transceiver", peerID, err)
	}
	audioTr, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendrecv})
	if err != nil {
		pc.Close()
		return nil, NewPeerError("add audio transceiver", peerID, err)
	}
	l.videoSender = videoTr.Sender()
	l.audioSender = audioTr.Sender()

	if v := m.cfg.LocalVideo(); v != nil {
		if err := l.videoSender.ReplaceTrack(v); err != nil {
			pc.Close()
			return nil, NewPeerError("attach video track", peerID, err)
		}
	}
	if a := m.cfg.LocalAudio(); a != nil {
		if err := l.audioSender.ReplaceTrack(a); err != nil {
			pc.Close()
			return nil, NewPeerError("attach audio track", peerID, err)
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		candidate := c.ToJSON()
		m.cfg.Dispatch(func() {
			// The peer may have left while the candidate was gathering.
			if current, ok := m.links[peerID]; !ok || current != l {
				return
			}
			m.cfg.Send(signaling.MustMessage(signaling.MessageTypeICECandidate, peerID,
				signaling.ICECandidatePayload{Candidate: candidate}))
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state != webrtc.PeerConnectionStateFailed && state != webrtc.PeerConnectionStateDisconnected {
			return
		}
		m.cfg.Dispatch(func() {
			if current, ok := m.links[peerID]; !ok || current != l {
				return
			}
			slog.Info("peer connection lost", "peer", peerID, "state", state.String())
			m.cfg.OnPeerFailure(peerID)
		})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		m.cfg.Dispatch(func() {
			if current, ok := m.links[peerID]; !ok || current != l {
				return
			}
			m.cfg.OnTrack(peerID, track)
		})
	})

	m.links[peerID] = l
	return l, nil
}

// discard closes and forgets a link along with any buffered candidates.
func (m *Mesh) discard(peerID string) {
	if l, ok := m.links[peerID]; ok {
		if err := l.pc.Close(); err != nil {
			slog.Debug("peer connection close", "peer", peerID, "err", err)
		}
		delete(m.links, peerID)
	}
	delete(m.pending, peerID)
}
