package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
)

// MessageType discriminates every frame on the session socket.
type MessageType string

const (
	MessageTypeRoomState    MessageType = "room_state"
	MessageTypePeerJoined   MessageType = "peer_joined"
	MessageTypePeerLeft     MessageType = "peer_left"
	MessageTypeOffer        MessageType = "offer"
	MessageTypeAnswer       MessageType = "answer"
	MessageTypeICECandidate MessageType = "ice_candidate"
	MessageTypeMediaState   MessageType = "media_state"
	MessageTypeChat         MessageType = "chat"
	MessageTypePing         MessageType = "ping"
	MessageTypePong         MessageType = "pong"
)

var (
	ErrUnknownMessageType = errors.New("unknown signaling message type")
	ErrMalformedPayload   = errors.New("malformed signaling payload")
)

// Message is the wire envelope for all session socket frames.
// Target is set on outbound peer-addressed frames; FromPeer is set by the
// server on inbound ones.
type Message struct {
	Type     MessageType     `json:"type"`
	Target   string          `json:"target,omitempty"`
	FromPeer string          `json:"from_peer,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// PeerInfo describes a room participant as the server reports it.
type PeerInfo struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

type RoomStatePayload struct {
	YourID       string     `json:"your_id"`
	Participants []PeerInfo `json:"participants"`
}

type PeerJoinedPayload struct {
	PeerInfo PeerInfo `json:"peer_info"`
}

type PeerLeftPayload struct {
	PeerID string `json:"peer_id"`
}

type SDPPayload struct {
	SDP string `json:"sdp"`
}

type ICECandidatePayload struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type MediaStatePayload struct {
	PeerID        string `json:"peer_id,omitempty"`
	Video         bool   `json:"video"`
	Audio         bool   `json:"audio"`
	ScreenSharing bool   `json:"screen_sharing"`
}

type ChatPayload struct {
	Content   string    `json:"content"`
	FromName  string    `json:"from_name"`
	FromPeer  string    `json:"from_peer,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Event is the decoded, typed form of an inbound Message. The set of
// implementations is closed; Decode returns ErrUnknownMessageType for
// anything outside it.
type Event interface {
	isSignalingEvent()
}

type RoomStateEvent struct {
	YourID       string
	Participants []PeerInfo
}

type PeerJoinedEvent struct {
	Peer PeerInfo
}

type PeerLeftEvent struct {
	PeerID string
}

type OfferEvent struct {
	From string
	SDP  string
}

type AnswerEvent struct {
	From string
	SDP  string
}

type ICECandidateEvent struct {
	From      string
	Candidate webrtc.ICECandidateInit
}

type MediaStateEvent struct {
	PeerID        string
	Video         bool
	Audio         bool
	ScreenSharing bool
}

type ChatEvent struct {
	FromPeer  string
	FromName  string
	Content   string
	Timestamp time.Time
}

type PongEvent struct{}

func (RoomStateEvent) isSignalingEvent()    {}
func (PeerJoinedEvent) isSignalingEvent()   {}
func (PeerLeftEvent) isSignalingEvent()     {}
func (OfferEvent) isSignalingEvent()        {}
func (AnswerEvent) isSignalingEvent()       {}
func (ICECandidateEvent) isSignalingEvent() {}
func (MediaStateEvent) isSignalingEvent()   {}
func (ChatEvent) isSignalingEvent()         {}
func (PongEvent) isSignalingEvent()         {}

// Decode converts a wire envelope into its typed event.
func Decode(msg *Message) (Event, error) {
	switch msg.Type {

	case MessageTypeRoomState:
		var p RoomStatePayload
		if err := unmarshalPayload(msg, &p); err != nil {
			return nil, err
		}
		return RoomStateEvent{YourID: p.YourID, Participants: p.Participants}, nil

	case MessageTypePeerJoined:
		var p PeerJoinedPayload
		if err := unmarshalPayload(msg, &p); err != nil {
			return nil, err
		}
		return PeerJoinedEvent{Peer: p.PeerInfo}, nil

	case MessageTypePeerLeft:
		var p PeerLeftPayload
		if err := unmarshalPayload(msg, &p); err != nil {
			return nil, err
		}
		return PeerLeftEvent{PeerID: p.PeerID}, nil

	case MessageTypeOffer:
		var p SDPPayload
		if err := unmarshalPayload(msg, &p); err != nil {
			return nil, err
		}
		return OfferEvent{From: msg.FromPeer, SDP: p.SDP}, nil

	case MessageTypeAnswer:
		var p SDPPayload
		if err := unmarshalPayload(msg, &p); err != nil {
			return nil, err
		}
		return AnswerEvent{From: msg.FromPeer, SDP: p.SDP}, nil

	case MessageTypeICECandidate:
		var p ICECandidatePayload
		if err := unmarshalPayload(msg, &p); err != nil {
			return nil, err
		}
		return ICECandidateEvent{From: msg.FromPeer, Candidate: p.Candidate}, nil

	case MessageTypeMediaState:
		var p MediaStatePayload
		if err := unmarshalPayload(msg, &p); err != nil {
			return nil, err
		}
		peerID := p.PeerID
		if peerID == "" {
			peerID = msg.FromPeer
		}
		return MediaStateEvent{
			PeerID:        peerID,
			Video:         p.Video,
			Audio:         p.Audio,
			ScreenSharing: p.ScreenSharing,
		}, nil

	case MessageTypeChat:
		var p ChatPayload
		if err := unmarshalPayload(msg, &p); err != nil {
			return nil, err
		}
		fromPeer := p.FromPeer
		if fromPeer == "" {
			fromPeer = msg.FromPeer
		}
		ts := p.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		return ChatEvent{FromPeer: fromPeer, FromName: p.FromName, Content: p.Content, Timestamp: ts}, nil

	case MessageTypePong, MessageTypePing:
		// Servers answer our pings; some also probe us. Either way the
		// frame carries nothing.
		return PongEvent{}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, msg.Type)
	}
}

func unmarshalPayload(msg *Message, v any) error {
	if len(msg.Payload) == 0 {
		return fmt.Errorf("%w: empty %s payload", ErrMalformedPayload, msg.Type)
	}
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, msg.Type, err)
	}
	return nil
}

// NewMessage builds an outbound envelope with the given payload.
func NewMessage(t MessageType, target string, payload any) (Message, error) {
	msg := Message{Type: t, Target: target}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Message{}, err
		}
		msg.Payload = b
	}
	return msg, nil
}

// MustMessage is NewMessage for payloads that cannot fail to marshal.
func MustMessage(t MessageType, target string, payload any) Message {
	msg, err := NewMessage(t, target, payload)
	if err != nil {
		panic(err)
	}
	return msg
}
