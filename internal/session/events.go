package session

import "github.com/EdwinAdvine/liveroom/internal/signaling"

// Event is what the coordinator surfaces to the rendering layer. The
// presentation side re-reads Snapshot on roster-shaped events; chat and
// connectivity carry their data inline.
type Event interface {
	isSessionEvent()
}

// RosterChanged fires when participants join, leave, or change media flags.
type RosterChanged struct{}

// TrackArrived fires when a remote stream attaches to a participant.
type TrackArrived struct {
	PeerID string
}

// ChatReceived fires for every appended chat message, local sends included.
type ChatReceived struct {
	Message ChatMessage
}

// ConnectivityChanged mirrors the signaling channel state for the badge.
type ConnectivityChanged struct {
	State signaling.State
}

// SelfMediaChanged fires after a local toggle or share transition.
type SelfMediaChanged struct {
	Flags MediaFlags
}

// SessionEnded fires once, after Disconnect completes teardown.
type SessionEnded struct{}

func (RosterChanged) isSessionEvent()       {}
func (TrackArrived) isSessionEvent()        {}
func (ChatReceived) isSessionEvent()        {}
func (ConnectivityChanged) isSessionEvent() {}
func (SelfMediaChanged) isSessionEvent()    {}
func (SessionEnded) isSessionEvent()        {}
