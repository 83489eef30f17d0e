package session

import (
	"sort"

	"github.com/pion/webrtc/v4"

	"github.com/EdwinAdvine/liveroom/internal/signaling"
)

// Participant is the local view of one remote peer and its last-known media
// flags. Stream may lag the entry itself: it is attached once the first
// remote track fires.
type Participant struct {
	ID            string
	Name          string
	Role          string
	Video         bool
	Audio         bool
	ScreenSharing bool
	Stream        *RemoteStream
}

// RemoteStream collects the inbound tracks for one participant.
type RemoteStream struct {
	Tracks []*webrtc.TrackRemote
}

// Registry is the authoritative local view of who is in the room. It is a
// pure state container mutated only by the coordinator loop; it carries no
// locks of its own.
type Registry struct {
	selfID string
	peers  map[string]*Participant
}

func NewRegistry() *Registry {
	return &Registry{peers: make(map[string]*Participant)}
}

// ApplyRoomState replaces the entire remote set and records our own id.
// Used once per join (and again after a signaling rejoin).
func (r *Registry) ApplyRoomState(selfID string, participants []signaling.PeerInfo) {
	r.selfID = selfID
	r.peers = make(map[string]*Participant, len(participants))
	for _, p := range participants {
		if p.UserID == selfID {
			continue
		}
		r.peers[p.UserID] = &Participant{ID: p.UserID, Name: p.Name, Role: p.Role}
	}
}

// Add inserts a participant entry. Adding an id already present overwrites.
func (r *Registry) Add(info signaling.PeerInfo) {
	if info.UserID == "" || info.UserID == r.selfID {
		return
	}
	r.peers[info.UserID] = &Participant{ID: info.UserID, Name: info.Name, Role: info.Role}
}

// Remove deletes an entry; removing an absent id is a no-op.
func (r *Registry) Remove(id string) {
	delete(r.peers, id)
}

// UpdateMedia merges media flags into an existing entry. Updates for ids we
// have not seen yet are discarded: ordering between peer_joined and
// media_state is not guaranteed.
func (r *Registry) UpdateMedia(id string, video, audio, screenSharing bool) bool {
	p, ok := r.peers[id]
	if !ok {
		return false
	}
	p.Video = video
	p.Audio = audio
	p.ScreenSharing = screenSharing
	return true
}

// AttachTrack appends an inbound track to a participant's stream, creating
// the stream on first arrival. Discarded if the participant is gone.
func (r *Registry) AttachTrack(id string, track *webrtc.TrackRemote) bool {
	p, ok := r.peers[id]
	if !ok {
		return false
	}
	if p.Stream == nil {
		p.Stream = &RemoteStream{}
	}
	p.Stream.Tracks = append(p.Stream.Tracks, track)
	return true
}

func (r *Registry) Get(id string) (*Participant, bool) {
	p, ok := r.peers[id]
	return p, ok
}

func (r *Registry) Has(id string) bool {
	_, ok := r.peers[id]
	return ok
}

func (r *Registry) Len() int {
	return len(r.peers)
}

func (r *Registry) SelfID() string {
	return r.selfID
}

// List returns copies of all entries ordered by id, so snapshots are stable
// across renders.
func (r *Registry) List() []Participant {
	out := make([]Participant, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Clear empties the registry; self id is kept until the next room_state.
func (r *Registry) Clear() {
	r.peers = make(map[string]*Participant)
}
