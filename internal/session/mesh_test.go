package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/EdwinAdvine/liveroom/internal/signaling"
)

// meshHarness drives one mesh the way the coordinator loop does: every
// entry point and every dispatched callback runs under the same mutex.
type meshHarness struct {
	mu   sync.Mutex
	mesh *Mesh
	sent []signaling.Message
}

func newMeshHarness(t *testing.T, selfID string, maxPeers int) *meshHarness {
	t.Helper()
	h := &meshHarness{}
	h.mesh = NewMesh(MeshConfig{
		MaxPeers: maxPeers,
		Send: func(msg signaling.Message) {
			h.sent = append(h.sent, msg)
		},
		Dispatch: func(fn func()) {
			h.mu.Lock()
			defer h.mu.Unlock()
			fn()
		},
		LocalVideo:    func() webrtc.TrackLocal { return nil },
		LocalAudio:    func() webrtc.TrackLocal { return nil },
		OnTrack:       func(string, *webrtc.TrackRemote) {},
		OnPeerFailure: func(string) {},
	})
	h.mesh.SetSelfID(selfID)
	t.Cleanup(func() {
		h.do(func() { h.mesh.Shutdown() })
	})
	return h
}

func (h *meshHarness) do(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn()
}

// takeSDP pops the most recent frame of the given type and returns its SDP.
func (h *meshHarness) takeSDP(t *testing.T, typ signaling.MessageType) string {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.sent) - 1; i >= 0; i-- {
		if h.sent[i].Type != typ {
			continue
		}
		var p signaling.SDPPayload
		if err := json.Unmarshal(h.sent[i].Payload, &p); err != nil {
			t.Fatalf("unmarshal %s payload: %v", typ, err)
		}
		return p.SDP
	}
	t.Fatalf("no %s frame sent", typ)
	return ""
}

func hostCandidate(port int) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate: fmt.Sprintf("candidate:1 1 udp 2130706431 192.0.2.10 %d typ host", port),
	}
}

func TestMeshOfferAnswerConvergence(t *testing.T) {
	a := newMeshHarness(t, "a", 0)
	b := newMeshHarness(t, "b", 0)

	a.do(func() {
		if err := a.mesh.OfferTo("b"); err != nil {
			t.Fatalf("OfferTo: %v", err)
		}
	})
	offer := a.takeSDP(t, signaling.MessageTypeOffer)

	b.do(func() {
		if err := b.mesh.HandleOffer("a", offer); err != nil {
			t.Fatalf("HandleOffer: %v", err)
		}
	})
	answer := b.takeSDP(t, signaling.MessageTypeAnswer)

	a.do(func() {
		if err := a.mesh.HandleAnswer("b", answer); err != nil {
			t.Fatalf("HandleAnswer: %v", err)
		}
	})

	a.do(func() {
		if !a.mesh.Has("b") || a.mesh.Len() != 1 {
			t.Errorf("a: has=%v len=%d", a.mesh.Has("b"), a.mesh.Len())
		}
		if l := a.mesh.links["b"]; !l.initiator || !l.remoteSet {
			t.Errorf("a link = %+v, want initiator with remote set", l)
		}
	})
	b.do(func() {
		if l := b.mesh.links["a"]; l == nil || l.initiator || !l.remoteSet {
			t.Errorf("b link = %+v, want answerer with remote set", l)
		}
	})
}

func TestMeshOfferToIsIdempotent(t *testing.T) {
	a := newMeshHarness(t, "a", 0)

	a.do(func() {
		if err := a.mesh.OfferTo("b"); err != nil {
			t.Fatalf("OfferTo: %v", err)
		}
		if err := a.mesh.OfferTo("b"); err != nil {
			t.Fatalf("repeat OfferTo: %v", err)
		}
		if a.mesh.Len() != 1 {
			t.Errorf("Len = %d, want 1", a.mesh.Len())
		}
	})
}

func TestMeshEarlyCandidatesAreBufferedAndFlushed(t *testing.T) {
	a := newMeshHarness(t, "a", 0)
	b := newMeshHarness(t, "b", 0)

	// Candidates racing ahead of the offer must not be lost.
	b.do(func() {
		if err := b.mesh.HandleCandidate("a", hostCandidate(40001)); err != nil {
			t.Fatalf("early candidate: %v", err)
		}
		if err := b.mesh.HandleCandidate("a", hostCandidate(40002)); err != nil {
			t.Fatalf("early candidate: %v", err)
		}
		if got := len(b.mesh.pending["a"]); got != 2 {
			t.Fatalf("pending = %d, want 2", got)
		}
	})

	a.do(func() {
		if err := a.mesh.OfferTo("b"); err != nil {
			t.Fatalf("OfferTo: %v", err)
		}
	})
	offer := a.takeSDP(t, signaling.MessageTypeOffer)

	b.do(func() {
		if err := b.mesh.HandleOffer("a", offer); err != nil {
			t.Fatalf("HandleOffer: %v", err)
		}
		if _, ok := b.mesh.pending["a"]; ok {
			t.Error("pending buffer not flushed after remote description")
		}
		if err := b.mesh.HandleCandidate("a", hostCandidate(40003)); err != nil {
			t.Errorf("direct candidate after remote set: %v", err)
		}
	})
}

func TestMeshCandidateBufferIsBounded(t *testing.T) {
	a := newMeshHarness(t, "a", 0)

	a.do(func() {
		for i := 0; i < maxBufferedCandidates; i++ {
			if err := a.mesh.HandleCandidate("b", hostCandidate(41000+i)); err != nil {
				t.Fatalf("candidate %d: %v", i, err)
			}
		}
		err := a.mesh.HandleCandidate("b", hostCandidate(49999))
		if !errors.Is(err, ErrNegotiationFailed) {
			t.Errorf("overflow: err = %v, want ErrNegotiationFailed", err)
		}
	})
}

func TestMeshGlareTieBreak(t *testing.T) {
	a := newMeshHarness(t, "a", 0)
	b := newMeshHarness(t, "b", 0)

	// Both sides offer simultaneously.
	a.do(func() {
		if err := a.mesh.OfferTo("b"); err != nil {
			t.Fatalf("a OfferTo: %v", err)
		}
	})
	b.do(func() {
		if err := b.mesh.OfferTo("a"); err != nil {
			t.Fatalf("b OfferTo: %v", err)
		}
	})
	aOffer := a.takeSDP(t, signaling.MessageTypeOffer)
	bOffer := b.takeSDP(t, signaling.MessageTypeOffer)

	// The smaller id holds its offer and ignores the colliding one.
	a.do(func() {
		if err := a.mesh.HandleOffer("b", bOffer); err != nil {
			t.Fatalf("a HandleOffer: %v", err)
		}
		if l := a.mesh.links["b"]; !l.initiator {
			t.Error("a yielded its offer, want it held")
		}
	})

	// The larger id yields: its link is rebuilt as the answering side.
	b.do(func() {
		if err := b.mesh.HandleOffer("a", aOffer); err != nil {
			t.Fatalf("b HandleOffer: %v", err)
		}
		if l := b.mesh.links["a"]; l.initiator {
			t.Error("b kept its offer, want it yielded")
		}
	})
	answer := b.takeSDP(t, signaling.MessageTypeAnswer)

	a.do(func() {
		if err := a.mesh.HandleAnswer("b", answer); err != nil {
			t.Fatalf("a HandleAnswer: %v", err)
		}
	})
}

func TestMeshCapacity(t *testing.T) {
	a := newMeshHarness(t, "a", 1)

	a.do(func() {
		if err := a.mesh.OfferTo("b"); err != nil {
			t.Fatalf("OfferTo: %v", err)
		}
		if err := a.mesh.OfferTo("c"); !errors.Is(err, ErrMeshFull) {
			t.Errorf("OfferTo over cap: err = %v, want ErrMeshFull", err)
		}
	})

	b := newMeshHarness(t, "d", 0)
	b.do(func() {
		if err := b.mesh.OfferTo("x"); err != nil {
			t.Fatalf("OfferTo: %v", err)
		}
	})
	offer := b.takeSDP(t, signaling.MessageTypeOffer)

	a.do(func() {
		if err := a.mesh.HandleOffer("d", offer); !errors.Is(err, ErrMeshFull) {
			t.Errorf("HandleOffer over cap: err = %v, want ErrMeshFull", err)
		}
	})
}

func TestMeshAnswerForUnknownPeerIsDropped(t *testing.T) {
	a := newMeshHarness(t, "a", 0)

	a.do(func() {
		err := a.mesh.HandleAnswer("stranger", "v=0")
		if !errors.Is(err, ErrPeerUnknown) {
			t.Errorf("err = %v, want ErrPeerUnknown", err)
		}
	})
}

func TestMeshRemoveDropsLinkAndBuffer(t *testing.T) {
	a := newMeshHarness(t, "a", 0)

	a.do(func() {
		if err := a.mesh.OfferTo("b"); err != nil {
			t.Fatalf("OfferTo: %v", err)
		}
		if err := a.mesh.HandleCandidate("c", hostCandidate(42000)); err != nil {
			t.Fatalf("buffer candidate: %v", err)
		}

		a.mesh.Remove("b")
		a.mesh.Remove("c")

		if a.mesh.Has("b") || a.mesh.Len() != 0 {
			t.Error("link survived Remove")
		}
		if _, ok := a.mesh.pending["c"]; ok {
			t.Error("candidate buffer survived Remove")
		}
		// Removing again is a no-op.
		a.mesh.Remove("b")
	})
}

func TestMeshReplaceTrackSwapsEverySender(t *testing.T) {
	a := newMeshHarness(t, "a", 0)

	camera, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "camera", "local")
	if err != nil {
		t.Fatalf("new track: %v", err)
	}
	screen, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen", "local")
	if err != nil {
		t.Fatalf("new track: %v", err)
	}

	a.do(func() {
		if err := a.mesh.OfferTo("b"); err != nil {
			t.Fatalf("OfferTo: %v", err)
		}
		if err := a.mesh.OfferTo("c"); err != nil {
			t.Fatalf("OfferTo: %v", err)
		}

		if err := a.mesh.ReplaceVideoTrack(camera); err != nil {
			t.Fatalf("ReplaceVideoTrack: %v", err)
		}
		for peer, l := range a.mesh.links {
			if l.videoSender.Track() != webrtc.TrackLocal(camera) {
				t.Errorf("peer %s: sender track is not the camera", peer)
			}
		}

		// Screen share rides the same slot.
		if err := a.mesh.ReplaceVideoTrack(screen); err != nil {
			t.Fatalf("ReplaceVideoTrack(screen): %v", err)
		}
		// A nil track pauses the slot.
		if err := a.mesh.ReplaceVideoTrack(nil); err != nil {
			t.Fatalf("ReplaceVideoTrack(nil): %v", err)
		}
		for peer, l := range a.mesh.links {
			if l.videoSender.Track() != nil {
				t.Errorf("peer %s: slot not paused", peer)
			}
		}
	})
}

func TestMeshShutdownClosesEverything(t *testing.T) {
	a := newMeshHarness(t, "a", 0)

	a.do(func() {
		if err := a.mesh.OfferTo("b"); err != nil {
			t.Fatalf("OfferTo: %v", err)
		}
		if err := a.mesh.OfferTo("c"); err != nil {
			t.Fatalf("OfferTo: %v", err)
		}

		a.mesh.Shutdown()
		if a.mesh.Len() != 0 {
			t.Errorf("Len = %d after shutdown", a.mesh.Len())
		}
	})
}
