package session

import (
	"log/slog"

	"github.com/pion/webrtc/v4"
)

// MediaFlags is the self media state broadcast to peers.
type MediaFlags struct {
	Video         bool
	Audio         bool
	ScreenSharing bool
}

// LocalTrack is the surface the controller needs from a captured track.
// pion/mediadevices tracks satisfy it natively; tests substitute wrappers
// around static sample tracks.
type LocalTrack interface {
	webrtc.TrackLocal
	OnEnded(func(error))
	Close() error
}

// Capturer acquires local media. Implementations own device selection and
// codec negotiation.
type Capturer interface {
	// UserMedia opens camera and microphone. Either track may be nil when
	// the corresponding device is absent.
	UserMedia() (video, audio LocalTrack, err error)
	// DisplayMedia opens a display-capture track.
	DisplayMedia() (LocalTrack, error)
}

// TrackSwitcher swaps the track feeding an already-negotiated outgoing slot
// on every open connection. The mesh implements it with sender-level
// replace, so no renegotiation happens.
type TrackSwitcher interface {
	ReplaceVideoTrack(t webrtc.TrackLocal) error
	ReplaceAudioTrack(t webrtc.TrackLocal) error
}

// MediaController owns the local camera/microphone tracks and the optional
// screen-capture track. Only it starts, stops, or replaces local tracks;
// every connection shares the same track objects by reference.
type MediaController struct {
	capturer Capturer
	switcher TrackSwitcher

	camera LocalTrack
	mic    LocalTrack
	screen LocalTrack

	videoEnabled bool
	audioEnabled bool

	// onScreenEnded routes the capture backend's end-of-stream signal
	// (user stops sharing at the OS level) into the coordinator loop,
	// which invokes the same stop routine as an explicit stop.
	onScreenEnded func()
}

func NewMediaController(capturer Capturer) *MediaController {
	return &MediaController{capturer: capturer}
}

// SetSwitcher wires the mesh in once it exists.
func (m *MediaController) SetSwitcher(s TrackSwitcher) {
	m.switcher = s
}

// SetScreenEndedHandler registers the canonical stop path for
// backend-initiated share termination.
func (m *MediaController) SetScreenEndedHandler(fn func()) {
	m.onScreenEnded = fn
}

// Acquire requests camera and microphone. Denial or device absence degrades
// to a session without local media rather than failing the connect flow.
func (m *MediaController) Acquire() {
	if m.capturer == nil {
		slog.Warn("no capture backend, joining without devices")
		return
	}
	video, audio, err := m.capturer.UserMedia()
	if err != nil {
		slog.Warn("local media unavailable, joining without devices", "err", err)
		return
	}
	m.camera = video
	m.mic = audio
	m.videoEnabled = video != nil
	m.audioEnabled = audio != nil
}

// OutgoingVideo is the track currently feeding the outgoing video slot.
func (m *MediaController) OutgoingVideo() webrtc.TrackLocal {
	if m.screen != nil {
		return m.screen
	}
	if m.videoEnabled && m.camera != nil {
		return m.camera
	}
	return nil
}

// OutgoingAudio is the track currently feeding the outgoing audio slot.
func (m *MediaController) OutgoingAudio() webrtc.TrackLocal {
	if m.audioEnabled && m.mic != nil {
		return m.mic
	}
	return nil
}

// ToggleVideo pauses or resumes the camera without renegotiating: the slot
// keeps its sender and the feed is swapped in place. A live screen share
// owns the video slot, so the flag alone flips underneath it.
func (m *MediaController) ToggleVideo() MediaFlags {
	if m.camera == nil {
		return m.Flags()
	}
	m.videoEnabled = !m.videoEnabled
	if m.screen == nil && m.switcher != nil {
		if err := m.switcher.ReplaceVideoTrack(m.OutgoingVideo()); err != nil {
			slog.Warn("video toggle replace failed", "err", err)
		}
	}
	return m.Flags()
}

// ToggleAudio pauses or resumes the microphone, same mechanism as video.
func (m *MediaController) ToggleAudio() MediaFlags {
	if m.mic == nil {
		return m.Flags()
	}
	m.audioEnabled = !m.audioEnabled
	if m.switcher != nil {
		if err := m.switcher.ReplaceAudioTrack(m.OutgoingAudio()); err != nil {
			slog.Warn("audio toggle replace failed", "err", err)
		}
	}
	return m.Flags()
}

// StartScreenShare acquires a display-capture track and swaps it onto the
// outgoing video slot of every open connection.
func (m *MediaController) StartScreenShare() (MediaFlags, error) {
	if m.screen != nil {
		return m.Flags(), ErrAlreadySharing
	}
	if m.capturer == nil {
		return m.Flags(), NewError("start screen share", ErrNoCaptureDevice)
	}

	screen, err := m.capturer.DisplayMedia()
	if err != nil {
		return m.Flags(), NewError("start screen share", err)
	}

	m.screen = screen
	screen.OnEnded(func(error) {
		if m.onScreenEnded != nil {
			m.onScreenEnded()
		}
	})

	if m.switcher != nil {
		if err := m.switcher.ReplaceVideoTrack(screen); err != nil {
			m.screen = nil
			screen.Close()
			return m.Flags(), NewError("start screen share", err)
		}
	}
	return m.Flags(), nil
}

// StopScreenShare stops the capture and restores the camera track. This is
// the single stop routine for both the explicit call and the
// backend-initiated end-of-stream.
func (m *MediaController) StopScreenShare() (MediaFlags, error) {
	if m.screen == nil {
		return m.Flags(), ErrNotSharing
	}

	screen := m.screen
	m.screen = nil
	if err := screen.Close(); err != nil {
		slog.Debug("screen track close", "err", err)
	}

	if m.switcher != nil {
		if err := m.switcher.ReplaceVideoTrack(m.OutgoingVideo()); err != nil {
			return m.Flags(), NewError("stop screen share", err)
		}
	}
	return m.Flags(), nil
}

// Flags returns the current self media state.
func (m *MediaController) Flags() MediaFlags {
	return MediaFlags{
		Video:         m.videoEnabled && m.camera != nil,
		Audio:         m.audioEnabled && m.mic != nil,
		ScreenSharing: m.screen != nil,
	}
}

// Stop releases every device handle. A stuck camera handle blocks the
// device for future sessions, so this runs on every teardown path.
func (m *MediaController) Stop() {
	for _, t := range []LocalTrack{m.screen, m.camera, m.mic} {
		if t == nil {
			continue
		}
		if err := t.Close(); err != nil {
			slog.Debug("track close", "kind", t.Kind(), "err", err)
		}
	}
	m.screen = nil
	m.camera = nil
	m.mic = nil
	m.videoEnabled = false
	m.audioEnabled = false
}
