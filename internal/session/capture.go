package session

import (
	"fmt"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"     // register camera adapter
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // register microphone adapter
	_ "github.com/pion/mediadevices/pkg/driver/screen"     // register screen adapter
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

// DeviceCapturer acquires camera, microphone, and display media through
// pion/mediadevices. Peer connections must be created from its API so the
// codec selection matches the captured tracks.
type DeviceCapturer struct {
	selector *mediadevices.CodecSelector
	api      *webrtc.API
}

// NewDeviceCapturer configures VP8 + Opus encoding and an API bound to it.
func NewDeviceCapturer() (*DeviceCapturer, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 500_000
	vpxParams.KeyFrameInterval = 30

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}
	opusParams.BitRate = 32_000
	opusParams.Latency = opus.Latency20ms

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	mediaEngine := webrtc.MediaEngine{}
	selector.Populate(&mediaEngine)

	return &DeviceCapturer{
		selector: selector,
		api:      webrtc.NewAPI(webrtc.WithMediaEngine(&mediaEngine)),
	}, nil
}

// NewPeerConnection creates connections that can carry this capturer's
// tracks.
func (c *DeviceCapturer) NewPeerConnection(cfg webrtc.Configuration) (*webrtc.PeerConnection, error) {
	return c.api.NewPeerConnection(cfg)
}

// UserMedia opens the default camera and microphone.
func (c *DeviceCapturer) UserMedia() (LocalTrack, LocalTrack, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(mtc *mediadevices.MediaTrackConstraints) {
			mtc.Width = prop.Int(640)
			mtc.Height = prop.Int(480)
			mtc.FrameRate = prop.Float(30)
		},
		Audio: func(mtc *mediadevices.MediaTrackConstraints) {
			mtc.SampleRate = prop.Int(48000)
			mtc.ChannelCount = prop.Int(1)
			mtc.Latency = prop.Duration(20 * time.Millisecond)
		},
		Codec: c.selector,
	})
	if err != nil {
		return nil, nil, err
	}

	var video, audio LocalTrack
	if tracks := stream.GetVideoTracks(); len(tracks) > 0 {
		video = tracks[0]
	}
	if tracks := stream.GetAudioTracks(); len(tracks) > 0 {
		audio = tracks[0]
	}
	return video, audio, nil
}

// DisplayMedia opens a display-capture track.
func (c *DeviceCapturer) DisplayMedia() (LocalTrack, error) {
	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Video: func(mtc *mediadevices.MediaTrackConstraints) {
			mtc.FrameRate = prop.Float(15)
		},
		Codec: c.selector,
	})
	if err != nil {
		return nil, err
	}

	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, ErrNoCaptureDevice
	}
	return tracks[0], nil
}
