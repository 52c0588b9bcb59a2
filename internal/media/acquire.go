package media

import (
	"fmt"
	"log"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
)

// Acquirer captures local microphone and camera tracks.
//
// Audio and video are requested in two separate GetUserMedia calls on
// purpose: a combined request fails as a unit when either device can't be
// opened, and its rejection can't be attributed to one device. Splitting
// maximizes the chance of at least obtaining audio.
type Acquirer struct {
	// DisableVideo skips camera capture entirely.
	DisableVideo bool
}

// Acquire captures audio first, then video. Audio failure is fatal for the
// call; video failure degrades silently to audio-only. There is no retry
// here — the retry affordance re-runs the whole session start.
func (a *Acquirer) Acquire(audioOnly bool) (*LocalMedia, error) {
	selector, err := newCodecSelector()
	if err != nil {
		return nil, fmt.Errorf("codec selector: %w", err)
	}

	// ── Audio, in isolation — mandatory ─────────────────────────────────

	audioStream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(_ *mediadevices.MediaTrackConstraints) {},
		Codec: selector,
	})
	if err != nil {
		return nil, classifyCaptureErr(err)
	}

	var audioTrack mediadevices.Track
	for _, t := range audioStream.GetTracks() {
		t.OnEnded(func(err error) {
			if err != nil {
				log.Printf("MEDIA: audio track ended: %v", err)
			}
		})
		audioTrack = t
	}
	if audioTrack == nil {
		return nil, fmt.Errorf("%w: audio capture returned no track", ErrDeviceNotFound)
	}

	lm := &LocalMedia{
		audio: audioTrack,
		codec: selector,
	}

	// ── Video, in isolation — optional ──────────────────────────────────

	if audioOnly || a.DisableVideo {
		log.Printf("MEDIA: captured audio-only (video skipped)")
		return lm, nil
	}

	videoStream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: videoConstraints,
		Codec: selector,
	})
	if err != nil {
		log.Printf("MEDIA: video capture failed, degrading to audio-only: %v", err)
		return lm, nil
	}

	for _, t := range videoStream.GetTracks() {
		t.OnEnded(func(err error) {
			if err != nil {
				log.Printf("MEDIA: video track ended: %v", err)
			}
		})
		lm.video = t
	}

	log.Printf("MEDIA: captured audio+video")
	return lm, nil
}

// videoConstraints restricts camera capture to raw frame formats at a modest
// resolution. Excluding MJPEG matters: some cameras expose an MJPEG V4L2
// node that produces malformed JPEG frames, which poisons the VP8 encoder
// and breaks SDP negotiation. The 640×480 cap keeps encoding latency down.
func videoConstraints(c *mediadevices.MediaTrackConstraints) {
	c.FrameFormat = prop.FrameFormatOneOf{
		frame.FormatYUYV,
		frame.FormatI420,
		frame.FormatI444,
		frame.FormatRGBA,
	}
	c.Width = prop.IntRanged{Max: 640}
	c.Height = prop.IntRanged{Max: 480}
}

// newCodecSelector builds the VP8+Opus selector shared by capture and the
// peer connection's MediaEngine.
func newCodecSelector() (*mediadevices.CodecSelector, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000 // 1.5 Mbps

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	), nil
}
