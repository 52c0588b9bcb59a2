package media

import (
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
)

// LocalMedia is the bundle of captured local tracks for one call. It owns
// the tracks until they are handed to the peer connection for transmission;
// the session layer holds only a reference for display and mute control.
type LocalMedia struct {
	mu     sync.Mutex
	closed bool

	audio mediadevices.Track
	video mediadevices.Track
	codec *mediadevices.CodecSelector
}

// AudioTrack returns the captured audio track. Never nil for a live set.
func (m *LocalMedia) AudioTrack() mediadevices.Track { return m.audio }

// VideoTrack returns the captured video track, or nil when running audio-only.
func (m *LocalMedia) VideoTrack() mediadevices.Track { return m.video }

// HasVideo reports whether a video track was captured.
func (m *LocalMedia) HasVideo() bool { return m.video != nil }

// Tracks returns all live tracks, audio first.
func (m *LocalMedia) Tracks() []mediadevices.Track {
	out := []mediadevices.Track{m.audio}
	if m.video != nil {
		out = append(out, m.video)
	}
	return out
}

// PopulateEngine registers the capture codecs (VP8/Opus) on the peer
// connection's MediaEngine so the SDP offers what the encoder produces.
func (m *LocalMedia) PopulateEngine(me *webrtc.MediaEngine) {
	m.codec.Populate(me)
}

// Close stops every track. Idempotent: a second Close is a no-op, so hangup
// paths can call it defensively without double-stop errors. Stopping (not
// merely detaching) matters — a running track after hangup keeps the camera
// light on.
func (m *LocalMedia) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	var firstErr error
	for _, t := range m.Tracks() {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
