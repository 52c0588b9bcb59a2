package rtc

import (
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// RemoteMedia is the set of tracks the remote peer is currently sending.
// The controller replaces a kind wholesale when the remote renegotiates;
// no partial track patching is attempted.
type RemoteMedia struct {
	mu    sync.RWMutex
	audio *RemoteTrack
	video *RemoteTrack
}

// RemoteTrack pairs a received track with its running RTP counters.
type RemoteTrack struct {
	track   *webrtc.TrackRemote
	packets atomic.Uint64
	bytes   atomic.Uint64
}

// record updates the counters for one received packet.
func (t *RemoteTrack) record(p *rtp.Packet) {
	t.packets.Add(1)
	t.bytes.Add(uint64(len(p.Payload)))
}

// replace swaps in a new track for its kind and returns the wrapper.
func (m *RemoteMedia) replace(track *webrtc.TrackRemote) *RemoteTrack {
	rt := &RemoteTrack{track: track}
	m.mu.Lock()
	switch track.Kind() {
	case webrtc.RTPCodecTypeAudio:
		m.audio = rt
	case webrtc.RTPCodecTypeVideo:
		m.video = rt
	}
	m.mu.Unlock()
	return rt
}

// HasAudio reports whether a remote audio track is live.
func (m *RemoteMedia) HasAudio() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.audio != nil
}

// HasVideo reports whether a remote video track is live.
func (m *RemoteMedia) HasVideo() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.video != nil
}

// Stats is a point-in-time snapshot of the receive counters.
type Stats struct {
	AudioPackets uint64 `json:"audio_packets"`
	AudioBytes   uint64 `json:"audio_bytes"`
	VideoPackets uint64 `json:"video_packets"`
	VideoBytes   uint64 `json:"video_bytes"`
}

// Stats returns the current receive counters.
func (m *RemoteMedia) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s Stats
	if m.audio != nil {
		s.AudioPackets = m.audio.packets.Load()
		s.AudioBytes = m.audio.bytes.Load()
	}
	if m.video != nil {
		s.VideoPackets = m.video.packets.Load()
		s.VideoBytes = m.video.bytes.Load()
	}
	return s
}
