package rtc

import (
	"testing"

	"github.com/pion/rtp"
)

func TestRemoteMediaEmpty(t *testing.T) {
	var m RemoteMedia
	if m.HasAudio() || m.HasVideo() {
		t.Fatal("empty remote media reports tracks")
	}
	if s := m.Stats(); s != (Stats{}) {
		t.Fatalf("stats = %+v, want zero", s)
	}
}

func TestRemoteTrackCounters(t *testing.T) {
	rt := &RemoteTrack{}
	rt.record(&rtp.Packet{Payload: make([]byte, 100)})
	rt.record(&rtp.Packet{Payload: make([]byte, 50)})

	if got := rt.packets.Load(); got != 2 {
		t.Fatalf("packets = %d, want 2", got)
	}
	if got := rt.bytes.Load(); got != 150 {
		t.Fatalf("bytes = %d, want 150", got)
	}
}
