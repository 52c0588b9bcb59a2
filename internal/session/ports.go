package session

import (
	"context"
	"encoding/json"

	"github.com/orvale/readingroom/internal/media"
	"github.com/orvale/readingroom/internal/rtc"
	"github.com/orvale/readingroom/internal/signal"
)

// The manager talks to its collaborators through these narrow interfaces
// only, so the lifecycle is testable without devices or a network.
// The concrete media/signal/rtc types satisfy them; app wiring is the one
// place that imports everything.

// Prober checks device availability before any capture.
type Prober interface {
	Probe() (media.Capabilities, error)
}

// LocalMedia is the captured local track set as the manager sees it.
type LocalMedia interface {
	HasVideo() bool
	Close() error
}

// Acquirer captures local media. audioOnly comes from the probe result.
type Acquirer interface {
	Acquire(audioOnly bool) (LocalMedia, error)
}

// Relay is the signaling transport scoped by session id.
type Relay interface {
	SelfID() string
	Subscribe(sessionID string, onMessage func(*signal.Message)) (cancel func(), err error)
	Publish(ctx context.Context, msg *signal.Message) error
}

// PeerController drives one peer connection.
type PeerController interface {
	Start() error
	Reoffer() error
	Apply(kind string, data json.RawMessage) error
	Remote() *rtc.RemoteMedia
	SetAudioEnabled(enabled bool) error
	SetVideoEnabled(enabled bool) error
	Close() error
}

// PeerFactory builds the peer controller for one session attempt.
type PeerFactory func(initiator bool, lm LocalMedia, ev rtc.Events) (PeerController, error)
