package session

import "github.com/orvale/readingroom/internal/rtc"

// Role distinguishes the party that opens a session from the one joining it.
// Exactly one participant per session holds each role.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleJoiner    Role = "joiner"
)

// Status is the authoritative session state. It supersedes the peer
// connection's internal state for everything outside this package.
// Transitions are forward-only except teardown, which always lands on
// StatusDisconnected.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// eventKind tags the asynchronous completions fed into the one transition
// function. Every callback constructs an event; nothing mutates status
// directly from more than one code path.
type eventKind int

const (
	evPeerConnected eventKind = iota
	evPeerClosed
	evPeerError
	evRemoteHangup
	evTimeout
)

func (k eventKind) String() string {
	switch k {
	case evPeerConnected:
		return "peer-connected"
	case evPeerClosed:
		return "peer-closed"
	case evPeerError:
		return "peer-error"
	case evRemoteHangup:
		return "remote-hangup"
	case evTimeout:
		return "timeout"
	}
	return "unknown"
}

// event is one tagged async completion. gen stamps which session attempt
// the event belongs to; stale events are dropped, which is what makes a
// late peer error harmless to a fresh session.
type event struct {
	kind eventKind
	gen  uint64
	err  error
}

// Snapshot is the read state exposed to the application layer. It is a
// value: safe to hand to UI code on any goroutine.
type Snapshot struct {
	Status    Status `json:"status"`
	SessionID string `json:"session_id,omitempty"`
	Role      Role   `json:"role,omitempty"`

	// Error is set only by fatal failures and cleared by EndSession.
	// It never coexists with a healthy StatusConnecting.
	Error string `json:"error,omitempty"`

	// Warning carries non-fatal trouble (signaling publish failures) that
	// does not change Status.
	Warning string `json:"warning,omitempty"`

	HasLocalVideo bool `json:"has_local_video"`
	AudioEnabled  bool `json:"audio_enabled"`
	VideoEnabled  bool `json:"video_enabled"`

	RemoteAudio bool      `json:"remote_audio"`
	RemoteVideo bool      `json:"remote_video"`
	RemoteStats rtc.Stats `json:"remote_stats"`

	ShareLink string `json:"share_link,omitempty"`
}
