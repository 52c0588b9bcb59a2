// Package signal ferries WebRTC negotiation messages between the two
// parties of a session over a GossipSub channel. It is a pure transport:
// the Data payload is produced and consumed by the rtc package only, never
// interpreted here.
package signal

import "encoding/json"

// Message kinds. Anything else on the channel is dropped.
//
// "ready" exists because the relay neither persists nor retries: anything
// published before the other party subscribed is simply gone. The joiner
// announces itself with ready once subscribed, and the initiator answers by
// resending its offer and the candidates gathered so far.
const (
	KindReady        = "ready"
	KindOffer        = "offer"
	KindAnswer       = "answer"
	KindICECandidate = "ice-candidate"
	KindHangup       = "hangup"
)

// Message is the signaling wire shape.
//
// Recipient is always null: the channel is already scoped to one session,
// so point-to-point addressing is implicit in the channel name rather than
// carried per message.
type Message struct {
	Kind      string          `json:"kind"`
	Sender    string          `json:"sender"`
	Recipient *string         `json:"recipient"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

// validKind reports whether k is one of the known signal kinds.
func validKind(k string) bool {
	switch k {
	case KindReady, KindOffer, KindAnswer, KindICECandidate, KindHangup:
		return true
	}
	return false
}

// accepts decides whether an inbound message is delivered to the session's
// handler. Own echoes (GossipSub loops locally published messages back),
// messages for other sessions sharing the mesh, and unknown kinds are all
// dropped silently.
func accepts(m *Message, selfID, sessionID string) bool {
	if m == nil || !validKind(m.Kind) {
		return false
	}
	if m.SessionID != sessionID {
		return false
	}
	if m.Sender == selfID {
		return false
	}
	return true
}
