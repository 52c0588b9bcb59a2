package rtc

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/orvale/readingroom/internal/signal"
)

// signalLog collects emitted payloads by kind. Candidate events arrive on
// pion's gathering goroutines, so access is locked.
type signalLog struct {
	mu     sync.Mutex
	byKind map[string][]json.RawMessage
}

func newSignalLog() *signalLog {
	return &signalLog{byKind: make(map[string][]json.RawMessage)}
}

func (l *signalLog) add(kind string, data json.RawMessage) {
	l.mu.Lock()
	l.byKind[kind] = append(l.byKind[kind], data)
	l.mu.Unlock()
}

func (l *signalLog) first(kind string) json.RawMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.byKind[kind]) == 0 {
		return nil
	}
	return l.byKind[kind][0]
}

func (l *signalLog) count(kind string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byKind[kind])
}

func (l *signalLog) byKindSnapshot(kind string) []json.RawMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]json.RawMessage(nil), l.byKind[kind]...)
}

func newController(t *testing.T, initiator bool, log *signalLog) *Controller {
	t.Helper()
	c, err := New(initiator, nil, []string{"stun:stun.l.google.com:19302"}, Events{
		OnSignal:       log.add,
		OnRemoteMedia:  func(*RemoteMedia) {},
		OnConnected:    func() {},
		OnDisconnected: func() {},
		OnError:        func(error) {},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestOfferAnswerExchange(t *testing.T) {
	initLog, joinLog := newSignalLog(), newSignalLog()
	initiator := newController(t, true, initLog)
	joiner := newController(t, false, joinLog)

	// Joiner waits; only the initiator emits unprompted.
	if err := joiner.Start(); err != nil {
		t.Fatalf("joiner Start: %v", err)
	}
	if joinLog.first(signal.KindOffer) != nil {
		t.Fatal("joiner emitted an offer")
	}

	if err := initiator.Start(); err != nil {
		t.Fatalf("initiator Start: %v", err)
	}
	offer := initLog.first(signal.KindOffer)
	if offer == nil {
		t.Fatal("initiator emitted no offer")
	}

	// Applying the offer produces the answer synchronously.
	if err := joiner.Apply(signal.KindOffer, offer); err != nil {
		t.Fatalf("joiner Apply offer: %v", err)
	}
	answer := joinLog.first(signal.KindAnswer)
	if answer == nil {
		t.Fatal("joiner emitted no answer")
	}

	if err := initiator.Apply(signal.KindAnswer, answer); err != nil {
		t.Fatalf("initiator Apply answer: %v", err)
	}
}

func TestCandidateBeforeOfferIsBuffered(t *testing.T) {
	initLog, joinLog := newSignalLog(), newSignalLog()
	initiator := newController(t, true, initLog)
	joiner := newController(t, false, joinLog)

	cand, _ := json.Marshal(map[string]any{
		"candidate":     "candidate:1 1 UDP 2122252543 192.168.1.10 54321 typ host",
		"sdpMid":        "0",
		"sdpMLineIndex": 0,
	})

	// Candidate arrives before any remote description: buffered, no error.
	if err := joiner.Apply(signal.KindICECandidate, cand); err != nil {
		t.Fatalf("early candidate: %v", err)
	}

	if err := initiator.Start(); err != nil {
		t.Fatalf("initiator Start: %v", err)
	}
	if err := joiner.Apply(signal.KindOffer, initLog.first(signal.KindOffer)); err != nil {
		t.Fatalf("Apply offer after buffered candidate: %v", err)
	}

	// A candidate after the remote description goes straight through.
	if err := joiner.Apply(signal.KindICECandidate, cand); err != nil {
		t.Fatalf("late candidate: %v", err)
	}
}

func TestReofferResendsOffer(t *testing.T) {
	log := newSignalLog()
	initiator := newController(t, true, log)

	// Nothing to resend before negotiation has started.
	if err := initiator.Reoffer(); err == nil {
		t.Fatal("expected error reoffering before Start")
	}

	if err := initiator.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := initiator.Reoffer(); err != nil {
		t.Fatalf("Reoffer: %v", err)
	}

	if n := log.count(signal.KindOffer); n != 2 {
		t.Fatalf("offer count = %d, want 2", n)
	}

	// Both emissions carry the same local description.
	l := log.byKindSnapshot(signal.KindOffer)
	if string(l[0]) != string(l[1]) {
		t.Fatal("resent offer differs from the original")
	}
}

func TestReofferIsNoopForJoiner(t *testing.T) {
	log := newSignalLog()
	joiner := newController(t, false, log)

	if err := joiner.Reoffer(); err != nil {
		t.Fatalf("Reoffer: %v", err)
	}
	if n := log.count(signal.KindOffer); n != 0 {
		t.Fatalf("joiner emitted %d offers, want 0", n)
	}
}

func TestApplyUnknownKind(t *testing.T) {
	c := newController(t, false, newSignalLog())
	if err := c.Apply("renegotiate", nil); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestApplyAfterCloseIsNoop(t *testing.T) {
	log := newSignalLog()
	c := newController(t, true, log)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := c.Apply(signal.KindOffer, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Apply after Close: %v", err)
	}
}

func TestToggleWithoutSender(t *testing.T) {
	c := newController(t, true, newSignalLog())
	// Receive-only construction has no outbound tracks to toggle.
	if err := c.SetAudioEnabled(false); err == nil {
		t.Fatal("expected error with no audio sender")
	}
	if err := c.SetVideoEnabled(false); err == nil {
		t.Fatal("expected error with no video sender")
	}
}
