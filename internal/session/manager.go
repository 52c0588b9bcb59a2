// Package session orchestrates one two-party call: it drives the prober,
// acquirer, signaling relay and peer controller through connect and
// teardown, and owns the authoritative status the rest of the application
// reads. It is designed to be maximally standalone — coupling to the
// concrete device/transport layers is via the ports in ports.go only.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orvale/readingroom/internal/rtc"
	"github.com/orvale/readingroom/internal/signal"
)

// DefaultConnectTimeout bounds how long a session may sit in "connecting"
// waiting for the remote party.
const DefaultConnectTimeout = 45 * time.Second

// Options wires the manager to its collaborators.
type Options struct {
	Prober   Prober
	Acquirer Acquirer
	Relay    Relay
	NewPeer  PeerFactory

	// Origin is the public base URL used in shareable links.
	Origin string

	// ConnectTimeout defaults to DefaultConnectTimeout when zero.
	ConnectTimeout time.Duration
}

// Manager is the session lifecycle state machine. All transitions funnel
// through apply; Start and End serialize on the same lock, so an End issued
// while an acquisition is in flight waits for it and then tears down its
// result — acquisition itself cannot be aborted mid-prompt.
type Manager struct {
	prober         Prober
	acquirer       Acquirer
	relay          Relay
	newPeer        PeerFactory
	origin         string
	connectTimeout time.Duration

	mu        sync.Mutex
	gen       uint64 // bumped on every teardown; stamps async callbacks
	status    Status
	role      Role
	sessionID string
	lastErr   error
	warning   string

	local       LocalMedia
	peer        PeerController
	unsubscribe func()
	timer       *time.Timer

	audioEnabled bool
	videoEnabled bool

	listenerMu sync.RWMutex
	listeners  []func(Snapshot)
}

// New creates a manager in the disconnected state.
func New(opts Options) *Manager {
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	return &Manager{
		prober:         opts.Prober,
		acquirer:       opts.Acquirer,
		relay:          opts.Relay,
		newPeer:        opts.NewPeer,
		origin:         opts.Origin,
		connectTimeout: timeout,
		status:         StatusDisconnected,
	}
}

// OnChange registers a callback fired with a fresh snapshot after every
// state transition. Callbacks run outside the manager lock.
func (m *Manager) OnChange(fn func(Snapshot)) {
	m.listenerMu.Lock()
	m.listeners = append(m.listeners, fn)
	m.listenerMu.Unlock()
}

// Start begins a session. Initiators get a freshly generated session id;
// joiners must supply one, validated for shape before any device or network
// work happens. Any prior session is fully torn down first — two active
// sessions can never overlap.
func (m *Manager) Start(ctx context.Context, role Role, existingID string) (string, error) {
	var sessionID string
	switch role {
	case RoleInitiator:
		sessionID = uuid.NewString()
	case RoleJoiner:
		if !validSessionID(existingID) {
			return "", fmt.Errorf("%w: %q", ErrInvalidSessionID, existingID)
		}
		sessionID = existingID
	default:
		return "", fmt.Errorf("unknown role %q", role)
	}

	m.mu.Lock()
	gen, err := m.setupLocked(ctx, role, sessionID)
	if err != nil {
		m.mu.Unlock()
		m.notify()
		return "", err
	}
	peer := m.peer
	m.mu.Unlock()

	// Negotiation kickoff happens outside the lock: the initiator's offer is
	// emitted synchronously through OnSignal, which must be free to publish.
	if err := peer.Start(); err != nil {
		m.mu.Lock()
		if gen == m.gen {
			err = m.failLocked(fmt.Errorf("start negotiation: %w", err))
		}
		m.mu.Unlock()
		m.notify()
		return "", err
	}

	// The relay does not persist: anything the initiator published before
	// this subscription existed is gone. The joiner announces itself so the
	// initiator resends the current offer and candidates.
	if role == RoleJoiner {
		m.publishSignal(gen, sessionID, signal.KindReady, nil)
	}

	m.mu.Lock()
	if gen == m.gen {
		m.timer = time.AfterFunc(m.connectTimeout, func() {
			m.apply(event{kind: evTimeout, gen: gen})
		})
	}
	m.mu.Unlock()
	m.notify()
	return sessionID, nil
}

// setupLocked runs the synchronous start sequence: teardown of any prior
// session, probe, acquire, subscribe, peer construction. Returns the
// generation stamping this attempt's callbacks.
func (m *Manager) setupLocked(ctx context.Context, role Role, sessionID string) (uint64, error) {
	// Full teardown first, including unsubscribing from signaling —
	// interleaving old and new subscriptions is how ghost calls happen.
	m.teardownLocked()
	m.lastErr = nil
	m.warning = ""

	m.sessionID = sessionID
	m.role = role
	m.status = StatusConnecting
	gen := m.gen

	log.Printf("SESSION [%s]: starting as %s", sessionID, role)

	caps, err := m.prober.Probe()
	if err != nil {
		return 0, m.failLocked(fmt.Errorf("probe: %w", err))
	}

	lm, err := m.acquirer.Acquire(caps.AudioOnly)
	if err != nil {
		return 0, m.failLocked(fmt.Errorf("acquire media: %w", err))
	}
	m.local = lm

	cancel, err := m.relay.Subscribe(sessionID, func(msg *signal.Message) {
		m.handleSignal(gen, msg)
	})
	if err != nil {
		return 0, m.failLocked(fmt.Errorf("subscribe signaling: %w", err))
	}
	m.unsubscribe = cancel

	peer, err := m.newPeer(role == RoleInitiator, lm, rtc.Events{
		OnSignal: func(kind string, data json.RawMessage) {
			m.publishSignal(gen, sessionID, kind, data)
		},
		OnRemoteMedia: func(*rtc.RemoteMedia) {
			m.notify()
		},
		OnConnected: func() {
			m.apply(event{kind: evPeerConnected, gen: gen})
		},
		OnDisconnected: func() {
			m.apply(event{kind: evPeerClosed, gen: gen})
		},
		OnError: func(err error) {
			m.apply(event{kind: evPeerError, gen: gen, err: err})
		},
	})
	if err != nil {
		return 0, m.failLocked(fmt.Errorf("create peer connection: %w", err))
	}
	m.peer = peer

	m.audioEnabled = true
	m.videoEnabled = lm.HasVideo()
	return gen, nil
}

// failLocked aborts a start attempt: everything built so far is released
// and the error is recorded so the application sees disconnected + reason.
func (m *Manager) failLocked(err error) error {
	id := m.sessionID
	m.teardownLocked()
	m.lastErr = err
	log.Printf("SESSION [%s]: start failed: %v", id, err)
	return err
}

// End tears the session down and clears the error. Idempotent: calling it
// again, or on an already-disconnected manager, is a no-op.
func (m *Manager) End() {
	m.mu.Lock()
	if m.status == StatusDisconnected && m.sessionID == "" && m.lastErr == nil && m.warning == "" {
		m.mu.Unlock()
		return
	}

	// Best-effort hangup so the remote side tears down promptly instead of
	// waiting for ICE to notice. Built under the lock, published outside it:
	// a slow relay must not stall Snapshot or a concurrent Start.
	var msg *signal.Message
	if m.sessionID != "" && m.unsubscribe != nil {
		msg = &signal.Message{
			Kind:      signal.KindHangup,
			Sender:    m.relay.SelfID(),
			SessionID: m.sessionID,
		}
	}
	gen := m.gen
	id := m.sessionID
	m.mu.Unlock()

	if msg != nil {
		if err := m.relay.Publish(context.Background(), msg); err != nil {
			log.Printf("SESSION [%s]: hangup publish failed: %v", id, err)
		}
	}

	m.mu.Lock()
	// A Start that raced the publish owns the state now; leave it alone.
	if gen == m.gen {
		m.teardownLocked()
		m.lastErr = nil
		m.warning = ""
	}
	m.mu.Unlock()

	if id != "" {
		log.Printf("SESSION [%s]: ended", id)
	}
	m.notify()
}

// teardownLocked releases every per-session resource and invalidates all
// outstanding async callbacks. Order matters: peer first, then local tracks
// (explicit stop — a running track after hangup keeps the camera on), then
// the signaling subscription, then the identifiers.
func (m *Manager) teardownLocked() {
	m.gen++

	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.peer != nil {
		_ = m.peer.Close()
		m.peer = nil
	}
	if m.local != nil {
		_ = m.local.Close()
		m.local = nil
	}
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}

	m.sessionID = ""
	m.role = ""
	m.status = StatusDisconnected
	m.audioEnabled = false
	m.videoEnabled = false
}

// apply is the single transition function. Events stamped with a stale
// generation belong to a torn-down session and are dropped.
func (m *Manager) apply(ev event) {
	m.mu.Lock()
	if ev.gen != m.gen {
		m.mu.Unlock()
		return
	}

	changed := true
	switch ev.kind {
	case evPeerConnected:
		if m.status == StatusConnecting {
			m.status = StatusConnected
			if m.timer != nil {
				m.timer.Stop()
				m.timer = nil
			}
			log.Printf("SESSION [%s]: connected", m.sessionID)
		} else {
			changed = false
		}

	case evPeerClosed, evRemoteHangup:
		id := m.sessionID
		m.teardownLocked()
		log.Printf("SESSION [%s]: closed (%s)", id, ev.kind)

	case evPeerError:
		id := m.sessionID
		m.teardownLocked()
		m.lastErr = ev.err
		log.Printf("SESSION [%s]: peer error: %v", id, ev.err)

	case evTimeout:
		if m.status == StatusConnecting {
			id := m.sessionID
			m.teardownLocked()
			m.lastErr = ErrConnectTimeout
			log.Printf("SESSION [%s]: %v", id, ErrConnectTimeout)
		} else {
			changed = false
		}
	}
	m.mu.Unlock()

	if changed {
		m.notify()
	}
}

// handleSignal routes one inbound relay message. Runs on the relay's
// delivery goroutine, so messages reach the peer in delivery order.
func (m *Manager) handleSignal(gen uint64, msg *signal.Message) {
	switch msg.Kind {
	case signal.KindHangup:
		m.apply(event{kind: evRemoteHangup, gen: gen})
		return
	case signal.KindReady:
		m.handleReady(gen)
		return
	}

	m.mu.Lock()
	if gen != m.gen || m.peer == nil {
		m.mu.Unlock()
		return
	}
	peer := m.peer
	m.mu.Unlock()

	if err := peer.Apply(msg.Kind, msg.Data); err != nil {
		m.apply(event{kind: evPeerError, gen: gen, err: err})
	}
}

// handleReady reacts to the joiner's announcement by resending the current
// offer and candidates. Only the initiator has anything to resend.
func (m *Manager) handleReady(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.role != RoleInitiator || m.peer == nil {
		m.mu.Unlock()
		return
	}
	peer := m.peer
	id := m.sessionID
	m.mu.Unlock()

	log.Printf("SESSION [%s]: peer ready, resending offer", id)
	if err := peer.Reoffer(); err != nil {
		m.apply(event{kind: evPeerError, gen: gen, err: err})
	}
}

// publishSignal sends one outbound negotiation payload. A publish failure
// is a SignalingError: surfaced as a warning, never a teardown — losing the
// side channel does not invalidate an already-negotiated media path.
// Deliberately lock-free on the happy path: the peer emits signals
// synchronously and must never re-enter the manager lock.
func (m *Manager) publishSignal(gen uint64, sessionID, kind string, data json.RawMessage) {
	msg := &signal.Message{
		Kind:      kind,
		Sender:    m.relay.SelfID(),
		SessionID: sessionID,
		Data:      data,
	}

	if err := m.relay.Publish(context.Background(), msg); err != nil {
		log.Printf("SESSION [%s]: publish %s failed: %v", sessionID, kind, err)
		go func() {
			m.mu.Lock()
			if gen == m.gen {
				m.warning = err.Error()
			}
			m.mu.Unlock()
			m.notify()
		}()
	}
}

// SetAudioEnabled mutes or unmutes the local microphone. Only the manager
// issues the underlying toggle, so concurrent UI surfaces can't race.
func (m *Manager) SetAudioEnabled(enabled bool) error {
	return m.setEnabled(enabled, true)
}

// SetVideoEnabled turns the local camera feed on or off without stopping
// capture.
func (m *Manager) SetVideoEnabled(enabled bool) error {
	return m.setEnabled(enabled, false)
}

func (m *Manager) setEnabled(enabled, audio bool) error {
	m.mu.Lock()
	if m.peer == nil {
		m.mu.Unlock()
		return errors.New("no active session")
	}
	var err error
	if audio {
		if err = m.peer.SetAudioEnabled(enabled); err == nil {
			m.audioEnabled = enabled
		}
	} else {
		if err = m.peer.SetVideoEnabled(enabled); err == nil {
			m.videoEnabled = enabled
		}
	}
	m.mu.Unlock()

	if err == nil {
		m.notify()
	}
	return err
}

// Snapshot returns the current read state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	s := Snapshot{
		Status:       m.status,
		SessionID:    m.sessionID,
		Role:         m.role,
		Warning:      m.warning,
		AudioEnabled: m.audioEnabled,
		VideoEnabled: m.videoEnabled,
	}
	if m.lastErr != nil {
		s.Error = m.lastErr.Error()
	}
	if m.local != nil {
		s.HasLocalVideo = m.local.HasVideo()
	}
	if m.peer != nil {
		rm := m.peer.Remote()
		s.RemoteAudio = rm.HasAudio()
		s.RemoteVideo = rm.HasVideo()
		s.RemoteStats = rm.Stats()
	}
	if m.sessionID != "" && m.origin != "" {
		s.ShareLink = ShareLink(m.origin, m.sessionID)
	}
	return s
}

// notify fans the current snapshot out to every listener, outside the lock.
func (m *Manager) notify() {
	m.mu.Lock()
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.listenerMu.RLock()
	listeners := make([]func(Snapshot), len(m.listeners))
	copy(listeners, m.listeners)
	m.listenerMu.RUnlock()

	for _, fn := range listeners {
		fn(snap)
	}
}
