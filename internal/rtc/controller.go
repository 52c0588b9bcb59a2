// Package rtc owns the pion PeerConnection for one call. It translates the
// connection's negotiation events into outbound signal payloads and applies
// inbound ones, but never talks to the relay itself — the session layer
// wires the two together.
package rtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/orvale/readingroom/internal/media"
	"github.com/orvale/readingroom/internal/signal"
)

// ErrNegotiation is reported when the peer connection itself fails
// (ICE failure, transport teardown), at any point including after connect.
var ErrNegotiation = errors.New("peer negotiation failed")

// pliInterval is how often a keyframe request is sent for remote video.
const pliInterval = 3 * time.Second

// Events are the controller's callbacks. All fire on pion's internal
// goroutines. Close gates further deliveries, but a callback already past
// the gate can land just after Close returns; consumers must tolerate such
// stragglers (the session layer drops them by generation).
type Events struct {
	// OnSignal delivers an outbound negotiation payload the instant it is
	// generated. The offer is emitted proactively, unprompted — this is not
	// request/response — and every later ICE candidate follows through the
	// same path.
	OnSignal func(kind string, data json.RawMessage)

	// OnRemoteMedia fires when the remote media set gains or replaces a track.
	OnRemoteMedia func(*RemoteMedia)

	// OnConnected fires only when pion reports a live media path, never
	// inferred from signaling message counts.
	OnConnected func()

	// OnDisconnected fires when the connection closes without error.
	OnDisconnected func()

	// OnError fires on negotiation failure, in any state.
	OnError func(error)
}

// Controller drives one peer connection through offer/answer/ICE exchange.
type Controller struct {
	pc        *webrtc.PeerConnection
	initiator bool
	ev        Events

	// mu serializes negotiation (Apply) and guards the candidate buffer.
	// The closed flag is atomic so emit paths that run under mu can still
	// consult it without re-locking.
	mu      sync.Mutex
	closed  atomic.Bool
	pending []webrtc.ICECandidateInit // candidates that arrived before the remote description

	// The relay does not persist, so everything emitted is also kept for
	// resending when the remote party announces it is ready.
	localOffer json.RawMessage
	sentCands  []json.RawMessage

	remote *RemoteMedia

	audioSender *webrtc.RTPSender
	videoSender *webrtc.RTPSender
	localAudio  webrtc.TrackLocal
	localVideo  webrtc.TrackLocal

	done chan struct{}
}

// New builds a peer connection around the previously acquired local media.
// localMedia may be nil (no capture succeeded upstream is not a supported
// path for a call, but receive-only construction keeps the SDP valid).
func New(initiator bool, localMedia *media.LocalMedia, stunServers []string, ev Events) (*Controller, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if localMedia != nil {
		localMedia.PopulateEngine(mediaEngine)
	} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	// Generous ICE timeouts so a brief relay/NAT hiccup does not immediately
	// terminate the call. The default disconnectedTimeout is 5 s — far too
	// short for paths with short outages during re-keying or failover.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: stunServers}},
	})
	if err != nil {
		return nil, err
	}

	c := &Controller{
		pc:        pc,
		initiator: initiator,
		ev:        ev,
		remote:    &RemoteMedia{},
		done:      make(chan struct{}),
	}

	if err := c.attachLocalMedia(localMedia); err != nil {
		_ = pc.Close()
		return nil, err
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return // end of gathering
		}
		b, err := json.Marshal(cand.ToJSON())
		if err != nil {
			return
		}
		c.mu.Lock()
		c.sentCands = append(c.sentCands, b)
		c.mu.Unlock()
		c.emit(signal.KindICECandidate, b)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("RTC: connection state %s", state)
		switch state {
		case webrtc.PeerConnectionStateConnected:
			c.fire(func() { c.ev.OnConnected() })
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
			c.fire(func() { c.ev.OnError(fmt.Errorf("%w: state %s", ErrNegotiation, state)) })
		case webrtc.PeerConnectionStateClosed:
			c.fire(func() { c.ev.OnDisconnected() })
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Printf("RTC: remote %s track %s", track.Kind(), track.ID())
		rt := c.remote.replace(track)
		go c.drainTrack(track, rt)
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go c.keyframeLoop(track)
		}
		c.fire(func() { c.ev.OnRemoteMedia(c.remote) })
	})

	return c, nil
}

// attachLocalMedia adds the captured tracks as senders and fills any gap
// with a recvonly transceiver so CreateOffer/CreateAnswer always produces
// valid m-lines with ICE credentials.
func (c *Controller) attachLocalMedia(lm *media.LocalMedia) error {
	if lm != nil {
		s, err := c.pc.AddTrack(lm.AudioTrack())
		if err != nil {
			return fmt.Errorf("add audio track: %w", err)
		}
		c.audioSender = s
		c.localAudio = lm.AudioTrack()

		if lm.HasVideo() {
			s, err := c.pc.AddTrack(lm.VideoTrack())
			if err != nil {
				return fmt.Errorf("add video track: %w", err)
			}
			c.videoSender = s
			c.localVideo = lm.VideoTrack()
		}
	}

	if c.audioSender == nil {
		if _, err := c.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add recvonly audio transceiver: %w", err)
		}
	}
	if c.videoSender == nil {
		if _, err := c.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add recvonly video transceiver: %w", err)
		}
	}
	return nil
}

// Start kicks off negotiation. The initiator generates and emits the offer
// immediately; the joiner waits for the remote offer via Apply.
func (c *Controller) Start() error {
	if !c.initiator {
		return nil
	}

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}

	b, err := json.Marshal(offer)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.localOffer = b
	c.mu.Unlock()
	c.emit(signal.KindOffer, b)
	return nil
}

// Reoffer re-emits the current local offer and every ICE candidate gathered
// so far. The relay drops anything published before the remote party
// subscribed, so the initiator resends on the joiner's ready announce.
// Duplicate delivery is harmless: reapplying the same description and
// candidates converges to the same negotiation.
func (c *Controller) Reoffer() error {
	if !c.initiator {
		return nil
	}

	c.mu.Lock()
	offer := c.localOffer
	cands := append([]json.RawMessage(nil), c.sentCands...)
	c.mu.Unlock()

	if offer == nil {
		return errors.New("rtc: no local offer to resend")
	}
	c.emit(signal.KindOffer, offer)
	for _, b := range cands {
		c.emit(signal.KindICECandidate, b)
	}
	return nil
}

// Apply feeds one inbound signal payload into the connection. Calls must
// arrive in relay delivery order; the internal lock serializes them.
// ICE candidates arriving before the offer/answer they relate to are
// buffered and flushed (in arrival order) once the remote description is
// set; candidates for an already-completed negotiation are ignored.
func (c *Controller) Apply(kind string, data json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return nil
	}

	switch kind {
	case signal.KindOffer:
		var desc webrtc.SessionDescription
		if err := json.Unmarshal(data, &desc); err != nil {
			return fmt.Errorf("decode offer: %w", err)
		}
		if err := c.pc.SetRemoteDescription(desc); err != nil {
			return fmt.Errorf("set remote offer: %w", err)
		}
		c.flushPendingLocked()

		answer, err := c.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		if err := c.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("set local answer: %w", err)
		}
		b, err := json.Marshal(answer)
		if err != nil {
			return err
		}
		c.emit(signal.KindAnswer, b)
		return nil

	case signal.KindAnswer:
		var desc webrtc.SessionDescription
		if err := json.Unmarshal(data, &desc); err != nil {
			return fmt.Errorf("decode answer: %w", err)
		}
		if err := c.pc.SetRemoteDescription(desc); err != nil {
			return fmt.Errorf("set remote answer: %w", err)
		}
		c.flushPendingLocked()
		return nil

	case signal.KindICECandidate:
		var cand webrtc.ICECandidateInit
		if err := json.Unmarshal(data, &cand); err != nil {
			return fmt.Errorf("decode candidate: %w", err)
		}
		if c.pc.RemoteDescription() == nil {
			c.pending = append(c.pending, cand)
			return nil
		}
		if err := c.pc.AddICECandidate(cand); err != nil {
			// Late candidates for a finished negotiation are expected noise.
			log.Printf("RTC: ignoring late candidate: %v", err)
		}
		return nil

	default:
		return fmt.Errorf("rtc: unhandled signal kind %q", kind)
	}
}

// flushPendingLocked applies candidates buffered before the remote
// description, in arrival order. Caller holds c.mu.
func (c *Controller) flushPendingLocked() {
	for _, cand := range c.pending {
		if err := c.pc.AddICECandidate(cand); err != nil {
			log.Printf("RTC: buffered candidate rejected: %v", err)
		}
	}
	c.pending = nil
}

// Remote returns the remote media set. Never nil.
func (c *Controller) Remote() *RemoteMedia { return c.remote }

// SetAudioEnabled pauses or resumes the outbound audio track via
// ReplaceTrack, so mute never stops the capture.
func (c *Controller) SetAudioEnabled(enabled bool) error {
	return c.setEnabled(c.audioSender, c.localAudio, enabled)
}

// SetVideoEnabled pauses or resumes the outbound video track. Returns an
// error on audio-only sessions, which have no video sender.
func (c *Controller) SetVideoEnabled(enabled bool) error {
	return c.setEnabled(c.videoSender, c.localVideo, enabled)
}

func (c *Controller) setEnabled(sender *webrtc.RTPSender, track webrtc.TrackLocal, enabled bool) error {
	if sender == nil {
		return errors.New("rtc: no outbound track of that kind")
	}
	if enabled {
		return sender.ReplaceTrack(track)
	}
	return sender.ReplaceTrack(nil)
}

// Close releases the connection synchronously and gates the event
// callbacks. A delivery already in flight may still land right after Close
// returns. Idempotent.
func (c *Controller) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.done)
	return c.pc.Close()
}

// emit delivers an outbound signal payload unless the controller is closed.
func (c *Controller) emit(kind string, data json.RawMessage) {
	c.fire(func() { c.ev.OnSignal(kind, data) })
}

// fire runs fn unless Close has been called. The check may race a
// concurrent Close: holding a lock across fn would deadlock against the
// session lock during teardown, so stale deliveries are instead discarded
// upstream by generation.
func (c *Controller) fire(fn func()) {
	if !c.closed.Load() {
		fn()
	}
}

// drainTrack reads the remote track so the interceptor chain keeps running
// and the receive counters stay live. Exits when the track errors out,
// which Close forces.
func (c *Controller) drainTrack(track *webrtc.TrackRemote, rt *RemoteTrack) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		rt.record(pkt)
	}
}

// keyframeLoop periodically asks the remote encoder for a keyframe so a
// joiner that missed the first one still renders video promptly.
func (c *Controller) keyframeLoop(track *webrtc.TrackRemote) {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			err := c.pc.WriteRTCP([]rtcp.Packet{
				&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
			})
			if err != nil {
				return
			}
		}
	}
}
