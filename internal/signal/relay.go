package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/orvale/readingroom/internal/util"
)

func init() {
	// Silence noisy libp2p subsystems — dial failures and backoff errors
	// go to stderr by default and pollute terminal output.
	logging.SetLogLevel("swarm2", "error")
	logging.SetLogLevel("pubsub", "warn")
	logging.SetLogLevel("autonat", "warn")
}

// Options configures the relay's libp2p host.
type Options struct {
	ListenPort     int
	KeyFile        string
	MdnsTag        string
	BootstrapPeers []string
	TopicPrefix    string
	PublishTimeout time.Duration
}

// Relay owns the libp2p host and the per-session GossipSub channels.
// Delivery is at-most-once with no persistence: a message published before
// the other party subscribes is lost, which is acceptable because recovery
// happens at the session level, not the message level.
type Relay struct {
	host host.Host
	ps   *pubsub.PubSub

	topicPrefix    string
	publishTimeout time.Duration

	mu   sync.Mutex
	subs map[string]*subscription // sessionID → the one live subscription
}

type subscription struct {
	sessionID string
	topic     *pubsub.Topic
	sub       *pubsub.Subscription
	cancel    context.CancelFunc

	once sync.Once
}

type mdnsNotifee struct {
	h host.Host
}

func (n *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), util.DefaultConnectTimeout)
	defer cancel()
	_ = n.h.Connect(ctx, pi)
}

// New builds the libp2p host (persistent identity, mDNS LAN discovery,
// optional bootstrap peers) and attaches GossipSub to it.
func New(ctx context.Context, opts Options) (*Relay, error) {
	priv, isNew, err := loadOrCreateKey(opts.KeyFile)
	if err != nil {
		return nil, err
	}
	if isNew {
		log.Printf("SIGNAL: generated new identity key: %s", opts.KeyFile)
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", opts.ListenPort)),
	)
	if err != nil {
		return nil, err
	}

	md := mdns.NewMdnsService(h, opts.MdnsTag, &mdnsNotifee{h: h})
	if err := md.Start(); err != nil {
		_ = h.Close()
		return nil, err
	}

	for _, raw := range opts.BootstrapPeers {
		addr, err := ma.NewMultiaddr(raw)
		if err != nil {
			log.Printf("SIGNAL: skipping invalid bootstrap addr %q: %v", raw, err)
			continue
		}
		pi, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			log.Printf("SIGNAL: skipping bootstrap addr %q: %v", raw, err)
			continue
		}
		dialCtx, cancel := context.WithTimeout(ctx, util.DefaultConnectTimeout)
		if err := h.Connect(dialCtx, *pi); err != nil {
			log.Printf("SIGNAL: bootstrap dial %s failed: %v", pi.ID, err)
		}
		cancel()
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	publishTimeout := opts.PublishTimeout
	if publishTimeout <= 0 {
		publishTimeout = util.DefaultPublishTimeout
	}

	log.Printf("SIGNAL: relay up, peer id %s", h.ID())
	return &Relay{
		host:           h,
		ps:             ps,
		topicPrefix:    opts.TopicPrefix,
		publishTimeout: publishTimeout,
		subs:           make(map[string]*subscription),
	}, nil
}

// SelfID returns the identity used as Message.Sender.
func (r *Relay) SelfID() string {
	return r.host.ID().String()
}

// channelName derives the per-session channel deterministically so both
// parties land on the same topic without a discovery step.
func (r *Relay) channelName(sessionID string) string {
	return r.topicPrefix + sessionID
}

// Subscribe joins the session's channel and delivers every accepted inbound
// message to onMessage, in arrival order, on a single goroutine. Exactly one
// subscription per session may be live: subscribing again first cancels the
// prior one, so a stale handler can never receive duplicate deliveries.
// The returned cancel is idempotent.
func (r *Relay) Subscribe(sessionID string, onMessage func(*Message)) (func(), error) {
	r.mu.Lock()
	if prev, ok := r.subs[sessionID]; ok {
		r.mu.Unlock()
		prev.close()
		r.mu.Lock()
	}

	topic, err := r.ps.Join(r.channelName(sessionID))
	if err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("signal: join channel: %w", err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		_ = topic.Close()
		r.mu.Unlock()
		return nil, fmt.Errorf("signal: subscribe channel: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &subscription{
		sessionID: sessionID,
		topic:     topic,
		sub:       sub,
		cancel:    cancel,
	}
	r.subs[sessionID] = s
	r.mu.Unlock()

	selfID := r.SelfID()
	go func() {
		for {
			m, err := sub.Next(ctx)
			if err != nil {
				return // cancelled or topic closed
			}
			if m.ReceivedFrom == r.host.ID() {
				continue
			}

			var msg Message
			if err := json.Unmarshal(m.Data, &msg); err != nil {
				log.Printf("SIGNAL [%s]: dropping undecodable message: %v", sessionID, err)
				continue
			}
			if !accepts(&msg, selfID, sessionID) {
				continue
			}
			onMessage(&msg)
		}
	}()

	log.Printf("SIGNAL [%s]: subscribed to %s", sessionID, r.channelName(sessionID))
	return func() { r.unsubscribe(s) }, nil
}

func (r *Relay) unsubscribe(s *subscription) {
	r.mu.Lock()
	if cur, ok := r.subs[s.sessionID]; ok && cur == s {
		delete(r.subs, s.sessionID)
	}
	r.mu.Unlock()
	s.close()
	log.Printf("SIGNAL [%s]: unsubscribed", s.sessionID)
}

func (s *subscription) close() {
	s.once.Do(func() {
		s.cancel()
		s.sub.Cancel()
		_ = s.topic.Close()
	})
}

// Publish sends one signaling message on its session's channel.
// Fire-and-forget: there is no delivery confirmation and the message is
// never persisted. The caller must hold a live subscription for the session.
func (r *Relay) Publish(ctx context.Context, msg *Message) error {
	if !validKind(msg.Kind) {
		return fmt.Errorf("signal: unknown kind %q", msg.Kind)
	}

	r.mu.Lock()
	s, ok := r.subs[msg.SessionID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("signal: no live subscription for session %s", msg.SessionID)
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("signal: encode message: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, r.publishTimeout)
	defer cancel()
	if err := s.topic.Publish(pubCtx, b); err != nil {
		return fmt.Errorf("signal: publish %s: %w", msg.Kind, err)
	}
	return nil
}

// Close cancels every live subscription and shuts down the host.
func (r *Relay) Close() error {
	r.mu.Lock()
	subs := make([]*subscription, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	r.subs = make(map[string]*subscription)
	r.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
	return r.host.Close()
}

// loadOrCreateKey loads a persistent identity key from disk,
// or generates a new Ed25519 key and saves it on first run.
func loadOrCreateKey(keyFile string) (crypto.PrivKey, bool, error) {
	data, err := os.ReadFile(keyFile)
	if err == nil {
		priv, err := crypto.UnmarshalPrivateKey(data)
		if err == nil {
			return priv, false, nil
		}
		log.Printf("WARNING: corrupt identity key at %s: %v (generating new key)", keyFile, err)
	}

	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, false, err
	}

	raw, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, false, fmt.Errorf("marshal identity key: %w", err)
	}

	if dir := filepath.Dir(keyFile); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, false, fmt.Errorf("create key directory: %w", err)
		}
	}

	if err := os.WriteFile(keyFile, raw, 0600); err != nil {
		return nil, false, fmt.Errorf("save identity key: %w", err)
	}

	return priv, true, nil
}
