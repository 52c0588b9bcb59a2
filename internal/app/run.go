// Package app wires the concrete layers together: config, signaling relay,
// media capture, peer controller factory, session manager, record queue and
// the UI bridge. It is the only package that imports everything.
package app

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orvale/readingroom/internal/bridge"
	"github.com/orvale/readingroom/internal/config"
	"github.com/orvale/readingroom/internal/media"
	"github.com/orvale/readingroom/internal/rtc"
	"github.com/orvale/readingroom/internal/session"
	"github.com/orvale/readingroom/internal/signal"
	"github.com/orvale/readingroom/internal/store"
	"github.com/orvale/readingroom/internal/util"
)

// Options controls one application run.
type Options struct {
	// Dir is the profile directory; relative config paths resolve under it.
	Dir string

	// ConfigPath is the config file being used, watched for edits.
	ConfigPath string

	Config config.Config

	// StartNow creates a session immediately instead of waiting for the UI.
	StartNow bool

	// JoinRef joins an existing session; accepts a share link or a bare id.
	JoinRef string
}

// acquirerAdapter narrows *media.Acquirer to the session port and lets a
// config reload flip video capture without restarting.
type acquirerAdapter struct {
	disableVideo atomic.Bool
}

func (a *acquirerAdapter) Acquire(audioOnly bool) (session.LocalMedia, error) {
	inner := &media.Acquirer{DisableVideo: a.disableVideo.Load()}
	return inner.Acquire(audioOnly)
}

// Run blocks until ctx is cancelled, then tears everything down in reverse
// order of construction.
func Run(ctx context.Context, opts Options) error {
	cfg := opts.Config

	relay, err := signal.New(ctx, signal.Options{
		ListenPort:     cfg.P2P.ListenPort,
		KeyFile:        util.ResolvePath(opts.Dir, cfg.Identity.KeyFile),
		MdnsTag:        cfg.P2P.MdnsTag,
		BootstrapPeers: cfg.P2P.BootstrapPeers,
		TopicPrefix:    cfg.Signaling.TopicPrefix,
		PublishTimeout: time.Duration(cfg.Signaling.PublishTimeoutSec) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("start signaling relay: %w", err)
	}
	defer relay.Close()

	acquirer := &acquirerAdapter{}
	acquirer.disableVideo.Store(cfg.Call.DisableVideo)

	newPeer := func(initiator bool, lm session.LocalMedia, ev rtc.Events) (session.PeerController, error) {
		local, ok := lm.(*media.LocalMedia)
		if !ok {
			return nil, fmt.Errorf("unexpected local media type %T", lm)
		}
		return rtc.New(initiator, local, cfg.Call.STUNServers, ev)
	}

	mgr := session.New(session.Options{
		Prober:         media.Prober{},
		Acquirer:       acquirer,
		Relay:          relay,
		NewPeer:        newPeer,
		Origin:         cfg.Bridge.Origin,
		ConnectTimeout: time.Duration(cfg.Call.ConnectTimeoutSec) * time.Second,
	})

	var queue *store.Queue
	if cfg.Store.QueuePath != "" {
		var rs store.RecordStore
		if cfg.Store.RecordStoreURL != "" {
			rs = store.NewHTTPStore(cfg.Store.RecordStoreURL)
		}
		queue, err = store.Open(
			util.ResolvePath(opts.Dir, cfg.Store.QueuePath),
			rs,
			cfg.Store.MaxRetries,
			time.Duration(cfg.Store.RetryBackoffSec)*time.Second,
		)
		if err != nil {
			return fmt.Errorf("open record queue: %w", err)
		}
		defer queue.Close()

		mgr.OnChange(recordTransitions(queue))
	}

	// Config edits apply live where that is safe; everything else waits for
	// the next restart.
	if opts.ConfigPath != "" {
		go func() {
			err := config.Watch(ctx, opts.ConfigPath, func(next config.Config) {
				acquirer.disableVideo.Store(next.Call.DisableVideo)
				log.Printf("APP: config reloaded (disable_video=%v)", next.Call.DisableVideo)
			})
			if err != nil && ctx.Err() == nil {
				log.Printf("APP: config watch stopped: %v", err)
			}
		}()
	}

	if err := runInitialAction(ctx, mgr, opts); err != nil {
		return err
	}

	if cfg.Bridge.HTTPAddr != "" {
		srv := bridge.New(mgr)
		if err := srv.Run(ctx, cfg.Bridge.HTTPAddr); err != nil {
			mgr.End()
			return fmt.Errorf("ui bridge: %w", err)
		}
	} else {
		<-ctx.Done()
	}

	mgr.End()
	return nil
}

// runInitialAction handles the -start / -join command line shortcuts.
func runInitialAction(ctx context.Context, mgr *session.Manager, opts Options) error {
	switch {
	case opts.JoinRef != "":
		id, err := session.ParseJoinRef(opts.JoinRef)
		if err != nil {
			return err
		}
		if _, err := mgr.Start(ctx, session.RoleJoiner, id); err != nil {
			return err
		}
		log.Printf("APP: joined session %s", id)

	case opts.StartNow:
		id, err := mgr.Start(ctx, session.RoleInitiator, "")
		if err != nil {
			return err
		}
		log.Printf("APP: started session %s", id)
		if link := mgr.Snapshot().ShareLink; link != "" {
			log.Printf("APP: share link: %s", link)
		}
	}
	return nil
}

// sessionRecord is what the write queue journals for the hosted store.
type sessionRecord struct {
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	Event     string `json:"event"`
	Error     string `json:"error,omitempty"`
	At        int64  `json:"at"`
}

// recordTransitions journals the start and end of every connected session.
// Intermediate connecting states are not recorded; they carry no billing or
// history value.
func recordTransitions(queue *store.Queue) func(session.Snapshot) {
	var mu sync.Mutex
	var lastID string
	var lastRole string
	var wasConnected bool

	return func(snap session.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case snap.Status == session.StatusConnected && !wasConnected:
			wasConnected = true
			lastID = snap.SessionID
			lastRole = string(snap.Role)
			enqueue(queue, sessionRecord{
				SessionID: snap.SessionID,
				Role:      lastRole,
				Event:     "connected",
				At:        time.Now().Unix(),
			})

		case snap.Status == session.StatusDisconnected && wasConnected:
			wasConnected = false
			enqueue(queue, sessionRecord{
				SessionID: lastID,
				Role:      lastRole,
				Event:     "ended",
				Error:     snap.Error,
				At:        time.Now().Unix(),
			})
			lastID = ""
		}
	}
}

func enqueue(queue *store.Queue, rec sessionRecord) {
	id := fmt.Sprintf("%s-%s-%d", rec.SessionID, rec.Event, rec.At)
	if err := queue.Enqueue("sessions", id, rec); err != nil {
		log.Printf("APP: journal session record: %v", err)
	}
}
