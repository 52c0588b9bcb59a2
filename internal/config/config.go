package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/orvale/readingroom/internal/util"
)

type Config struct {
	Identity  Identity  `json:"identity"`
	P2P       P2P       `json:"p2p"`
	Signaling Signaling `json:"signaling"`
	Call      Call      `json:"call"`
	Store     Store     `json:"store"`
	Bridge    Bridge    `json:"bridge"`
}

type Identity struct {
	KeyFile string `json:"key_file"`
}

type P2P struct {
	ListenPort int    `json:"listen_port"`
	MdnsTag    string `json:"mdns_tag"`

	// Optional bootstrap peers (multiaddrs) dialed at startup so two clients
	// behind different routers can still reach the same pubsub mesh.
	BootstrapPeers []string `json:"bootstrap_peers"`
}

type Signaling struct {
	// Topic prefix for per-session signaling channels. The full channel name
	// is TopicPrefix + sessionID, so both parties subscribe deterministically
	// without a discovery step.
	TopicPrefix string `json:"topic_prefix"`

	PublishTimeoutSec int `json:"publish_timeout_seconds"`
}

type Call struct {
	// STUN servers used for ICE candidate discovery. No TURN relay is
	// configured: two restrictively-NATed peers may fail to connect.
	STUNServers []string `json:"stun_servers"`

	// How long a session may stay in "connecting" before it is torn down
	// with a timeout error. 0 is invalid; there is always a bound.
	ConnectTimeoutSec int `json:"connect_timeout_seconds"`

	// Skip video capture entirely even when a camera is present.
	DisableVideo bool `json:"disable_video"`
}

type Store struct {
	// SQLite journal for the record-store write queue. Relative to the
	// profile directory.
	QueuePath string `json:"queue_path"`

	// Hosted record store base URL. Empty disables remote writes; queued
	// records stay journaled until a URL is configured.
	RecordStoreURL string `json:"record_store_url"`

	MaxRetries      int `json:"max_retries"`
	RetryBackoffSec int `json:"retry_backoff_seconds"`
}

type Bridge struct {
	// Local HTTP address for the UI bridge. Empty disables the bridge.
	HTTPAddr string `json:"http_addr"`

	// Public origin used when formatting shareable session links,
	// e.g. "https://readingroom.example.org".
	Origin string `json:"origin"`
}

func Default() Config {
	return Config{
		Identity: Identity{
			KeyFile: "data/identity.key",
		},
		P2P: P2P{
			ListenPort: 0,
			MdnsTag:    "readingroom-mdns",
		},
		Signaling: Signaling{
			TopicPrefix:       "webrtc:",
			PublishTimeoutSec: 5,
		},
		Call: Call{
			STUNServers: []string{
				"stun:stun.l.google.com:19302",
				"stun:stun1.l.google.com:19302",
			},
			ConnectTimeoutSec: 45,
		},
		Store: Store{
			QueuePath:       "data/writequeue.db",
			MaxRetries:      8,
			RetryBackoffSec: 5,
		},
		Bridge: Bridge{
			HTTPAddr: "127.0.0.1:8380",
			Origin:   "http://127.0.0.1:8380",
		},
	}
}

func (c *Config) Validate() error {
	// Identity
	if strings.TrimSpace(c.Identity.KeyFile) == "" {
		return errors.New("identity.key_file is required")
	}

	// P2P
	if c.P2P.ListenPort < 0 || c.P2P.ListenPort > 65535 {
		return errors.New("p2p.listen_port must be 0..65535")
	}
	if strings.TrimSpace(c.P2P.MdnsTag) == "" {
		return errors.New("p2p.mdns_tag is required")
	}

	// Signaling
	if strings.TrimSpace(c.Signaling.TopicPrefix) == "" {
		return errors.New("signaling.topic_prefix is required")
	}
	if c.Signaling.PublishTimeoutSec <= 0 {
		return errors.New("signaling.publish_timeout_seconds must be > 0")
	}

	// Call
	if len(c.Call.STUNServers) == 0 {
		return errors.New("call.stun_servers must not be empty")
	}
	for _, s := range c.Call.STUNServers {
		if !strings.HasPrefix(s, "stun:") {
			return fmt.Errorf("call.stun_servers entry %q must use the stun: scheme", s)
		}
	}
	if c.Call.ConnectTimeoutSec <= 0 {
		return errors.New("call.connect_timeout_seconds must be > 0")
	}

	// Store
	if strings.TrimSpace(c.Store.QueuePath) == "" {
		return errors.New("store.queue_path is required")
	}
	if c.Store.RecordStoreURL != "" {
		if err := validateStoreURL(c.Store.RecordStoreURL); err != nil {
			return fmt.Errorf("store.record_store_url: %w", err)
		}
	}
	if c.Store.MaxRetries <= 0 {
		return errors.New("store.max_retries must be > 0")
	}
	if c.Store.RetryBackoffSec <= 0 {
		return errors.New("store.retry_backoff_seconds must be > 0")
	}

	// Bridge
	if c.Bridge.HTTPAddr != "" {
		host, _, err := net.SplitHostPort(c.Bridge.HTTPAddr)
		if err != nil {
			return fmt.Errorf("bridge.http_addr: %v", err)
		}
		if host != "" && net.ParseIP(host) == nil {
			return errors.New("bridge.http_addr host must be an IP address")
		}
	}
	if c.Bridge.Origin != "" {
		u, err := url.Parse(c.Bridge.Origin)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errors.New("bridge.origin must be an http(s) URL")
		}
	}

	return nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// validateStoreURL checks that a record store base URL is a usable http(s)
// endpoint.
func validateStoreURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("must use http or https")
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
