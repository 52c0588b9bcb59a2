package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Signaling.TopicPrefix != "webrtc:" {
		t.Fatalf("topic prefix = %q, want webrtc:", cfg.Signaling.TopicPrefix)
	}
	if cfg.Call.ConnectTimeoutSec != 45 {
		t.Fatalf("connect timeout = %d, want 45", cfg.Call.ConnectTimeoutSec)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty key file", func(c *Config) { c.Identity.KeyFile = " " }},
		{"bad listen port", func(c *Config) { c.P2P.ListenPort = 70000 }},
		{"empty mdns tag", func(c *Config) { c.P2P.MdnsTag = "" }},
		{"empty topic prefix", func(c *Config) { c.Signaling.TopicPrefix = "" }},
		{"zero publish timeout", func(c *Config) { c.Signaling.PublishTimeoutSec = 0 }},
		{"no stun servers", func(c *Config) { c.Call.STUNServers = nil }},
		{"non-stun scheme", func(c *Config) { c.Call.STUNServers = []string{"turn:relay.example.org"} }},
		{"zero connect timeout", func(c *Config) { c.Call.ConnectTimeoutSec = 0 }},
		{"bad store url scheme", func(c *Config) { c.Store.RecordStoreURL = "ftp://example.org" }},
		{"store url missing host", func(c *Config) { c.Store.RecordStoreURL = "https://" }},
		{"zero max retries", func(c *Config) { c.Store.MaxRetries = 0 }},
		{"bad bridge addr", func(c *Config) { c.Bridge.HTTPAddr = "no-port" }},
		{"bridge hostname not ip", func(c *Config) { c.Bridge.HTTPAddr = "localhost:8380" }},
		{"bad origin", func(c *Config) { c.Bridge.Origin = "not a url" }},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := Default()
			c.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadKeepsDefaultsForMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	partial := `{"call": {"connect_timeout_seconds": 10}}`
	if err := os.WriteFile(path, []byte(partial), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Call.ConnectTimeoutSec != 10 {
		t.Fatalf("connect timeout = %d, want 10", cfg.Call.ConnectTimeoutSec)
	}
	// Untouched sections fall back to defaults rather than zero values.
	if cfg.Signaling.TopicPrefix != "webrtc:" {
		t.Fatalf("topic prefix = %q, want default", cfg.Signaling.TopicPrefix)
	}
	if len(cfg.Call.STUNServers) == 0 {
		t.Fatal("stun servers lost their default")
	}
}

func TestLoadStripsBOM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := append([]byte{0xEF, 0xBB, 0xBF}, []byte(`{}`)...)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("Load with BOM: %v", err)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"p2p": {"listen_port": -1}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation failure")
	}
}

func TestEnsure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg, created, err := Ensure(path)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if !created {
		t.Fatal("expected created=true on first run")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("created config invalid: %v", err)
	}

	// Second run loads the existing file.
	_, created, err = Ensure(path)
	if err != nil {
		t.Fatalf("Ensure (existing): %v", err)
	}
	if created {
		t.Fatal("expected created=false on second run")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Default()
	cfg.Call.DisableVideo = true
	cfg.Store.RecordStoreURL = "https://records.example.org/api"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	back, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !back.Call.DisableVideo || back.Store.RecordStoreURL != cfg.Store.RecordStoreURL {
		t.Fatalf("round trip mismatch: %+v", back)
	}
}
