package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/orvale/readingroom/internal/media"
	"github.com/orvale/readingroom/internal/rtc"
	"github.com/orvale/readingroom/internal/session"
	"github.com/orvale/readingroom/internal/signal"
)

// Minimal in-memory collaborators so the bridge drives a real manager.

type stubProber struct{}

func (stubProber) Probe() (media.Capabilities, error) {
	return media.Capabilities{OK: true}, nil
}

type stubMedia struct{}

func (stubMedia) HasVideo() bool { return true }
func (stubMedia) Close() error   { return nil }

type stubAcquirer struct{}

func (stubAcquirer) Acquire(bool) (session.LocalMedia, error) { return stubMedia{}, nil }

type stubRelay struct{}

func (stubRelay) SelfID() string { return "self" }
func (stubRelay) Subscribe(string, func(*signal.Message)) (func(), error) {
	return func() {}, nil
}
func (stubRelay) Publish(context.Context, *signal.Message) error { return nil }

type stubPeer struct{ remote *rtc.RemoteMedia }

func (stubPeer) Start() error                        { return nil }
func (stubPeer) Reoffer() error                      { return nil }
func (stubPeer) Apply(string, json.RawMessage) error { return nil }
func (p stubPeer) Remote() *rtc.RemoteMedia          { return p.remote }
func (stubPeer) SetAudioEnabled(bool) error          { return nil }
func (stubPeer) SetVideoEnabled(bool) error          { return nil }
func (stubPeer) Close() error                        { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *session.Manager) {
	t.Helper()
	mgr := session.New(session.Options{
		Prober:   stubProber{},
		Acquirer: stubAcquirer{},
		Relay:    stubRelay{},
		Origin:   "https://readingroom.example.org",
		NewPeer: func(bool, session.LocalMedia, rtc.Events) (session.PeerController, error) {
			return stubPeer{remote: &rtc.RemoteMedia{}}, nil
		},
	})
	srv := httptest.NewServer(New(mgr))
	t.Cleanup(srv.Close)
	return srv, mgr
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestStartEndpoint(t *testing.T) {
	srv, mgr := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/session/start", map[string]string{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out struct {
		SessionID string `json:"session_id"`
		ShareLink string `json:"share_link"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.SessionID == "" {
		t.Fatal("empty session id")
	}
	if !strings.Contains(out.ShareLink, "/reading-room?join="+out.SessionID) {
		t.Fatalf("share link = %q", out.ShareLink)
	}
	if mgr.Snapshot().Status != session.StatusConnecting {
		t.Fatalf("manager status = %s", mgr.Snapshot().Status)
	}
}

func TestJoinEndpointRejectsBadRef(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/session/join", map[string]string{"ref": "garbage"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSessionSnapshotEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/session")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var snap session.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.Status != session.StatusDisconnected {
		t.Fatalf("status = %s, want disconnected before any start", snap.Status)
	}
}

func TestToggleWithoutSessionConflicts(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/session/toggle-audio", map[string]bool{"enabled": false})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestEndEndpoint(t *testing.T) {
	srv, mgr := newTestServer(t)

	postJSON(t, srv.URL+"/api/session/start", map[string]string{})
	resp := postJSON(t, srv.URL+"/api/session/end", map[string]string{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := mgr.Snapshot().Status; got != session.StatusDisconnected {
		t.Fatalf("status = %s, want disconnected", got)
	}
}

func TestEventsRing(t *testing.T) {
	srv, _ := newTestServer(t)

	postJSON(t, srv.URL+"/api/session/start", map[string]string{})
	postJSON(t, srv.URL+"/api/session/end", map[string]string{})

	resp, err := http.Get(srv.URL + "/api/session/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var events []Event
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		t.Fatal(err)
	}
	if len(events) < 2 {
		t.Fatalf("got %d events, want at least start and end transitions", len(events))
	}
}

func TestEventsRingClear(t *testing.T) {
	srv, _ := newTestServer(t)

	postJSON(t, srv.URL+"/api/session/start", map[string]string{})
	postJSON(t, srv.URL+"/api/session/end", map[string]string{})

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/session/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out struct {
		Cleared int `json:"cleared"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Cleared < 2 {
		t.Fatalf("cleared = %d, want at least the start and end transitions", out.Cleared)
	}

	after, err := http.Get(srv.URL + "/api/session/events")
	if err != nil {
		t.Fatal(err)
	}
	defer after.Body.Close()
	var events []Event
	if err := json.NewDecoder(after.Body).Decode(&events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("ring holds %d events after clear, want 0", len(events))
	}
}

func TestWebsocketPush(t *testing.T) {
	srv, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// First frame is the snapshot at connect time.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var snap session.Snapshot
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("read initial snapshot: %v", err)
	}
	if snap.Status != session.StatusDisconnected {
		t.Fatalf("initial status = %s", snap.Status)
	}

	// A transition pushes a fresh snapshot.
	postJSON(t, srv.URL+"/api/session/start", map[string]string{})

	deadline := time.Now().Add(2 * time.Second)
	for {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if err := conn.ReadJSON(&snap); err != nil {
			t.Fatalf("read pushed snapshot: %v", err)
		}
		if snap.Status == session.StatusConnecting {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("never saw connecting, last status %s", snap.Status)
		}
	}
}
