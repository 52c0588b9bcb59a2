// Package bridge exposes the session manager to the application's UI layer
// over local HTTP: JSON endpoints for commands and reads, and a websocket
// that pushes a fresh snapshot on every state transition so the UI never
// polls.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/orvale/readingroom/internal/session"
	"github.com/orvale/readingroom/internal/util"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The bridge binds to loopback; the UI may load from file:// in dev.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Event is one entry in the diagnostic ring: a state transition as the UI
// layer saw it.
type Event struct {
	TS        int64  `json:"ts"`
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
	Warning   string `json:"warning,omitempty"`
}

// Server serves the UI bridge for one session manager.
type Server struct {
	mgr    *session.Manager
	mux    *http.ServeMux
	events *util.RingBuffer[Event]

	clientMu sync.Mutex
	clients  map[*websocket.Conn]struct{}
}

// New builds the bridge and subscribes it to manager transitions.
func New(mgr *session.Manager) *Server {
	s := &Server{
		mgr:     mgr,
		mux:     http.NewServeMux(),
		events:  util.NewRingBuffer[Event](200),
		clients: make(map[*websocket.Conn]struct{}),
	}
	s.routes()
	mgr.OnChange(s.onChange)
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/session", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.mgr.Snapshot())
	})

	s.mux.HandleFunc("GET /api/session/events", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.events.Snapshot())
	})

	s.mux.HandleFunc("DELETE /api/session/events", func(w http.ResponseWriter, r *http.Request) {
		n := s.events.Len()
		s.events.Clear()
		writeJSON(w, map[string]int{"cleared": n})
	})

	s.mux.HandleFunc("POST /api/session/start", func(w http.ResponseWriter, r *http.Request) {
		id, err := s.mgr.Start(r.Context(), session.RoleInitiator, "")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]string{
			"session_id": id,
			"share_link": s.mgr.Snapshot().ShareLink,
		})
	})

	s.mux.HandleFunc("POST /api/session/join", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Ref string `json:"ref"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request body", http.StatusBadRequest)
			return
		}
		id, err := session.ParseJoinRef(req.Ref)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, err := s.mgr.Start(r.Context(), session.RoleJoiner, id); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, session.ErrInvalidSessionID) {
				status = http.StatusBadRequest
			}
			http.Error(w, err.Error(), status)
			return
		}
		writeJSON(w, map[string]string{"session_id": id})
	})

	s.mux.HandleFunc("POST /api/session/end", func(w http.ResponseWriter, r *http.Request) {
		s.mgr.End()
		writeJSON(w, map[string]string{"status": "ended"})
	})

	s.mux.HandleFunc("POST /api/session/toggle-audio", s.toggleHandler(s.mgr.SetAudioEnabled))
	s.mux.HandleFunc("POST /api/session/toggle-video", s.toggleHandler(s.mgr.SetVideoEnabled))

	s.mux.HandleFunc("GET /ws", s.handleWS)
}

func (s *Server) toggleHandler(set func(bool) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Enabled bool `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request body", http.StatusBadRequest)
			return
		}
		if err := set(req.Enabled); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, map[string]bool{"enabled": req.Enabled})
	}
}

// handleWS upgrades the connection, sends the current snapshot immediately,
// then keeps pushing on every transition until the client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.clientMu.Lock()
	s.clients[conn] = struct{}{}
	s.clientMu.Unlock()

	_ = conn.WriteJSON(s.mgr.Snapshot())

	// Read loop exists only to observe the close.
	go func() {
		defer s.dropClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) dropClient(conn *websocket.Conn) {
	s.clientMu.Lock()
	delete(s.clients, conn)
	s.clientMu.Unlock()
	_ = conn.Close()
}

// onChange records the transition and fans the snapshot out to every
// websocket client. Slow clients are dropped rather than blocking the
// session manager's notify path.
func (s *Server) onChange(snap session.Snapshot) {
	s.events.Push(Event{
		TS:        time.Now().UnixMilli(),
		Status:    string(snap.Status),
		SessionID: snap.SessionID,
		Error:     snap.Error,
		Warning:   snap.Warning,
	})

	s.clientMu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c)
	}
	s.clientMu.Unlock()

	for _, c := range conns {
		_ = c.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := c.WriteJSON(snap); err != nil {
			s.dropClient(c)
		}
	}
}

// ServeHTTP exposes the bridge routes; Run uses it, and so can an embedding
// server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Run serves the bridge until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), util.ShortTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("BRIDGE: listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
