package store

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPStorePut(t *testing.T) {
	var gotPath, gotBody, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewHTTPStore(srv.URL)
	err := s.Put(context.Background(), "sessions", "rec-1", []byte(`{"event":"connected"}`))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if gotMethod != http.MethodPut {
		t.Fatalf("method = %s, want PUT", gotMethod)
	}
	if gotPath != "/sessions/rec-1" {
		t.Fatalf("path = %s, want /sessions/rec-1", gotPath)
	}
	if gotBody != `{"event":"connected"}` {
		t.Fatalf("body = %s", gotBody)
	}
}

func TestHTTPStorePutFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewHTTPStore(srv.URL)
	if err := s.Put(context.Background(), "sessions", "rec-1", []byte(`{}`)); err == nil {
		t.Fatal("expected error on 403")
	}
}
