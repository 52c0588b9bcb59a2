// Package store journals writes destined for the hosted record store and
// replays them with bounded retries, so flaky connectivity never loses a
// session record. The record store itself is an external collaborator
// reached through the RecordStore interface.
package store

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// RecordStore is the minimal surface of the hosted data backend.
type RecordStore interface {
	// Put creates or replaces one record in a collection.
	Put(ctx context.Context, collection, id string, payload []byte) error
}

// HTTPStore writes records to a hosted JSON API:
// PUT {base}/{collection}/{id} with a JSON body.
type HTTPStore struct {
	base   string
	client *http.Client
}

// NewHTTPStore builds a store client for the given base URL.
func NewHTTPStore(base string) *HTTPStore {
	return &HTTPStore{
		base:   base,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Put implements RecordStore.
func (s *HTTPStore) Put(ctx context.Context, collection, id string, payload []byte) error {
	u := fmt.Sprintf("%s/%s/%s", s.base, url.PathEscape(collection), url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("record store: %s %s: status %d", collection, id, resp.StatusCode)
	}
	return nil
}
