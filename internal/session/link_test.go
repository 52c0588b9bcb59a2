package session

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestShareLink(t *testing.T) {
	id := "9f1c6f0e-7d4a-4a7b-9c1d-2e8f0a6b3c5d"

	got := ShareLink("https://readingroom.example.org", id)
	want := "https://readingroom.example.org/reading-room?join=" + id
	if got != want {
		t.Fatalf("ShareLink = %q, want %q", got, want)
	}

	// An origin with a trailing path is normalized away.
	got = ShareLink("http://127.0.0.1:8380/somewhere", id)
	want = "http://127.0.0.1:8380/reading-room?join=" + id
	if got != want {
		t.Fatalf("ShareLink = %q, want %q", got, want)
	}
}

func TestParseJoinRef(t *testing.T) {
	id := uuid.NewString()

	t.Run("bare id", func(t *testing.T) {
		got, err := ParseJoinRef(id)
		if err != nil || got != id {
			t.Fatalf("ParseJoinRef = %q, %v", got, err)
		}
	})

	t.Run("full link", func(t *testing.T) {
		got, err := ParseJoinRef("https://readingroom.example.org/reading-room?join=" + id)
		if err != nil || got != id {
			t.Fatalf("ParseJoinRef = %q, %v", got, err)
		}
	})

	t.Run("round trip through ShareLink", func(t *testing.T) {
		got, err := ParseJoinRef(ShareLink("https://readingroom.example.org", id))
		if err != nil || got != id {
			t.Fatalf("ParseJoinRef = %q, %v", got, err)
		}
	})

	t.Run("rejects junk", func(t *testing.T) {
		for _, ref := range []string{
			"",
			"hello",
			"https://readingroom.example.org/reading-room",
			"https://readingroom.example.org/reading-room?join=nope",
			"https://readingroom.example.org/reading-room?other=" + id,
		} {
			if _, err := ParseJoinRef(ref); !errors.Is(err, ErrInvalidSessionID) {
				t.Errorf("ParseJoinRef(%q) err = %v, want ErrInvalidSessionID", ref, err)
			}
		}
	})
}

func TestValidSessionID(t *testing.T) {
	if !validSessionID(uuid.NewString()) {
		t.Fatal("fresh UUIDv4 rejected")
	}

	v7, err := uuid.NewV7()
	if err != nil {
		t.Fatal(err)
	}
	if validSessionID(v7.String()) {
		t.Fatal("non-v4 UUID accepted")
	}

	id := uuid.NewString()
	for _, variant := range []string{
		"urn:uuid:" + id,
		"{" + id + "}",
		" " + id,
	} {
		if validSessionID(variant) {
			t.Errorf("non-canonical form %q accepted", variant)
		}
	}
}
