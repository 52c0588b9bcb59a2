package session

import (
	"fmt"
	"net/url"

	"github.com/google/uuid"
)

// validSessionID reports whether id is a canonical UUIDv4 token.
// uuid.Parse accepts several textual forms (urn:, braces, bare hex); only
// the canonical dashed form is a valid session id on the wire.
func validSessionID(id string) bool {
	u, err := uuid.Parse(id)
	return err == nil && u.Version() == 4 && u.String() == id
}

// ShareLink formats the shareable join reference for a session. Pure
// formatting, no side effects.
func ShareLink(origin, sessionID string) string {
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	u.Path = "/reading-room"
	u.RawQuery = url.Values{"join": {sessionID}}.Encode()
	return u.String()
}

// ParseJoinRef extracts the session id from a shareable link, or accepts a
// bare id pasted directly. The id itself must be a canonical UUIDv4 either
// way.
func ParseJoinRef(ref string) (string, error) {
	if validSessionID(ref) {
		return ref, nil
	}

	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidSessionID, ref)
	}
	id := u.Query().Get("join")
	if !validSessionID(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSessionID, ref)
	}
	return id, nil
}
