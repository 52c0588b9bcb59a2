package session

import "errors"

var (
	// ErrInvalidSessionID means a join was attempted with a token that is
	// not a canonical UUIDv4. Checked before any media or network work.
	ErrInvalidSessionID = errors.New("invalid session id")

	// ErrConnectTimeout means the remote party never answered within the
	// configured connect window.
	ErrConnectTimeout = errors.New("connect timed out")
)
