package media

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy surfaced to the session layer. Callers match with errors.Is
// and decide on the retry affordance; nothing in this package retries.
var (
	// ErrNoDevices means neither a camera nor a microphone input exists.
	ErrNoDevices = errors.New("no media input devices found")

	// ErrNoMicrophone means a camera may exist but no microphone does.
	// Audio is mandatory; video-only calls are not a supported mode.
	ErrNoMicrophone = errors.New("no microphone input found")

	// ErrPermissionDenied means the user or platform policy refused access.
	ErrPermissionDenied = errors.New("media permission denied")

	// ErrDeviceUnavailable means the device exists but is already claimed
	// by another process. Distinct from ErrPermissionDenied so the user is
	// not told to check permissions.
	ErrDeviceUnavailable = errors.New("media device busy")

	// ErrDeviceNotFound means no device satisfied the capture constraints.
	ErrDeviceNotFound = errors.New("media device not found")
)

// classifyCaptureErr maps a raw driver error onto the taxonomy above.
// Driver errors are plain strings (V4L2 and malgo wrap errno text), so this
// is substring matching by necessity. Errors that match nothing stay outside
// the taxonomy: guessing a cause here would steer the user wrong.
func classifyCaptureErr(err error) error {
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "permission denied") || strings.Contains(s, "not permitted"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case strings.Contains(s, "busy") || strings.Contains(s, "in use"):
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	case strings.Contains(s, "failed to find the best driver") || strings.Contains(s, "no such device") || strings.Contains(s, "not found"):
		return fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
	default:
		return fmt.Errorf("media capture failed: %w", err)
	}
}
