//go:build linux

package media

// Capture drivers register themselves on import. V4L2 for cameras, malgo
// for microphones. Without these, EnumerateDevices sees nothing and Probe
// reports ErrNoDevices.
import (
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
)
