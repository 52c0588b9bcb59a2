// Package media probes for and captures local camera/microphone input via
// pion/mediadevices. It is deliberately standalone: coupling to the session
// layer is via the small Capabilities/LocalMedia types only.
package media

import (
	"log"

	"github.com/pion/mediadevices"
)

// Capabilities is the result of a device probe.
type Capabilities struct {
	// OK reports whether a call can be attempted at all.
	OK bool `json:"ok"`

	// AudioOnly is set when a microphone exists but no camera does; the
	// caller must not request video in that case.
	AudioOnly bool `json:"audio_only"`
}

// Prober checks which media input devices exist before any capture is
// attempted. Enumeration never opens a device, so it cannot trigger a
// permission prompt.
type Prober struct{}

// Probe enumerates input devices and decides whether a call can proceed.
// A microphone is mandatory; a camera is optional.
func (Prober) Probe() (Capabilities, error) {
	devices := mediadevices.EnumerateDevices()
	for _, d := range devices {
		log.Printf("MEDIA: input device kind=%v label=%q", d.Kind, d.Label)
	}
	return capabilitiesFrom(devices)
}

// capabilitiesFrom is the pure decision: mic missing is fatal even when a
// camera exists, camera missing degrades to audio-only.
func capabilitiesFrom(devices []mediadevices.MediaDeviceInfo) (Capabilities, error) {
	var hasMic, hasCam bool
	for _, d := range devices {
		switch d.Kind {
		case mediadevices.AudioInput:
			hasMic = true
		case mediadevices.VideoInput:
			hasCam = true
		}
	}

	switch {
	case !hasMic && !hasCam:
		return Capabilities{}, ErrNoDevices
	case !hasMic:
		return Capabilities{}, ErrNoMicrophone
	case !hasCam:
		return Capabilities{OK: true, AudioOnly: true}, nil
	default:
		return Capabilities{OK: true}, nil
	}
}
