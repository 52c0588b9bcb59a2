//go:build !linux

package media

// No capture drivers are registered on this platform, so Probe reports
// ErrNoDevices and the session layer surfaces that before any capture.
// Camera/mic capture via pion/mediadevices needs platform drivers that are
// only wired up for Linux (V4L2 + malgo).
