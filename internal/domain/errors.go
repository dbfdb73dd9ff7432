package domain

import "errors"

var (
	// ErrInsufficientData means the ring buffer has not yet received a full frame.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrNoNewFrame means fewer than one hop of samples arrived since the last frame.
	ErrNoNewFrame = errors.New("no new frame")
	// ErrNoPitchDetected covers silence and frames without clear periodicity.
	ErrNoPitchDetected = errors.New("no pitch detected")
	// ErrDeviceUnavailable is wrapped by capture sources that cannot open their device.
	ErrDeviceUnavailable = errors.New("audio device unavailable")
)
