//go:build !portaudio
// +build !portaudio

package audio

import (
	"context"
	"fmt"
	"log/slog"

	"guitar-tuner/internal/application"
	"guitar-tuner/internal/domain"
)

// MicrophoneSource stub when portaudio is not available
type MicrophoneSource struct {
	logger *slog.Logger
}

func NewMicrophoneSource(sampleRate, framesPerBuffer int, logger *slog.Logger) *MicrophoneSource {
	return &MicrophoneSource{logger: logger}
}

func (m *MicrophoneSource) Name() string {
	return "microphone"
}

func (m *MicrophoneSource) Start(_ context.Context, _ application.SampleSink) error {
	return fmt.Errorf("microphone source: %w: rebuild with -tags portaudio", domain.ErrDeviceUnavailable)
}

func (m *MicrophoneSource) Stop() error {
	return nil
}
