//go:build portaudio
// +build portaudio

package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"guitar-tuner/internal/application"
	"guitar-tuner/internal/domain"
)

type MicrophoneSource struct {
	sampleRate      int
	framesPerBuffer int
	logger          *slog.Logger

	mu     sync.Mutex
	stream *portaudio.Stream
}

func NewMicrophoneSource(sampleRate, framesPerBuffer int, logger *slog.Logger) *MicrophoneSource {
	return &MicrophoneSource{
		sampleRate:      sampleRate,
		framesPerBuffer: framesPerBuffer,
		logger:          logger,
	}
}

func (m *MicrophoneSource) Name() string {
	return "microphone"
}

// Start opens the default input device and pushes every buffer to sink from
// the portaudio callback.
func (m *MicrophoneSource) Start(_ context.Context, sink application.SampleSink) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream != nil {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initializing portaudio: %w: %w", domain.ErrDeviceUnavailable, err)
	}

	inputChannels := 1
	outputChannels := 0

	stream, err := portaudio.OpenDefaultStream(
		inputChannels,
		outputChannels,
		float64(m.sampleRate),
		m.framesPerBuffer,
		func(in []float32) {
			sink.Push(in)
		},
	)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("opening stream: %w: %w", domain.ErrDeviceUnavailable, err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("starting stream: %w: %w", domain.ErrDeviceUnavailable, err)
	}

	m.stream = stream
	m.logger.Info("microphone started",
		"sample_rate", m.sampleRate,
		"frames_per_buffer", m.framesPerBuffer,
	)
	return nil
}

func (m *MicrophoneSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream == nil {
		return nil
	}

	var firstErr error
	if err := m.stream.Stop(); err != nil {
		firstErr = fmt.Errorf("stopping stream: %w", err)
	}
	if err := m.stream.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing stream: %w", err)
	}
	if err := portaudio.Terminate(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("terminating portaudio: %w", err)
	}
	m.stream = nil
	return firstErr
}
