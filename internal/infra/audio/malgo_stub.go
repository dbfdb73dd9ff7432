//go:build !malgo
// +build !malgo

package audio

import (
	"context"
	"fmt"
	"log/slog"

	"guitar-tuner/internal/application"
	"guitar-tuner/internal/domain"
)

// MalgoSource stub when built without miniaudio
type MalgoSource struct {
	logger *slog.Logger
}

func NewMalgoSource(sampleRate int, deviceName string, logger *slog.Logger) *MalgoSource {
	return &MalgoSource{logger: logger}
}

func (s *MalgoSource) Name() string {
	return "malgo"
}

func (s *MalgoSource) Start(_ context.Context, _ application.SampleSink) error {
	return fmt.Errorf("malgo source: %w: rebuild with -tags malgo", domain.ErrDeviceUnavailable)
}

func (s *MalgoSource) Stop() error {
	return nil
}
