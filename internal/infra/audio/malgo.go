//go:build malgo
// +build malgo

package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"

	"guitar-tuner/internal/application"
	"guitar-tuner/internal/domain"
)

// MalgoSource captures from the default (or named) input through miniaudio.
type MalgoSource struct {
	sampleRate int
	deviceName string
	logger     *slog.Logger

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	scratch []float32
}

func NewMalgoSource(sampleRate int, deviceName string, logger *slog.Logger) *MalgoSource {
	return &MalgoSource{
		sampleRate: sampleRate,
		deviceName: deviceName,
		logger:     logger,
	}
}

func (s *MalgoSource) Name() string {
	return "malgo"
}

func (s *MalgoSource) Start(_ context.Context, sink application.SampleSink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device != nil {
		return nil
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		s.logger.Debug("malgo", "message", message)
	})
	if err != nil {
		return fmt.Errorf("initializing malgo context: %w: %w", domain.ErrDeviceUnavailable, err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(s.sampleRate)
	cfg.Alsa.NoMMap = 1

	if s.deviceName != "" {
		info, err := findCaptureDevice(mctx, s.deviceName)
		if err != nil {
			_ = mctx.Uninit()
			mctx.Free()
			return err
		}
		cfg.Capture.DeviceID = info.ID.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			s.scratch = decodeF32LE(s.scratch, input)
			sink.Push(s.scratch)
		},
	}

	device, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("initializing capture device: %w: %w", domain.ErrDeviceUnavailable, err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("starting capture device: %w: %w", domain.ErrDeviceUnavailable, err)
	}

	if got := int(device.SampleRate()); got != s.sampleRate {
		s.logger.Warn("capture sample rate differs from configuration",
			"configured", s.sampleRate,
			"actual", got,
		)
	}

	s.ctx = mctx
	s.device = device
	s.logger.Info("malgo capture started", "sample_rate", s.sampleRate, "device", s.deviceName)
	return nil
}

func (s *MalgoSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device == nil {
		return nil
	}

	_ = s.device.Stop()
	s.device.Uninit()
	s.device = nil

	err := s.ctx.Uninit()
	s.ctx.Free()
	s.ctx = nil
	if err != nil {
		return fmt.Errorf("releasing malgo context: %w", err)
	}
	return nil
}

func findCaptureDevice(mctx *malgo.AllocatedContext, name string) (malgo.DeviceInfo, error) {
	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return malgo.DeviceInfo{}, fmt.Errorf("listing capture devices: %w: %w", domain.ErrDeviceUnavailable, err)
	}
	for _, info := range infos {
		if info.Name() == name {
			return info, nil
		}
	}
	return malgo.DeviceInfo{}, fmt.Errorf("capture device %q: %w", name, domain.ErrDeviceUnavailable)
}
