package audio

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"guitar-tuner/internal/application"
)

// ToneSource generates a continuous sine, paced like a capture device.
type ToneSource struct {
	freq            float64
	amplitude       float64
	sampleRate      int
	framesPerBuffer int
	logger          *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewToneSource(freq float64, sampleRate, framesPerBuffer int, logger *slog.Logger) *ToneSource {
	return &ToneSource{
		freq:            freq,
		amplitude:       0.5,
		sampleRate:      sampleRate,
		framesPerBuffer: framesPerBuffer,
		logger:          logger,
	}
}

func (t *ToneSource) Name() string {
	return "tone"
}

func (t *ToneSource) Start(ctx context.Context, sink application.SampleSink) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		return nil
	}
	if t.freq <= 0 || t.freq >= float64(t.sampleRate)/2 {
		return fmt.Errorf("tone frequency %v outside (0, %d)", t.freq, t.sampleRate/2)
	}

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	interval := time.Duration(float64(t.framesPerBuffer) / float64(t.sampleRate) * float64(time.Second))
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.run(ctx, sink, interval)
	}()

	t.logger.Info("tone generator started", "frequency", t.freq)
	return nil
}

func (t *ToneSource) run(ctx context.Context, sink application.SampleSink, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	buf := make([]float32, t.framesPerBuffer)
	step := 2 * math.Pi * t.freq / float64(t.sampleRate)
	phase := 0.0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for i := range buf {
			buf[i] = float32(t.amplitude * math.Sin(phase))
			phase += step
			if phase > 2*math.Pi {
				phase -= 2 * math.Pi
			}
		}
		sink.Push(buf)
	}
}

func (t *ToneSource) Stop() error {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
		t.wg.Wait()
	}
	return nil
}
