package main

import (
	"bytes"
	"context"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"guitar-tuner/config"
	"guitar-tuner/internal/dsp/window"
	"guitar-tuner/internal/dsp/yin"
)

func writeSine(t *testing.T, freq float64, sampleRate int, d time.Duration) string {
	t.Helper()
	n := int(float64(sampleRate) * d.Seconds())
	data := make([]int, n)
	for i := range data {
		data[i] = int(math.Round(0.5 * 32767 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))))
	}

	path := filepath.Join(t.TempDir(), "sine.wav")
	out, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating wav: %v", err)
	}
	defer out.Close()

	enc := wav.NewEncoder(out, sampleRate, 16, 1, 1)
	if err := enc.Write(&goaudio.IntBuffer{
		Data:   data,
		Format: &goaudio.Format{SampleRate: sampleRate, NumChannels: 1},
	}); err != nil {
		t.Fatalf("writing wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("closing wav: %v", err)
	}
	return path
}

func TestEngineConfig_FromDefaults(t *testing.T) {
	ec, err := engineConfig(config.Default())
	if err != nil {
		t.Fatalf("engineConfig: %v", err)
	}

	if ec.Window != window.TypeRectangular {
		t.Errorf("expected rectangular window, got %v", ec.Window)
	}
	if ec.Method != yin.MethodFFT {
		t.Errorf("expected fft method, got %v", ec.Method)
	}
	// 2s of 512-sample hops at 44.1kHz
	if ec.SilenceFrames != 173 {
		t.Errorf("expected 173 silence frames, got %d", ec.SilenceFrames)
	}
	if ec.Tuning != "standard" || ec.ReferenceHz != 440 {
		t.Errorf("unexpected tuning: %q at %v Hz", ec.Tuning, ec.ReferenceHz)
	}
}

func TestEngineConfig_RejectsUnknownWindow(t *testing.T) {
	cfg := config.Default()
	cfg.Analysis.Window = "kaiser"
	if _, err := engineConfig(cfg); err == nil {
		t.Error("expected error for unknown window")
	}
}

func TestCreateAudioSource(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	for _, name := range []string{"microphone", "malgo", "file", "tone", "http"} {
		cfg := config.Default().Audio
		cfg.Source = name
		source, err := createAudioSource(cfg, logger)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if source.Name() == "" {
			t.Errorf("%s: empty source name", name)
		}
	}

	cfg := config.Default().Audio
	cfg.Source = "http"
	cfg.Encoding = "mp3"
	if _, err := createAudioSource(cfg, logger); err == nil {
		t.Error("expected error for unknown encoding")
	}

	cfg.Source = "line-in"
	if _, err := createAudioSource(cfg, logger); err == nil {
		t.Error("expected error for unknown source")
	}
}

func TestRun_TunesWAVFile(t *testing.T) {
	cfg := config.Default()
	cfg.Audio.Source = "file"
	cfg.Audio.FilePath = writeSine(t, 110, cfg.Audio.SampleRate, 600*time.Millisecond)
	cfg.Log.Readings = true

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		t.Fatalf("run: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"starting guitar tuner", "state=locked", "note=A2", "audio source finished"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in log output:\n%s", want, out)
		}
	}
}
