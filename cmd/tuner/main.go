package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"guitar-tuner/config"
	"guitar-tuner/internal/application"
	"guitar-tuner/internal/dsp/ringbuffer"
	"guitar-tuner/internal/dsp/window"
	"guitar-tuner/internal/dsp/yin"
	"guitar-tuner/internal/infra"
	"guitar-tuner/internal/infra/audio"
	"guitar-tuner/internal/infra/console"
	"guitar-tuner/internal/infra/display"
	"guitar-tuner/internal/infra/metrics"
	"guitar-tuner/internal/infra/mqtt"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults are used when empty)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			slog.Error("loading config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	logger := setupLogger(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("tuner error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	engineCfg, err := engineConfig(cfg)
	if err != nil {
		return err
	}

	ring, err := ringbuffer.New(cfg.Analysis.BufferCapacity)
	if err != nil {
		return fmt.Errorf("creating sample ring: %w", err)
	}

	registry := metrics.NewRegistry()
	recorder, err := metrics.NewTunerMetrics(registry, ring)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	engine, err := application.NewEngine(ring, engineCfg,
		application.WithLogger(logger),
		application.WithRecorder(recorder),
	)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	source, err := createAudioSource(cfg.Audio, logger)
	if err != nil {
		return err
	}

	var notifiers []application.StateNotifier
	if cfg.Log.Readings {
		notifiers = append(notifiers, console.NewNotifier(logger))
	}

	if cfg.Display.Enabled {
		server := display.NewServer(cfg.Display.Addr, engine, logger,
			display.WithMetrics(metrics.Handler(registry, logger)),
		)
		if err := server.Start(); err != nil {
			return fmt.Errorf("starting display server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Stop(shutdownCtx); err != nil {
				logger.Warn("stopping display server", "error", err)
			}
		}()
		notifiers = append(notifiers, server)
	}

	if cfg.MQTT.Enabled {
		publisher, err := mqtt.Connect(mqtt.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		}, logger)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		publisher.Start(ctx)
		defer publisher.Stop()
		notifiers = append(notifiers, publisher)
	}

	backoff, err := cfg.Audio.OpenBackoffDuration()
	if err != nil {
		return err
	}
	retryCfg := infra.DefaultRetryConfig()
	retryCfg.MaxAttempts = cfg.Audio.OpenAttempts
	retryCfg.InitialDelay = backoff

	tuner := application.NewTuner(engine, source, ring, logger,
		application.WithNotifiers(notifiers...),
		application.WithStartRetry(func(ctx context.Context, fn func() error) error {
			return infra.WithRetry(ctx, retryCfg, fn)
		}),
	)

	logger.Info("starting guitar tuner",
		"audio_source", cfg.Audio.Source,
		"sample_rate", engineCfg.SampleRate,
		"frame_size", engineCfg.FrameSize,
		"hop_size", engineCfg.HopSize,
		"window", engineCfg.Window,
		"tuning", engineCfg.Tuning,
	)

	return tuner.Run(ctx)
}

// engineConfig translates the file configuration into engine parameters.
func engineConfig(cfg *config.Config) (application.EngineConfig, error) {
	win, err := window.ParseType(cfg.Analysis.Window)
	if err != nil {
		return application.EngineConfig{}, err
	}
	silence, err := cfg.Engine.SilenceTimeoutDuration()
	if err != nil {
		return application.EngineConfig{}, err
	}

	ec := application.EngineConfig{
		SampleRate:     cfg.Audio.SampleRate,
		FrameSize:      cfg.Analysis.FrameSize,
		HopSize:        cfg.Analysis.HopSize,
		Window:         win,
		WindowAlpha:    *cfg.Analysis.WindowAlpha,
		MinFrequency:   cfg.Analysis.MinFrequency,
		MaxFrequency:   cfg.Analysis.MaxFrequency,
		Threshold:      cfg.Analysis.Threshold,
		SilenceRMS:     *cfg.Analysis.SilenceRMS,
		Method:         yin.Method(cfg.Analysis.Method),
		SmoothingAlpha: cfg.Engine.SmoothingAlpha,
		LockConfidence: *cfg.Engine.LockConfidence,
		LockFrames:     cfg.Engine.LockFrames,
		JumpCents:      cfg.Engine.JumpCents,
		ReferenceHz:    cfg.Engine.ReferenceHz,
		Tuning:         cfg.Engine.Tuning,
	}
	ec.SilenceFrames = max(1, int(math.Ceil(float64(silence)/float64(ec.HopInterval()))))
	return ec, nil
}

func createAudioSource(cfg config.AudioConfig, logger *slog.Logger) (application.AudioSource, error) {
	switch cfg.Source {
	case "microphone":
		return audio.NewMicrophoneSource(cfg.SampleRate, cfg.FramesPerBuffer, logger), nil
	case "malgo":
		return audio.NewMalgoSource(cfg.SampleRate, cfg.Device, logger), nil
	case "file":
		return audio.NewFileSource(cfg.FilePath, cfg.SampleRate, cfg.FramesPerBuffer, logger,
			audio.WithLoop(cfg.Loop),
		), nil
	case "tone":
		return audio.NewToneSource(cfg.ToneHz, cfg.SampleRate, cfg.FramesPerBuffer, logger), nil
	case "http":
		enc, err := audio.ParseEncoding(cfg.Encoding)
		if err != nil {
			return nil, err
		}
		return audio.NewHTTPSource(cfg.HTTPAddr, cfg.AuthToken, logger,
			audio.WithEncoding(enc),
			audio.WithRateLimit(cfg.RateLimit, time.Minute),
		), nil
	default:
		return nil, fmt.Errorf("unknown audio source %q", cfg.Source)
	}
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
