package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

var errSourceDone = errors.New("audio source finished")

type TunerOption func(*Tuner)

// WithStartRetry wraps the call that opens the audio source, typically with
// bounded backoff.
func WithStartRetry(retry func(ctx context.Context, fn func() error) error) TunerOption {
	return func(t *Tuner) {
		t.startRetry = retry
	}
}

func WithNotifiers(notifiers ...StateNotifier) TunerOption {
	return func(t *Tuner) {
		t.notifiers = append(t.notifiers, notifiers...)
	}
}

// WithInterval overrides the analysis period, which defaults to one hop.
func WithInterval(d time.Duration) TunerOption {
	return func(t *Tuner) {
		t.interval = d
	}
}

// Tuner runs the capture source and the analysis loop together.
type Tuner struct {
	engine     *Engine
	source     AudioSource
	sink       SampleSink
	notifiers  []StateNotifier
	interval   time.Duration
	startRetry func(ctx context.Context, fn func() error) error
	logger     *slog.Logger
}

func NewTuner(engine *Engine, source AudioSource, sink SampleSink, logger *slog.Logger, opts ...TunerOption) *Tuner {
	t := &Tuner{
		engine:   engine,
		source:   source,
		sink:     sink,
		interval: engine.Config().HopInterval(),
		startRetry: func(_ context.Context, fn func() error) error {
			return fn()
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tuner) Engine() *Engine {
	return t.engine
}

// Run opens the source and analyzes until ctx is cancelled or a finite source
// runs out. It returns ctx.Err() on cancellation and nil when the source
// finished on its own.
func (t *Tuner) Run(ctx context.Context) error {
	for _, n := range t.notifiers {
		cancel := t.engine.Subscribe(n.Notify)
		defer cancel()
	}

	err := t.startRetry(ctx, func() error {
		return t.source.Start(ctx, t.sink)
	})
	if err != nil {
		return fmt.Errorf("starting %s source: %w", t.source.Name(), err)
	}
	defer func() {
		if err := t.source.Stop(); err != nil {
			t.logger.Warn("stopping audio source", "source", t.source.Name(), "error", err)
		}
	}()

	t.logger.Info("tuner running",
		"source", t.source.Name(),
		"interval", t.interval,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return t.analyze(gctx)
	})
	if fs, ok := t.source.(FiniteSource); ok {
		g.Go(func() error {
			if err := fs.Wait(gctx); err != nil {
				return err
			}
			return errSourceDone
		})
	}

	err = g.Wait()
	if errors.Is(err, errSourceDone) {
		final := t.engine.Tick()
		t.logger.Info("audio source finished",
			"source", t.source.Name(),
			"state", final.State,
			"note", final.NoteName(),
		)
		return nil
	}
	return err
}

func (t *Tuner) analyze(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.engine.Tick()
		}
	}
}
