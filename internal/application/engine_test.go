package application_test

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guitar-tuner/internal/application"
	"guitar-tuner/internal/domain"
	"guitar-tuner/internal/dsp/ringbuffer"
	"guitar-tuner/internal/dsp/window"
)

// signal is a phase-continuous generator feeding the ring one hop at a time.
type signal struct {
	freq  float64
	amp   float64
	noise float64
	rng   *rand.Rand
	n     int
}

func newSignal(freq float64) *signal {
	return &signal{freq: freq, amp: 0.5, rng: rand.New(rand.NewPCG(1, 2))}
}

func (s *signal) next(count int) []float32 {
	out := make([]float32, count)
	for i := range out {
		v := s.amp * math.Sin(2*math.Pi*s.freq*float64(s.n)/44100)
		if s.noise > 0 {
			v += s.noise * (2*s.rng.Float64() - 1)
		}
		out[i] = float32(v)
		s.n++
	}
	return out
}

type fixedClock struct {
	t time.Time
}

func (c *fixedClock) now() time.Time {
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

type countingRecorder struct {
	outcomes map[application.TickOutcome]int
}

func (r *countingRecorder) ObserveTick(o application.TickOutcome, _ domain.TuningState, _ time.Duration) {
	r.outcomes[o]++
}

func newTestEngine(t *testing.T, cfg application.EngineConfig, opts ...application.EngineOption) (*application.Engine, *ringbuffer.Buffer) {
	t.Helper()
	buf, err := ringbuffer.New(cfg.FrameSize * 4)
	require.NoError(t, err)

	clock := &fixedClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	opts = append([]application.EngineOption{
		application.WithClock(clock.now),
		application.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)

	engine, err := application.NewEngine(buf, cfg, opts...)
	require.NoError(t, err)
	return engine, buf
}

// scriptedReader serves sine frames, or the next scripted error when one is queued.
type scriptedReader struct {
	sig  *signal
	errs []error
}

func (r *scriptedReader) ReadFrame(dst []float64, _ int) error {
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		if err != nil {
			return err
		}
	}
	for i, v := range r.sig.next(len(dst)) {
		dst[i] = float64(v)
	}
	return nil
}

// prime fills the ring with one full frame.
func prime(buf *ringbuffer.Buffer, sig *signal, cfg application.EngineConfig) {
	buf.Push(sig.next(cfg.FrameSize))
}

func TestEngine_IdleBeforePrimed(t *testing.T) {
	cfg := application.DefaultEngineConfig()
	engine, buf := newTestEngine(t, cfg)

	assert.Equal(t, domain.StateIdle, engine.State().State)

	buf.Push(newSignal(110).next(cfg.FrameSize - 1))
	state := engine.Tick()
	assert.Equal(t, domain.StateIdle, state.State)
	assert.Equal(t, "-", state.NoteName())
}

func TestEngine_LocksOnSteadySine(t *testing.T) {
	cfg := application.DefaultEngineConfig()
	engine, buf := newTestEngine(t, cfg)
	sig := newSignal(110)
	prime(buf, sig, cfg)

	var state domain.TuningState
	for i := 0; i < cfg.LockFrames; i++ {
		if i > 0 {
			buf.Push(sig.next(cfg.HopSize))
		}
		state = engine.Tick()
		if i < cfg.LockFrames-1 {
			assert.Equal(t, domain.StateListening, state.State, "tick %d", i)
		}
	}

	require.Equal(t, domain.StateLocked, state.State)
	assert.Equal(t, domain.NoteA, state.Note)
	assert.Equal(t, 2, state.Octave)
	assert.InDelta(t, 0, state.CentsOffset, 2)
	assert.InEpsilon(t, 110, state.FrequencyHz, 0.002)
	assert.Greater(t, state.Confidence, 0.9)
	require.NotNil(t, state.NearestString)
	assert.Equal(t, 5, state.NearestString.Number)
	assert.Equal(t, "A2", state.NearestString.Name())
	assert.Equal(t, state, engine.State())
}

func TestEngine_TickWithoutNewSamplesIsIdempotent(t *testing.T) {
	cfg := application.DefaultEngineConfig()
	rec := &countingRecorder{outcomes: map[application.TickOutcome]int{}}
	engine, buf := newTestEngine(t, cfg, application.WithRecorder(rec))
	sig := newSignal(196)
	prime(buf, sig, cfg)

	first := engine.Tick()
	second := engine.Tick()
	assert.Equal(t, first, second)

	buf.Push(sig.next(cfg.HopSize - 1))
	third := engine.Tick()
	assert.Equal(t, first, third)

	assert.Equal(t, 1, rec.outcomes[application.OutcomePitched])
	assert.Equal(t, 2, rec.outcomes[application.OutcomeStale])
}

func TestEngine_SilenceListensThenGoesIdle(t *testing.T) {
	cfg := application.DefaultEngineConfig()
	cfg.SilenceFrames = 3
	engine, buf := newTestEngine(t, cfg)
	sig := newSignal(110)
	prime(buf, sig, cfg)
	require.Equal(t, domain.StateListening, engine.Tick().State)

	// a full frame of zeros so nothing of the tone is left in the window
	buf.Push(make([]float32, cfg.FrameSize))
	state := engine.Tick()
	assert.Equal(t, domain.StateListening, state.State)
	assert.Zero(t, state.Confidence)
	assert.Equal(t, domain.NoteA, state.Note, "last reading is kept while listening")

	buf.Push(make([]float32, cfg.HopSize))
	assert.Equal(t, domain.StateListening, engine.Tick().State)

	buf.Push(make([]float32, cfg.HopSize))
	state = engine.Tick()
	assert.Equal(t, domain.StateIdle, state.State)
	assert.Zero(t, state.FrequencyHz)
	assert.Nil(t, state.NearestString)

	buf.Push(make([]float32, cfg.HopSize))
	assert.Equal(t, state, engine.Tick(), "idle stays idle")
}

func TestEngine_ConfidenceDropUnlocks(t *testing.T) {
	cfg := application.DefaultEngineConfig()
	cfg.LockConfidence = 0.99
	engine, buf := newTestEngine(t, cfg)
	sig := newSignal(146.83)
	prime(buf, sig, cfg)

	var state domain.TuningState
	for i := 0; i < cfg.LockFrames; i++ {
		if i > 0 {
			buf.Push(sig.next(cfg.HopSize))
		}
		state = engine.Tick()
	}
	require.Equal(t, domain.StateLocked, state.State)

	sig.noise = 0.15
	buf.Push(sig.next(cfg.FrameSize))
	state = engine.Tick()
	assert.Equal(t, domain.StateListening, state.State)
	assert.Less(t, state.Confidence, cfg.LockConfidence)
	assert.Greater(t, state.Confidence, 0.5)

	// lock count restarts once the signal is clean again
	sig.noise = 0
	buf.Push(sig.next(cfg.FrameSize))
	for i := 0; i < cfg.LockFrames-1; i++ {
		assert.Equal(t, domain.StateListening, engine.Tick().State, "tick %d", i)
		buf.Push(sig.next(cfg.HopSize))
	}
	assert.Equal(t, domain.StateLocked, engine.Tick().State)
}

func TestEngine_NoteChangeReseedsSmoother(t *testing.T) {
	cfg := application.DefaultEngineConfig()
	engine, buf := newTestEngine(t, cfg)
	sig := newSignal(110)
	prime(buf, sig, cfg)
	for i := 0; i < cfg.LockFrames; i++ {
		engine.Tick()
		buf.Push(sig.next(cfg.HopSize))
	}

	sig = newSignal(329.63)
	buf.Push(sig.next(cfg.FrameSize))
	state := engine.Tick()

	assert.Equal(t, domain.StateListening, state.State)
	assert.Equal(t, domain.NoteE, state.Note)
	assert.Equal(t, 4, state.Octave)
	assert.InDelta(t, 0, state.CentsOffset, 2)
}

func TestEngine_SubscribersSeeEveryTick(t *testing.T) {
	cfg := application.DefaultEngineConfig()
	engine, buf := newTestEngine(t, cfg)

	var got []domain.TuningState
	cancel := engine.Subscribe(func(s domain.TuningState) {
		got = append(got, s)
	})

	engine.Tick()
	prime(buf, newSignal(110), cfg)
	engine.Tick()
	require.Len(t, got, 2)
	assert.Equal(t, domain.StateIdle, got[0].State)
	assert.Equal(t, domain.StateListening, got[1].State)

	cancel()
	engine.Tick()
	assert.Len(t, got, 2)
}

func TestEngine_AcceptedWindowsLockAtDefaultThreshold(t *testing.T) {
	tests := []struct {
		name  string
		typ   window.Type
		alpha float64
	}{
		{"rectangular", window.TypeRectangular, 0},
		{"narrow tukey", window.TypeTukey, 0.01},
		{"widest tukey", window.TypeTukey, window.MaxPitchTukeyAlpha},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := application.DefaultEngineConfig()
			cfg.Window = tt.typ
			cfg.WindowAlpha = tt.alpha
			engine, buf := newTestEngine(t, cfg)
			sig := newSignal(110)
			prime(buf, sig, cfg)

			var state domain.TuningState
			for i := 0; i < cfg.LockFrames; i++ {
				if i > 0 {
					buf.Push(sig.next(cfg.HopSize))
				}
				state = engine.Tick()
			}

			require.Equal(t, domain.StateLocked, state.State)
			assert.Equal(t, domain.NoteA, state.Note)
			assert.Equal(t, 2, state.Octave)
			assert.InDelta(t, 0, state.CentsOffset, 3)
		})
	}
}

func TestNewEngine_RejectsPeriodDistortingWindows(t *testing.T) {
	buf, err := ringbuffer.New(8192)
	require.NoError(t, err)

	for _, typ := range []window.Type{window.TypeHann, window.TypeHamming, window.TypeBlackman} {
		cfg := application.DefaultEngineConfig()
		cfg.Window = typ
		_, err := application.NewEngine(buf, cfg)
		assert.ErrorIs(t, err, window.ErrDistortsPeriod, typ.String())
	}

	cfg := application.DefaultEngineConfig()
	cfg.Window = window.TypeTukey
	cfg.WindowAlpha = 0.25
	_, err = application.NewEngine(buf, cfg)
	assert.ErrorIs(t, err, window.ErrDistortsPeriod)
}

func TestNewEngine_Validation(t *testing.T) {
	buf, err := ringbuffer.New(8192)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*application.EngineConfig)
	}{
		{"zero hop", func(c *application.EngineConfig) { c.HopSize = 0 }},
		{"hop larger than frame", func(c *application.EngineConfig) { c.HopSize = c.FrameSize + 1 }},
		{"alpha out of range", func(c *application.EngineConfig) { c.SmoothingAlpha = 1.5 }},
		{"no lock frames", func(c *application.EngineConfig) { c.LockFrames = 0 }},
		{"frame too short", func(c *application.EngineConfig) { c.FrameSize = 512; c.HopSize = 128 }},
		{"unknown tuning", func(c *application.EngineConfig) { c.Tuning = "open-g-minor" }},
		{"bad reference", func(c *application.EngineConfig) { c.ReferenceHz = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := application.DefaultEngineConfig()
			tt.mutate(&cfg)
			_, err := application.NewEngine(buf, cfg)
			assert.Error(t, err)
		})
	}

	_, err = application.NewEngine(nil, application.DefaultEngineConfig())
	assert.Error(t, err)
}

func TestEngineConfig_HopInterval(t *testing.T) {
	cfg := application.DefaultEngineConfig()
	assert.InDelta(t, 11.61, float64(cfg.HopInterval())/float64(time.Millisecond), 0.01)
}

func TestEngine_ReadFailuresKeepState(t *testing.T) {
	cfg := application.DefaultEngineConfig()
	rec := &countingRecorder{outcomes: map[application.TickOutcome]int{}}
	reader := &scriptedReader{
		sig:  newSignal(110),
		errs: []error{nil, ringbuffer.ErrLapped, errors.New("frame size 4096 outside (0, 2048]")},
	}
	engine, err := application.NewEngine(reader, cfg,
		application.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		application.WithRecorder(rec),
	)
	require.NoError(t, err)

	first := engine.Tick()
	require.Equal(t, domain.StateListening, first.State)
	require.Equal(t, domain.NoteA, first.Note)

	assert.Equal(t, first, engine.Tick())
	assert.Equal(t, first, engine.Tick())

	assert.Equal(t, 1, rec.outcomes[application.OutcomePitched])
	assert.Equal(t, 1, rec.outcomes[application.OutcomeLapped])
	assert.Equal(t, 1, rec.outcomes[application.OutcomeError])
}
