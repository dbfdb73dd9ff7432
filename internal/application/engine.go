package application

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"guitar-tuner/internal/domain"
	"guitar-tuner/internal/dsp/notes"
	"guitar-tuner/internal/dsp/ringbuffer"
	"guitar-tuner/internal/dsp/window"
	"guitar-tuner/internal/dsp/yin"
)

// FrameReader is the consumer side of the sample ring.
type FrameReader interface {
	ReadFrame(dst []float64, hop int) error
}

type EngineConfig struct {
	SampleRate int
	FrameSize  int
	HopSize    int

	Window      window.Type
	WindowAlpha float64

	MinFrequency float64
	MaxFrequency float64
	Threshold    float64
	SilenceRMS   float64
	Method       yin.Method

	SmoothingAlpha float64
	LockConfidence float64
	LockFrames     int
	// SilenceFrames is the number of consecutive pitchless frames after
	// which the engine falls back to Idle.
	SilenceFrames int
	JumpCents     float64
	ReferenceHz   float64
	Tuning        string
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		SampleRate:     44100,
		FrameSize:      2048,
		HopSize:        512,
		Window:         window.TypeRectangular,
		WindowAlpha:    window.MaxPitchTukeyAlpha,
		MinFrequency:   60,
		MaxFrequency:   1200,
		Threshold:      0.1,
		SilenceRMS:     0.002,
		Method:         yin.MethodFFT,
		SmoothingAlpha: 0.1,
		LockConfidence: 0.5,
		LockFrames:     5,
		SilenceFrames:  173,
		JumpCents:      50,
		ReferenceHz:    notes.DefaultReferenceHz,
		Tuning:         notes.StandardTuning.Name,
	}
}

// HopInterval is the wall-clock time between two analysis frames.
func (c EngineConfig) HopInterval() time.Duration {
	return time.Duration(float64(c.HopSize) / float64(c.SampleRate) * float64(time.Second))
}

func (c EngineConfig) validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be > 0: %d", c.SampleRate)
	}
	if c.HopSize <= 0 || c.HopSize > c.FrameSize {
		return fmt.Errorf("hop size must be in (0, %d]: %d", c.FrameSize, c.HopSize)
	}
	if c.SmoothingAlpha <= 0 || c.SmoothingAlpha > 1 {
		return fmt.Errorf("smoothing alpha must be in (0,1]: %v", c.SmoothingAlpha)
	}
	if c.LockConfidence < 0 || c.LockConfidence > 1 {
		return fmt.Errorf("lock confidence must be in [0,1]: %v", c.LockConfidence)
	}
	if c.LockFrames < 1 {
		return fmt.Errorf("lock frames must be >= 1: %d", c.LockFrames)
	}
	if c.SilenceFrames < 1 {
		return fmt.Errorf("silence frames must be >= 1: %d", c.SilenceFrames)
	}
	if c.JumpCents <= 0 {
		return fmt.Errorf("jump cents must be > 0: %v", c.JumpCents)
	}
	if err := window.CheckPitch(c.Window, c.WindowAlpha); err != nil {
		return err
	}
	return nil
}

type EngineOption func(*Engine)

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) {
		e.recorder = r
	}
}

type subscriber struct {
	id uint64
	fn func(domain.TuningState)
}

// Engine turns frames from the ring into a smoothed TuningState.
//
// Tick must only be called from one goroutine. State and Subscribe are safe
// from any goroutine.
type Engine struct {
	cfg      EngineConfig
	buf      FrameReader
	win      *window.Window
	est      *yin.Estimator
	mapper   notes.Mapper
	tuning   notes.Tuning
	now      func() time.Time
	logger   *slog.Logger
	recorder Recorder

	frame    []float64
	windowed []float64

	// owned by the Tick goroutine
	smoothed     float64
	seeded       bool
	lockCount    int
	silentFrames int
	current      domain.TuningState

	snapshot atomic.Pointer[domain.TuningState]

	subMu  sync.Mutex
	nextID uint64
	subs   atomic.Pointer[[]subscriber]
}

func NewEngine(buf FrameReader, cfg EngineConfig, opts ...EngineOption) (*Engine, error) {
	if buf == nil {
		return nil, errors.New("engine needs a frame reader")
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}

	win, err := window.New(cfg.Window, cfg.FrameSize, window.WithAlpha(cfg.WindowAlpha))
	if err != nil {
		return nil, fmt.Errorf("creating window: %w", err)
	}

	est, err := yin.New(yin.Params{
		SampleRate:   float64(cfg.SampleRate),
		FrameSize:    cfg.FrameSize,
		MinFrequency: cfg.MinFrequency,
		MaxFrequency: cfg.MaxFrequency,
		Threshold:    cfg.Threshold,
		SilenceRMS:   cfg.SilenceRMS,
		Method:       cfg.Method,
	})
	if err != nil {
		return nil, fmt.Errorf("creating estimator: %w", err)
	}

	mapper, err := notes.NewMapper(cfg.ReferenceHz)
	if err != nil {
		return nil, fmt.Errorf("creating note mapper: %w", err)
	}

	tuning, err := notes.LookupTuning(cfg.Tuning)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		buf:      buf,
		win:      win,
		est:      est,
		mapper:   mapper,
		tuning:   tuning,
		now:      time.Now,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		recorder: noopRecorder{},
		frame:    make([]float64, cfg.FrameSize),
		windowed: make([]float64, cfg.FrameSize),
		current:  domain.TuningState{State: domain.StateIdle},
	}
	for _, opt := range opts {
		opt(e)
	}

	initial := e.current
	e.snapshot.Store(&initial)
	e.subs.Store(&[]subscriber{})

	return e, nil
}

func (e *Engine) Config() EngineConfig {
	return e.cfg
}

// State returns a snapshot of the latest TuningState.
func (e *Engine) State() domain.TuningState {
	return *e.snapshot.Load()
}

// Subscribe registers fn to be called once per Tick with the resulting state.
// fn runs on the analysis goroutine and must not block. The returned function
// removes the subscription.
func (e *Engine) Subscribe(fn func(domain.TuningState)) (cancel func()) {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	e.nextID++
	id := e.nextID
	subs := append(append([]subscriber(nil), *e.subs.Load()...), subscriber{id: id, fn: fn})
	e.subs.Store(&subs)

	return func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()

		old := *e.subs.Load()
		next := make([]subscriber, 0, len(old))
		for _, s := range old {
			if s.id != id {
				next = append(next, s)
			}
		}
		e.subs.Store(&next)
	}
}

// Tick analyzes at most one new frame and returns the resulting state. It
// never blocks and never fails: missing data and pitchless frames are
// reported through the state itself.
func (e *Engine) Tick() domain.TuningState {
	start := e.now()
	outcome := e.step(start)

	state := e.current
	e.snapshot.Store(&state)
	for _, s := range *e.subs.Load() {
		s.fn(state)
	}
	e.recorder.ObserveTick(outcome, state, e.now().Sub(start))

	return state
}

func (e *Engine) step(ts time.Time) TickOutcome {
	err := e.buf.ReadFrame(e.frame, e.cfg.HopSize)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNoNewFrame):
		return OutcomeStale
	case errors.Is(err, domain.ErrInsufficientData):
		if e.current.State != domain.StateIdle {
			e.reset(ts)
		}
		return OutcomeInsufficient
	case errors.Is(err, ringbuffer.ErrLapped):
		e.logger.Debug("capture lapped the frame read", "error", err)
		return OutcomeLapped
	default:
		e.logger.Error("reading frame", "error", err)
		return OutcomeError
	}

	if err := e.win.Apply(e.windowed, e.frame); err != nil {
		e.logger.Error("windowing frame", "error", err)
		return OutcomeError
	}

	est, err := e.est.Estimate(e.windowed, ts)
	switch {
	case errors.Is(err, domain.ErrNoPitchDetected):
		e.onSilence(ts)
		return OutcomeSilent
	case err != nil:
		e.logger.Error("estimating pitch", "error", err)
		return OutcomeError
	case est.Confidence < e.cfg.LockConfidence:
		e.onUnstable(est)
		return OutcomeUnstable
	}

	if err := e.onPitch(est); err != nil {
		e.logger.Error("mapping pitch", "error", err, "frequency", est.FrequencyHz)
		return OutcomeError
	}
	return OutcomePitched
}

func (e *Engine) reset(ts time.Time) {
	e.seeded = false
	e.lockCount = 0
	e.current = domain.TuningState{State: domain.StateIdle, LastUpdated: ts}
}

func (e *Engine) onSilence(ts time.Time) {
	e.lockCount = 0
	e.silentFrames++

	if e.silentFrames >= e.cfg.SilenceFrames {
		if e.current.State != domain.StateIdle {
			e.logger.Debug("silence timeout, going idle", "frames", e.silentFrames)
			e.reset(ts)
		}
		return
	}

	next := e.current
	next.State = domain.StateListening
	next.Confidence = 0
	next.LastUpdated = ts
	e.current = next
}

func (e *Engine) onUnstable(est domain.PitchEstimate) {
	e.silentFrames = 0
	e.lockCount = 0

	next := e.current
	next.State = domain.StateListening
	next.Confidence = est.Confidence
	next.LastUpdated = est.Timestamp
	e.current = next
}

func (e *Engine) onPitch(est domain.PitchEstimate) error {
	n, err := e.mapper.NoteNumber(est.FrequencyHz)
	if err != nil {
		return err
	}
	e.silentFrames = 0

	// Smoothing runs on the continuous note number so cents never wrap
	// at a semitone boundary; a large jump re-seeds and restarts the lock.
	if !e.seeded || math.Abs(n-e.smoothed)*100 > e.cfg.JumpCents {
		e.smoothed = n
		e.seeded = true
		e.lockCount = 0
	} else {
		a := e.cfg.SmoothingAlpha
		e.smoothed = a*n + (1-a)*e.smoothed
	}
	e.lockCount++

	state := domain.StateListening
	if e.lockCount >= e.cfg.LockFrames {
		state = domain.StateLocked
	}
	if state != e.current.State {
		e.logger.Debug("engine state", "from", e.current.State, "to", state)
	}

	freq := e.mapper.Frequency(e.smoothed)
	pc, octave, cents := notes.Split(e.smoothed)

	next := domain.TuningState{
		State:       state,
		Note:        pc,
		Octave:      octave,
		CentsOffset: cents,
		FrequencyHz: freq,
		Confidence:  est.Confidence,
		LastUpdated: est.Timestamp,
	}
	if s, ok := e.tuning.Nearest(e.mapper, freq); ok {
		next.NearestString = &s
	}
	e.current = next
	return nil
}
