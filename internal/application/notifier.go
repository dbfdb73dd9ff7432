package application

import (
	"time"

	"guitar-tuner/internal/domain"
)

// StateNotifier is told about every new TuningState. Notify runs on the
// analysis goroutine and must return without blocking.
type StateNotifier interface {
	Notify(state domain.TuningState)
}

// Recorder receives per-tick telemetry.
type Recorder interface {
	ObserveTick(outcome TickOutcome, state domain.TuningState, elapsed time.Duration)
}

type TickOutcome string

const (
	OutcomeInsufficient TickOutcome = "insufficient"
	OutcomeStale        TickOutcome = "stale"
	OutcomeLapped       TickOutcome = "lapped"
	OutcomeSilent       TickOutcome = "silent"
	OutcomeUnstable     TickOutcome = "unstable"
	OutcomePitched      TickOutcome = "pitched"
	OutcomeError        TickOutcome = "error"
)

type noopRecorder struct{}

func (noopRecorder) ObserveTick(TickOutcome, domain.TuningState, time.Duration) {}
