// Package console logs tuning readings as they change.
package console

import (
	"log/slog"
	"math"

	"guitar-tuner/internal/domain"
)

type Notifier struct {
	logger  *slog.Logger
	last    domain.TuningState
	hasLast bool
}

func NewNotifier(logger *slog.Logger) *Notifier {
	return &Notifier{logger: logger}
}

// Notify is called from the analysis goroutine only.
func (n *Notifier) Notify(state domain.TuningState) {
	if n.hasLast && n.last.SameReading(state) {
		return
	}
	n.last = state
	n.hasLast = true

	if state.State == domain.StateIdle {
		n.logger.Info("idle")
		return
	}

	attrs := []any{
		"state", state.State,
		"note", state.NoteName(),
		"cents", math.Round(state.CentsOffset),
		"frequency_hz", math.Round(state.FrequencyHz*100) / 100,
		"confidence", math.Round(state.Confidence*100) / 100,
	}
	if s := state.NearestString; s != nil {
		attrs = append(attrs, "string", s.Number, "string_cents", math.Round(s.Cents))
	}
	n.logger.Info(tuningHint(state), attrs...)
}

func tuningHint(state domain.TuningState) string {
	switch {
	case state.State != domain.StateLocked:
		return "listening"
	case state.CentsOffset > 5:
		return "sharp"
	case state.CentsOffset < -5:
		return "flat"
	default:
		return "in tune"
	}
}
