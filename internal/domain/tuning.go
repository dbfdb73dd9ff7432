package domain

import (
	"fmt"
	"time"
)

type EngineState int

const (
	StateIdle EngineState = iota
	StateListening
	StateLocked
)

func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateLocked:
		return "locked"
	default:
		return fmt.Sprintf("EngineState(%d)", int(s))
	}
}

func (s EngineState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *EngineState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "idle":
		*s = StateIdle
	case "listening":
		*s = StateListening
	case "locked":
		*s = StateLocked
	default:
		return fmt.Errorf("unknown engine state %q", text)
	}
	return nil
}

// PitchEstimate is produced once per analyzed frame.
type PitchEstimate struct {
	FrequencyHz float64
	Confidence  float64
	Tau         float64
	Timestamp   time.Time
}

// TuningState is the engine's published view of the input. The engine is its
// only writer; readers always receive a copy.
type TuningState struct {
	State       EngineState `json:"state"`
	Note        PitchClass  `json:"note"`
	Octave      int         `json:"octave"`
	CentsOffset float64     `json:"cents"`
	FrequencyHz float64     `json:"frequency_hz"`
	Confidence  float64     `json:"confidence"`
	LastUpdated time.Time   `json:"last_updated"`
	// NearestString is the closest open string of the active tuning.
	NearestString *GuitarString `json:"string,omitempty"`
}

// NoteName returns e.g. "A4", or "-" when nothing is being tracked.
func (t TuningState) NoteName() string {
	if t.State == StateIdle || t.FrequencyHz == 0 {
		return "-"
	}
	return fmt.Sprintf("%s%d", t.Note, t.Octave)
}

// SameReading reports whether two states would render identically on a
// display: same state, note and octave, and cents rounded to whole cents.
func (t TuningState) SameReading(o TuningState) bool {
	return t.State == o.State &&
		t.Note == o.Note &&
		t.Octave == o.Octave &&
		roundCents(t.CentsOffset) == roundCents(o.CentsOffset)
}

func roundCents(c float64) int {
	if c < 0 {
		return int(c - 0.5)
	}
	return int(c + 0.5)
}
