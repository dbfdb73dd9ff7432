package notes

import (
	"fmt"
	"math"

	"guitar-tuner/internal/domain"
)

type openString struct {
	note   domain.PitchClass
	octave int
}

// Tuning is a set of open strings, lowest first.
type Tuning struct {
	Name    string
	strings []openString
}

var (
	StandardTuning = Tuning{Name: "standard", strings: []openString{
		{domain.NoteE, 2}, {domain.NoteA, 2}, {domain.NoteD, 3},
		{domain.NoteG, 3}, {domain.NoteB, 3}, {domain.NoteE, 4},
	}}
	DropDTuning = Tuning{Name: "drop-d", strings: []openString{
		{domain.NoteD, 2}, {domain.NoteA, 2}, {domain.NoteD, 3},
		{domain.NoteG, 3}, {domain.NoteB, 3}, {domain.NoteE, 4},
	}}
)

// LookupTuning returns a built-in tuning by name.
func LookupTuning(name string) (Tuning, error) {
	switch name {
	case "", StandardTuning.Name:
		return StandardTuning, nil
	case DropDTuning.Name:
		return DropDTuning, nil
	default:
		return Tuning{}, fmt.Errorf("unknown tuning %q", name)
	}
}

// Nearest returns the open string closest to f, numbered from the highest
// string (1) down, and the offset of f from it in cents.
func (t Tuning) Nearest(m Mapper, f float64) (domain.GuitarString, bool) {
	if len(t.strings) == 0 || f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return domain.GuitarString{}, false
	}

	var best domain.GuitarString
	bestAbs := math.Inf(1)
	for i, s := range t.strings {
		hz := m.NoteFrequency(s.note, s.octave)
		cents := Cents(f, hz)
		if math.Abs(cents) < bestAbs {
			bestAbs = math.Abs(cents)
			best = domain.GuitarString{
				Number: len(t.strings) - i,
				Note:   s.note,
				Octave: s.octave,
				Hz:     hz,
				Cents:  cents,
			}
		}
	}
	return best, true
}
