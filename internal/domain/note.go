package domain

import "fmt"

type PitchClass int

const (
	NoteC PitchClass = iota
	NoteCSharp
	NoteD
	NoteDSharp
	NoteE
	NoteF
	NoteFSharp
	NoteG
	NoteGSharp
	NoteA
	NoteASharp
	NoteB
)

// PitchClasses is the number of equal-tempered pitch classes in an octave.
const PitchClasses = 12

var pitchClassNames = [PitchClasses]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

func (p PitchClass) String() string {
	if p < 0 || p >= PitchClasses {
		return fmt.Sprintf("PitchClass(%d)", int(p))
	}
	return pitchClassNames[p]
}

func (p PitchClass) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *PitchClass) UnmarshalText(text []byte) error {
	pc, err := ParsePitchClass(string(text))
	if err != nil {
		return err
	}
	*p = pc
	return nil
}

// ParsePitchClass accepts sharp names ("F#") and the flat spellings of the
// black keys ("Gb").
func ParsePitchClass(name string) (PitchClass, error) {
	for i, n := range pitchClassNames {
		if n == name {
			return PitchClass(i), nil
		}
	}
	switch name {
	case "Db":
		return NoteCSharp, nil
	case "Eb":
		return NoteDSharp, nil
	case "Gb":
		return NoteFSharp, nil
	case "Ab":
		return NoteGSharp, nil
	case "Bb":
		return NoteASharp, nil
	}
	return 0, fmt.Errorf("unknown pitch class %q", name)
}

// GuitarString is one open string of a tuning, e.g. "A2" for the fifth string
// in standard tuning.
type GuitarString struct {
	Number int        `json:"number"`
	Note   PitchClass `json:"note"`
	Octave int        `json:"octave"`
	Hz     float64    `json:"hz"`
	Cents  float64    `json:"cents"`
}

func (s GuitarString) Name() string {
	return fmt.Sprintf("%s%d", s.Note, s.Octave)
}
