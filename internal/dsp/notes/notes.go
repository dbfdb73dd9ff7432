// Package notes maps frequencies onto the equal-tempered scale.
package notes

import (
	"fmt"
	"math"

	"guitar-tuner/internal/domain"
)

const (
	// DefaultReferenceHz is concert pitch A4.
	DefaultReferenceHz = 440.0

	// referenceNumber is A4 in a numbering where C0 is 0.
	referenceNumber = 57
)

type Mapper struct {
	ReferenceHz float64
}

func NewMapper(referenceHz float64) (Mapper, error) {
	if referenceHz <= 0 || math.IsNaN(referenceHz) || math.IsInf(referenceHz, 0) {
		return Mapper{}, fmt.Errorf("reference frequency must be a positive number: %v", referenceHz)
	}
	return Mapper{ReferenceHz: referenceHz}, nil
}

func (m Mapper) reference() float64 {
	if m.ReferenceHz <= 0 {
		return DefaultReferenceHz
	}
	return m.ReferenceHz
}

// NoteNumber returns the continuous note number of f, with C0 = 0 and A4 = 57.
func (m Mapper) NoteNumber(f float64) (float64, error) {
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("frequency must be a positive number: %v", f)
	}
	return 12*math.Log2(f/m.reference()) + referenceNumber, nil
}

// Map returns the nearest pitch class and octave and the offset from it in
// cents, clamped to [-50, 50].
func (m Mapper) Map(f float64) (domain.PitchClass, int, float64, error) {
	n, err := m.NoteNumber(f)
	if err != nil {
		return 0, 0, 0, err
	}
	pc, octave, cents := Split(n)
	return pc, octave, cents, nil
}

// Split breaks a continuous note number into pitch class, octave and cents.
func Split(n float64) (domain.PitchClass, int, float64) {
	nearest := math.Round(n)
	cents := 100 * (n - nearest)
	cents = math.Max(-50, math.Min(50, cents))

	k := int(nearest)
	pc := ((k % domain.PitchClasses) + domain.PitchClasses) % domain.PitchClasses
	octave := int(math.Floor(nearest / domain.PitchClasses))
	return domain.PitchClass(pc), octave, cents
}

// Frequency returns the frequency of a note number.
func (m Mapper) Frequency(n float64) float64 {
	return m.reference() * math.Pow(2, (n-referenceNumber)/12)
}

// NoteFrequency returns the frequency of an exact pitch class and octave.
func (m Mapper) NoteFrequency(pc domain.PitchClass, octave int) float64 {
	return m.Frequency(float64(octave*domain.PitchClasses + int(pc)))
}

// Cents returns the signed distance from ref to f in cents.
func Cents(f, ref float64) float64 {
	return 1200 * math.Log2(f/ref)
}
