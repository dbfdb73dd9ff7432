package notes_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guitar-tuner/internal/domain"
	"guitar-tuner/internal/dsp/notes"
)

func TestMap_ReferencePitches(t *testing.T) {
	m := notes.Mapper{ReferenceHz: 440}

	tests := []struct {
		freq   float64
		note   domain.PitchClass
		octave int
	}{
		{440, domain.NoteA, 4},
		{220, domain.NoteA, 3},
		{110, domain.NoteA, 2},
		{82.4069, domain.NoteE, 2},
		{261.6256, domain.NoteC, 4},
		{246.9417, domain.NoteB, 3},
		{1046.5023, domain.NoteC, 6},
		{16.3516, domain.NoteC, 0},
	}

	for _, tt := range tests {
		pc, octave, cents, err := m.Map(tt.freq)
		require.NoError(t, err)
		assert.Equal(t, tt.note, pc, "freq %v", tt.freq)
		assert.Equal(t, tt.octave, octave, "freq %v", tt.freq)
		assert.InDelta(t, 0, cents, 0.01, "freq %v", tt.freq)
	}
}

func TestMap_ExactA(t *testing.T) {
	m := notes.Mapper{}

	pc, octave, cents, err := m.Map(440)
	require.NoError(t, err)
	assert.Equal(t, domain.NoteA, pc)
	assert.Equal(t, 4, octave)
	assert.Equal(t, 0.0, cents)

	pc, octave, cents, err = m.Map(220)
	require.NoError(t, err)
	assert.Equal(t, domain.NoteA, pc)
	assert.Equal(t, 3, octave)
	assert.Equal(t, 0.0, cents)
}

func TestMap_CentsOffset(t *testing.T) {
	m := notes.Mapper{ReferenceHz: 440}

	sharp := 440 * math.Pow(2, 20.0/1200)
	pc, _, cents, err := m.Map(sharp)
	require.NoError(t, err)
	assert.Equal(t, domain.NoteA, pc)
	assert.InDelta(t, 20, cents, 1e-9)

	flat := 440 * math.Pow(2, -30.0/1200)
	pc, _, cents, err = m.Map(flat)
	require.NoError(t, err)
	assert.Equal(t, domain.NoteA, pc)
	assert.InDelta(t, -30, cents, 1e-9)

	// 60 cents above A rounds up to A# and reads -40.
	pc, _, cents, err = m.Map(440 * math.Pow(2, 60.0/1200))
	require.NoError(t, err)
	assert.Equal(t, domain.NoteASharp, pc)
	assert.InDelta(t, -40, cents, 1e-9)
}

func TestMap_AlternateReference(t *testing.T) {
	m, err := notes.NewMapper(432)
	require.NoError(t, err)

	pc, octave, cents, err := m.Map(432)
	require.NoError(t, err)
	assert.Equal(t, domain.NoteA, pc)
	assert.Equal(t, 4, octave)
	assert.InDelta(t, 0, cents, 1e-9)
}

func TestMap_InvalidFrequency(t *testing.T) {
	m := notes.Mapper{}
	for _, f := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, _, _, err := m.Map(f)
		assert.Error(t, err, "freq %v", f)
	}
}

func TestSplit_CentsStayInRange(t *testing.T) {
	for n := 20.0; n < 80; n += 0.037 {
		_, _, cents := notes.Split(n)
		require.GreaterOrEqual(t, cents, -50.0)
		require.LessOrEqual(t, cents, 50.0)
	}
}

func TestNoteFrequency_RoundTrip(t *testing.T) {
	m := notes.Mapper{}
	assert.InDelta(t, 110, m.NoteFrequency(domain.NoteA, 2), 1e-9)
	assert.InDelta(t, 82.4069, m.NoteFrequency(domain.NoteE, 2), 1e-4)
}

func TestStandardTuning_Nearest(t *testing.T) {
	m := notes.Mapper{}

	s, ok := notes.StandardTuning.Nearest(m, 111)
	require.True(t, ok)
	assert.Equal(t, "A2", s.Name())
	assert.Equal(t, 5, s.Number)
	assert.InDelta(t, notes.Cents(111, 110), s.Cents, 1e-9)

	s, ok = notes.StandardTuning.Nearest(m, 325)
	require.True(t, ok)
	assert.Equal(t, "E4", s.Name())
	assert.Equal(t, 1, s.Number)
	assert.Less(t, s.Cents, 0.0)

	_, ok = notes.StandardTuning.Nearest(m, 0)
	assert.False(t, ok)
}

func TestLookupTuning(t *testing.T) {
	tun, err := notes.LookupTuning("drop-d")
	require.NoError(t, err)

	s, ok := tun.Nearest(notes.Mapper{}, 73.4)
	require.True(t, ok)
	assert.Equal(t, "D2", s.Name())
	assert.Equal(t, 6, s.Number)

	_, err = notes.LookupTuning("open-g")
	assert.Error(t, err)
}
