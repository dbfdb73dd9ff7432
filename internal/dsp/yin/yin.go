package yin

import (
	"fmt"
	"math"
	"time"

	"guitar-tuner/internal/domain"
)

type Method string

const (
	MethodDirect Method = "direct"
	MethodFFT    Method = "fft"
)

type Params struct {
	SampleRate   float64
	FrameSize    int
	MinFrequency float64
	MaxFrequency float64
	Threshold    float64
	// SilenceRMS is the frame RMS below which the search is skipped.
	SilenceRMS float64
	Method     Method
}

func DefaultParams() Params {
	return Params{
		SampleRate:   44100,
		FrameSize:    2048,
		MinFrequency: 60,
		MaxFrequency: 1200,
		Threshold:    0.1,
		SilenceRMS:   0.002,
		Method:       MethodFFT,
	}
}

// Estimator is not safe for concurrent use; it reuses its scratch buffers.
type Estimator struct {
	params Params
	minLag int
	maxLag int
	width  int

	diff []float64
	cmnd []float64
	corr *correlator
}

func New(p Params) (*Estimator, error) {
	if p.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be > 0: %v", p.SampleRate)
	}
	if p.MinFrequency <= 0 || p.MaxFrequency <= p.MinFrequency {
		return nil, fmt.Errorf("invalid frequency range [%v, %v]", p.MinFrequency, p.MaxFrequency)
	}
	if p.Threshold <= 0 || p.Threshold >= 1 {
		return nil, fmt.Errorf("threshold must be in (0,1): %v", p.Threshold)
	}
	if p.SilenceRMS < 0 {
		return nil, fmt.Errorf("silence rms must be >= 0: %v", p.SilenceRMS)
	}
	if p.Method == "" {
		p.Method = MethodFFT
	}

	minLag := int(math.Floor(p.SampleRate / p.MaxFrequency))
	if minLag < 2 {
		minLag = 2
	}
	maxLag := int(math.Ceil(p.SampleRate / p.MinFrequency))
	width := p.FrameSize - maxLag - 1
	if width < maxLag {
		return nil, fmt.Errorf("frame size %d too short for %.1f Hz at %.0f Hz: need at least %d",
			p.FrameSize, p.MinFrequency, p.SampleRate, 2*maxLag+1)
	}
	if minLag >= maxLag {
		return nil, fmt.Errorf("frequency range [%v, %v] collapses to lag %d", p.MinFrequency, p.MaxFrequency, minLag)
	}

	e := &Estimator{
		params: p,
		minLag: minLag,
		maxLag: maxLag,
		width:  width,
		diff:   make([]float64, maxLag+2),
		cmnd:   make([]float64, maxLag+2),
	}

	switch p.Method {
	case MethodDirect:
	case MethodFFT:
		corr, err := newCorrelator(p.FrameSize, width)
		if err != nil {
			return nil, fmt.Errorf("creating fft correlator: %w", err)
		}
		e.corr = corr
	default:
		return nil, fmt.Errorf("unknown difference method %q", p.Method)
	}

	return e, nil
}

func (e *Estimator) Params() Params {
	return e.params
}

// MinLag and MaxLag bound the searched period in samples.
func (e *Estimator) MinLag() int { return e.minLag }
func (e *Estimator) MaxLag() int { return e.maxLag }

// Estimate returns the fundamental of frame. Silence and aperiodic frames
// yield domain.ErrNoPitchDetected with a zero-confidence estimate.
func (e *Estimator) Estimate(frame []float64, ts time.Time) (domain.PitchEstimate, error) {
	none := domain.PitchEstimate{Timestamp: ts}

	if len(frame) != e.params.FrameSize {
		return none, fmt.Errorf("frame size: got %d, want %d", len(frame), e.params.FrameSize)
	}

	rms := RMS(frame)
	if math.IsNaN(rms) || rms < e.params.SilenceRMS || rms == 0 {
		return none, domain.ErrNoPitchDetected
	}

	if err := e.difference(frame); err != nil {
		return none, err
	}
	e.normalize()

	tau, ok := e.absoluteThreshold()
	if !ok {
		return none, domain.ErrNoPitchDetected
	}

	refined := float64(tau) + e.parabolicShift(tau)
	confidence := 1 - e.cmnd[tau]
	confidence = math.Max(0, math.Min(1, confidence))

	return domain.PitchEstimate{
		FrequencyHz: e.params.SampleRate / refined,
		Confidence:  confidence,
		Tau:         refined,
		Timestamp:   ts,
	}, nil
}

// Difference returns a copy of d(tau) for tau in [0, MaxLag+1].
func (e *Estimator) Difference(frame []float64) ([]float64, error) {
	if len(frame) != e.params.FrameSize {
		return nil, fmt.Errorf("frame size: got %d, want %d", len(frame), e.params.FrameSize)
	}
	if err := e.difference(frame); err != nil {
		return nil, err
	}
	return append([]float64(nil), e.diff...), nil
}

func (e *Estimator) difference(x []float64) error {
	if e.corr != nil {
		return e.corr.difference(x, e.diff)
	}

	e.diff[0] = 0
	for tau := 1; tau < len(e.diff); tau++ {
		var sum float64
		for i := 0; i < e.width; i++ {
			d := x[i] - x[i+tau]
			sum += d * d
		}
		e.diff[tau] = sum
	}
	return nil
}

// normalize computes the cumulative mean normalized difference d'(tau).
func (e *Estimator) normalize() {
	e.cmnd[0] = 1
	running := 0.0
	for tau := 1; tau < len(e.diff); tau++ {
		running += e.diff[tau]
		if running == 0 {
			e.cmnd[tau] = 1
			continue
		}
		e.cmnd[tau] = e.diff[tau] * float64(tau) / running
	}
}

// absoluteThreshold returns the smallest lag whose d' dips below the
// threshold, moved to the bottom of that dip.
func (e *Estimator) absoluteThreshold() (int, bool) {
	for tau := e.minLag; tau <= e.maxLag; tau++ {
		if e.cmnd[tau] >= e.params.Threshold {
			continue
		}
		for tau+1 <= e.maxLag && e.cmnd[tau+1] < e.cmnd[tau] {
			tau++
		}
		return tau, true
	}
	return 0, false
}

func (e *Estimator) parabolicShift(tau int) float64 {
	s0, s1, s2 := e.cmnd[tau-1], e.cmnd[tau], e.cmnd[tau+1]
	denom := s0 - 2*s1 + s2
	if denom <= 0 {
		return 0
	}
	shift := 0.5 * (s0 - s2) / denom
	return math.Max(-0.5, math.Min(0.5, shift))
}

// RMS returns the root mean square of x.
func RMS(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(x)))
}
