package yin_test

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guitar-tuner/internal/domain"
	"guitar-tuner/internal/dsp/yin"
)

const sampleRate = 44100

func sine(freq float64, n int, amp float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/sampleRate)
	}
	return out
}

// pluck approximates a plucked string: a fundamental with decaying harmonics.
func pluck(freq float64, n int) []float64 {
	out := make([]float64, n)
	amps := []float64{1, 0.7, 0.5, 0.35, 0.2}
	for i := range out {
		t := float64(i) / sampleRate
		for h, a := range amps {
			out[i] += 0.3 * a * math.Sin(2*math.Pi*freq*float64(h+1)*t+float64(h))
		}
	}
	return out
}

func newEstimator(t *testing.T, method yin.Method) *yin.Estimator {
	t.Helper()
	p := yin.DefaultParams()
	p.Method = method
	est, err := yin.New(p)
	require.NoError(t, err)
	return est
}

func TestEstimate_PureSines(t *testing.T) {
	for _, method := range []yin.Method{yin.MethodDirect, yin.MethodFFT} {
		t.Run(string(method), func(t *testing.T) {
			est := newEstimator(t, method)
			for _, f := range []float64{80, 82.41, 110, 146.83, 196, 246.94, 329.63, 440, 659.25, 880, 1000} {
				got, err := est.Estimate(sine(f, 2048, 0.5), time.Time{})
				require.NoError(t, err, "f=%v", f)
				assert.InEpsilon(t, f, got.FrequencyHz, 0.01, "f=%v", f)
				assert.Greater(t, got.Confidence, 0.8, "f=%v", f)
			}
		})
	}
}

func TestEstimate_SweepIsAccurate(t *testing.T) {
	est := newEstimator(t, yin.MethodFFT)
	for f := 80.0; f <= 1000; f += 7.3 {
		got, err := est.Estimate(sine(f, 2048, 0.2), time.Time{})
		require.NoError(t, err, "f=%v", f)
		require.InEpsilon(t, f, got.FrequencyHz, 0.01, "f=%v", f)
		require.Greater(t, got.Confidence, 0.8, "f=%v", f)
	}
}

func TestEstimate_PrefersFundamentalOverHarmonics(t *testing.T) {
	est := newEstimator(t, yin.MethodFFT)
	for _, f := range []float64{82.41, 110, 196} {
		got, err := est.Estimate(pluck(f, 2048), time.Time{})
		require.NoError(t, err)
		assert.InEpsilon(t, f, got.FrequencyHz, 0.01, "f=%v", f)
	}
}

func TestEstimate_Silence(t *testing.T) {
	est := newEstimator(t, yin.MethodFFT)

	got, err := est.Estimate(make([]float64, 2048), time.Time{})
	assert.True(t, errors.Is(err, domain.ErrNoPitchDetected))
	assert.Zero(t, got.Confidence)

	_, err = est.Estimate(sine(220, 2048, 0.0005), time.Time{})
	assert.True(t, errors.Is(err, domain.ErrNoPitchDetected), "sub-noise-floor input")
}

func TestEstimate_WhiteNoise(t *testing.T) {
	est := newEstimator(t, yin.MethodDirect)
	rng := rand.New(rand.NewPCG(1, 2))

	frame := make([]float64, 2048)
	for i := range frame {
		frame[i] = rng.Float64() - 0.5
	}

	got, err := est.Estimate(frame, time.Time{})
	assert.True(t, errors.Is(err, domain.ErrNoPitchDetected), "got %+v, %v", got, err)
}

func TestEstimate_CarriesTimestamp(t *testing.T) {
	est := newEstimator(t, yin.MethodFFT)
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	got, err := est.Estimate(sine(440, 2048, 0.5), ts)
	require.NoError(t, err)
	assert.Equal(t, ts, got.Timestamp)
	assert.InDelta(t, sampleRate/got.FrequencyHz, got.Tau, 1e-9)
}

func TestEstimate_WrongFrameSize(t *testing.T) {
	est := newEstimator(t, yin.MethodFFT)
	_, err := est.Estimate(make([]float64, 1024), time.Time{})
	assert.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrNoPitchDetected))
}

func TestDifference_MethodsAgree(t *testing.T) {
	direct := newEstimator(t, yin.MethodDirect)
	fft := newEstimator(t, yin.MethodFFT)

	rng := rand.New(rand.NewPCG(7, 11))
	frame := pluck(123.4, 2048)
	for i := range frame {
		frame[i] += 0.05 * (rng.Float64() - 0.5)
	}

	want, err := direct.Difference(frame)
	require.NoError(t, err)
	got, err := fft.Difference(frame)
	require.NoError(t, err)
	require.Len(t, got, len(want))

	scale := want[len(want)-1] + 1
	for tau := range want {
		assert.InDelta(t, want[tau], got[tau], 1e-9*scale, "tau=%d", tau)
	}
}

func TestNew_Validation(t *testing.T) {
	cases := map[string]func(*yin.Params){
		"zero sample rate":  func(p *yin.Params) { p.SampleRate = 0 },
		"inverted range":    func(p *yin.Params) { p.MinFrequency, p.MaxFrequency = 500, 100 },
		"threshold too big": func(p *yin.Params) { p.Threshold = 1 },
		"frame too short":   func(p *yin.Params) { p.FrameSize = 512 },
		"unknown method":    func(p *yin.Params) { p.Method = "cepstrum" },
		"negative silence":  func(p *yin.Params) { p.SilenceRMS = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := yin.DefaultParams()
			mutate(&p)
			_, err := yin.New(p)
			assert.Error(t, err)
		})
	}
}

func TestNew_Lags(t *testing.T) {
	est := newEstimator(t, yin.MethodDirect)
	assert.Equal(t, 36, est.MinLag())
	assert.Equal(t, 735, est.MaxLag())
}

func BenchmarkEstimate(b *testing.B) {
	for _, method := range []yin.Method{yin.MethodDirect, yin.MethodFFT} {
		b.Run(string(method), func(b *testing.B) {
			p := yin.DefaultParams()
			p.Method = method
			est, err := yin.New(p)
			if err != nil {
				b.Fatal(err)
			}
			frame := sine(110, p.FrameSize, 0.5)
			b.ResetTimer()
			for range b.N {
				_, _ = est.Estimate(frame, time.Time{})
			}
		})
	}
}
