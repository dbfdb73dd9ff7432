// Package window tapers analysis frames before pitch estimation.
package window

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/cwbudde/algo-vecmath"
)

// Type identifies a window function.
type Type int

const (
	TypeRectangular Type = iota
	TypeHann
	TypeHamming
	TypeBlackman
	TypeTukey
)

var typeNames = map[Type]string{
	TypeRectangular: "rectangular",
	TypeHann:        "hann",
	TypeHamming:     "hamming",
	TypeBlackman:    "blackman",
	TypeTukey:       "tukey",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// ParseType maps a config name ("hann", "tukey", ...) to a Type.
func ParseType(name string) (Type, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for t, n := range typeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown window type %q", name)
}

// MaxPitchTukeyAlpha is the widest Tukey taper that keeps YIN within a few
// cents at its default threshold.
const MaxPitchTukeyAlpha = 0.02

// ErrDistortsPeriod means a periodic frame no longer repeats sample for sample
// once the window is applied.
var ErrDistortsPeriod = errors.New("window distorts the signal period")

// CheckPitch returns ErrDistortsPeriod for windows that must not precede a
// time-domain pitch estimator. Hann, Hamming and Blackman shift YIN's dip at
// the period above 0.17 and bias it by 25 cents or more. Rectangular and
// Tukey up to MaxPitchTukeyAlpha pass.
func CheckPitch(t Type, alpha float64) error {
	switch {
	case t == TypeRectangular:
		return nil
	case t == TypeTukey && alpha <= MaxPitchTukeyAlpha:
		return nil
	case t == TypeTukey:
		return fmt.Errorf("%w: tukey alpha %v is above %v", ErrDistortsPeriod, alpha, MaxPitchTukeyAlpha)
	default:
		return fmt.Errorf("%w: %s", ErrDistortsPeriod, t)
	}
}

// Option configures window generation.
type Option func(*config)

type config struct {
	alpha float64
}

// WithAlpha sets the taper fraction of a Tukey window, in [0,1].
func WithAlpha(v float64) Option {
	return func(c *config) {
		c.alpha = v
	}
}

// Window holds precomputed coefficients for one frame length.
type Window struct {
	typ    Type
	coeffs []float64
}

func New(t Type, size int, opts ...Option) (*Window, error) {
	if size <= 0 {
		return nil, fmt.Errorf("window size must be > 0: %d", size)
	}
	if _, ok := typeNames[t]; !ok {
		return nil, fmt.Errorf("unknown window type %d", int(t))
	}

	cfg := config{alpha: 0.5}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if t == TypeTukey && (cfg.alpha < 0 || cfg.alpha > 1) {
		return nil, fmt.Errorf("tukey alpha must be in [0,1]: %f", cfg.alpha)
	}

	return &Window{typ: t, coeffs: Generate(t, size, cfg.alpha)}, nil
}

func (w *Window) Type() Type {
	return w.typ
}

func (w *Window) Len() int {
	return len(w.coeffs)
}

// Coefficients returns a copy of the window.
func (w *Window) Coefficients() []float64 {
	return append([]float64(nil), w.coeffs...)
}

// Apply writes src multiplied by the window into dst. dst and src may alias.
func (w *Window) Apply(dst, src []float64) error {
	if len(dst) != len(w.coeffs) || len(src) != len(w.coeffs) {
		return fmt.Errorf("frame length mismatch: window %d, src %d, dst %d", len(w.coeffs), len(src), len(dst))
	}
	copy(dst, src)
	vecmath.MulBlockInPlace(dst, w.coeffs)
	return nil
}

// Generate returns symmetric coefficients of the given length. alpha is only
// used by TypeTukey.
func Generate(t Type, size int, alpha float64) []float64 {
	if size <= 0 {
		return nil
	}

	out := make([]float64, size)
	for i := range out {
		x := position(i, size)
		out[i] = eval(t, x, alpha)
	}
	return out
}

func position(n, size int) float64 {
	if size <= 1 {
		return 0
	}
	return float64(n) / float64(size-1)
}

func eval(t Type, x, alpha float64) float64 {
	switch t {
	case TypeHann:
		return 0.5 - 0.5*math.Cos(2*math.Pi*x)
	case TypeHamming:
		return 0.54 - 0.46*math.Cos(2*math.Pi*x)
	case TypeBlackman:
		return 0.42 - 0.5*math.Cos(2*math.Pi*x) + 0.08*math.Cos(4*math.Pi*x)
	case TypeTukey:
		return tukeyAt(x, alpha)
	default:
		return 1
	}
}

func tukeyAt(x, alpha float64) float64 {
	if alpha <= 0 {
		return 1
	}
	if alpha >= 1 {
		return 0.5 - 0.5*math.Cos(2*math.Pi*x)
	}

	a := alpha / 2
	switch {
	case x < a:
		return 0.5 * (1 + math.Cos(math.Pi*(2*x/alpha-1)))
	case x <= 1-a:
		return 1
	default:
		return 0.5 * (1 + math.Cos(math.Pi*(2*x/alpha-2/alpha+1)))
	}
}
