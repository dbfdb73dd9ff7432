package yin

import (
	"fmt"
	"math/cmplx"

	algofft "github.com/MeKo-Christian/algo-fft"
)

// correlator evaluates d(tau) = e(0) + e(tau) - 2 r(tau), where e(tau) is the
// energy of x[tau:tau+width] and r is the cross-correlation of the first width
// samples with the whole frame. Because width+maxLag < frameSize, a
// circular correlation of length nextPow2(frameSize) has no wraparound for the
// lags of interest.
type correlator struct {
	plan  *algofft.Plan[complex128]
	width int
	scale float64

	head   []complex128
	whole  []complex128
	fhead  []complex128
	fwhole []complex128
	out    []complex128
	energy []float64
}

func newCorrelator(frameSize, width int) (*correlator, error) {
	size := nextPow2(frameSize)
	plan, err := algofft.NewPlan64(size)
	if err != nil {
		return nil, fmt.Errorf("fft plan %d: %w", size, err)
	}

	c := &correlator{
		plan:   plan,
		width:  width,
		scale:  1,
		head:   make([]complex128, size),
		whole:  make([]complex128, size),
		fhead:  make([]complex128, size),
		fwhole: make([]complex128, size),
		out:    make([]complex128, size),
		energy: make([]float64, frameSize+1),
	}

	// Calibrate against a unit impulse so the result does not depend on how
	// the FFT package normalizes its transforms.
	c.head[0], c.whole[0] = 1, 1
	if err := c.correlate(); err != nil {
		return nil, err
	}
	unit := real(c.out[0])
	if unit == 0 {
		return nil, fmt.Errorf("fft calibration produced zero gain")
	}
	c.scale = 1 / unit

	return c, nil
}

func (c *correlator) correlate() error {
	if err := c.plan.Forward(c.fhead, c.head); err != nil {
		return fmt.Errorf("forward fft: %w", err)
	}
	if err := c.plan.Forward(c.fwhole, c.whole); err != nil {
		return fmt.Errorf("forward fft: %w", err)
	}
	for k := range c.fhead {
		c.fhead[k] = cmplx.Conj(c.fhead[k]) * c.fwhole[k]
	}
	if err := c.plan.Inverse(c.out, c.fhead); err != nil {
		return fmt.Errorf("inverse fft: %w", err)
	}
	return nil
}

func (c *correlator) difference(x []float64, d []float64) error {
	clear(c.head)
	clear(c.whole)
	for i := 0; i < c.width; i++ {
		c.head[i] = complex(x[i], 0)
	}
	for i, v := range x {
		c.whole[i] = complex(v, 0)
	}

	if err := c.correlate(); err != nil {
		return err
	}

	c.energy[0] = 0
	for i, v := range x {
		c.energy[i+1] = c.energy[i] + v*v
	}
	e0 := c.energy[c.width]

	for tau := range d {
		et := c.energy[tau+c.width] - c.energy[tau]
		v := e0 + et - 2*real(c.out[tau])*c.scale
		if v < 0 {
			v = 0
		}
		d[tau] = v
	}
	d[0] = 0
	return nil
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
