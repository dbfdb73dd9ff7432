// Package yin estimates the fundamental frequency of a frame with the YIN
// algorithm (de Cheveigné & Kawahara, 2002).
//
// The estimator computes the squared difference function d(tau), normalizes
// it by its cumulative mean, picks the first dip below the threshold, walks to
// the bottom of that dip, and refines the lag with parabolic interpolation.
// The difference function is evaluated either directly or through an FFT
// cross-correlation; both produce the same values up to rounding.
package yin
