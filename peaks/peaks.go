// Package peaks locates modes of one-dimensional intensity distributions.
// Finders are injected into signature extraction, so any backend that can
// report density peaks fits.
package peaks

import (
	"errors"
	"math"
	"slices"
)

var ErrTooFewSamples = errors.New("peaks: too few finite samples")

type Peak struct {
	Center float64
	// Height relative to the tallest peak, in (0, 1].
	Density float64
}

// Densest returns the peak with the largest Density.
func Densest(ps []Peak) (Peak, bool) {
	if len(ps) == 0 {
		return Peak{}, false
	}
	best := ps[0]
	for _, p := range ps[1:] {
		if p.Density > best.Density {
			best = p
		}
	}
	return best, true
}

// Lowest returns the peak with the smallest Center.
func Lowest(ps []Peak) (Peak, bool) {
	if len(ps) == 0 {
		return Peak{}, false
	}
	best := ps[0]
	for _, p := range ps[1:] {
		if p.Center < best.Center {
			best = p
		}
	}
	return best, true
}

// Highest returns the peak with the largest Center.
func Highest(ps []Peak) (Peak, bool) {
	if len(ps) == 0 {
		return Peak{}, false
	}
	best := ps[0]
	for _, p := range ps[1:] {
		if p.Center > best.Center {
			best = p
		}
	}
	return best, true
}

// finiteSorted copies the finite values and sorts them.
func finiteSorted(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return out
}
