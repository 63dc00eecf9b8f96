package spectralunmix

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/setanarut/spectralunmix/peaks"
)

// PeakFinder reports the density peaks of one detector's intensities.
type PeakFinder interface {
	FindPeaks(values []float64) ([]peaks.Peak, error)
}

// Signature is one label's column of the mixing matrix plus what was learned
// while deriving it.
type Signature struct {
	Label string
	// Normalized column; Values[Primary] == 1.
	Values  []float64
	Primary int
	// Representative intensities minus the effective baseline.
	Corrected []float64
	// Detector whose intensities selected the events for every median.
	Gate int
	// Events whose medians became the representative intensities.
	Selected int
	// Label-specific autofluorescence from the control's negative events.
	// nil when disabled or when the negative peak was too small.
	NegativeAF []float64
	// Population of the negative peak region before the bias cut.
	NegativeEvents int
	// The positive peak search fell back to all events.
	PeakFallback bool
}

type SignatureExtractor struct {
	Config SignatureConfig
	Finder PeakFinder
}

// NewSignatureExtractor uses a KDE peak finder when finder is nil.
func NewSignatureExtractor(cfg SignatureConfig, finder PeakFinder) *SignatureExtractor {
	if finder == nil {
		finder = peaks.NewKDE(cfg.PeakThreshold)
	}
	return &SignatureExtractor{Config: cfg, Finder: finder}
}

type peakSide int

const (
	positivePeak peakSide = iota
	negativePeak
)

// Extract derives the normalized signature of a single-stain control.
// baseline holds the unstained control's representative intensity per
// detector, in the control's detector order.
//
// Events are selected once, on the gating detector, and the same events feed
// the median of every detector.
func (x *SignatureExtractor) Extract(control Sample, baseline []float64) (Signature, error) {
	sig := Signature{Label: control.Name}
	n := control.Len()
	if n == 0 {
		return sig, fmt.Errorf("control %q: %w", control.Name, ErrEmptySample)
	}
	d := len(control.Detectors)
	if len(baseline) != d {
		return sig, fmt.Errorf("control %q: %w: baseline has %d detectors, control %d",
			control.Name, ErrDimensionMismatch, len(baseline), d)
	}

	sig.Gate = gatingDetector(control, baseline)
	var events []int
	if x.Config.PeakDetection {
		events, _ = x.peakEvents(control.Column(sig.Gate), baseline[sig.Gate], positivePeak)
		if len(events) == 0 {
			sig.PeakFallback = true
			log.WithFields(log.Fields{
				"control":  control.Name,
				"detector": control.Detectors[sig.Gate],
			}).Warn("peak search yielded no usable events, using median")
		}
	}
	if len(events) == 0 {
		events = allEvents(n)
	}
	sig.Selected = len(events)
	rep := maskedMedians(control, events)

	if x.Config.UseNegativeEvents {
		sig.NegativeAF, sig.NegativeEvents = x.negativeBaseline(control, sig.Gate, baseline[sig.Gate])
		if sig.NegativeAF == nil {
			log.WithFields(log.Fields{
				"control":  control.Name,
				"events":   sig.NegativeEvents,
				"required": x.Config.MinNegativeEvents,
			}).Warn("too few negative events, using universal baseline")
		}
	}
	eff := x.Config.effectiveBaseline(baseline, sig.NegativeAF)

	sig.Corrected = make([]float64, d)
	for j := range d {
		sig.Corrected[j] = rep[j] - eff[j]
	}
	sig.Primary = argMax(sig.Corrected)
	top := sig.Corrected[sig.Primary]
	if !(top > 0) {
		return sig, &NoSignalError{Label: control.Name, Max: top}
	}
	sig.Values = make([]float64, d)
	for j, v := range sig.Corrected {
		sig.Values[j] = v / top
	}
	return sig, nil
}

// gatingDetector returns the detector whose upper decile rises furthest
// above the baseline. A stained population as small as a tenth of the
// control still shows there.
func gatingDetector(control Sample, baseline []float64) int {
	best, bestLift := 0, math.Inf(-1)
	for j := range control.Detectors {
		col := control.Column(j)
		slices.Sort(col)
		if lift := stat.Quantile(0.9, stat.Empirical, col, nil) - baseline[j]; lift > bestLift {
			best, bestLift = j, lift
		}
	}
	return best
}

// negativeBaseline medians the lower part of the gating detector's lowest
// peak over every detector. It returns nil when that peak holds fewer than
// MinNegativeEvents events.
func (x *SignatureExtractor) negativeBaseline(control Sample, gate int, base float64) ([]float64, int) {
	col := control.Column(gate)
	var events []int
	var region int
	if x.Config.PeakDetection {
		events, region = x.peakEvents(col, base, negativePeak)
	} else {
		events = rankOrder(col, allEvents(len(col)))
		region = len(events)
		events = events[:biasCount(region, x.Config.NegativeBias)]
	}
	if region < x.Config.MinNegativeEvents || len(events) == 0 {
		return nil, region
	}
	return maskedMedians(control, events), region
}

// peakEvents returns the indices of the events in the positive or negative
// peak of values, within 2*MAD of its centre and cut to the bias fraction
// nearest the chosen side by rank. region is the window population before
// the bias cut. No events means the density estimate gave nothing usable.
//
// The positive peak is the densest one in the upper half of the span between
// base and the brightest peak. The negative peak is the lowest.
func (x *SignatureExtractor) peakEvents(values []float64, base float64, side peakSide) (events []int, region int) {
	keys := make([]float64, len(values))
	for i, v := range values {
		keys[i] = x.key(v)
	}
	ps, err := x.Finder.FindPeaks(keys)
	if err != nil || len(ps) == 0 {
		return nil, 0
	}
	chosen, _ := peaks.Lowest(ps)
	bias := x.Config.NegativeBias
	if side == positivePeak {
		chosen = positiveMode(ps, x.key(base))
		bias = x.Config.PositiveBias
	}

	var own []int
	for i, k := range keys {
		if nearestCenter(ps, k) == chosen.Center {
			own = append(own, i)
		}
	}
	if len(own) == 0 {
		return nil, 0
	}
	dev := make([]float64, len(own))
	for i, e := range own {
		dev[i] = math.Abs(keys[e] - chosen.Center)
	}
	mad := median(dev)
	window := own
	if mad > 0 {
		window = window[:0:0]
		for _, e := range own {
			if math.Abs(keys[e]-chosen.Center) <= 2*mad {
				window = append(window, e)
			}
		}
	}
	if len(window) == 0 {
		return nil, 0
	}

	window = rankOrder(keys, window)
	region = len(window)
	k := biasCount(region, bias)
	if side == positivePeak {
		return window[region-k:], region
	}
	return window[:k], region
}

func (x *SignatureExtractor) key(v float64) float64 {
	if c := x.Config.PeakCofactor; c > 0 {
		return math.Asinh(v / c)
	}
	return v
}

func positiveMode(ps []peaks.Peak, base float64) peaks.Peak {
	top, _ := peaks.Highest(ps)
	if top.Center <= base {
		best, _ := peaks.Densest(ps)
		return best
	}
	cut := (base + top.Center) / 2
	best := top
	for _, p := range ps {
		if p.Center >= cut && p.Density > best.Density {
			best = p
		}
	}
	return best
}

// rankOrder sorts the event indices by their values, ascending. Ties keep
// event order.
func rankOrder(values []float64, events []int) []int {
	events = slices.Clone(events)
	slices.SortStableFunc(events, func(a, b int) int {
		return cmp.Compare(values[a], values[b])
	})
	return events
}

func allEvents(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// maskedMedians returns every detector's median over the given events.
func maskedMedians(control Sample, events []int) []float64 {
	out := make([]float64, len(control.Detectors))
	sub := make([]float64, len(events))
	for j := range out {
		for i, e := range events {
			sub[i] = control.Events.At(e, j)
		}
		out[j] = median(sub)
	}
	return out
}

func nearestCenter(ps []peaks.Peak, v float64) float64 {
	best := ps[0].Center
	bestD := math.Abs(v - best)
	for _, p := range ps[1:] {
		if d := math.Abs(v - p.Center); d < bestD {
			best, bestD = p.Center, d
		}
	}
	return best
}

func biasCount(n int, bias float64) int {
	return min(n, max(1, int(math.Ceil(bias*float64(n)))))
}

func argMax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

// median of a copy of v; averages the middle pair for even lengths.
func median(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	s := slices.Clone(v)
	slices.Sort(s)
	m := len(s) / 2
	if len(s)%2 == 1 {
		return s[m]
	}
	return (s[m-1] + s[m]) / 2
}
