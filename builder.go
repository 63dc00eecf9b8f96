package spectralunmix

import (
	"fmt"
	"math"
	"runtime"
	"slices"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// Builder assembles a mixing matrix from single-stain controls and an
// unstained control.
type Builder struct {
	Options Options
	// Shared by all label extractions, so it must be safe for concurrent use.
	// nil selects a KDE finder. Build is deterministic only when the finder
	// is; peaks.KMeans is not.
	Finder PeakFinder
}

func NewBuilder(opt Options, finder PeakFinder) *Builder {
	return &Builder{Options: opt, Finder: finder}
}

// Build extracts one signature per requested label and appends the
// autofluorescence column last. The unstained control fixes the detector set;
// every control is aligned to it by name.
func (b *Builder) Build(labels []string, controls map[string]Sample, unstained Sample) (*MixingMatrix, error) {
	opt := b.Options
	if err := opt.Validate(); err != nil {
		return nil, err
	}
	afLabel := opt.AutofluorescenceLabel

	var stained []string
	var missing []string
	seen := make(map[string]bool, len(labels))
	for _, l := range labels {
		if l == afLabel || seen[l] {
			continue
		}
		seen[l] = true
		if _, ok := controls[l]; !ok {
			missing = append(missing, l)
			continue
		}
		stained = append(stained, l)
	}
	if len(missing) > 0 {
		return nil, &IncompleteMatrixError{Missing: missing}
	}
	if unstained.Len() == 0 {
		return nil, fmt.Errorf("unstained control: %w", ErrEmptySample)
	}
	detectors := unstained.Detectors
	if len(detectors) < len(stained)+1 {
		return nil, fmt.Errorf("%w: %d detectors, %d labels", ErrUnderdetermined, len(detectors), len(stained)+1)
	}
	if opt.Signature.AFMode != AFUniversal && !opt.Signature.UseNegativeEvents {
		log.WithFields(log.Fields{
			"mode": opt.Signature.AFMode,
		}).Warn("autofluorescence mode needs negative events, using universal baseline")
	}

	baseline := make([]float64, len(detectors))
	for j := range detectors {
		baseline[j] = median(unstained.Column(j))
	}
	afColumn, top := normalizeByMax(baseline)
	if afColumn == nil {
		return nil, &NoSignalError{Label: afLabel, Max: top}
	}

	extractor := NewSignatureExtractor(opt.Signature, b.Finder)
	sigs := make([]Signature, len(stained))
	var g errgroup.Group
	g.SetLimit(workerCount(opt.Workers))
	for i, label := range stained {
		g.Go(func() error {
			ctl, err := controls[label].Select(detectors)
			if err != nil {
				return fmt.Errorf("control %q: %w", label, err)
			}
			ctl.Name = label
			sig, err := extractor.Extract(ctl, baseline)
			if err != nil {
				return err
			}
			sigs[i] = sig
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	all := slices.Concat(stained, []string{afLabel})
	m := mat.NewDense(len(detectors), len(all), nil)
	report := make([]LabelReport, 0, len(stained))
	for j, sig := range sigs {
		m.SetCol(j, sig.Values)
		spill := 0.0
		for i, v := range sig.Values {
			if i != sig.Primary {
				spill += math.Abs(v)
			}
		}
		r := LabelReport{
			Label:           sig.Label,
			PrimaryDetector: detectors[sig.Primary],
			Spillover:       spill,
			NegativeEvents:  sig.NegativeEvents,
			PeakFallback:    sig.PeakFallback,
		}
		report = append(report, r)
		log.WithFields(log.Fields{
			"label":     r.Label,
			"primary":   r.PrimaryDetector,
			"spillover": r.Spillover,
			"negatives": r.NegativeEvents,
			"selected":  sig.Selected,
		}).Info("signature extracted")
	}
	m.SetCol(len(all)-1, afColumn)

	mm, err := NewMixingMatrix(detectors, all, m, afLabel)
	if err != nil {
		return nil, err
	}
	mm.report = report
	return mm, nil
}

// effectiveBaseline resolves the baseline subtracted from one control.
// A missing negative estimate leaves the universal baseline in place.
func (c SignatureConfig) effectiveBaseline(universal, negative []float64) []float64 {
	if negative == nil || c.AFMode == AFUniversal {
		return universal
	}
	if c.AFMode == AFNegativeEvents {
		return negative
	}
	w := c.AFWeight
	out := make([]float64, len(universal))
	for j := range universal {
		out[j] = w*universal[j] + (1-w)*negative[j]
	}
	return out
}

// normalizeByMax scales v so its maximum is 1. It returns nil when the
// maximum is not positive.
func normalizeByMax(v []float64) ([]float64, float64) {
	top := v[argMax(v)]
	if !(top > 0) {
		return nil, top
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / top
	}
	return out, top
}

func workerCount(n int) int {
	if n > 0 {
		return n
	}
	return runtime.GOMAXPROCS(0)
}
