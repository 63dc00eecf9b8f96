package spectralunmix

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/mat"
)

// MixingMatrix is a detectors × labels matrix of normalized spectral
// signatures. The autofluorescence label is always the last column and no
// column is entirely zero. It is immutable after construction.
type MixingMatrix struct {
	detectors []string
	labels    []string
	m         *mat.Dense
	report    []LabelReport
}

// LabelReport is the diagnostic record of one extracted signature.
type LabelReport struct {
	Label           string
	PrimaryDetector string
	// Sum of absolute signature values outside the primary detector.
	Spillover      float64
	NegativeEvents int
	PeakFallback   bool
}

// NewMixingMatrix wraps a pre-built matrix (detectors × labels). The
// autofluorescence column is moved last when it sits elsewhere.
func NewMixingMatrix(detectors, labels []string, data mat.Matrix, afLabel string) (*MixingMatrix, error) {
	r, c := data.Dims()
	if r != len(detectors) || c != len(labels) {
		return nil, fmt.Errorf("%w: matrix is %d×%d for %d detectors and %d labels",
			ErrDimensionMismatch, r, c, len(detectors), len(labels))
	}
	if r < c {
		return nil, fmt.Errorf("%w: %d detectors, %d labels", ErrUnderdetermined, r, c)
	}
	af := slices.Index(labels, afLabel)
	if af < 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoAutofluorescence, afLabel)
	}
	seen := make(map[string]bool, c)
	for _, l := range labels {
		if seen[l] {
			return nil, fmt.Errorf("%w: duplicate label %q", ErrDimensionMismatch, l)
		}
		seen[l] = true
	}

	order := make([]int, 0, c)
	for j := range c {
		if j != af {
			order = append(order, j)
		}
	}
	order = append(order, af)

	mm := &MixingMatrix{
		detectors: slices.Clone(detectors),
		labels:    make([]string, c),
		m:         mat.NewDense(r, c, nil),
	}
	for k, j := range order {
		mm.labels[k] = labels[j]
		nonZero := false
		for i := range r {
			v := data.At(i, j)
			mm.m.Set(i, k, v)
			nonZero = nonZero || v != 0
		}
		if !nonZero {
			return nil, fmt.Errorf("%w: %q", ErrZeroColumn, labels[j])
		}
	}
	return mm, nil
}

func (mm *MixingMatrix) Detectors() []string { return slices.Clone(mm.detectors) }
func (mm *MixingMatrix) Labels() []string    { return slices.Clone(mm.labels) }

// Dims returns (detectors, labels).
func (mm *MixingMatrix) Dims() (int, int) { return mm.m.Dims() }

func (mm *MixingMatrix) At(i, j int) float64 { return mm.m.At(i, j) }

// AutofluorescenceIndex is always the last column.
func (mm *MixingMatrix) AutofluorescenceIndex() int { return len(mm.labels) - 1 }

// Column returns a copy of label j's signature.
func (mm *MixingMatrix) Column(j int) []float64 { return mat.Col(nil, j, mm.m) }

// Dense returns a copy of the underlying matrix.
func (mm *MixingMatrix) Dense() *mat.Dense { return mat.DenseCopyOf(mm.m) }

// Report returns the per-label extraction diagnostics, nil for a pre-built
// matrix.
func (mm *MixingMatrix) Report() []LabelReport { return slices.Clone(mm.report) }

// LabelIndex returns the column of label, or -1.
func (mm *MixingMatrix) LabelIndex(label string) int { return slices.Index(mm.labels, label) }
