package spectralunmix

import (
	"fmt"
	"slices"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Sample is an event table: one row per event, one column per detector.
// Events is nil when the table is empty.
type Sample struct {
	Name      string
	Detectors []string
	Events    *mat.Dense
}

// NewSample copies rows into a Sample. Every row must have one value per detector.
func NewSample(name string, detectors []string, rows [][]float64) (Sample, error) {
	s := Sample{Name: name, Detectors: slices.Clone(detectors)}
	if len(rows) == 0 {
		return s, nil
	}
	if len(detectors) == 0 {
		return s, fmt.Errorf("sample %q: %w: no detectors", name, ErrDimensionMismatch)
	}
	data := make([]float64, 0, len(rows)*len(detectors))
	for i, r := range rows {
		if len(r) != len(detectors) {
			return s, fmt.Errorf("sample %q row %d: %w: %d values for %d detectors",
				name, i, ErrDimensionMismatch, len(r), len(detectors))
		}
		data = append(data, r...)
	}
	s.Events = mat.NewDense(len(rows), len(detectors), data)
	return s, nil
}

func (s Sample) Len() int {
	if s.Events == nil {
		return 0
	}
	r, _ := s.Events.Dims()
	return r
}

// Column returns a copy of one detector's intensities.
func (s Sample) Column(j int) []float64 {
	if s.Events == nil {
		return nil
	}
	return mat.Col(nil, j, s.Events)
}

// Row returns a copy of one event.
func (s Sample) Row(i int) []float64 {
	return mat.Row(nil, i, s.Events)
}

// Select returns the sample with its columns reordered to detectors.
func (s Sample) Select(detectors []string) (Sample, error) {
	if len(detectors) == 0 {
		return Sample{}, fmt.Errorf("sample %q: %w: no detectors selected", s.Name, ErrDimensionMismatch)
	}
	idx := make([]int, len(detectors))
	for k, d := range detectors {
		j := slices.Index(s.Detectors, d)
		if j < 0 {
			return Sample{}, fmt.Errorf("sample %q: %w: %s", s.Name, ErrUnknownDetector, d)
		}
		idx[k] = j
	}
	out := Sample{Name: s.Name, Detectors: slices.Clone(detectors)}
	n := s.Len()
	if n == 0 {
		return out, nil
	}
	out.Events = mat.NewDense(n, len(detectors), nil)
	for i := range n {
		for k, j := range idx {
			out.Events.Set(i, k, s.Events.At(i, j))
		}
	}
	return out, nil
}

// Masked keeps the events whose mask entry is true.
func (s Sample) Masked(mask []bool) (Sample, error) {
	n := s.Len()
	if len(mask) != n {
		return Sample{}, fmt.Errorf("sample %q: %w: mask has %d entries for %d events",
			s.Name, ErrDimensionMismatch, len(mask), n)
	}
	var rows [][]float64
	for i, keep := range mask {
		if keep {
			rows = append(rows, s.Row(i))
		}
	}
	return NewSample(s.Name, s.Detectors, rows)
}

// FluorescenceDetectors drops scatter and time channels.
func FluorescenceDetectors(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		u := strings.ToUpper(n)
		if strings.HasPrefix(u, "FSC") || strings.HasPrefix(u, "SSC") || strings.HasPrefix(u, "TIME") {
			continue
		}
		out = append(out, n)
	}
	return out
}
