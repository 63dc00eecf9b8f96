package spectralunmix

import (
	"fmt"
	"slices"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Calibration is everything derived once from the unstained control and
// shared read-only by every unmixed event.
type Calibration struct {
	// Detection threshold per label, in matrix column order.
	Cutoffs []float64
	// Mean unstained abundance per label; the autofluorescence entry is 0.
	MeanAbundance []float64
	// Matrix · MeanAbundance, subtracted from every event before solving.
	Nonspecific []float64
	// Sorted unstained abundances per label, centred on MeanAbundance.
	// Source distribution for the unstained-control-mapping backfill.
	Unstained [][]float64
}

// Calibrate unmixes every unstained event through the full matrix and takes
// the given percentile of each label's abundances as its cutoff. With fewer
// than two events every cutoff is 0, so no label is ever truncated.
func Calibrate(mm *MixingMatrix, unstained Sample, percentile float64) (*Calibration, error) {
	if err := validatePercentile(percentile); err != nil {
		return nil, err
	}
	detectors, labels := mm.Dims()
	aligned, err := unstained.Select(mm.detectors)
	if err != nil {
		return nil, fmt.Errorf("unstained control: %w", err)
	}
	n := aligned.Len()

	abund := make([][]float64, labels)
	for j := range abund {
		abund[j] = make([]float64, n)
	}
	solver := NewSolver(mm.m)
	ws := newWorkspace(detectors, labels)
	active := make([]int, labels)
	for j := range active {
		active[j] = j
	}
	obs := make([]float64, detectors)
	for i := range n {
		mat.Row(obs, i, aligned.Events)
		solver.project(ws, obs)
		if err := solver.solveActive(ws, obs, active); err != nil {
			return nil, fmt.Errorf("calibrate on full matrix: %w", err)
		}
		for j := range labels {
			abund[j][i] = ws.x[j]
		}
	}

	cal := &Calibration{
		Cutoffs:       make([]float64, labels),
		MeanAbundance: make([]float64, labels),
		Unstained:     make([][]float64, labels),
	}
	af := mm.AutofluorescenceIndex()
	for j := range labels {
		if n > 0 {
			cal.MeanAbundance[j] = stat.Mean(abund[j], nil)
		}
		slices.Sort(abund[j])
		if n >= 2 {
			cal.Cutoffs[j] = stat.Quantile(percentile, stat.Empirical, abund[j], nil)
		}
	}
	cal.MeanAbundance[af] = 0
	for j := range labels {
		centred := make([]float64, n)
		for i, v := range abund[j] {
			centred[i] = v - cal.MeanAbundance[j]
		}
		cal.Unstained[j] = centred
	}

	ns := mat.NewVecDense(detectors, nil)
	ns.MulVec(mm.m, mat.NewVecDense(labels, slices.Clone(cal.MeanAbundance)))
	cal.Nonspecific = ns.RawVector().Data

	if n < 2 {
		log.WithFields(log.Fields{
			"events": n,
		}).Warn("too few unstained events, all cutoffs set to 0")
	}
	log.WithFields(log.Fields{
		"events":     n,
		"labels":     labels,
		"percentile": percentile,
	}).Info("cutoffs calibrated")
	return cal, nil
}
