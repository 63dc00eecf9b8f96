package spectralunmix_test

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	su "github.com/setanarut/spectralunmix"
)

func TestCalibrate_PercentileOfUnstainedAbundances(t *testing.T) {
	mm := fixtureMatrix(t)
	truth := unstainedAbundances(1000, 5)
	cal, err := su.Calibrate(mm, eventsFrom(t, "Unstained", mm, truth), 0.995)
	require.NoError(t, err)

	af := mm.AutofluorescenceIndex()
	for j := range fixtureLabels {
		col := make([]float64, len(truth))
		for i, a := range truth {
			col[i] = a[j]
		}
		mean := stat.Mean(col, nil)
		slices.Sort(col)

		// Exact events unmix to their generating abundances.
		require.InDelta(t, stat.Quantile(0.995, stat.Empirical, col, nil), cal.Cutoffs[j], 1e-6, fixtureLabels[j])
		if j == af {
			require.Equal(t, 0.0, cal.MeanAbundance[j])
			continue
		}
		require.InDelta(t, mean, cal.MeanAbundance[j], 1e-9)

		// At most 0.5% of the unstained noise lies above the cutoff. The
		// margin absorbs round-off from the solve.
		above := 0
		for _, v := range col {
			if v > cal.Cutoffs[j]+1e-6 {
				above++
			}
		}
		require.LessOrEqual(t, above, 5, fixtureLabels[j])
		// The quantile estimate over 1000 draws has a standard error near 0.15.
		require.Greater(t, cal.Cutoffs[j], distuv.UnitNormal.Quantile(0.995)-0.5, fixtureLabels[j])
	}
}

func TestCalibrate_NonspecificAndDistributions(t *testing.T) {
	mm := fixtureMatrix(t)
	cal, err := su.Calibrate(mm, eventsFrom(t, "Unstained", mm, unstainedAbundances(500, 9)), 0.995)
	require.NoError(t, err)

	want := mat.NewVecDense(len(mm.Detectors()), nil)
	want.MulVec(mm.Dense(), mat.NewVecDense(len(cal.MeanAbundance), cal.MeanAbundance))
	require.InDeltaSlice(t, want.RawVector().Data, cal.Nonspecific, 1e-9)

	require.Len(t, cal.Unstained, len(fixtureLabels))
	for j, dist := range cal.Unstained[:mm.AutofluorescenceIndex()] {
		require.Len(t, dist, 500)
		require.True(t, slices.IsSorted(dist), fixtureLabels[j])
		require.InDelta(t, 0, stat.Mean(dist, nil), 1e-9)
	}
}

func TestCalibrate_TooFewEvents(t *testing.T) {
	mm := fixtureMatrix(t)
	for _, n := range []int{0, 1} {
		cal, err := su.Calibrate(mm, eventsFrom(t, "Unstained", mm, unstainedAbundances(n, 1)), 0.995)
		require.NoError(t, err)
		require.Equal(t, make([]float64, len(fixtureLabels)), cal.Cutoffs)
	}
}

func TestCalibrate_Errors(t *testing.T) {
	mm := fixtureMatrix(t)
	unstained := eventsFrom(t, "Unstained", mm, unstainedAbundances(10, 1))

	_, err := su.Calibrate(mm, unstained, 1.2)
	require.ErrorIs(t, err, su.ErrInvalidPercentile)

	partial, err := unstained.Select(mm.Detectors()[:5])
	require.NoError(t, err)
	_, err = su.Calibrate(mm, partial, 0.995)
	require.ErrorIs(t, err, su.ErrUnknownDetector)

	sing := singularMatrix(t)
	flat, err := su.NewSample("Unstained", sing.Detectors(), [][]float64{{1, 2, 3}, {2, 3, 4}})
	require.NoError(t, err)
	_, err = su.Calibrate(sing, flat, 0.995)
	require.ErrorIs(t, err, su.ErrSingularSystem)
}
