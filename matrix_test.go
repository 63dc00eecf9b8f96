package spectralunmix_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	su "github.com/setanarut/spectralunmix"
)

func TestNewMixingMatrix_MovesAutofluorescenceLast(t *testing.T) {
	detectors := []string{"D1", "D2", "D3"}
	data := mat.NewDense(3, 3, []float64{
		0.2, 1.0, 0.1,
		1.0, 0.3, 0.2,
		0.5, 0.0, 1.0,
	})
	mm, err := su.NewMixingMatrix(detectors, []string{"AF", "FITC", "PE"}, data, "AF")
	require.NoError(t, err)

	require.Equal(t, []string{"FITC", "PE", "AF"}, mm.Labels())
	require.Equal(t, 2, mm.AutofluorescenceIndex())
	require.Equal(t, []float64{0.2, 1.0, 0.5}, mm.Column(2))
	require.Equal(t, []float64{1.0, 0.3, 0.0}, mm.Column(0))
	require.Equal(t, 1, mm.LabelIndex("PE"))
	require.Equal(t, -1, mm.LabelIndex("APC"))
	require.Nil(t, mm.Report())

	// The caller's matrix is copied, not shared.
	data.Set(0, 1, 42)
	require.Equal(t, 1.0, mm.At(0, 0))
}

func TestNewMixingMatrix_Errors(t *testing.T) {
	detectors := []string{"D1", "D2"}
	cases := []struct {
		name   string
		labels []string
		data   *mat.Dense
		want   error
	}{
		{"zero column", []string{"A", "AF"}, mat.NewDense(2, 2, []float64{0, 1, 0, 1}), su.ErrZeroColumn},
		{"no autofluorescence", []string{"A", "B"}, mat.NewDense(2, 2, []float64{1, 1, 0, 1}), su.ErrNoAutofluorescence},
		{"duplicate label", []string{"AF", "AF"}, mat.NewDense(2, 2, []float64{1, 1, 0, 1}), su.ErrDimensionMismatch},
		{"shape", []string{"A", "AF"}, mat.NewDense(2, 1, []float64{1, 1}), su.ErrDimensionMismatch},
		{"underdetermined", []string{"A", "B", "AF"}, mat.NewDense(2, 3, []float64{1, 0, 1, 0, 1, 1}), su.ErrUnderdetermined},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := su.NewMixingMatrix(detectors, tc.labels, tc.data, "AF")
			require.ErrorIs(t, err, tc.want)
		})
	}
}
