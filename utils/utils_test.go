package utils_test

import (
	"bytes"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	su "github.com/setanarut/spectralunmix"
	"github.com/setanarut/spectralunmix/utils"
)

const matrixCSV = `RowName,Autofluorescence,FITC,PE
B1-A,0.4,1,0.05
YG1-A,1,0.12,1
R1-A,0.2,0.01,0.3
`

func TestReadMatrixCSV(t *testing.T) {
	mm, err := utils.ReadMatrixCSV(strings.NewReader(matrixCSV), "Autofluorescence")
	require.NoError(t, err)
	require.Equal(t, []string{"B1-A", "YG1-A", "R1-A"}, mm.Detectors())
	require.Equal(t, []string{"FITC", "PE", "Autofluorescence"}, mm.Labels())
	require.Equal(t, []float64{0.4, 1, 0.2}, mm.Column(2))

	var buf bytes.Buffer
	require.NoError(t, utils.WriteMatrixCSV(&buf, mm))
	require.Equal(t, `RowName,FITC,PE,Autofluorescence
B1-A,1,0.05,0.4
YG1-A,0.12,1,1
R1-A,0.01,0.3,0.2
`, buf.String())
}

func TestReadMatrixCSV_Errors(t *testing.T) {
	_, err := utils.ReadMatrixCSV(strings.NewReader(matrixCSV), "AF")
	require.ErrorIs(t, err, su.ErrNoAutofluorescence)

	_, err = utils.ReadMatrixCSV(strings.NewReader("RowName,FITC\n"), "FITC")
	require.ErrorIs(t, err, su.ErrDimensionMismatch)

	_, err = utils.ReadMatrixCSV(strings.NewReader("RowName,FITC\nB1-A,high\n"), "FITC")
	require.Error(t, err)
}

func TestMatrixCSVFile(t *testing.T) {
	mm, err := utils.ReadMatrixCSV(strings.NewReader(matrixCSV), "Autofluorescence")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "matrix.csv")
	require.NoError(t, utils.WriteMatrixCSVFile(path, mm))
	back, err := utils.ReadMatrixCSVFile(path, "Autofluorescence")
	require.NoError(t, err)
	require.True(t, mat.Equal(mm.Dense(), back.Dense()))
}

func TestReadSampleCSV(t *testing.T) {
	s, err := utils.ReadSampleCSV(strings.NewReader("FSC-A,B1-A,YG1-A\n1000,12.5,-3\n2000,40,7\n"), "ctl")
	require.NoError(t, err)
	require.Equal(t, "ctl", s.Name)
	require.Equal(t, 2, s.Len())
	require.Equal(t, []float64{12.5, 40}, s.Column(1))

	fl, err := s.Select(su.FluorescenceDetectors(s.Detectors))
	require.NoError(t, err)
	require.Equal(t, []string{"B1-A", "YG1-A"}, fl.Detectors)

	_, err = utils.ReadSampleCSV(strings.NewReader(""), "empty")
	require.Error(t, err)
	_, err = utils.ReadSampleCSV(strings.NewReader("A,B\n1,x\n"), "bad")
	require.Error(t, err)
}

func TestWriteAbundanceCSV(t *testing.T) {
	table := &su.AbundanceTable{
		Labels:     []string{"FITC", "Autofluorescence"},
		Abundances: mat.NewDense(2, 2, []float64{12.5, 100, math.NaN(), math.NaN()}),
		Resolved:   []bool{true, false},
		Unresolved: 1,
	}
	var buf bytes.Buffer
	require.NoError(t, utils.WriteAbundanceCSV(&buf, table))
	require.Equal(t, "FITC,Autofluorescence\n12.5,100\nNaN,NaN\n", buf.String())
}

func TestHeatmap(t *testing.T) {
	mm, err := utils.ReadMatrixCSV(strings.NewReader(matrixCSV), "Autofluorescence")
	require.NoError(t, err)

	low := colorful.Color{R: 0, G: 0, B: 0}
	high := colorful.Color{R: 1, G: 1, B: 1}
	img := utils.Heatmap(mm, 4, low, high)
	require.Equal(t, 3*4, img.Bounds().Dx())
	require.Equal(t, 3*4, img.Bounds().Dy())

	// FITC at B1-A is 1, the brightest tile.
	require.Equal(t, uint8(255), img.RGBAAt(1, 1).R)
	// FITC at R1-A is 0.01, close to black.
	require.Less(t, img.RGBAAt(1, 9).R, uint8(16))

	path := filepath.Join(t.TempDir(), "matrix.png")
	require.NoError(t, utils.SaveHeatmap(mm, 8, path))
}
