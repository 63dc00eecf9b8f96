package spectralunmix_test

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	su "github.com/setanarut/spectralunmix"
	"github.com/setanarut/spectralunmix/synthetic"
)

const afLabel = "Autofluorescence"

var fixtureLabels = []string{"FITC", "PE", "APC", "BV421", afLabel}

// fixtureMatrix is a 6-detector matrix for four stains plus autofluorescence.
func fixtureMatrix(t *testing.T) *su.MixingMatrix {
	t.Helper()
	sig, err := synthetic.New(3, synthetic.DefaultConfig()).Signatures(6, len(fixtureLabels))
	require.NoError(t, err)
	mm, err := su.NewMixingMatrix(synthetic.Detectors(6), fixtureLabels, sig, afLabel)
	require.NoError(t, err)
	return mm
}

// eventsFrom returns the sample m·a for every abundance row a.
func eventsFrom(t *testing.T, name string, mm *su.MixingMatrix, abundances [][]float64) su.Sample {
	t.Helper()
	m := mm.Dense()
	rows := make([][]float64, len(abundances))
	for i, a := range abundances {
		v := mat.NewVecDense(len(mm.Detectors()), nil)
		v.MulVec(m, mat.NewVecDense(len(a), a))
		rows[i] = v.RawVector().Data
	}
	s, err := su.NewSample(name, mm.Detectors(), rows)
	require.NoError(t, err)
	return s
}

// unstainedAbundances draws stain abundances from N(0,1) and
// autofluorescence from N(100,10).
func unstainedAbundances(n int, seed uint64) [][]float64 {
	src := rand.NewPCG(seed, 1)
	noise := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	af := distuv.Normal{Mu: 100, Sigma: 10, Src: src}
	out := make([][]float64, n)
	for i := range out {
		a := make([]float64, len(fixtureLabels))
		for j := range len(a) - 1 {
			a[j] = noise.Rand()
		}
		a[len(a)-1] = af.Rand()
		out[i] = a
	}
	return out
}

// stainedAbundances adds a bright population to each stain with
// probability one half.
func stainedAbundances(n int, seed uint64) [][]float64 {
	out := unstainedAbundances(n, seed)
	src := rand.NewPCG(seed, 2)
	pick := distuv.Uniform{Min: 0, Max: 1, Src: src}
	bright := distuv.Uniform{Min: 5, Max: 500, Src: src}
	for _, a := range out {
		for j := range len(a) - 1 {
			if pick.Rand() < 0.5 {
				a[j] += bright.Rand()
			}
		}
	}
	return out
}

// singularMatrix has two identical stain columns.
func singularMatrix(t *testing.T) *su.MixingMatrix {
	t.Helper()
	data := mat.NewDense(3, 3, []float64{
		1.0, 1.0, 0.2,
		0.5, 0.5, 0.3,
		0.1, 0.1, 1.0,
	})
	mm, err := su.NewMixingMatrix([]string{"D1", "D2", "D3"}, []string{"FITC", "PE", afLabel}, data, afLabel)
	require.NoError(t, err)
	return mm
}
