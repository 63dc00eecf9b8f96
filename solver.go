package spectralunmix

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// LeastSquares solves m x = b. Square systems are solved directly, tall ones
// through the normal equations (mᵀm) x = mᵀb.
func LeastSquares(m mat.Matrix, b []float64) ([]float64, error) {
	r, c := m.Dims()
	if len(b) != r {
		return nil, fmt.Errorf("%w: %d observations for %d rows", ErrDimensionMismatch, len(b), r)
	}
	if r < c {
		return nil, fmt.Errorf("%w: %d×%d", ErrUnderdetermined, r, c)
	}
	x := make([]float64, c)
	var lu mat.LU
	if r == c {
		lu.Factorize(m)
		return x, solveFactorized(&lu, x, mat.NewVecDense(r, b))
	}
	var ata mat.Dense
	ata.Mul(m.T(), m)
	atb := mat.NewVecDense(c, nil)
	atb.MulVec(m.T(), mat.NewVecDense(r, b))
	lu.Factorize(&ata)
	return x, solveFactorized(&lu, x, atb)
}

func solveFactorized(lu *mat.LU, dst []float64, rhs mat.Vector) error {
	if cond := lu.Cond(); math.IsInf(cond, 1) || math.IsNaN(cond) || cond > mat.ConditionTolerance {
		return fmt.Errorf("%w: condition number %g", ErrSingularSystem, cond)
	}
	x := mat.NewVecDense(len(dst), dst)
	if err := lu.SolveVecTo(x, false, rhs); err != nil {
		return fmt.Errorf("%w: %v", ErrSingularSystem, err)
	}
	return nil
}

// Solver solves the system of a fixed mixing matrix restricted to a subset of
// its columns. The full Gram matrix is computed once; a reduced system is the
// sub-block of the active columns, so truncation never copies the matrix.
// A Solver is safe for concurrent use; each goroutine brings its own
// workspace.
type Solver struct {
	m      *mat.Dense
	gram   *mat.Dense
	square bool
}

func NewSolver(m *mat.Dense) *Solver {
	r, c := m.Dims()
	g := mat.NewDense(c, c, nil)
	g.Mul(m.T(), m)
	return &Solver{m: m, gram: g, square: r == c}
}

// workspace holds per-goroutine scratch buffers sized for the full label set.
type workspace struct {
	lu       mat.LU
	gram     []float64
	rhs      []float64
	x        []float64
	atb      []float64
	adjusted []float64
}

func newWorkspace(detectors, labels int) *workspace {
	return &workspace{
		gram:     make([]float64, labels*labels),
		rhs:      make([]float64, labels),
		x:        make([]float64, labels),
		atb:      make([]float64, labels),
		adjusted: make([]float64, detectors),
	}
}

// project fills ws.atb with mᵀb for every column.
func (s *Solver) project(ws *workspace, b []float64) {
	atb := mat.NewVecDense(len(ws.atb), ws.atb)
	atb.MulVec(s.m.T(), mat.NewVecDense(len(b), b))
}

// solveActive solves for the active columns, given ws.atb from project and b
// the same observation. The solution lands in ws.x[:len(active)].
func (s *Solver) solveActive(ws *workspace, b []float64, active []int) error {
	k := len(active)
	x := ws.x[:k]
	_, c := s.m.Dims()
	if s.square && k == c {
		ws.lu.Factorize(s.m)
		return solveFactorized(&ws.lu, x, mat.NewVecDense(len(b), b))
	}
	g := ws.gram[:k*k]
	for a, ja := range active {
		for bb, jb := range active {
			g[a*k+bb] = s.gram.At(ja, jb)
		}
		ws.rhs[a] = ws.atb[ja]
	}
	ws.lu.Factorize(mat.NewDense(k, k, g))
	return solveFactorized(&ws.lu, x, mat.NewVecDense(k, ws.rhs[:k]))
}
