package peaks

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// KDE finds peaks of a Gaussian kernel density estimate with Silverman's
// bandwidth.
type KDE struct {
	// Minimum peak height as a fraction of the maximum density.
	Threshold float64
	// Bandwidth multiplier. 0 means 1.
	Adjust float64
	// Evaluation grid size. 0 means 512.
	GridPoints int
}

func NewKDE(threshold float64) KDE {
	return KDE{Threshold: threshold, Adjust: 1, GridPoints: 512}
}

func (k KDE) FindPeaks(values []float64) ([]Peak, error) {
	x := finiteSorted(values)
	n := len(x)
	if n < 3 {
		return nil, ErrTooFewSamples
	}
	sd := stat.StdDev(x, nil)
	iqr := stat.Quantile(0.75, stat.LinInterp, x, nil) - stat.Quantile(0.25, stat.LinInterp, x, nil)
	spread := sd
	if iqr > 0 && iqr/1.34 < spread {
		spread = iqr / 1.34
	}
	if !(spread > 0) {
		return []Peak{{Center: x[0], Density: 1}}, nil
	}
	adjust := k.Adjust
	if adjust <= 0 {
		adjust = 1
	}
	bw := 0.9 * spread * math.Pow(float64(n), -0.2) * adjust

	grid := k.GridPoints
	if grid < 3 {
		grid = 512
	}
	lo := x[0] - 3*bw
	hi := x[n-1] + 3*bw
	step := (hi - lo) / float64(grid-1)

	gx := make([]float64, grid)
	gy := make([]float64, grid)
	reach := 4 * bw
	for i := range grid {
		c := lo + float64(i)*step
		gx[i] = c
		// Only samples within 4 bandwidths contribute measurably.
		from := sort.SearchFloat64s(x, c-reach)
		sum := 0.0
		for j := from; j < n && x[j] <= c+reach; j++ {
			z := (c - x[j]) / bw
			sum += math.Exp(-0.5 * z * z)
		}
		gy[i] = sum
	}

	maxY := 0.0
	argMax := 0
	for i, y := range gy {
		if y > maxY {
			maxY = y
			argMax = i
		}
	}
	if maxY == 0 {
		return nil, ErrTooFewSamples
	}
	cut := k.Threshold * maxY
	var out []Peak
	for i := 1; i < grid-1; i++ {
		if gy[i] > gy[i-1] && gy[i] >= gy[i+1] && gy[i] > cut {
			out = append(out, Peak{Center: gx[i], Density: gy[i] / maxY})
		}
	}
	if len(out) == 0 {
		out = append(out, Peak{Center: gx[argMax], Density: 1})
	}
	return out, nil
}
