package peaks

import (
	"math"
	"slices"

	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
)

// KMeans treats the centres of a 1-D k-means partition as peaks. Density is
// the cluster population relative to the largest cluster.
//
// clusters.New reseeds math/rand from the clock on every partition and offers
// no way to inject a source, so FindPeaks is not a pure function of its
// input. Signature extraction with KMeans can differ between runs on
// ambiguous data; use KDE where builds must replay exactly.
type KMeans struct {
	K int
	// Clusters holding less than this fraction of the largest are dropped.
	Threshold float64
	// Values are subsampled above this count. 0 means 12000.
	MaxSamples int
}

func (k KMeans) FindPeaks(values []float64) ([]Peak, error) {
	x := finiteSorted(values)
	n := len(x)
	if n < 3 || n < k.K {
		return nil, ErrTooFewSamples
	}
	lo, hi := x[0], x[n-1]
	if hi == lo {
		return []Peak{{Center: lo, Density: 1}}, nil
	}
	span := hi - lo

	// Subsample to keep kmeans tractable on large controls.
	maxSamples := k.MaxSamples
	if maxSamples <= 0 {
		maxSamples = 12000
	}
	step := 1
	if n > maxSamples {
		step = int(math.Ceil(float64(n) / float64(maxSamples)))
	}
	// clusters seeds centres inside the unit cube, so scale into [0,1].
	dataset := make(clusters.Observations, 0, n/step+1)
	for i := 0; i < n; i += step {
		dataset = append(dataset, clusters.Coordinates{(x[i] - lo) / span})
	}

	workK := min(max(k.K, 1), len(dataset))
	cc, err := kmeans.New().Partition(dataset, workK)
	if err != nil {
		return nil, err
	}

	// Sort by cluster population so dominant modes come first.
	slices.SortFunc(cc, func(a, b clusters.Cluster) int {
		return len(b.Observations) - len(a.Observations)
	})
	if len(cc) == 0 || len(cc[0].Observations) == 0 {
		return nil, ErrTooFewSamples
	}
	top := float64(len(cc[0].Observations))
	out := make([]Peak, 0, len(cc))
	for _, c := range cc {
		if len(c.Center) == 0 || len(c.Observations) == 0 {
			continue
		}
		d := float64(len(c.Observations)) / top
		if d < k.Threshold {
			continue
		}
		out = append(out, Peak{Center: lo + c.Center[0]*span, Density: d})
	}
	slices.SortFunc(out, func(a, b Peak) int {
		switch {
		case a.Center < b.Center:
			return -1
		case a.Center > b.Center:
			return 1
		}
		return 0
	})
	return out, nil
}
