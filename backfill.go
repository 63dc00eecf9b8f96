package spectralunmix

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat"
)

// backfiller replaces the 0.0 recorded for truncated labels.
type backfiller interface {
	fill(index int, res *EventResult)
}

func newBackfiller(opt Options, cal *Calibration, af int) (backfiller, error) {
	switch opt.Strategy {
	case StrategyZero:
		return zeroFill{}, nil
	case StrategyUnstainedMapping:
		if len(cal.Unstained) != len(cal.Cutoffs) {
			return nil, fmt.Errorf("%w: calibration has no unstained distributions", ErrInvalidOptions)
		}
		return &unstainedMapping{
			dist: cal.Unstained,
			kind: opt.Quantile.kind(),
			seed: opt.Seed,
			af:   af,
		}, nil
	}
	return nil, fmt.Errorf("%w: strategy %q", ErrInvalidOptions, opt.Strategy)
}

type zeroFill struct{}

func (zeroFill) fill(int, *EventResult) {}

// unstainedMapping draws a percentile rank per suppressed label and reads the
// label's centred unstained distribution at that rank. The stream is seeded by
// (seed, event index), so a result never depends on scheduling.
type unstainedMapping struct {
	dist [][]float64
	kind stat.CumulantKind
	seed uint64
	af   int
}

func (u *unstainedMapping) fill(index int, res *EventResult) {
	if len(res.Suppressed) == 0 {
		return
	}
	rng := rand.New(rand.NewPCG(u.seed, uint64(index)))
	// Label order, not map order, keeps draws reproducible.
	for j := range res.Abundances {
		if _, ok := res.Suppressed[j]; !ok || j == u.af {
			continue
		}
		p := rng.Float64()
		if len(u.dist[j]) == 0 {
			continue
		}
		res.Abundances[j] = stat.Quantile(p, u.kind, u.dist[j], nil)
	}
}
