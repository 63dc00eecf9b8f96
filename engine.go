package spectralunmix

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// Engine unmixes events by iterative truncated least squares: solve, drop
// every label below its cutoff, re-solve on the remaining labels, repeat
// until nothing is dropped. Autofluorescence is never dropped.
// An Engine is immutable and safe for concurrent use.
type Engine struct {
	mm      *MixingMatrix
	cal     *Calibration
	opt     Options
	solver  *Solver
	backend backfiller
	pool    sync.Pool
}

// EventResult is the outcome of one event.
type EventResult struct {
	// One value per label in matrix order; all NaN when unresolved.
	Abundances []float64
	Resolved   bool
	// Label indices still active at convergence, ascending.
	Retained []int
	// Active label count of each solve.
	ActiveCounts []int
	// Estimate of each truncated label just before it was removed.
	Suppressed map[int]float64
}

// AbundanceTable is one row per input event, one column per label.
type AbundanceTable struct {
	Labels     []string
	Abundances *mat.Dense
	Resolved   []bool
	Unresolved int
}

func NewEngine(mm *MixingMatrix, cal *Calibration, opt Options) (*Engine, error) {
	if err := opt.Validate(); err != nil {
		return nil, err
	}
	detectors, labels := mm.Dims()
	if len(cal.Cutoffs) != labels || len(cal.Nonspecific) != detectors {
		return nil, fmt.Errorf("%w: calibration has %d cutoffs and %d nonspecific values for a %d×%d matrix",
			ErrDimensionMismatch, len(cal.Cutoffs), len(cal.Nonspecific), detectors, labels)
	}
	bf, err := newBackfiller(opt, cal, mm.AutofluorescenceIndex())
	if err != nil {
		return nil, err
	}
	e := &Engine{
		mm:      mm,
		cal:     cal,
		opt:     opt,
		solver:  NewSolver(mm.m),
		backend: bf,
	}
	e.pool.New = func() any { return newWorkspace(detectors, labels) }
	return e, nil
}

// UnmixEvent unmixes one observation, given in matrix detector order. index
// identifies the event and seeds the resampling backfill. A singular system
// yields an unresolved result together with an ErrSingularSystem error.
func (e *Engine) UnmixEvent(index int, observation []float64) (EventResult, error) {
	detectors, _ := e.mm.Dims()
	if len(observation) != detectors {
		return EventResult{}, fmt.Errorf("%w: event has %d values for %d detectors",
			ErrDimensionMismatch, len(observation), detectors)
	}
	ws := e.pool.Get().(*workspace)
	defer e.pool.Put(ws)
	return e.unmix(ws, index, observation)
}

func (e *Engine) unmix(ws *workspace, index int, observation []float64) (EventResult, error) {
	_, labels := e.mm.Dims()
	af := e.mm.AutofluorescenceIndex()

	b := ws.adjusted
	for i, v := range observation {
		b[i] = v - e.cal.Nonspecific[i]
	}
	e.solver.project(ws, b)

	res := EventResult{Abundances: make([]float64, labels)}
	active := make([]int, labels)
	for j := range active {
		active[j] = j
	}
	for {
		res.ActiveCounts = append(res.ActiveCounts, len(active))
		if err := e.solver.solveActive(ws, b, active); err != nil {
			return unresolved(res, active), fmt.Errorf("event %d: %w", index, err)
		}
		kept := active[:0:0]
		for k, j := range active {
			x := ws.x[k]
			if j != af && x < e.cal.Cutoffs[j] {
				if res.Suppressed == nil {
					res.Suppressed = make(map[int]float64)
				}
				res.Suppressed[j] = x
				res.Abundances[j] = 0
				continue
			}
			res.Abundances[j] = x
			kept = append(kept, j)
		}
		if len(kept) == len(active) {
			break
		}
		active = kept
	}
	res.Retained = active
	res.Resolved = true
	e.backend.fill(index, &res)
	return res, nil
}

func unresolved(res EventResult, active []int) EventResult {
	for j := range res.Abundances {
		res.Abundances[j] = math.NaN()
	}
	res.Retained = active
	res.Suppressed = nil
	return res
}

// Unmix unmixes every event of a sample. The sample is aligned to the matrix
// detectors by name. Rows keep the input order. Singular events are reported
// as unresolved NaN rows and never abort the batch; cancellation is checked
// between events.
func (e *Engine) Unmix(ctx context.Context, sample Sample) (*AbundanceTable, error) {
	aligned, err := sample.Select(e.mm.detectors)
	if err != nil {
		return nil, err
	}
	n := aligned.Len()
	_, labels := e.mm.Dims()
	table := &AbundanceTable{
		Labels:   e.mm.Labels(),
		Resolved: make([]bool, n),
	}
	if n == 0 {
		return table, nil
	}
	out := make([]float64, n*labels)

	workers := min(workerCount(e.opt.Workers), n)
	next := make(chan int)
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ws := e.pool.Get().(*workspace)
			defer e.pool.Put(ws)
			obs := make([]float64, len(e.mm.detectors))
			for i := range next {
				mat.Row(obs, i, aligned.Events)
				res, err := e.unmix(ws, i, obs)
				if err != nil {
					if !errors.Is(err, ErrSingularSystem) {
						errs <- err
						return
					}
					log.WithFields(log.Fields{
						"sample": sample.Name,
						"event":  i,
					}).Debug(err)
				}
				copy(out[i*labels:(i+1)*labels], res.Abundances)
				table.Resolved[i] = res.Resolved
			}
		}()
	}

feed:
	for i := range n {
		select {
		case <-ctx.Done():
			break feed
		case err := <-errs:
			close(next)
			wg.Wait()
			return nil, err
		case next <- i:
		}
	}
	close(next)
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case err := <-errs:
		return nil, err
	default:
	}

	for _, ok := range table.Resolved {
		if !ok {
			table.Unresolved++
		}
	}
	table.Abundances = mat.NewDense(n, labels, out)
	fields := log.Fields{
		"sample":     sample.Name,
		"events":     n,
		"unresolved": table.Unresolved,
	}
	if table.Unresolved > 0 {
		log.WithFields(fields).Warn("events left unresolved by singular systems")
	} else {
		log.WithFields(fields).Info("sample unmixed")
	}
	return table, nil
}

// UnmixSamples runs Unmix over several samples with the same calibration.
func (e *Engine) UnmixSamples(ctx context.Context, samples []Sample) ([]*AbundanceTable, error) {
	out := make([]*AbundanceTable, 0, len(samples))
	for _, s := range samples {
		t, err := e.Unmix(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("sample %q: %w", s.Name, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// Labels returns the label names in column order.
func (e *Engine) Labels() []string { return slices.Clone(e.mm.labels) }
