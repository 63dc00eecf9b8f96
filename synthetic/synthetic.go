// Package synthetic generates cytometry-like data with a known ground truth:
// normalized signatures, single-stain controls, an unstained control and
// stained samples. Every draw comes from one seeded PCG stream, so a
// Generator built with the same seed replays the same data.
package synthetic

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	su "github.com/setanarut/spectralunmix"
)

type Config struct {
	// Brightness of a positive event; the signature is scaled by a draw
	// from Normal(SignalMean, SignalStd).
	SignalMean float64
	SignalStd  float64
	// Standard deviation of the additive detector noise.
	Noise float64
	// Relative spread of the per-event autofluorescence level.
	AFSpread float64
	// Largest off-primary signature value; spillover is drawn from
	// Uniform(0, Spillover).
	Spillover float64
}

func DefaultConfig() Config {
	return Config{
		SignalMean: 50000,
		SignalStd:  10000,
		Noise:      20,
		AFSpread:   0.1,
		Spillover:  0.1,
	}
}

type Generator struct {
	Config Config
	src    rand.Source
}

func New(seed uint64, cfg Config) *Generator {
	return &Generator{Config: cfg, src: rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)}
}

// Detectors names n channels "D1".."Dn".
func Detectors(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("D%d", i+1)
	}
	return out
}

// Signatures draws a detectors × labels matrix whose column j peaks at
// detector j with value 1.
func (g *Generator) Signatures(detectors, labels int) (*mat.Dense, error) {
	if labels < 1 {
		return nil, fmt.Errorf("synthetic: %w: no labels", su.ErrDimensionMismatch)
	}
	if labels > detectors {
		return nil, fmt.Errorf("synthetic: %w: %d labels for %d detectors", su.ErrUnderdetermined, labels, detectors)
	}
	spill := distuv.Uniform{Min: 0, Max: g.Config.Spillover, Src: g.src}
	m := mat.NewDense(detectors, labels, nil)
	for i := range detectors {
		for j := range labels {
			if i == j {
				m.Set(i, j, 1)
				continue
			}
			m.Set(i, j, spill.Rand())
		}
	}
	return m, nil
}

// Autofluorescence draws a per-detector baseline between lo and hi.
func (g *Generator) Autofluorescence(detectors int, lo, hi float64) []float64 {
	u := distuv.Uniform{Min: lo, Max: hi, Src: g.src}
	out := make([]float64, detectors)
	for i := range out {
		out[i] = u.Rand()
	}
	return out
}

// Unstained generates events carrying only autofluorescence and noise.
func (g *Generator) Unstained(detectors []string, af []float64, n int) (su.Sample, error) {
	rows := make([][]float64, n)
	for e := range rows {
		rows[e] = g.background(af)
	}
	return su.NewSample("Unstained", detectors, rows)
}

// SingleStain generates a control where the given fraction of events is
// stained with signature and the rest is unstained.
func (g *Generator) SingleStain(label string, detectors []string, signature, af []float64, n int, positive float64) (su.Sample, error) {
	if len(signature) != len(detectors) || len(af) != len(detectors) {
		return su.Sample{}, fmt.Errorf("synthetic: %w", su.ErrDimensionMismatch)
	}
	bright := g.brightness()
	pick := distuv.Uniform{Min: 0, Max: 1, Src: g.src}
	rows := make([][]float64, n)
	for e := range rows {
		row := g.background(af)
		if pick.Rand() < positive {
			s := bright.Rand()
			for i, v := range signature {
				row[i] += s * v
			}
		}
		rows[e] = row
	}
	return su.NewSample(label, detectors, rows)
}

// Mixed generates a stained sample from signatures (detectors × labels,
// autofluorescence excluded). Each label is present in an event with
// probability 1-sparsity. It returns the true abundances, events × labels.
func (g *Generator) Mixed(name string, detectors []string, signatures mat.Matrix, af []float64, n int, sparsity float64) (su.Sample, *mat.Dense, error) {
	d, l := signatures.Dims()
	if d != len(detectors) || len(af) != d {
		return su.Sample{}, nil, fmt.Errorf("synthetic: %w", su.ErrDimensionMismatch)
	}
	bright := g.brightness()
	pick := distuv.Uniform{Min: 0, Max: 1, Src: g.src}
	truth := mat.NewDense(max(n, 1), l, nil)
	rows := make([][]float64, n)
	for e := range rows {
		row := g.background(af)
		for j := range l {
			if pick.Rand() < sparsity {
				continue
			}
			a := bright.Rand()
			truth.Set(e, j, a)
			for i := range d {
				row[i] += a * signatures.At(i, j)
			}
		}
		rows[e] = row
	}
	s, err := su.NewSample(name, detectors, rows)
	if n == 0 {
		truth = nil
	}
	return s, truth, err
}

// Observe returns m·abundances plus noise for one event.
func (g *Generator) Observe(m mat.Matrix, abundances []float64) []float64 {
	d, _ := m.Dims()
	v := mat.NewVecDense(d, nil)
	v.MulVec(m, mat.NewVecDense(len(abundances), abundances))
	out := v.RawVector().Data
	if g.Config.Noise > 0 {
		noise := distuv.Normal{Mu: 0, Sigma: g.Config.Noise, Src: g.src}
		for i := range out {
			out[i] += noise.Rand()
		}
	}
	return out
}

func (g *Generator) brightness() distuv.Normal {
	return distuv.Normal{Mu: g.Config.SignalMean, Sigma: g.Config.SignalStd, Src: g.src}
}

// background is one event of scaled autofluorescence plus detector noise.
func (g *Generator) background(af []float64) []float64 {
	row := make([]float64, len(af))
	level := 1.0
	if g.Config.AFSpread > 0 {
		level = distuv.Normal{Mu: 1, Sigma: g.Config.AFSpread, Src: g.src}.Rand()
	}
	for i, v := range af {
		row[i] = level * v
	}
	if g.Config.Noise > 0 {
		noise := distuv.Normal{Mu: 0, Sigma: g.Config.Noise, Src: g.src}
		for i := range row {
			row[i] += noise.Rand()
		}
	}
	return row
}
