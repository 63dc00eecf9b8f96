package spectralunmix

import (
	"fmt"
	"os"

	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"
)

// Strategy selects the reported value of a truncated label.
type Strategy string

const (
	StrategyZero Strategy = "zero"
	// StrategyUnstainedMapping resamples suppressed abundances from the
	// unstained control's abundance distribution.
	StrategyUnstainedMapping Strategy = "unstained-control-mapping"
)

// AFMode selects the baseline subtracted from a single-stain control.
type AFMode string

const (
	AFUniversal      AFMode = "universal"
	AFNegativeEvents AFMode = "negative-events"
	AFHybrid         AFMode = "hybrid"
)

// QuantileMethod maps a rank in [0,1] onto an empirical distribution.
type QuantileMethod string

const (
	QuantileNearestRank  QuantileMethod = "nearest-rank"
	QuantileInterpolated QuantileMethod = "interpolated"
)

func (q QuantileMethod) kind() stat.CumulantKind {
	if q == QuantileInterpolated {
		return stat.LinInterp
	}
	return stat.Empirical
}

// SignatureConfig drives signature extraction from single-stain controls.
// Build one per run and share it; nothing mutates it.
type SignatureConfig struct {
	// Select the positive peak's events on the gating detector instead of
	// taking the plain median over all events.
	PeakDetection bool `yaml:"peak_detection"`
	// Minimum peak height as a fraction of the highest density.
	PeakThreshold float64 `yaml:"peak_threshold"`
	// Fraction of the positive peak (by intensity rank, from the top) kept
	// for the median. 1 keeps the whole peak.
	PositiveBias float64 `yaml:"positive_bias"`
	// Fraction of the negative peak (from the bottom) kept for the median.
	NegativeBias float64 `yaml:"negative_bias"`
	// Estimate a label-specific autofluorescence baseline from the
	// control's own negative events.
	UseNegativeEvents bool `yaml:"use_negative_events"`
	// Negative peak must hold at least this many events to be trusted.
	MinNegativeEvents int `yaml:"min_negative_events"`
	// How the per-label baseline is formed.
	AFMode AFMode `yaml:"autofluorescence_mode"`
	// Weight of the universal baseline in hybrid mode.
	// blend = w*universal + (1-w)*negative.
	AFWeight float64 `yaml:"af_weight"`
	// Arcsinh cofactor applied before peak search; 0 searches raw intensities.
	PeakCofactor float64 `yaml:"peak_cofactor"`
}

type Options struct {
	Signature SignatureConfig `yaml:"signature"`
	// Percentile of the unstained abundance distribution used as cutoff.
	CutoffPercentile float64 `yaml:"cutoff_percentile"`
	// Backfill strategy for truncated labels.
	Strategy Strategy `yaml:"strategy"`
	// Name of the autofluorescence label; always the last matrix column.
	AutofluorescenceLabel string `yaml:"autofluorescence"`
	// Distribution matching used by the unstained-control-mapping backfill.
	Quantile QuantileMethod `yaml:"quantile"`
	// Seed of the per-event resampling streams.
	Seed uint64 `yaml:"seed"`
	// Worker goroutines for batch unmixing and label extraction.
	// 0 uses GOMAXPROCS.
	Workers int `yaml:"workers"`
}

func DefaultSignatureConfig() SignatureConfig {
	return SignatureConfig{
		PeakDetection:     true,
		PeakThreshold:     0.3,
		PositiveBias:      0.5,
		NegativeBias:      0.5,
		UseNegativeEvents: false,
		MinNegativeEvents: 100,
		AFMode:            AFUniversal,
		AFWeight:          0.7,
		PeakCofactor:      200,
	}
}

func DefaultOptions() Options {
	return Options{
		Signature:             DefaultSignatureConfig(),
		CutoffPercentile:      0.995,
		Strategy:              StrategyZero,
		AutofluorescenceLabel: "Autofluorescence",
		Quantile:              QuantileNearestRank,
	}
}

// LoadOptions reads a YAML file over DefaultOptions and validates the result.
func LoadOptions(path string) (Options, error) {
	opt := DefaultOptions()
	data, err := os.ReadFile(path)
	if err != nil {
		return opt, fmt.Errorf("read options: %w", err)
	}
	if err := yaml.Unmarshal(data, &opt); err != nil {
		return opt, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return opt, opt.Validate()
}

func (o Options) Validate() error {
	if err := validatePercentile(o.CutoffPercentile); err != nil {
		return err
	}
	switch o.Strategy {
	case StrategyZero, StrategyUnstainedMapping:
	default:
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidOptions, o.Strategy)
	}
	switch o.Quantile {
	case QuantileNearestRank, QuantileInterpolated:
	default:
		return fmt.Errorf("%w: unknown quantile method %q", ErrInvalidOptions, o.Quantile)
	}
	if o.AutofluorescenceLabel == "" {
		return fmt.Errorf("%w: empty autofluorescence label", ErrInvalidOptions)
	}
	if o.Workers < 0 {
		return fmt.Errorf("%w: negative worker count", ErrInvalidOptions)
	}
	return o.Signature.Validate()
}

func (c SignatureConfig) Validate() error {
	if c.PositiveBias <= 0 || c.PositiveBias > 1 {
		return fmt.Errorf("%w: positive bias %g outside (0, 1]", ErrInvalidOptions, c.PositiveBias)
	}
	if c.NegativeBias <= 0 || c.NegativeBias > 1 {
		return fmt.Errorf("%w: negative bias %g outside (0, 1]", ErrInvalidOptions, c.NegativeBias)
	}
	if c.PeakThreshold < 0 || c.PeakThreshold >= 1 {
		return fmt.Errorf("%w: peak threshold %g outside [0, 1)", ErrInvalidOptions, c.PeakThreshold)
	}
	if c.AFWeight < 0 || c.AFWeight > 1 {
		return fmt.Errorf("%w: af weight %g outside [0, 1]", ErrInvalidOptions, c.AFWeight)
	}
	if c.MinNegativeEvents < 0 {
		return fmt.Errorf("%w: negative min event count", ErrInvalidOptions)
	}
	if c.PeakCofactor < 0 {
		return fmt.Errorf("%w: negative peak cofactor", ErrInvalidOptions)
	}
	switch c.AFMode {
	case AFUniversal, AFNegativeEvents, AFHybrid:
	default:
		return fmt.Errorf("%w: unknown autofluorescence mode %q", ErrInvalidOptions, c.AFMode)
	}
	return nil
}

func validatePercentile(p float64) error {
	if !(p >= 0 && p <= 1) {
		return fmt.Errorf("%w: got %g", ErrInvalidPercentile, p)
	}
	return nil
}
