package spectralunmix

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Match with errors.Is; call sites add context with %w.
var (
	ErrNoSignalDetected   = errors.New("spectralunmix: no signal above baseline")
	ErrIncompleteMatrix   = errors.New("spectralunmix: label without matching control")
	ErrSingularSystem     = errors.New("spectralunmix: singular system")
	ErrUnderdetermined    = errors.New("spectralunmix: fewer detectors than labels")
	ErrDimensionMismatch  = errors.New("spectralunmix: dimension mismatch")
	ErrInvalidPercentile  = errors.New("spectralunmix: percentile must be within [0, 1]")
	ErrInvalidOptions     = errors.New("spectralunmix: invalid options")
	ErrNoAutofluorescence = errors.New("spectralunmix: autofluorescence label not found")
	ErrUnknownDetector    = errors.New("spectralunmix: unknown detector")
	ErrZeroColumn         = errors.New("spectralunmix: mixing matrix column is entirely zero")
	ErrEmptySample        = errors.New("spectralunmix: sample has no events")
)

// NoSignalError reports a control whose baseline-corrected intensities never
// rise above zero.
type NoSignalError struct {
	Label string
	Max   float64
}

func (e *NoSignalError) Error() string {
	return fmt.Sprintf("spectralunmix: control %q shows no signal above baseline (max corrected %g)", e.Label, e.Max)
}

func (e *NoSignalError) Unwrap() error { return ErrNoSignalDetected }

// IncompleteMatrixError lists the requested labels that have no control.
type IncompleteMatrixError struct {
	Missing []string
}

func (e *IncompleteMatrixError) Error() string {
	return fmt.Sprintf("spectralunmix: no control for labels [%s]", strings.Join(e.Missing, ", "))
}

func (e *IncompleteMatrixError) Unwrap() error { return ErrIncompleteMatrix }
