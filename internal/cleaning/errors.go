package cleaning

import (
	"errors"
	"fmt"
)

var (
	ErrArtifactNotFound = errors.New("input artifact not found")
	ErrParse            = errors.New("input is not valid tabular data")
	ErrRegistration     = errors.New("output artifact registration failed")
	ErrConfiguration    = errors.New("invalid configuration")
)

// Phase names the step of Clean that failed.
type Phase string

const (
	PhaseConfig       Phase = "config"
	PhaseDownload     Phase = "download"
	PhaseParse        Phase = "parse"
	PhaseFilter       Phase = "filter"
	PhaseTransform    Phase = "transform"
	PhaseExport       Phase = "export"
	PhaseRegistration Phase = "registration"
)

// PhaseError is returned by Clean for every failure. It unwraps to both the
// error class (one of the Err* sentinels, when one applies) and the cause.
type PhaseError struct {
	Phase Phase
	Class error
	Err   error
}

func (e *PhaseError) Error() string {
	if e.Class != nil {
		return fmt.Sprintf("%s: %v: %v", e.Phase, e.Class, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() []error {
	if e.Class != nil {
		return []error{e.Class, e.Err}
	}
	return []error{e.Err}
}

func phaseErr(phase Phase, class, err error) error {
	return &PhaseError{Phase: phase, Class: class, Err: err}
}

// PhaseOf reports the phase of the first PhaseError in err's chain.
func PhaseOf(err error) (Phase, bool) {
	var pe *PhaseError
	if errors.As(err, &pe) {
		return pe.Phase, true
	}
	return "", false
}
