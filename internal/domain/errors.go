package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig signals a fatal configuration problem detected before the search starts.
	ErrConfig = errors.New("configuration error")
	// ErrStoreUnavailable signals the trial store could not be reached after retries.
	ErrStoreUnavailable = errors.New("trial store unavailable")
	// ErrNoSuccessfulTrials signals the budget was spent without a single successful trial.
	ErrNoSuccessfulTrials = errors.New("no successful trials")
	// ErrBudgetExhausted signals the store refused a trial beyond max evaluations.
	ErrBudgetExhausted = errors.New("evaluation budget exhausted")
	// ErrNoPendingTrial signals there was nothing to claim.
	ErrNoPendingTrial = errors.New("no pending trial")
	// ErrTrialNotFound signals a missing trial.
	ErrTrialNotFound = errors.New("trial not found")

	// ErrProcessFailed signals a train or eval process exited unsuccessfully.
	ErrProcessFailed = errors.New("process failed")
	// ErrResultParse signals the eval output was not a single number.
	ErrResultParse = errors.New("result is not a number")
	// ErrTrialTimeout signals the per-trial deadline expired.
	ErrTrialTimeout = errors.New("trial timed out")
)

// Configf builds a configuration error.
func Configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

// TrialErrorKind classifies a failed trial.
type TrialErrorKind string

// Trial error kinds.
const (
	TrialErrorProcess TrialErrorKind = "process"
	TrialErrorParse   TrialErrorKind = "parse"
	TrialErrorTimeout TrialErrorKind = "timeout"
)

// Phase names the step of a trial that failed.
type Phase string

// Trial phases.
const (
	PhaseTrain Phase = "train"
	PhaseEval  Phase = "eval"
)

// TrialError is a recoverable, per-trial failure. The search records it and continues.
type TrialError struct {
	Kind  TrialErrorKind
	Phase Phase
	Err   error
}

func (e *TrialError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Phase, e.Kind, e.Err)
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *TrialError) Unwrap() []error {
	return []error{e.sentinel(), e.Err}
}

func (e *TrialError) sentinel() error {
	switch e.Kind {
	case TrialErrorParse:
		return ErrResultParse
	case TrialErrorTimeout:
		return ErrTrialTimeout
	default:
		return ErrProcessFailed
	}
}

// NewTrialError creates a TrialError.
func NewTrialError(kind TrialErrorKind, phase Phase, err error) error {
	return &TrialError{Kind: kind, Phase: phase, Err: err}
}

// TrialErrorKindOf returns the kind of a trial error, or "" if err is not one.
func TrialErrorKindOf(err error) TrialErrorKind {
	var te *TrialError
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}
