package dyn

import (
	"errors"
	"fmt"
)

// Domain errors for dynamics evaluation.
var (
	// ErrModelMismatch indicates a state whose dimensions do not match the
	// loaded model. Caller error, fatal.
	ErrModelMismatch = errors.New("dyn: state dimension does not match model")

	// ErrSingularConfig indicates a kinematically singular configuration.
	// Recoverable: the caller may skip or perturb the sample.
	ErrSingularConfig = errors.New("dyn: singular configuration")

	// ErrNumericalInconsistency indicates the oracle produced an
	// asymmetric mass matrix or other invalid output. Fatal; surfaced
	// rather than masked so upstream model errors are not hidden.
	ErrNumericalInconsistency = errors.New("dyn: numerical inconsistency in oracle output")
)

// EvalError wraps a dynamics error with the sample context that produced it.
type EvalError struct {
	Sample  int
	Wrapped error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("sample %d: %v", e.Sample, e.Wrapped)
}

func (e *EvalError) Unwrap() error {
	return e.Wrapped
}
