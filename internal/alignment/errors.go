package alignment

import (
	"github.com/pkg/errors"
)

// Errors returned by the engine. Test for them with errors.Is; returned
// errors carry context about where they were raised.
var (
	// ErrInvalidConfiguration is returned by constructors for unknown
	// optimisation methods or variants, bad eps values, unknown
	// interpolation methods and missing collaborators.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrNotImplemented is returned the first time a reserved optimisation
	// method (GD, GN_lp) is asked for an update.
	ErrNotImplemented = errors.New("not implemented")

	// ErrNumericSolve wraps failures of the per-iteration linear solve.
	ErrNumericSolve = errors.New("numeric solve failed")

	// ErrDimensionMismatch is returned when a parameter vector does not
	// match the transform's dimensionality.
	ErrDimensionMismatch = errors.New("dimension mismatch")
)

// SolveError reports a singular or ill-conditioned Hessian. It matches
// ErrNumericSolve under errors.Is and unwraps to the linear algebra error.
type SolveError struct {
	Err error
}

func (e *SolveError) Error() string {
	return ErrNumericSolve.Error() + ": " + e.Err.Error()
}

func (e *SolveError) Unwrap() error {
	return e.Err
}

func (e *SolveError) Is(target error) bool {
	return target == ErrNumericSolve
}
