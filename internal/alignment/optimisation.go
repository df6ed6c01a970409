package alignment

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Method selects how a parameter update is solved from the Hessian and the
// steepest-descent update vector.
type Method string

const (
	// GaussNewtonMethod solves H delta = b.
	GaussNewtonMethod Method = "GN"
	// LevenbergMarquardtMethod solves (H + lambda diag(H)) delta = b with
	// an adaptive lambda.
	LevenbergMarquardtMethod Method = "LM"
	// GradientDescentMethod is reserved and not implemented.
	GradientDescentMethod Method = "GD"
	// GaussNewtonLpMethod is reserved and not implemented.
	GaussNewtonLpMethod Method = "GN_lp"
)

// DefaultLMStep is the initial Levenberg-Marquardt damping factor.
const DefaultLMStep = 0.001

// Optimisation configures the update rule. Param is the initial damping
// for LM, the step for GD and p for GN_lp; GN ignores it.
type Optimisation struct {
	Method Method
	Param  float64
}

// GaussNewton returns the Gauss-Newton configuration.
func GaussNewton() Optimisation {
	return Optimisation{Method: GaussNewtonMethod}
}

// LevenbergMarquardt returns a Levenberg-Marquardt configuration starting
// from the given damping factor.
func LevenbergMarquardt(step float64) Optimisation {
	return Optimisation{Method: LevenbergMarquardtMethod, Param: step}
}

// GradientDescent returns the reserved gradient-descent configuration.
func GradientDescent(step float64) Optimisation {
	return Optimisation{Method: GradientDescentMethod, Param: step}
}

// GaussNewtonLp returns the reserved Lp-norm Gauss-Newton configuration.
func GaussNewtonLp(p float64) Optimisation {
	return Optimisation{Method: GaussNewtonLpMethod, Param: p}
}

// ParseOptimisation builds an Optimisation from its tag and parameter and
// validates it.
func ParseOptimisation(method string, param float64) (Optimisation, error) {
	o := Optimisation{Method: Method(method), Param: param}
	if _, err := o.newRule(); err != nil {
		return Optimisation{}, err
	}
	return o, nil
}

func (o Optimisation) String() string {
	switch o.Method {
	case GaussNewtonMethod:
		return string(o.Method)
	default:
		return fmt.Sprintf("%s(%g)", o.Method, o.Param)
	}
}

// updateRule turns the steepest-descent update vector into a parameter
// delta given the current Hessian. Rules may carry state across the
// iterations of one alignment call and are rebuilt for every call.
type updateRule interface {
	update(h *mat.Dense, sdDeltaP *mat.VecDense, residualError float64) ([]float64, error)
}

// newRule returns a fresh update rule for the configured method.
func (o Optimisation) newRule() (updateRule, error) {
	switch o.Method {
	case GaussNewtonMethod:
		return gaussNewton{}, nil
	case LevenbergMarquardtMethod:
		if o.Param < 0 || math.IsNaN(o.Param) {
			return nil, errors.Wrapf(ErrInvalidConfiguration, "levenberg-marquardt step must be non-negative, got %g", o.Param)
		}
		return &levenbergMarquardt{damping: o.Param}, nil
	case GradientDescentMethod:
		return unimplemented{name: "gradient descent"}, nil
	case GaussNewtonLpMethod:
		return unimplemented{name: "Gauss-Newton lp-norm"}, nil
	default:
		return nil, errors.Wrapf(ErrInvalidConfiguration,
			"unknown optimisation %q, valid options are %s, %s, %s", o.Method,
			GaussNewtonMethod, GaussNewtonLpMethod, LevenbergMarquardtMethod)
	}
}

type gaussNewton struct{}

func (gaussNewton) update(h *mat.Dense, sdDeltaP *mat.VecDense, _ float64) ([]float64, error) {
	return solve(h, sdDeltaP)
}

// levenbergMarquardt damps the diagonal of the Hessian (Marquardt's
// variant). The damping adapts on every call from the residual error: an
// error above the cached one stiffens by 10, anything else relaxes by 10
// and becomes the new cached error. The cache starts at zero, so the first
// comparison is against zero. Steps are never rejected or undone.
type levenbergMarquardt struct {
	damping   float64
	prevError float64
}

func (lm *levenbergMarquardt) update(h *mat.Dense, sdDeltaP *mat.VecDense, residualError float64) ([]float64, error) {
	var damped mat.Dense
	damped.CloneFrom(h)
	r, _ := h.Dims()
	for i := 0; i < r; i++ {
		damped.Set(i, i, h.At(i, i)*(1+lm.damping))
	}

	if residualError > lm.prevError {
		lm.damping *= 10
	} else {
		lm.damping /= 10
		lm.prevError = residualError
	}

	return solve(&damped, sdDeltaP)
}

type unimplemented struct {
	name string
}

func (u unimplemented) update(*mat.Dense, *mat.VecDense, float64) ([]float64, error) {
	return nil, errors.Wrapf(ErrNotImplemented, "%s optimisation", u.name)
}

// solve returns the solution of h x = b. The factorisation is real, so the
// delta is the real part of the solution by construction; no imaginary
// component is ever carried into a parameter update.
func solve(h mat.Matrix, b *mat.VecDense) ([]float64, error) {
	var x mat.VecDense
	if err := x.SolveVec(h, b); err != nil {
		return nil, &SolveError{Err: err}
	}
	delta := make([]float64, x.Len())
	copy(delta, x.RawVector().Data)
	return delta, nil
}
