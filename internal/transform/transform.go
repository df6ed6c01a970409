// Package transform implements the parametric warps the alignment engine
// optimises. Each warp maps reference-frame (template) coordinates to image
// coordinates and exposes its parameter vector, its Jacobian with respect to
// those parameters, composition with a parameter delta and the
// pseudo-inverse used by inverse-compositional updates.
package transform

import (
	"strings"

	"lkalign/pkg/geometry"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Jacobian holds dW/dp evaluated at n sample points: row i of X holds
// dWx/dp at point i, row i of Y holds dWy/dp. Both are n x P.
type Jacobian struct {
	X *mat.Dense
	Y *mat.Dense
}

// Transform is a warp with a fixed-length parameter vector.
type Transform interface {
	// Apply maps a reference-frame point to image coordinates.
	Apply(p geometry.Point2D) geometry.Point2D
	NParameters() int
	// AsVector returns a copy of the current parameters.
	AsVector() []float64
	FromVectorInplace(p []float64) error
	// ComposeAfterFromVectorInplace replaces W(x;p) by W(W(x;delta);p).
	ComposeAfterFromVectorInplace(delta []float64) error
	// PseudoinverseVector returns the parameters of W(x;delta)^-1.
	PseudoinverseVector(delta []float64) ([]float64, error)
	Jacobian(points []geometry.Point2D) Jacobian
	// Affine returns the warp as a 2x3 matrix.
	Affine() geometry.AffineTransform
	// FromAffineInplace sets the parameters from a 2x3 matrix. Components
	// the warp cannot represent are dropped.
	FromAffineInplace(m geometry.AffineTransform)
}

// parameterisation describes how a parameter vector maps onto an affine
// matrix and how the warp varies with each parameter.
type parameterisation interface {
	nParams() int
	toAffine(p []float64) geometry.AffineTransform
	fromAffine(m geometry.AffineTransform) []float64
	// jacobianRows writes dWx/dp and dWy/dp at (x, y) into dx and dy.
	jacobianRows(x, y float64, dx, dy []float64)
}

// warp is the shared implementation of the affine-family transforms.
type warp struct {
	kind   parameterisation
	params []float64
}

func newWarp(kind parameterisation, p []float64) warp {
	w := warp{kind: kind, params: make([]float64, kind.nParams())}
	copy(w.params, p)
	return w
}

func (w *warp) checkLen(v []float64) error {
	if len(v) != w.kind.nParams() {
		return errors.Errorf("expected %d parameters, got %d", w.kind.nParams(), len(v))
	}
	return nil
}

func (w *warp) Apply(p geometry.Point2D) geometry.Point2D {
	return w.Affine().Apply(p)
}

func (w *warp) NParameters() int {
	return w.kind.nParams()
}

func (w *warp) AsVector() []float64 {
	out := make([]float64, len(w.params))
	copy(out, w.params)
	return out
}

func (w *warp) FromVectorInplace(p []float64) error {
	if err := w.checkLen(p); err != nil {
		return err
	}
	copy(w.params, p)
	return nil
}

func (w *warp) ComposeAfterFromVectorInplace(delta []float64) error {
	if err := w.checkLen(delta); err != nil {
		return err
	}
	composed := w.Affine().Compose(w.kind.toAffine(delta))
	copy(w.params, w.kind.fromAffine(composed))
	return nil
}

func (w *warp) PseudoinverseVector(delta []float64) ([]float64, error) {
	if err := w.checkLen(delta); err != nil {
		return nil, err
	}
	inv, ok := w.kind.toAffine(delta).Inverse()
	if !ok {
		return nil, errors.New("parameter delta describes a singular warp")
	}
	return w.kind.fromAffine(inv), nil
}

func (w *warp) Jacobian(points []geometry.Point2D) Jacobian {
	n, np := len(points), w.kind.nParams()
	if n == 0 {
		return Jacobian{X: &mat.Dense{}, Y: &mat.Dense{}}
	}
	jx := mat.NewDense(n, np, nil)
	jy := mat.NewDense(n, np, nil)
	dx := make([]float64, np)
	dy := make([]float64, np)
	for i, p := range points {
		w.kind.jacobianRows(p.X, p.Y, dx, dy)
		jx.SetRow(i, dx)
		jy.SetRow(i, dy)
	}
	return Jacobian{X: jx, Y: jy}
}

func (w *warp) Affine() geometry.AffineTransform {
	return w.kind.toAffine(w.params)
}

func (w *warp) FromAffineInplace(m geometry.AffineTransform) {
	copy(w.params, w.kind.fromAffine(m))
}

// New builds a warp by name: translation, similarity or affine. A nil
// params vector starts at the identity.
func New(kind string, params []float64) (Transform, error) {
	var t Transform
	switch strings.ToLower(kind) {
	case "translation":
		t = NewTranslation(0, 0)
	case "similarity":
		t = NewSimilarity(0, 0, 0, 0)
	case "affine":
		t = NewAffine(make([]float64, 6))
	default:
		return nil, errors.Errorf("unknown transform %q", kind)
	}
	if params != nil {
		if err := t.FromVectorInplace(params); err != nil {
			return nil, errors.Wrapf(err, "%s transform", kind)
		}
	}
	return t, nil
}
