// Package residual turns pixel differences into the linear system solved by
// the Lucas-Kanade engine: steepest-descent images, a Hessian approximation
// and a steepest-descent parameter update.
package residual

import (
	lkimage "lkalign/internal/image"
	"lkalign/internal/transform"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Forward requests forward-additive steepest-descent images: the gradient is
// taken on the raw target and warped into Frame through Transform before it
// is combined with the warp Jacobian.
type Forward struct {
	Frame         *lkimage.BooleanMask
	Transform     lkimage.PointMapper
	Interpolation string
}

// LSIntensity is the least-squares intensity residual, sum((a-b)^2).
// It keeps the error of the last SteepestDescentUpdate call, so one value
// must not be shared between concurrent alignments.
type LSIntensity struct {
	err float64
}

// NewLSIntensity returns a least-squares intensity residual.
func NewLSIntensity() *LSIntensity {
	return &LSIntensity{}
}

// SteepestDescentImages returns the n x P matrix whose row i is
// grad(img)(x_i) * dW/dp(x_i), x_i ranging over the true pixels of the
// frame. Without fwd the gradient is computed on img itself, which must
// already live in the reference frame.
func (r *LSIntensity) SteepestDescentImages(img *lkimage.MaskedImage, dWdp transform.Jacobian, fwd *Forward) (*mat.Dense, error) {
	gx, gy := img.Gradient()
	if fwd != nil {
		var err error
		if gx, err = gx.WarpTo(fwd.Frame, fwd.Transform, fwd.Interpolation); err != nil {
			return nil, errors.Wrap(err, "warp x gradient")
		}
		if gy, err = gy.WarpTo(fwd.Frame, fwd.Transform, fwd.Interpolation); err != nil {
			return nil, errors.Wrap(err, "warp y gradient")
		}
	}

	gxv, gyv := gx.AsVector(), gy.AsVector()
	n, np := dWdp.X.Dims()
	if n != len(gxv) {
		return nil, errors.Errorf("warp jacobian has %d rows, frame has %d pixels", n, len(gxv))
	}

	sd := mat.NewDense(n, np, nil)
	for i := 0; i < n; i++ {
		for k := 0; k < np; k++ {
			sd.Set(i, k, gxv[i]*dWdp.X.At(i, k)+gyv[i]*dWdp.Y.At(i, k))
		}
	}
	return sd, nil
}

// CalculateHessian returns J^T J.
func (r *LSIntensity) CalculateHessian(j *mat.Dense) *mat.Dense {
	var h mat.Dense
	h.Mul(j.T(), j)
	return &h
}

// SteepestDescentUpdate returns J^T (a - b) over the masked pixels and
// records sum((a-b)^2) as the current error. a and b must share a mask
// layout.
func (r *LSIntensity) SteepestDescentUpdate(j *mat.Dense, a, b *lkimage.MaskedImage) (*mat.VecDense, error) {
	av, bv := a.AsVector(), b.AsVector()
	if len(av) != len(bv) {
		return nil, errors.Errorf("images have %d and %d masked pixels", len(av), len(bv))
	}
	n, np := j.Dims()
	if n != len(av) {
		return nil, errors.Errorf("steepest descent images have %d rows, images have %d masked pixels", n, len(av))
	}

	e := mat.NewVecDense(n, nil)
	for i := range av {
		e.SetVec(i, av[i]-bv[i])
	}
	r.err = mat.Dot(e, e)

	update := mat.NewVecDense(np, nil)
	update.MulVec(j.T(), e)
	return update, nil
}

// Error returns the error recorded by the last SteepestDescentUpdate.
func (r *LSIntensity) Error() float64 {
	return r.err
}
