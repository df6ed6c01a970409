package alignment

import (
	lkimage "lkalign/internal/image"
	"lkalign/internal/residual"
	"lkalign/internal/transform"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// NewForwardAdditive returns a forward-additive aligner against template.
func NewForwardAdditive(template *lkimage.MaskedImage, r Residual, t transform.Transform, opts ...Option) (*Aligner, error) {
	return New(ForwardAdditive, template, nil, r, t, opts...)
}

// NewForwardCompositional returns a forward-compositional aligner against
// template.
func NewForwardCompositional(template *lkimage.MaskedImage, r Residual, t transform.Transform, opts ...Option) (*Aligner, error) {
	return New(ForwardCompositional, template, nil, r, t, opts...)
}

// NewInverseCompositional returns an inverse-compositional aligner against
// template.
func NewInverseCompositional(template *lkimage.MaskedImage, r Residual, t transform.Transform, opts ...Option) (*Aligner, error) {
	return New(InverseCompositional, template, nil, r, t, opts...)
}

// forwardAdditive recomputes the warp Jacobian, the steepest-descent images
// and the Hessian every iteration and adds the delta to the parameters.
// The gradient is taken on the target and warped into the template frame;
// the warp Jacobian is evaluated at the template's sample coordinates.
type forwardAdditive struct{}

func (forwardAdditive) precompute(*Aligner, *alignContext) error {
	return nil
}

func (forwardAdditive) step(a *Aligner, ctx *alignContext) ([]float64, error) {
	iwxp, err := a.warpImage(ctx)
	if err != nil {
		return nil, err
	}

	dWdp := a.transform.Jacobian(a.template.Mask.TrueIndices())
	j, err := a.residual.SteepestDescentImages(ctx.image, dWdp, &residual.Forward{
		Frame:         a.template.Mask,
		Transform:     a.transform,
		Interpolation: a.opts.interpolation,
	})
	if err != nil {
		return nil, errors.Wrap(err, "steepest descent images")
	}
	a.linearise(ctx, j)

	sdDeltaP, err := a.residual.SteepestDescentUpdate(ctx.j, a.template, iwxp)
	if err != nil {
		return nil, errors.Wrap(err, "steepest descent update")
	}
	delta, err := a.solveDelta(ctx, sdDeltaP)
	if err != nil {
		return nil, err
	}

	params := a.transform.AsVector()
	floats.Add(params, delta)
	if err := a.transform.FromVectorInplace(params); err != nil {
		return nil, errors.Wrap(err, "update parameters")
	}
	return delta, nil
}

// forwardCompositional computes the warp Jacobian once at the template
// coordinates and relinearises on the warped image every iteration. The
// delta is composed after the current warp.
type forwardCompositional struct{}

func (forwardCompositional) precompute(a *Aligner, ctx *alignContext) error {
	ctx.dWdp = a.transform.Jacobian(a.template.Mask.TrueIndices())
	return nil
}

func (forwardCompositional) step(a *Aligner, ctx *alignContext) ([]float64, error) {
	iwxp, err := a.warpImage(ctx)
	if err != nil {
		return nil, err
	}

	// Steepest descent images use grad(I(W(x;p))) * dW/dp rather than
	// grad(I)(W(x;p)) * dW/dx * dW/dp.
	j, err := a.residual.SteepestDescentImages(iwxp, ctx.dWdp, nil)
	if err != nil {
		return nil, errors.Wrap(err, "steepest descent images")
	}
	a.linearise(ctx, j)

	sdDeltaP, err := a.residual.SteepestDescentUpdate(ctx.j, a.template, iwxp)
	if err != nil {
		return nil, errors.Wrap(err, "steepest descent update")
	}
	delta, err := a.solveDelta(ctx, sdDeltaP)
	if err != nil {
		return nil, err
	}

	if err := a.transform.ComposeAfterFromVectorInplace(delta); err != nil {
		return nil, errors.Wrap(err, "compose update")
	}
	return delta, nil
}

// inverseCompositional linearises on the template once per call; each
// iteration only warps the target, solves against the fixed Hessian and
// composes the inverted delta after the current warp (Baker-Matthews).
type inverseCompositional struct{}

func (inverseCompositional) precompute(a *Aligner, ctx *alignContext) error {
	dWdp := a.transform.Jacobian(a.template.Mask.TrueIndices())
	j, err := a.residual.SteepestDescentImages(a.template, dWdp, nil)
	if err != nil {
		return errors.Wrap(err, "steepest descent images")
	}
	a.linearise(ctx, j)
	return nil
}

func (inverseCompositional) step(a *Aligner, ctx *alignContext) ([]float64, error) {
	iwxp, err := a.warpImage(ctx)
	if err != nil {
		return nil, err
	}

	sdDeltaP, err := a.residual.SteepestDescentUpdate(ctx.j, iwxp, a.template)
	if err != nil {
		return nil, errors.Wrap(err, "steepest descent update")
	}
	delta, err := a.solveDelta(ctx, sdDeltaP)
	if err != nil {
		return nil, err
	}

	inv, err := a.transform.PseudoinverseVector(delta)
	if err != nil {
		return nil, errors.Wrap(err, "invert update")
	}
	if err := a.transform.ComposeAfterFromVectorInplace(inv); err != nil {
		return nil, errors.Wrap(err, "compose update")
	}
	return delta, nil
}
