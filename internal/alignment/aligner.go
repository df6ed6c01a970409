// Package alignment implements the Lucas-Kanade family of iterative image
// alignment algorithms: forward-additive, forward-compositional and
// inverse-compositional updates, each against a fixed template or against an
// appearance subspace that is projected out of the linearisation.
//
// An Aligner owns a template (or appearance model), a residual and a
// transform. Align installs the initial parameters in the transform, runs
// the variant's one-time precomputation and then iterates linearise, solve
// and update until the parameter delta norm drops to eps or the iteration
// budget is spent. Aligners and their collaborators hold mutable state and
// must not be shared between concurrent calls.
package alignment

import (
	"math"
	"strings"

	lkimage "lkalign/internal/image"
	"lkalign/internal/residual"
	"lkalign/internal/transform"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DefaultEps is the default convergence threshold on the delta norm.
const DefaultEps = 1e-6

// DefaultMaxIterations is the iteration budget used by callers that do not
// choose one.
const DefaultMaxIterations = 20

// Variant names one of the six algorithms.
type Variant string

const (
	ForwardAdditive                Variant = "FA"
	ForwardCompositional           Variant = "FC"
	InverseCompositional           Variant = "IC"
	ProjectOutForwardAdditive      Variant = "POFA"
	ProjectOutForwardCompositional Variant = "POFC"
	ProjectOutInverseCompositional Variant = "POIC"
)

// Variants lists every supported variant.
var Variants = []Variant{
	ForwardAdditive, ForwardCompositional, InverseCompositional,
	ProjectOutForwardAdditive, ProjectOutForwardCompositional, ProjectOutInverseCompositional,
}

// ParseVariant maps a case-insensitive tag to a Variant.
func ParseVariant(s string) (Variant, error) {
	for _, v := range Variants {
		if strings.EqualFold(string(v), s) {
			return v, nil
		}
	}
	return "", errors.Wrapf(ErrInvalidConfiguration, "unknown variant %q", s)
}

// ProjectsOut reports whether the variant needs an appearance model.
func (v Variant) ProjectsOut() bool {
	return strings.HasPrefix(string(v), "PO")
}

// Residual is the error metric the engine linearises.
type Residual interface {
	SteepestDescentImages(img *lkimage.MaskedImage, dWdp transform.Jacobian, fwd *residual.Forward) (*mat.Dense, error)
	CalculateHessian(j *mat.Dense) *mat.Dense
	SteepestDescentUpdate(j *mat.Dense, a, b *lkimage.MaskedImage) (*mat.VecDense, error)
	Error() float64
}

// AppearanceModel is a learned appearance subspace for project-out variants.
type AppearanceModel interface {
	// MeanImage is the template the project-out variants align against.
	MeanImage() *lkimage.MaskedImage
	// ProjectOutVectors removes the subspace from the columns of j.
	ProjectOutVectors(j *mat.Dense) *mat.Dense
}

// Option configures an Aligner.
type Option func(*options)

type options struct {
	optimisation  Optimisation
	interpolation string
	eps           float64
	logger        zerolog.Logger
}

// WithOptimisation selects the update rule. The default is Gauss-Newton.
func WithOptimisation(o Optimisation) Option {
	return func(opts *options) { opts.optimisation = o }
}

// WithInterpolation names the interpolator used to resample the target.
func WithInterpolation(name string) Option {
	return func(opts *options) { opts.interpolation = name }
}

// WithEps sets the convergence threshold. Zero disables early termination.
func WithEps(eps float64) Option {
	return func(opts *options) { opts.eps = eps }
}

// WithLogger sets the logger for per-iteration debug events.
func WithLogger(l zerolog.Logger) Option {
	return func(opts *options) { opts.logger = l }
}

// algorithm is the per-variant part of an alignment: what is computed once
// per call and what each iteration does. step updates the transform and
// returns the solved parameter delta.
type algorithm interface {
	precompute(a *Aligner, ctx *alignContext) error
	step(a *Aligner, ctx *alignContext) ([]float64, error)
}

// alignContext is the scratch state of one Align call.
type alignContext struct {
	image *lkimage.MaskedImage
	// dWdp is the warp Jacobian for variants that compute it once.
	dWdp transform.Jacobian
	// j holds the (possibly projected) steepest-descent images and h the
	// Hessian built from exactly that j.
	j    *mat.Dense
	h    *mat.Dense
	rule updateRule
}

// Aligner runs one Lucas-Kanade variant.
type Aligner struct {
	variant   Variant
	algo      algorithm
	template  *lkimage.MaskedImage
	model     AppearanceModel
	residual  Residual
	transform transform.Transform
	opts      options
	log       zerolog.Logger
}

// New builds an aligner for variant. Image variants align against template
// and ignore model; project-out variants align against model's mean image
// and ignore template.
func New(variant Variant, template *lkimage.MaskedImage, model AppearanceModel, r Residual, t transform.Transform, opts ...Option) (*Aligner, error) {
	o := options{
		optimisation:  GaussNewton(),
		interpolation: lkimage.DefaultInterpolation,
		eps:           DefaultEps,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if _, err := o.optimisation.newRule(); err != nil {
		return nil, err
	}
	if o.eps < 0 || math.IsNaN(o.eps) {
		return nil, errors.Wrapf(ErrInvalidConfiguration, "eps must be non-negative, got %g", o.eps)
	}
	if _, err := lkimage.LookupInterpolator(o.interpolation); err != nil {
		return nil, errors.Wrap(ErrInvalidConfiguration, err.Error())
	}
	if r == nil || t == nil {
		return nil, errors.Wrap(ErrInvalidConfiguration, "residual and transform are required")
	}

	var algo algorithm
	switch variant {
	case ForwardAdditive, ProjectOutForwardAdditive:
		algo = forwardAdditive{}
	case ForwardCompositional, ProjectOutForwardCompositional:
		algo = forwardCompositional{}
	case InverseCompositional, ProjectOutInverseCompositional:
		algo = inverseCompositional{}
	default:
		return nil, errors.Wrapf(ErrInvalidConfiguration, "unknown variant %q", variant)
	}

	if variant.ProjectsOut() {
		if model == nil {
			return nil, errors.Wrapf(ErrInvalidConfiguration, "%s needs an appearance model", variant)
		}
		template = model.MeanImage()
	} else {
		model = nil
	}
	if template == nil || template.Mask == nil {
		return nil, errors.Wrapf(ErrInvalidConfiguration, "%s needs a masked template", variant)
	}
	if template.Mask.Count() == 0 {
		return nil, errors.Wrapf(ErrInvalidConfiguration, "%s template mask selects no pixels", variant)
	}

	return &Aligner{
		variant:   variant,
		algo:      algo,
		template:  template,
		model:     model,
		residual:  r,
		transform: t,
		opts:      o,
		log:       o.logger.With().Str("component", "alignment").Str("variant", string(variant)).Logger(),
	}, nil
}

// Variant returns the algorithm this aligner runs.
func (a *Aligner) Variant() Variant {
	return a.variant
}

// Template returns the reference image alignment is measured against.
func (a *Aligner) Template() *lkimage.MaskedImage {
	return a.template
}

// Transform returns the transform the aligner updates.
func (a *Aligner) Transform() transform.Transform {
	return a.transform
}

// Align estimates the warp parameters aligning img to the template,
// starting from initial and running at most maxIters iterations. The
// transform is left at the final parameters. Running out of iterations is
// not an error; any collaborator or solve failure aborts the call.
func (a *Aligner) Align(img *lkimage.MaskedImage, initial []float64, maxIters int) (*Fitting, error) {
	if img == nil {
		return nil, errors.Wrap(ErrInvalidConfiguration, "nil image")
	}
	if n := a.transform.NParameters(); len(initial) != n {
		return nil, errors.Wrapf(ErrDimensionMismatch, "initial parameters have %d entries, transform has %d", len(initial), n)
	}
	if err := a.transform.FromVectorInplace(initial); err != nil {
		return nil, errors.Wrap(err, "install initial parameters")
	}

	rule, err := a.opts.optimisation.newRule()
	if err != nil {
		return nil, err
	}
	ctx := &alignContext{image: img, rule: rule}
	fitting := newFitting(img, initial)

	if err := a.algo.precompute(a, ctx); err != nil {
		return nil, errors.Wrapf(err, "%s precompute", a.variant)
	}

	// Start above eps so the first iteration always runs.
	deltaNorm := a.opts.eps + 1
	for n := 0; n < maxIters && deltaNorm > a.opts.eps; n++ {
		delta, err := a.algo.step(a, ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "%s iteration %d", a.variant, n)
		}
		deltaNorm = floats.Norm(delta, 2)
		fitting.append(a.transform.AsVector(), a.residual.Error(), deltaNorm)

		ev := a.log.Debug().Int("iteration", n).Float64("delta_norm", deltaNorm).Float64("error", a.residual.Error())
		if lm, ok := ctx.rule.(*levenbergMarquardt); ok {
			ev = ev.Float64("damping", lm.damping)
		}
		ev.Msg("lucas-kanade iteration")
	}

	fitting.Fitted = true
	a.log.Info().
		Int("iterations", fitting.NIters()).
		Bool("converged", deltaNorm <= a.opts.eps).
		Float64("delta_norm", deltaNorm).
		Msg("alignment finished")
	return fitting, nil
}

// warpImage resamples the target into the template frame at the current
// parameters.
func (a *Aligner) warpImage(ctx *alignContext) (*lkimage.MaskedImage, error) {
	iwxp, err := ctx.image.WarpTo(a.template.Mask, a.transform, a.opts.interpolation)
	if err != nil {
		return nil, errors.Wrap(err, "warp image")
	}
	return iwxp, nil
}

// linearise stores the steepest-descent images, removing the appearance
// subspace for project-out variants, and the Hessian built from them.
func (a *Aligner) linearise(ctx *alignContext, j *mat.Dense) {
	if a.model != nil {
		j = a.model.ProjectOutVectors(j)
	}
	ctx.j = j
	ctx.h = a.residual.CalculateHessian(j)
}

// solveDelta applies the update rule to the steepest-descent update.
func (a *Aligner) solveDelta(ctx *alignContext, sdDeltaP *mat.VecDense) ([]float64, error) {
	return ctx.rule.update(ctx.h, sdDeltaP, a.residual.Error())
}
