package alignment

import (
	"lkalign/internal/transform"
)

// The project-out variants share the update patterns of the template
// variants. Their template is the model mean, and every set of
// steepest-descent images has the appearance subspace removed before the
// Hessian and the steepest-descent update are formed (see
// Aligner.linearise). The error image itself is not projected: components
// of it that lie in the subspace are invisible to the projected Jacobian,
// so appearance variation spanned by the model does not move the warp.

// NewProjectOutForwardAdditive returns a project-out forward-additive
// aligner against model.
func NewProjectOutForwardAdditive(model AppearanceModel, r Residual, t transform.Transform, opts ...Option) (*Aligner, error) {
	return New(ProjectOutForwardAdditive, nil, model, r, t, opts...)
}

// NewProjectOutForwardCompositional returns a project-out
// forward-compositional aligner against model.
func NewProjectOutForwardCompositional(model AppearanceModel, r Residual, t transform.Transform, opts ...Option) (*Aligner, error) {
	return New(ProjectOutForwardCompositional, nil, model, r, t, opts...)
}

// NewProjectOutInverseCompositional returns a project-out
// inverse-compositional aligner against model. The projected
// steepest-descent images and their Hessian are computed once per call.
func NewProjectOutInverseCompositional(model AppearanceModel, r Residual, t transform.Transform, opts ...Option) (*Aligner, error) {
	return New(ProjectOutInverseCompositional, nil, model, r, t, opts...)
}
