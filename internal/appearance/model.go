// Package appearance holds a linear appearance subspace: a mean image and an
// orthonormal basis of appearance variation over the mean's masked pixels.
// Project-out alignment removes this subspace from its steepest-descent
// images so that variation it spans does not pull on the warp parameters.
package appearance

import (
	lkimage "lkalign/internal/image"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// rankTolerance is the smallest singular value accepted when
// orthonormalising a basis, relative to the largest.
const rankTolerance = 1e-10

// Model is a mean appearance plus an n x k orthonormal basis U.
type Model struct {
	Mean       *lkimage.MaskedImage
	Components *mat.Dense
}

// NewModel orthonormalises components (each a vector over the mean's masked
// pixels) with a thin SVD and returns the model. Components need not be
// orthogonal or unit length but must be linearly independent.
func NewModel(mean *lkimage.MaskedImage, components [][]float64) (*Model, error) {
	if mean == nil {
		return nil, errors.New("appearance model needs a mean image")
	}
	n := mean.Mask.Count()
	k := len(components)
	if k == 0 {
		return nil, errors.New("appearance model needs at least one component")
	}
	if k > n {
		return nil, errors.Errorf("%d components exceed %d masked pixels", k, n)
	}

	raw := mat.NewDense(n, k, nil)
	for c, v := range components {
		if len(v) != n {
			return nil, errors.Errorf("component %d has %d entries, mean has %d masked pixels", c, len(v), n)
		}
		raw.SetCol(c, v)
	}

	var svd mat.SVD
	if !svd.Factorize(raw, mat.SVDThin) {
		return nil, errors.New("appearance basis factorisation failed")
	}
	values := svd.Values(nil)
	for i, v := range values {
		if v <= rankTolerance*values[0] {
			return nil, errors.Errorf("appearance basis is rank deficient: singular value %d is %g", i, v)
		}
	}

	var basis mat.Dense
	svd.UTo(&basis)

	return &Model{Mean: mean, Components: &basis}, nil
}

// MeanImage returns the mean appearance, the template project-out
// alignment is measured against.
func (m *Model) MeanImage() *lkimage.MaskedImage {
	return m.Mean
}

// NComponents returns the subspace dimension.
func (m *Model) NComponents() int {
	_, k := m.Components.Dims()
	return k
}

// ProjectOutVectors returns J - U (U^T J): the columns of j with the
// subspace removed.
func (m *Model) ProjectOutVectors(j *mat.Dense) *mat.Dense {
	var coeffs mat.Dense
	coeffs.Mul(m.Components.T(), j)

	var inSpan mat.Dense
	inSpan.Mul(m.Components, &coeffs)

	var out mat.Dense
	out.Sub(j, &inSpan)
	return &out
}

// Project returns the subspace weights U^T (img - mean) of an image in the
// mean's frame.
func (m *Model) Project(img *lkimage.MaskedImage) ([]float64, error) {
	v, mv := img.AsVector(), m.Mean.AsVector()
	if len(v) != len(mv) {
		return nil, errors.Errorf("image has %d masked pixels, model has %d", len(v), len(mv))
	}
	diff := mat.NewVecDense(len(v), nil)
	for i := range v {
		diff.SetVec(i, v[i]-mv[i])
	}

	var w mat.VecDense
	w.MulVec(m.Components.T(), diff)
	return w.RawVector().Data, nil
}

// Reconstruct returns mean + U w as an image in the mean's frame.
func (m *Model) Reconstruct(weights []float64) (*lkimage.MaskedImage, error) {
	if len(weights) != m.NComponents() {
		return nil, errors.Errorf("expected %d weights, got %d", m.NComponents(), len(weights))
	}
	var v mat.VecDense
	v.MulVec(m.Components, mat.NewVecDense(len(weights), append([]float64(nil), weights...)))
	mv := m.Mean.AsVector()
	for i := range mv {
		mv[i] += v.AtVec(i)
	}
	return m.Mean.FromVector(mv)
}
