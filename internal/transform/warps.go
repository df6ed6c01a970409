package transform

import (
	"lkalign/pkg/geometry"
)

// Translation is W(x;p) = x + (tx, ty).
type Translation struct{ warp }

// NewTranslation returns a translation warp.
func NewTranslation(tx, ty float64) *Translation {
	return &Translation{newWarp(translationParams{}, []float64{tx, ty})}
}

type translationParams struct{}

func (translationParams) nParams() int { return 2 }

func (translationParams) toAffine(p []float64) geometry.AffineTransform {
	return geometry.Translation(p[0], p[1])
}

func (translationParams) fromAffine(m geometry.AffineTransform) []float64 {
	return []float64{m.TX, m.TY}
}

func (translationParams) jacobianRows(_, _ float64, dx, dy []float64) {
	dx[0], dx[1] = 1, 0
	dy[0], dy[1] = 0, 1
}

// Similarity is rotation, uniform scale and translation, parameterised as
// p = (a, b, tx, ty) with linear part [[1+a, -b], [b, 1+a]].
type Similarity struct{ warp }

// NewSimilarity returns a similarity warp.
func NewSimilarity(a, b, tx, ty float64) *Similarity {
	return &Similarity{newWarp(similarityParams{}, []float64{a, b, tx, ty})}
}

type similarityParams struct{}

func (similarityParams) nParams() int { return 4 }

func (similarityParams) toAffine(p []float64) geometry.AffineTransform {
	return geometry.AffineTransform{
		A: 1 + p[0], B: -p[1], TX: p[2],
		C: p[1], D: 1 + p[0], TY: p[3],
	}
}

func (similarityParams) fromAffine(m geometry.AffineTransform) []float64 {
	return []float64{m.A - 1, m.C, m.TX, m.TY}
}

func (similarityParams) jacobianRows(x, y float64, dx, dy []float64) {
	dx[0], dx[1], dx[2], dx[3] = x, -y, 1, 0
	dy[0], dy[1], dy[2], dy[3] = y, x, 0, 1
}

// Affine is the six parameter warp of Baker and Matthews:
// W(x;p) = ((1+p1)x + p3 y + p5, p2 x + (1+p4) y + p6).
type Affine struct{ warp }

// NewAffine returns an affine warp. params must have six entries; missing
// entries are zero.
func NewAffine(params []float64) *Affine {
	return &Affine{newWarp(affineParams{}, params)}
}

type affineParams struct{}

func (affineParams) nParams() int { return 6 }

func (affineParams) toAffine(p []float64) geometry.AffineTransform {
	return geometry.AffineTransform{
		A: 1 + p[0], B: p[2], TX: p[4],
		C: p[1], D: 1 + p[3], TY: p[5],
	}
}

func (affineParams) fromAffine(m geometry.AffineTransform) []float64 {
	return []float64{m.A - 1, m.C, m.B, m.D - 1, m.TX, m.TY}
}

func (affineParams) jacobianRows(x, y float64, dx, dy []float64) {
	dx[0], dx[1], dx[2], dx[3], dx[4], dx[5] = x, 0, y, 0, 1, 0
	dy[0], dy[1], dy[2], dy[3], dy[4], dy[5] = 0, x, 0, y, 0, 1
}
