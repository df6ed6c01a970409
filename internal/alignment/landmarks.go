package alignment

import (
	"math"
	"math/rand"

	"lkalign/internal/transform"
	"lkalign/pkg/geometry"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// RANSAC controls robust landmark fitting.
type RANSAC struct {
	Iterations int
	// Threshold is the inlier distance in image pixels.
	Threshold float64
	Seed      int64
}

// DefaultRANSAC returns the RANSAC settings used when none are given.
func DefaultRANSAC() RANSAC {
	return RANSAC{Iterations: 2000, Threshold: 3.0, Seed: 1}
}

// InitialFromLandmarks estimates starting parameters for t from point
// correspondences between the template frame and the image. The fit uses
// the most general model t can represent (affine, similarity or
// translation) and t is left holding the estimate. With ransac non-nil,
// outlying correspondences are rejected first.
func InitialFromLandmarks(t transform.Transform, template, image []geometry.Point2D, ransac *RANSAC) ([]float64, error) {
	if len(template) != len(image) {
		return nil, errors.Wrapf(ErrDimensionMismatch, "%d template landmarks, %d image landmarks", len(template), len(image))
	}

	var fit func(src, dst []geometry.Point2D) (geometry.AffineTransform, error)
	var minimal int
	switch t.NParameters() {
	case 2:
		fit, minimal = EstimateTranslation, 1
	case 4:
		fit, minimal = EstimateSimilarity, 2
	default:
		fit, minimal = EstimateAffine, 3
	}
	if len(template) < minimal {
		return nil, errors.Wrapf(ErrInvalidConfiguration, "need at least %d landmarks, got %d", minimal, len(template))
	}

	var m geometry.AffineTransform
	var err error
	if ransac != nil {
		m, _, err = estimateRANSAC(template, image, minimal, fit, *ransac)
	} else {
		m, err = fit(template, image)
	}
	if err != nil {
		return nil, err
	}

	t.FromAffineInplace(m)
	return t.AsVector(), nil
}

// EstimateTranslation returns the mean displacement from src to dst.
func EstimateTranslation(src, dst []geometry.Point2D) (geometry.AffineTransform, error) {
	if len(src) == 0 || len(src) != len(dst) {
		return geometry.AffineTransform{}, errors.New("invalid point sets")
	}
	var d geometry.Point2D
	for i := range src {
		d = d.Add(dst[i].Sub(src[i]))
	}
	n := float64(len(src))
	return geometry.Translation(d.X/n, d.Y/n), nil
}

// EstimateSimilarity computes the least-squares rotation, uniform scale and
// translation mapping src onto dst.
func EstimateSimilarity(src, dst []geometry.Point2D) (geometry.AffineTransform, error) {
	if len(src) < 2 || len(src) != len(dst) {
		return geometry.AffineTransform{}, errors.New("need at least 2 point pairs")
	}
	sc := geometry.Centroid(src)
	dc := geometry.Centroid(dst)

	// Cross/dot sums give the rotation; their magnitude over the source
	// spread gives the scale.
	var dotSum, crossSum, spread float64
	for i := range src {
		s := src[i].Sub(sc)
		d := dst[i].Sub(dc)
		dotSum += s.X*d.X + s.Y*d.Y
		crossSum += s.X*d.Y - s.Y*d.X
		spread += s.X*s.X + s.Y*s.Y
	}
	if spread < 1e-12 {
		return geometry.AffineTransform{}, errors.New("degenerate points")
	}

	a := dotSum / spread
	b := crossSum / spread
	return geometry.AffineTransform{
		A: a, B: -b, TX: dc.X - (a*sc.X - b*sc.Y),
		C: b, D: a, TY: dc.Y - (b*sc.X + a*sc.Y),
	}, nil
}

// EstimateAffine computes an affine transform from src to dst by least
// squares.
func EstimateAffine(src, dst []geometry.Point2D) (geometry.AffineTransform, error) {
	n := len(src)
	if n < 3 || n != len(dst) {
		return geometry.AffineTransform{}, errors.New("need at least 3 point pairs")
	}

	// [x', y'] = [a, b, tx; c, d, ty] * [x, y, 1]
	A := mat.NewDense(n*2, 6, nil)
	B := mat.NewVecDense(n*2, nil)
	for i := 0; i < n; i++ {
		x, y := src[i].X, src[i].Y

		A.Set(i*2, 0, x)
		A.Set(i*2, 1, y)
		A.Set(i*2, 2, 1)
		B.SetVec(i*2, dst[i].X)

		A.Set(i*2+1, 3, x)
		A.Set(i*2+1, 4, y)
		A.Set(i*2+1, 5, 1)
		B.SetVec(i*2+1, dst[i].Y)
	}

	var qr mat.QR
	qr.Factorize(A)
	var params mat.VecDense
	if err := qr.SolveVecTo(&params, false, B); err != nil {
		return geometry.AffineTransform{}, errors.Wrap(err, "landmarks do not constrain an affine warp")
	}

	return geometry.AffineTransform{
		A:  params.AtVec(0),
		B:  params.AtVec(1),
		TX: params.AtVec(2),
		C:  params.AtVec(3),
		D:  params.AtVec(4),
		TY: params.AtVec(5),
	}, nil
}

// estimateRANSAC fits minimal random samples, keeps the model with the most
// inliers and refits it on all of them.
func estimateRANSAC(src, dst []geometry.Point2D, minimal int,
	fit func(src, dst []geometry.Point2D) (geometry.AffineTransform, error), opts RANSAC) (geometry.AffineTransform, []int, error) {
	n := len(src)
	rng := rand.New(rand.NewSource(opts.Seed))
	var bestInliers []int

	sample := make([]geometry.Point2D, minimal)
	target := make([]geometry.Point2D, minimal)
	for iter := 0; iter < opts.Iterations; iter++ {
		for i, idx := range rng.Perm(n)[:minimal] {
			sample[i] = src[idx]
			target[i] = dst[idx]
		}
		m, err := fit(sample, target)
		if err != nil || !finite(m) {
			continue
		}

		var inliers []int
		for i := range src {
			if m.Apply(src[i]).Distance(dst[i]) < opts.Threshold {
				inliers = append(inliers, i)
			}
		}
		if len(inliers) > len(bestInliers) {
			bestInliers = inliers
		}
	}

	if len(bestInliers) < minimal {
		return geometry.AffineTransform{}, nil, errors.New("RANSAC failed to find enough inliers")
	}

	inlierSrc := make([]geometry.Point2D, len(bestInliers))
	inlierDst := make([]geometry.Point2D, len(bestInliers))
	for i, idx := range bestInliers {
		inlierSrc[i] = src[idx]
		inlierDst[i] = dst[idx]
	}
	m, err := fit(inlierSrc, inlierDst)
	if err != nil {
		return geometry.AffineTransform{}, nil, err
	}
	return m, bestInliers, nil
}

func finite(m geometry.AffineTransform) bool {
	for _, v := range []float64{m.A, m.B, m.TX, m.C, m.D, m.TY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
