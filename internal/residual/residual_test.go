package residual

import (
	"testing"

	lkimage "lkalign/internal/image"
	"lkalign/internal/transform"
	"lkalign/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func plane(x, y float64) float64 { return 2*x - 3*y + 10 }

func framed(img *lkimage.MaskedImage) *lkimage.MaskedImage {
	masked, err := img.WithMask(lkimage.RectMask(img.Width, img.Height, geometry.Rect{X: 2, Y: 2, Width: 4, Height: 3}))
	if err != nil {
		panic(err)
	}
	return masked
}

func TestSteepestDescentImagesTranslation(t *testing.T) {
	img := framed(lkimage.FromFunc(8, 8, plane))
	tr := transform.NewTranslation(0, 0)
	dWdp := tr.Jacobian(img.Mask.TrueIndices())

	sd, err := NewLSIntensity().SteepestDescentImages(img, dWdp, nil)
	require.NoError(t, err)

	rows, cols := sd.Dims()
	require.Equal(t, 12, rows)
	require.Equal(t, 2, cols)
	for i := 0; i < rows; i++ {
		assert.InDelta(t, 2.0, sd.At(i, 0), 1e-12)
		assert.InDelta(t, -3.0, sd.At(i, 1), 1e-12)
	}
}

func TestSteepestDescentImagesAffineUsesCoordinates(t *testing.T) {
	img := framed(lkimage.FromFunc(8, 8, plane))
	points := img.Mask.TrueIndices()
	dWdp := transform.NewAffine(nil).Jacobian(points)

	sd, err := NewLSIntensity().SteepestDescentImages(img, dWdp, nil)
	require.NoError(t, err)

	for i, p := range points {
		want := []float64{2 * p.X, -3 * p.X, 2 * p.Y, -3 * p.Y, 2, -3}
		assert.InDeltaSlice(t, want, mat.Row(nil, i, sd), 1e-12)
	}
}

func TestSteepestDescentImagesForwardWarpsGradient(t *testing.T) {
	curved := lkimage.FromFunc(20, 20, func(x, y float64) float64 { return x * x })
	template := framed(lkimage.New(8, 8))
	tr := transform.NewTranslation(5, 1)
	dWdp := tr.Jacobian(template.Mask.TrueIndices())

	sd, err := NewLSIntensity().SteepestDescentImages(curved, dWdp, &Forward{
		Frame:         template.Mask,
		Transform:     tr,
		Interpolation: lkimage.DefaultInterpolation,
	})
	require.NoError(t, err)

	for i, p := range template.Mask.TrueIndices() {
		assert.InDelta(t, 2*(p.X+5), sd.At(i, 0), 1e-9)
		assert.InDelta(t, 0.0, sd.At(i, 1), 1e-12)
	}
}

func TestSteepestDescentImagesRowMismatch(t *testing.T) {
	img := framed(lkimage.FromFunc(8, 8, plane))
	dWdp := transform.NewTranslation(0, 0).Jacobian([]geometry.Point2D{{X: 1, Y: 1}})

	_, err := NewLSIntensity().SteepestDescentImages(img, dWdp, nil)
	assert.Error(t, err)
}

func TestHessianAndUpdate(t *testing.T) {
	r := NewLSIntensity()
	j := mat.NewDense(3, 2, []float64{
		1, 0,
		0, 2,
		1, 1,
	})

	h := r.CalculateHessian(j)
	assert.True(t, mat.Equal(mat.NewDense(2, 2, []float64{2, 1, 1, 5}), h))

	a := lkimage.FromFunc(3, 1, func(x, y float64) float64 { return x + 1 })
	b := lkimage.FromFunc(3, 1, func(x, y float64) float64 { return 1 })

	update, err := r.SteepestDescentUpdate(j, a, b)
	require.NoError(t, err)
	// a - b = (0, 1, 2)
	assert.InDeltaSlice(t, []float64{2, 4}, update.RawVector().Data, 1e-12)
	assert.InDelta(t, 5.0, r.Error(), 1e-12)

	reversed, err := r.SteepestDescentUpdate(j, b, a)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{-2, -4}, reversed.RawVector().Data, 1e-12)
}

func TestUpdateDimensionChecks(t *testing.T) {
	r := NewLSIntensity()
	j := mat.NewDense(2, 1, []float64{1, 1})

	_, err := r.SteepestDescentUpdate(j, lkimage.New(3, 1), lkimage.New(2, 1))
	assert.Error(t, err)
	_, err = r.SteepestDescentUpdate(j, lkimage.New(3, 1), lkimage.New(3, 1))
	assert.Error(t, err)
}
