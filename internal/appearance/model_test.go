package appearance

import (
	"math"
	"testing"

	lkimage "lkalign/internal/image"
	"lkalign/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func testMean() *lkimage.MaskedImage {
	img := lkimage.FromFunc(10, 10, func(x, y float64) float64 { return math.Sin(x/3) + math.Cos(y/4) })
	masked, err := img.WithMask(lkimage.RectMask(10, 10, geometry.Rect{X: 2, Y: 2, Width: 6, Height: 5}))
	if err != nil {
		panic(err)
	}
	return masked
}

func basisFor(mean *lkimage.MaskedImage) [][]float64 {
	pts := mean.Mask.TrueIndices()
	constant := make([]float64, len(pts))
	rampX := make([]float64, len(pts))
	mixed := make([]float64, len(pts))
	for i, p := range pts {
		constant[i] = 3
		rampX[i] = p.X + 1
		mixed[i] = p.X*p.Y - 2*p.Y
	}
	return [][]float64{constant, rampX, mixed}
}

func TestNewModelOrthonormalises(t *testing.T) {
	mean := testMean()
	m, err := NewModel(mean, basisFor(mean))
	require.NoError(t, err)
	require.Equal(t, 3, m.NComponents())

	var gram mat.Dense
	gram.Mul(m.Components.T(), m.Components)
	assert.True(t, mat.EqualApprox(mat.NewDiagDense(3, []float64{1, 1, 1}), &gram, 1e-10))
}

func TestNewModelRejectsBadBases(t *testing.T) {
	mean := testMean()
	n := mean.Mask.Count()

	_, err := NewModel(mean, nil)
	assert.Error(t, err)

	_, err = NewModel(mean, [][]float64{make([]float64, n-1)})
	assert.Error(t, err)

	b := basisFor(mean)
	dependent := make([]float64, n)
	for i := range dependent {
		dependent[i] = 2*b[0][i] - b[1][i]
	}
	_, err = NewModel(mean, [][]float64{b[0], b[1], dependent})
	assert.Error(t, err)

	_, err = NewModel(nil, b)
	assert.Error(t, err)
}

func TestProjectOutIsOrthogonalToBasis(t *testing.T) {
	mean := testMean()
	m, err := NewModel(mean, basisFor(mean))
	require.NoError(t, err)

	n := mean.Mask.Count()
	j := mat.NewDense(n, 4, nil)
	for i := 0; i < n; i++ {
		for k := 0; k < 4; k++ {
			j.Set(i, k, math.Sin(float64(i*(k+1)))+float64(k))
		}
	}

	po := m.ProjectOutVectors(j)
	var inner mat.Dense
	inner.Mul(m.Components.T(), po)
	r, c := inner.Dims()
	for a := 0; a < r; a++ {
		for b := 0; b < c; b++ {
			assert.InDelta(t, 0.0, inner.At(a, b), 1e-9)
		}
	}

	again := m.ProjectOutVectors(po)
	assert.True(t, mat.EqualApprox(po, again, 1e-9), "projection must be idempotent")
}

func TestProjectReconstructRoundTrip(t *testing.T) {
	mean := testMean()
	m, err := NewModel(mean, basisFor(mean))
	require.NoError(t, err)

	weights := []float64{0.5, -1.25, 2}
	img, err := m.Reconstruct(weights)
	require.NoError(t, err)

	got, err := m.Project(img)
	require.NoError(t, err)
	assert.InDeltaSlice(t, weights, got, 1e-9)

	_, err = m.Reconstruct([]float64{1})
	assert.Error(t, err)
	_, err = m.Project(lkimage.New(3, 3))
	assert.Error(t, err)
}
