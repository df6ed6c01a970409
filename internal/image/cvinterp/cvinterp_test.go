package cvinterp

import (
	"testing"

	lkimage "lkalign/internal/image"
	"lkalign/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinearMatchesPureGoBilinear(t *testing.T) {
	Register()

	img := lkimage.FromFunc(16, 16, func(x, y float64) float64 { return 0.5*x - 0.25*y + 3 })
	points := []geometry.Point2D{{X: 2.5, Y: 3.25}, {X: 7, Y: 7}, {X: 10.75, Y: 1.5}}

	want, err := img.Sample(points, "bilinear")
	require.NoError(t, err)
	got, err := img.Sample(points, Linear)
	require.NoError(t, err)

	for i := range points {
		// remap quantises sub-pixel weights to 1/32.
		assert.InDelta(t, want[i], got[i], 5e-2)
	}
}

func TestRegisteredNames(t *testing.T) {
	Register()
	names := lkimage.Interpolators()
	assert.Contains(t, names, Nearest)
	assert.Contains(t, names, Linear)
	assert.Contains(t, names, Cubic)
}
