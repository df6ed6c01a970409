package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAffineComposeAppliesRightOperandFirst(t *testing.T) {
	scale := AffineTransform{A: 2, D: 2}
	shift := Translation(3, -1)

	p := Point2D{X: 1, Y: 1}
	got := scale.Compose(shift).Apply(p)

	assert.InDelta(t, 8.0, got.X, 1e-12)
	assert.InDelta(t, 0.0, got.Y, 1e-12)
}

func TestAffineInverse(t *testing.T) {
	m := AffineTransform{A: 1.1, B: 0.2, TX: 4, C: -0.1, D: 0.9, TY: -2}
	inv, ok := m.Inverse()
	require.True(t, ok)

	p := Point2D{X: 7.5, Y: -3.25}
	back := inv.Apply(m.Apply(p))
	assert.InDelta(t, p.X, back.X, 1e-9)
	assert.InDelta(t, p.Y, back.Y, 1e-9)

	_, ok = AffineTransform{A: 1, B: 2, C: 2, D: 4}.Inverse()
	assert.False(t, ok)
}

func TestAff3Layout(t *testing.T) {
	m := AffineTransform{A: 1, B: 2, TX: 3, C: 4, D: 5, TY: 6}
	assert.Equal(t, [6]float64{1, 2, 3, 4, 5, 6}, [6]float64(m.Aff3()))
}

func TestConvexHull(t *testing.T) {
	pts := []Point2D{
		{0, 0}, {4, 0}, {4, 4}, {0, 4},
		{2, 2}, {1, 3}, {2, 0}, {4, 4},
	}
	hull := ConvexHull(pts)

	assert.Len(t, hull, 4)
	assert.ElementsMatch(t, []Point2D{{0, 0}, {4, 0}, {4, 4}, {0, 4}}, hull)
}

func TestPointInPolygon(t *testing.T) {
	square := []Point2D{{0, 0}, {10, 0}, {10, 10}, {0, 10}}

	tests := []struct {
		p    Point2D
		want bool
	}{
		{Point2D{5, 5}, true},
		{Point2D{0.5, 9.5}, true},
		{Point2D{-1, 5}, false},
		{Point2D{5, 11}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PointInPolygon(tt.p, square), "point %+v", tt.p)
	}
	assert.False(t, PointInPolygon(Point2D{1, 1}, square[:2]))
}

func TestCentroidAndRect(t *testing.T) {
	c := Centroid([]Point2D{{0, 0}, {2, 0}, {2, 2}, {0, 2}})
	assert.Equal(t, Point2D{1, 1}, c)
	assert.Equal(t, Point2D{}, Centroid(nil))

	r := Rect{X: 2, Y: 3, Width: 4, Height: 2}
	assert.True(t, r.Contains(2, 3))
	assert.True(t, r.Contains(5, 4))
	assert.False(t, r.Contains(6, 4))
	assert.False(t, r.Empty())
	assert.True(t, Rect{Width: 3}.Empty())
}
