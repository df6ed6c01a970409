package image

import (
	"lkalign/pkg/geometry"
)

// BooleanMask marks the pixels of a reference frame that take part in an
// alignment. Its true pixels are the sample coordinates handed to a warp's
// Jacobian and the rows of every steepest-descent matrix.
type BooleanMask struct {
	Width  int
	Height int
	Pix    []bool

	indices []geometry.Point2D
}

// NewBooleanMask returns a mask of the given size with every pixel set.
func NewBooleanMask(width, height int) *BooleanMask {
	m := &BooleanMask{Width: width, Height: height, Pix: make([]bool, width*height)}
	for i := range m.Pix {
		m.Pix[i] = true
	}
	return m
}

// RectMask returns a mask whose true pixels are the rectangle r clipped to
// the frame.
func RectMask(width, height int, r geometry.Rect) *BooleanMask {
	m := &BooleanMask{Width: width, Height: height, Pix: make([]bool, width*height)}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			m.Pix[y*width+x] = r.Contains(x, y)
		}
	}
	return m
}

// HullMask returns a mask covering the convex hull of the given landmarks.
func HullMask(width, height int, landmarks []geometry.Point2D) *BooleanMask {
	hull := geometry.ConvexHull(landmarks)
	m := &BooleanMask{Width: width, Height: height, Pix: make([]bool, width*height)}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			m.Pix[y*width+x] = geometry.PointInPolygon(geometry.Point2D{X: float64(x), Y: float64(y)}, hull)
		}
	}
	return m
}

// At reports whether pixel (x, y) is set. Pixels outside the frame are unset.
func (m *BooleanMask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	return m.Pix[y*m.Width+x]
}

// Count returns the number of true pixels.
func (m *BooleanMask) Count() int {
	return len(m.TrueIndices())
}

// TrueIndices returns the coordinates of the true pixels in row-major order.
// The slice is cached and must not be modified.
func (m *BooleanMask) TrueIndices() []geometry.Point2D {
	if m.indices != nil {
		return m.indices
	}
	idx := make([]geometry.Point2D, 0, len(m.Pix))
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			if m.Pix[y*m.Width+x] {
				idx = append(idx, geometry.Point2D{X: float64(x), Y: float64(y)})
			}
		}
	}
	m.indices = idx
	return idx
}
