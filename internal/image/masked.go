// Package image provides the float-valued masked images the alignment engine
// works on: resampling through a warp, gradients, decoding and rendering.
package image

import (
	"fmt"

	"lkalign/pkg/geometry"
)

// PointMapper maps a reference-frame coordinate to an image coordinate.
type PointMapper interface {
	Apply(p geometry.Point2D) geometry.Point2D
}

// MaskedImage is a single channel float64 image with a mask selecting the
// pixels that take part in alignment. Pix is row-major.
type MaskedImage struct {
	Width  int
	Height int
	Pix    []float64
	Mask   *BooleanMask
}

// New returns a zero image with a full mask.
func New(width, height int) *MaskedImage {
	return &MaskedImage{
		Width:  width,
		Height: height,
		Pix:    make([]float64, width*height),
		Mask:   NewBooleanMask(width, height),
	}
}

// FromFunc samples f at every integer pixel position.
func FromFunc(width, height int, f func(x, y float64) float64) *MaskedImage {
	img := New(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Pix[y*width+x] = f(float64(x), float64(y))
		}
	}
	return img
}

// At returns the pixel value at (x, y), or zero outside the image.
func (m *MaskedImage) At(x, y int) float64 {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return 0
	}
	return m.Pix[y*m.Width+x]
}

// Set stores v at (x, y).
func (m *MaskedImage) Set(x, y int, v float64) {
	m.Pix[y*m.Width+x] = v
}

// WithMask returns a shallow copy of the image using mask. The mask must
// have the image's dimensions.
func (m *MaskedImage) WithMask(mask *BooleanMask) (*MaskedImage, error) {
	if mask.Width != m.Width || mask.Height != m.Height {
		return nil, fmt.Errorf("mask is %dx%d, image is %dx%d", mask.Width, mask.Height, m.Width, m.Height)
	}
	return &MaskedImage{Width: m.Width, Height: m.Height, Pix: m.Pix, Mask: mask}, nil
}

// AsVector returns the masked pixels in TrueIndices order.
func (m *MaskedImage) AsVector() []float64 {
	idx := m.Mask.TrueIndices()
	v := make([]float64, len(idx))
	for i, p := range idx {
		v[i] = m.Pix[int(p.Y)*m.Width+int(p.X)]
	}
	return v
}

// FromVector returns a copy of the image whose masked pixels are replaced by v.
func (m *MaskedImage) FromVector(v []float64) (*MaskedImage, error) {
	idx := m.Mask.TrueIndices()
	if len(v) != len(idx) {
		return nil, fmt.Errorf("vector has %d entries, mask has %d pixels", len(v), len(idx))
	}
	out := &MaskedImage{Width: m.Width, Height: m.Height, Pix: make([]float64, len(m.Pix)), Mask: m.Mask}
	copy(out.Pix, m.Pix)
	for i, p := range idx {
		out.Pix[int(p.Y)*m.Width+int(p.X)] = v[i]
	}
	return out, nil
}

// Gradient returns the x and y derivative images using central differences
// in the interior and one-sided differences on the borders.
func (m *MaskedImage) Gradient() (gx, gy *MaskedImage) {
	gx = &MaskedImage{Width: m.Width, Height: m.Height, Pix: make([]float64, len(m.Pix)), Mask: m.Mask}
	gy = &MaskedImage{Width: m.Width, Height: m.Height, Pix: make([]float64, len(m.Pix)), Mask: m.Mask}

	for y := 0; y < m.Height; y++ {
		row := m.Pix[y*m.Width : (y+1)*m.Width]
		diff1D(row, gx.Pix[y*m.Width:(y+1)*m.Width], 1)
	}
	for x := 0; x < m.Width; x++ {
		diff1D(m.Pix[x:], gy.Pix[x:], m.Width)
	}
	return gx, gy
}

// diff1D differentiates the n samples src[0], src[stride], ... into dst.
func diff1D(src, dst []float64, stride int) {
	n := (len(src)-1)/stride + 1
	if n < 2 {
		dst[0] = 0
		return
	}
	dst[0] = src[stride] - src[0]
	for i := 1; i < n-1; i++ {
		dst[i*stride] = (src[(i+1)*stride] - src[(i-1)*stride]) / 2
	}
	dst[(n-1)*stride] = src[(n-1)*stride] - src[(n-2)*stride]
}

// Sample interpolates the image at arbitrary points.
func (m *MaskedImage) Sample(points []geometry.Point2D, interpolation string) ([]float64, error) {
	interp, err := LookupInterpolator(interpolation)
	if err != nil {
		return nil, err
	}
	return interp.Interpolate(m, points)
}

// WarpTo resamples the image into the frame described by mask: pixel x of the
// result holds this image at mapper.Apply(x). Every frame pixel is computed so
// that gradients can be taken on the result; the result carries mask.
func (m *MaskedImage) WarpTo(mask *BooleanMask, mapper PointMapper, interpolation string) (*MaskedImage, error) {
	points := make([]geometry.Point2D, 0, mask.Width*mask.Height)
	for y := 0; y < mask.Height; y++ {
		for x := 0; x < mask.Width; x++ {
			points = append(points, mapper.Apply(geometry.Point2D{X: float64(x), Y: float64(y)}))
		}
	}
	values, err := m.Sample(points, interpolation)
	if err != nil {
		return nil, fmt.Errorf("warp to %dx%d frame: %w", mask.Width, mask.Height, err)
	}
	return &MaskedImage{Width: mask.Width, Height: mask.Height, Pix: values, Mask: mask}, nil
}
