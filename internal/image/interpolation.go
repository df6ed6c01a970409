package image

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"lkalign/pkg/geometry"
)

// DefaultInterpolation names the interpolator used when none is configured.
// It is pure-Go bilinear interpolation with zero fill outside the image.
const DefaultInterpolation = "scipy"

// Interpolator samples a source image at sub-pixel positions.
type Interpolator interface {
	Interpolate(src *MaskedImage, points []geometry.Point2D) ([]float64, error)
}

// InterpolatorFunc adapts a function to the Interpolator interface.
type InterpolatorFunc func(src *MaskedImage, points []geometry.Point2D) ([]float64, error)

// Interpolate calls f(src, points).
func (f InterpolatorFunc) Interpolate(src *MaskedImage, points []geometry.Point2D) ([]float64, error) {
	return f(src, points)
}

var (
	registryMu    sync.RWMutex
	interpolators = map[string]Interpolator{
		"scipy":    InterpolatorFunc(bilinear),
		"bilinear": InterpolatorFunc(bilinear),
		"nearest":  InterpolatorFunc(nearest),
	}
)

// RegisterInterpolator makes an interpolator available under name,
// replacing any previous registration.
func RegisterInterpolator(name string, interp Interpolator) {
	registryMu.Lock()
	defer registryMu.Unlock()
	interpolators[name] = interp
}

// LookupInterpolator returns the interpolator registered under name.
func LookupInterpolator(name string) (Interpolator, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	interp, ok := interpolators[name]
	if !ok {
		return nil, fmt.Errorf("unknown interpolation method %q", name)
	}
	return interp, nil
}

// Interpolators lists the registered interpolator names.
func Interpolators() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(interpolators))
	for name := range interpolators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func bilinear(src *MaskedImage, points []geometry.Point2D) ([]float64, error) {
	out := make([]float64, len(points))
	for i, p := range points {
		x0 := math.Floor(p.X)
		y0 := math.Floor(p.Y)
		fx := p.X - x0
		fy := p.Y - y0
		ix, iy := int(x0), int(y0)

		v := (1 - fx) * (1 - fy) * src.At(ix, iy)
		if fx != 0 {
			v += fx * (1 - fy) * src.At(ix+1, iy)
		}
		if fy != 0 {
			v += (1 - fx) * fy * src.At(ix, iy+1)
			if fx != 0 {
				v += fx * fy * src.At(ix+1, iy+1)
			}
		}
		out[i] = v
	}
	return out, nil
}

func nearest(src *MaskedImage, points []geometry.Point2D) ([]float64, error) {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = src.At(int(math.Round(p.X)), int(math.Round(p.Y)))
	}
	return out, nil
}
