// Package cvinterp registers OpenCV-backed interpolators (gocv.Remap) with
// the image package under the names opencv-nearest, opencv-linear and
// opencv-cubic. Sampling happens in float32.
package cvinterp

import (
	"fmt"
	"image/color"

	lkimage "lkalign/internal/image"
	"lkalign/pkg/geometry"

	"gocv.io/x/gocv"
)

// Names of the registered interpolators.
const (
	Nearest = "opencv-nearest"
	Linear  = "opencv-linear"
	Cubic   = "opencv-cubic"
)

// Register adds the OpenCV interpolators to the image package registry.
func Register() {
	lkimage.RegisterInterpolator(Nearest, remapper{flags: gocv.InterpolationNearestNeighbor})
	lkimage.RegisterInterpolator(Linear, remapper{flags: gocv.InterpolationLinear})
	lkimage.RegisterInterpolator(Cubic, remapper{flags: gocv.InterpolationCubic})
}

type remapper struct {
	flags gocv.InterpolationFlags
}

// Interpolate remaps src at the requested points. The point list is laid out
// as a single row map so one Remap call serves any number of samples.
func (r remapper) Interpolate(src *lkimage.MaskedImage, points []geometry.Point2D) ([]float64, error) {
	if len(points) == 0 {
		return nil, nil
	}
	if src.Width == 0 || src.Height == 0 {
		return nil, fmt.Errorf("empty source image")
	}

	srcMat := gocv.NewMatWithSize(src.Height, src.Width, gocv.MatTypeCV32F)
	defer srcMat.Close()
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			srcMat.SetFloatAt(y, x, float32(src.At(x, y)))
		}
	}

	mapX := gocv.NewMatWithSize(1, len(points), gocv.MatTypeCV32F)
	defer mapX.Close()
	mapY := gocv.NewMatWithSize(1, len(points), gocv.MatTypeCV32F)
	defer mapY.Close()
	for i, p := range points {
		mapX.SetFloatAt(0, i, float32(p.X))
		mapY.SetFloatAt(0, i, float32(p.Y))
	}

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Remap(srcMat, &dst, &mapX, &mapY, r.flags, gocv.BorderConstant, color.RGBA{})
	if dst.Empty() {
		return nil, fmt.Errorf("opencv remap produced no output")
	}

	out := make([]float64, len(points))
	for i := range points {
		out[i] = float64(dst.GetFloatAt(0, i))
	}
	return out, nil
}
