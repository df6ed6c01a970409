package image

import (
	"fmt"
	"image"

	"lkalign/pkg/geometry"

	"golang.org/x/image/draw"
)

// Preview renders src into a width x height frame through warp, which maps
// frame coordinates to src coordinates (the same direction as WarpTo). It is
// meant for visual inspection; alignment itself never reads the result.
func Preview(src image.Image, width, height int, warp geometry.AffineTransform) (*image.RGBA, error) {
	s2d, ok := warp.Inverse()
	if !ok {
		return nil, fmt.Errorf("warp is not invertible")
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Transform(dst, s2d.Aff3(), src, src.Bounds(), draw.Src, nil)
	return dst, nil
}
