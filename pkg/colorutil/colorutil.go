// Package colorutil provides shared colour utilities: overlay tints and the
// colour-to-intensity conversion used when decoding input images.
package colorutil

import (
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// Overlay tints used when compositing a template against a warped target.
var (
	Black   = color.RGBA{R: 0, G: 0, B: 0, A: 255}
	Magenta = color.RGBA{R: 255, G: 0, B: 255, A: 255}
	Green   = color.RGBA{R: 0, G: 255, B: 0, A: 255}
)

// Luminance returns the perceptual lightness (CIE L*, 0-1) of c.
// Fully transparent pixels have zero luminance.
func Luminance(c color.Color) float64 {
	cf, ok := colorful.MakeColor(c)
	if !ok {
		return 0
	}
	l, _, _ := cf.Lab()
	return l
}

// Tint scales a tint colour by an intensity in [0, 1].
func Tint(tint color.RGBA, intensity float64) color.RGBA {
	if intensity < 0 {
		intensity = 0
	} else if intensity > 1 {
		intensity = 1
	}
	return color.RGBA{
		R: uint8(float64(tint.R) * intensity),
		G: uint8(float64(tint.G) * intensity),
		B: uint8(float64(tint.B) * intensity),
		A: 255,
	}
}
