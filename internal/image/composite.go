package image

import (
	"image"
	"image/color"
	"image/draw"
	"math"
)

// BlendMode specifies how layers are composited.
type BlendMode int

const (
	BlendNormal BlendMode = iota
	BlendMultiply
	BlendScreen
	BlendOverlay
	BlendDifference
)

func (m BlendMode) String() string {
	switch m {
	case BlendNormal:
		return "Normal"
	case BlendMultiply:
		return "Multiply"
	case BlendScreen:
		return "Screen"
	case BlendOverlay:
		return "Overlay"
	case BlendDifference:
		return "Difference"
	default:
		return "Unknown"
	}
}

// ParseBlendMode maps a case-sensitive mode name back to a BlendMode.
func ParseBlendMode(name string) (BlendMode, bool) {
	for m := BlendNormal; m <= BlendDifference; m++ {
		if m.String() == name {
			return m, true
		}
	}
	return BlendNormal, false
}

// Composite overlays masked images of the same frame, typically a template
// and a target warped into the template frame, so residual misalignment
// shows up as colour fringes.
type Composite struct {
	Width     int
	Height    int
	Layers    []*CompositeLayer
	BackColor color.Color
}

// CompositeLayer is one tinted image in a Composite.
type CompositeLayer struct {
	Image     *MaskedImage
	Tint      color.RGBA
	BlendMode BlendMode
	Opacity   float64
}

// NewComposite creates a new Composite with the specified dimensions.
func NewComposite(width, height int) *Composite {
	return &Composite{
		Width:     width,
		Height:    height,
		BackColor: color.RGBA{0, 0, 0, 255},
	}
}

// AddLayer adds an image to the composite.
func (c *Composite) AddLayer(img *MaskedImage, tint color.RGBA, mode BlendMode, opacity float64) {
	c.Layers = append(c.Layers, &CompositeLayer{
		Image:     img,
		Tint:      tint,
		BlendMode: mode,
		Opacity:   opacity,
	})
}

// Render produces the final composited image. Only masked pixels of each
// layer contribute.
func (c *Composite) Render() *image.RGBA {
	result := image.NewRGBA(image.Rect(0, 0, c.Width, c.Height))
	draw.Draw(result, result.Bounds(), &image.Uniform{c.BackColor}, image.Point{}, draw.Src)

	for _, cl := range c.Layers {
		if cl.Image == nil {
			continue
		}
		c.compositeLayer(result, cl)
	}

	return result
}

func (c *Composite) compositeLayer(dst *image.RGBA, cl *CompositeLayer) {
	gray := cl.Image.ToGray()
	for y := 0; y < cl.Image.Height && y < c.Height; y++ {
		for x := 0; x < cl.Image.Width && x < c.Width; x++ {
			if !cl.Image.Mask.At(x, y) {
				continue
			}
			v := float64(gray.GrayAt(x, y).Y) / 255
			src := [3]float64{
				float64(cl.Tint.R) / 255 * v,
				float64(cl.Tint.G) / 255 * v,
				float64(cl.Tint.B) / 255 * v,
			}
			dst.SetRGBA(x, y, blend(dst.RGBAAt(x, y), src, cl.BlendMode, cl.Opacity))
		}
	}
}

// blend performs the blend operation between a destination pixel and a
// source colour with components in [0, 1].
func blend(dst color.RGBA, sf [3]float64, mode BlendMode, opacity float64) color.RGBA {
	df := [3]float64{float64(dst.R) / 255, float64(dst.G) / 255, float64(dst.B) / 255}

	var rf [3]float64
	for i := 0; i < 3; i++ {
		switch mode {
		case BlendMultiply:
			rf[i] = sf[i] * df[i]
		case BlendScreen:
			rf[i] = 1 - (1-sf[i])*(1-df[i])
		case BlendOverlay:
			if df[i] < 0.5 {
				rf[i] = 2 * sf[i] * df[i]
			} else {
				rf[i] = 1 - 2*(1-sf[i])*(1-df[i])
			}
		case BlendDifference:
			rf[i] = math.Abs(sf[i] - df[i])
		default:
			rf[i] = sf[i]
		}
	}

	alpha := clamp(opacity, 0, 1)
	return color.RGBA{
		R: uint8(clamp(rf[0]*alpha+df[0]*(1-alpha), 0, 1) * 255),
		G: uint8(clamp(rf[1]*alpha+df[1]*(1-alpha), 0, 1) * 255),
		B: uint8(clamp(rf[2]*alpha+df[2]*(1-alpha), 0, 1) * 255),
		A: 255,
	}
}

func clamp(x, min, max float64) float64 {
	if x < min {
		return min
	}
	if x > max {
		return max
	}
	return x
}
