package image

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"lkalign/pkg/colorutil"

	_ "golang.org/x/image/tiff"
)

// Load decodes an image file (png, jpeg or tiff) into a MaskedImage with a
// full mask. Colour images are reduced to perceptual lightness.
func Load(path string) (*MaskedImage, image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}

	return FromImage(img), img, nil
}

// FromImage converts a decoded image to a MaskedImage with values in [0, 1].
func FromImage(img image.Image) *MaskedImage {
	bounds := img.Bounds()
	out := New(bounds.Dx(), bounds.Dy())
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			out.Set(x-bounds.Min.X, y-bounds.Min.Y, colorutil.Luminance(img.At(x, y)))
		}
	}
	return out
}

// ToGray renders the image to 8 bits, stretching [min, max] to [0, 255].
func (m *MaskedImage) ToGray() *image.Gray {
	lo, hi := 0.0, 0.0
	for i, v := range m.Pix {
		if i == 0 || v < lo {
			lo = v
		}
		if i == 0 || v > hi {
			hi = v
		}
	}
	scale := 0.0
	if hi > lo {
		scale = 255 / (hi - lo)
	}

	gray := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for i, v := range m.Pix {
		gray.Pix[(i/m.Width)*gray.Stride+i%m.Width] = uint8((v-lo)*scale + 0.5)
	}
	return gray
}
