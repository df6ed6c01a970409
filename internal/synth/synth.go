// Package synth builds alignment problems with a known answer. Images are
// sampled from analytic scenes, so a target generated through an integer
// translation reproduces the template exactly at the true parameters and
// every variant has an exact fixed point there.
package synth

import (
	"math"

	lkimage "lkalign/internal/image"
	"lkalign/internal/transform"
	"lkalign/pkg/geometry"

	"github.com/pkg/errors"
)

// Scene is a smooth intensity function over template coordinates.
type Scene func(x, y float64) float64

// Blobs is a mix of anisotropic Gaussians and a low-frequency ripple laid
// out for a 48 x 48 template frame. Its gradients point in every direction,
// which keeps affine Hessians well conditioned.
func Blobs(x, y float64) float64 {
	g := func(cx, cy, sx, sy, amp float64) float64 {
		dx, dy := (x-cx)/sx, (y-cy)/sy
		return amp * math.Exp(-(dx*dx+dy*dy)/2)
	}
	return g(20, 22, 6, 5, 1.0) +
		g(30, 28, 4, 7, 0.8) +
		g(25, 15, 5, 3.5, -0.6) +
		0.1*math.Sin(x/7)*math.Cos(y/9)
}

// Config describes a synthetic problem.
type Config struct {
	// Scene defaults to Blobs.
	Scene Scene
	// FrameSize is the template frame edge; Margin pixels on each side are
	// left out of the mask.
	FrameSize int
	Margin    int
	// TargetSize is the target image edge.
	TargetSize int
	// Transform is translation, similarity or affine.
	Transform string
	// Truth holds the parameters mapping template coordinates into the
	// target.
	Truth []float64
	// Brightness and Ramp add the appearance change
	// Brightness + Ramp*(x - FrameSize/2)/FrameSize to the target, in
	// template coordinates.
	Brightness float64
	Ramp       float64
}

// DefaultConfig returns a translation problem with an integer offset.
func DefaultConfig() Config {
	return Config{
		Scene:      Blobs,
		FrameSize:  48,
		Margin:     8,
		TargetSize: 96,
		Transform:  "translation",
		Truth:      []float64{20, 17},
	}
}

// Scenario is a generated problem.
type Scenario struct {
	Config   Config
	Template *lkimage.MaskedImage
	Target   *lkimage.MaskedImage
	// Basis spans the appearance change (constant and x-ramp) over the
	// template's masked pixels.
	Basis [][]float64
}

// Build samples the template and target for cfg.
func Build(cfg Config) (*Scenario, error) {
	if cfg.Scene == nil {
		cfg.Scene = Blobs
	}
	if cfg.FrameSize <= 2*cfg.Margin {
		return nil, errors.Errorf("frame size %d leaves no pixels inside margin %d", cfg.FrameSize, cfg.Margin)
	}

	truth, err := transform.New(cfg.Transform, cfg.Truth)
	if err != nil {
		return nil, errors.Wrap(err, "truth transform")
	}
	inverse, ok := truth.Affine().Inverse()
	if !ok {
		return nil, errors.New("truth transform is not invertible")
	}

	size := float64(cfg.FrameSize)
	appearance := func(x, y float64) float64 {
		return cfg.Brightness + cfg.Ramp*(x-size/2)/size
	}

	mask := lkimage.RectMask(cfg.FrameSize, cfg.FrameSize, geometry.Rect{
		X: cfg.Margin, Y: cfg.Margin,
		Width: cfg.FrameSize - 2*cfg.Margin, Height: cfg.FrameSize - 2*cfg.Margin,
	})
	template, err := lkimage.FromFunc(cfg.FrameSize, cfg.FrameSize, cfg.Scene).WithMask(mask)
	if err != nil {
		return nil, err
	}

	target := lkimage.FromFunc(cfg.TargetSize, cfg.TargetSize, func(u, v float64) float64 {
		p := inverse.Apply(geometry.Point2D{X: u, Y: v})
		return cfg.Scene(p.X, p.Y) + appearance(p.X, p.Y)
	})

	pts := mask.TrueIndices()
	constant := make([]float64, len(pts))
	ramp := make([]float64, len(pts))
	for i, p := range pts {
		constant[i] = 1
		ramp[i] = (p.X - size/2) / size
	}

	return &Scenario{
		Config:   cfg,
		Template: template,
		Target:   target,
		Basis:    [][]float64{constant, ramp},
	}, nil
}

// Perturb returns truth offset by delta, for starting points near the
// answer.
func Perturb(truth, delta []float64) []float64 {
	out := append([]float64(nil), truth...)
	for i := range out {
		if i < len(delta) {
			out[i] += delta[i]
		}
	}
	return out
}
