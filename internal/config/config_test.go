package config

import (
	"os"
	"path/filepath"
	"testing"

	"lkalign/internal/alignment"
	"lkalign/pkg/geometry"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const runFile = `
variant: FC
transform: translation
optimisation:
  method: LM
  param: 0.01
eps: 1.0e-5
max_iterations: 30
template: template.png
image: image.tif
mask:
  rect: [16, 16, 32, 32]
initial: [20, 17]
log_level: debug
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(NewViper(), writeFile(t, "run.yaml", runFile))
	require.NoError(t, err)

	assert.Equal(t, "FC", cfg.Variant)
	assert.Equal(t, "translation", cfg.Transform)
	assert.Equal(t, Optimisation{Method: "LM", Param: 0.01}, cfg.Optimisation)
	assert.Equal(t, 1e-5, cfg.Eps)
	assert.Equal(t, 30, cfg.MaxIterations)
	assert.Equal(t, []int{16, 16, 32, 32}, cfg.Mask.Rect)
	assert.Equal(t, []float64{20, 17}, cfg.Initial)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "scipy", cfg.Interpolation)
}

func TestDefaults(t *testing.T) {
	v := NewViper()
	v.Set("template", "t.png")
	v.Set("image", "i.png")
	cfg, err := Load(v, "")
	require.NoError(t, err)

	assert.Equal(t, string(alignment.InverseCompositional), cfg.Variant)
	assert.Equal(t, "affine", cfg.Transform)
	assert.Equal(t, "GN", cfg.Optimisation.Method)
	assert.Equal(t, alignment.DefaultEps, cfg.Eps)
	assert.Equal(t, alignment.DefaultMaxIterations, cfg.MaxIterations)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, make([]float64, 6), cfg.InitialParameters(6))
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("LKALIGN_VARIANT", "IC")
	t.Setenv("LKALIGN_OPTIMISATION_METHOD", "GN")
	t.Setenv("LKALIGN_MASK_RECT", "8, 8, 16, 16")

	cfg, err := Load(NewViper(), writeFile(t, "run.yaml", runFile))
	require.NoError(t, err)
	assert.Equal(t, "IC", cfg.Variant)
	assert.Equal(t, "GN", cfg.Optimisation.Method)
	assert.Equal(t, []int{8, 8, 16, 16}, cfg.Mask.Rect)
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("LKALIGN_VARIANT", "IC")

	fs := pflag.NewFlagSet("align", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--variant", "FA", "--initial", "19.5,17", "--max-iterations", "7"}))

	v := NewViper()
	require.NoError(t, BindFlags(v, fs))
	cfg, err := Load(v, writeFile(t, "run.yaml", runFile))
	require.NoError(t, err)

	assert.Equal(t, "FA", cfg.Variant)
	assert.Equal(t, []float64{19.5, 17}, cfg.Initial)
	assert.Equal(t, 7, cfg.MaxIterations)
	// Unset flags leave the file values alone.
	assert.Equal(t, "translation", cfg.Transform)
	assert.Equal(t, 1e-5, cfg.Eps)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Variant:       "IC",
			Transform:     "affine",
			Optimisation:  Optimisation{Method: "GN"},
			Interpolation: "scipy",
			Eps:           1e-6,
			MaxIterations: 20,
			Template:      "t.png",
			Image:         "i.png",
			LogLevel:      "info",
		}
	}
	c := valid()
	require.NoError(t, c.Validate())

	for name, tc := range map[string]struct {
		mutate func(*Config)
		want   error
	}{
		"missing template":   {func(c *Config) { c.Template = "" }, alignment.ErrInvalidConfiguration},
		"negative eps":       {func(c *Config) { c.Eps = -1 }, alignment.ErrInvalidConfiguration},
		"unknown variant":    {func(c *Config) { c.Variant = "ESM" }, alignment.ErrInvalidConfiguration},
		"unknown method":     {func(c *Config) { c.Optimisation.Method = "BFGS" }, alignment.ErrInvalidConfiguration},
		"unknown transform":  {func(c *Config) { c.Transform = "homography" }, alignment.ErrInvalidConfiguration},
		"unknown interp":     {func(c *Config) { c.Interpolation = "lanczos" }, alignment.ErrInvalidConfiguration},
		"bad log level":      {func(c *Config) { c.LogLevel = "loud" }, alignment.ErrInvalidConfiguration},
		"short rect":         {func(c *Config) { c.Mask.Rect = []int{1, 2, 3} }, alignment.ErrInvalidConfiguration},
		"empty rect":         {func(c *Config) { c.Mask.Rect = []int{1, 2, 0, 3} }, alignment.ErrInvalidConfiguration},
		"initial length":     {func(c *Config) { c.Initial = []float64{1, 2} }, alignment.ErrDimensionMismatch},
		"po needs basis":     {func(c *Config) { c.Variant = "POIC" }, alignment.ErrInvalidConfiguration},
		"negative lm step":   {func(c *Config) { c.Optimisation = Optimisation{Method: "LM", Param: -1} }, alignment.ErrInvalidConfiguration},
		"rect and hull both": {func(c *Config) { c.Mask.Rect = []int{0, 0, 4, 4}; c.Mask.Hull = hull() }, alignment.ErrInvalidConfiguration},
	} {
		t.Run(name, func(t *testing.T) {
			c := valid()
			tc.mutate(&c)
			assert.ErrorIs(t, c.Validate(), tc.want)
		})
	}
}

func TestValidationMessageNamesField(t *testing.T) {
	c := Config{Variant: "IC", Transform: "affine", Optimisation: Optimisation{Method: "GN"}, Interpolation: "scipy", LogLevel: "info", Image: "i.png"}
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Template is required")
}

func hull() []geometry.Point2D {
	return []geometry.Point2D{{X: 2, Y: 2}, {X: 10, Y: 2}, {X: 6, Y: 9}}
}

func TestBuildMask(t *testing.T) {
	full := Mask{}.BuildMask(8, 6)
	assert.Equal(t, 48, full.Count())

	rect := Mask{Rect: []int{1, 1, 3, 2}}.BuildMask(8, 6)
	assert.Equal(t, 6, rect.Count())
	assert.True(t, rect.At(1, 1))
	assert.False(t, rect.At(0, 0))

	tri := Mask{Hull: hull()}.BuildMask(12, 12)
	assert.True(t, tri.At(6, 4))
	assert.False(t, tri.At(0, 11))
}

func TestHullFromFile(t *testing.T) {
	cfg, err := Load(NewViper(), writeFile(t, "run.yaml", `
template: t.png
image: i.png
mask:
  hull:
    - {x: 2, y: 2}
    - {x: 10, y: 2}
    - {x: 6, y: 9}
`))
	require.NoError(t, err)
	assert.Equal(t, hull(), cfg.Mask.Hull)
}

func TestLandmarks(t *testing.T) {
	cfg, err := Load(NewViper(), writeFile(t, "run.yaml", `
template: t.png
image: i.png
transform: translation
landmarks:
  ransac: true
  template:
    - {x: 8, y: 8}
    - {x: 40, y: 40}
  image:
    - {x: 28, y: 25}
    - {x: 60, y: 57}
`))
	require.NoError(t, err)
	assert.True(t, cfg.Landmarks.RANSAC)
	assert.Len(t, cfg.Landmarks.Template, 2)

	cfg.Landmarks.Image = cfg.Landmarks.Image[:1]
	assert.ErrorIs(t, cfg.Validate(), alignment.ErrDimensionMismatch)

	cfg.Landmarks.Image = cfg.Landmarks.Template
	cfg.Initial = []float64{1, 2}
	assert.ErrorIs(t, cfg.Validate(), alignment.ErrInvalidConfiguration)
}
