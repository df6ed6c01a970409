package app

import (
	"encoding/json"
	goimage "image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"lkalign/internal/alignment"
	"lkalign/internal/config"
	"lkalign/internal/image"
	"lkalign/internal/synth"
	"lkalign/pkg/geometry"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeGray quantises img with a fixed range so that template and target
// stay related by the same pointwise mapping.
func writeGray(t *testing.T, path string, img *image.MaskedImage) {
	t.Helper()
	const lo, hi = -1.0, 2.0
	gray := goimage.NewGray(goimage.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			v := (img.At(x, y) - lo) / (hi - lo) * 255
			gray.Pix[y*gray.Stride+x] = uint8(math.Max(0, math.Min(255, math.Round(v))))
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, gray))
	require.NoError(t, f.Close())
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	sc, err := synth.Build(synth.DefaultConfig())
	require.NoError(t, err)

	dir := t.TempDir()
	cfg := &config.Config{
		Variant:       "IC",
		Transform:     "translation",
		Optimisation:  config.Optimisation{Method: "GN"},
		Interpolation: image.DefaultInterpolation,
		Eps:           alignment.DefaultEps,
		MaxIterations: 30,
		Template:      filepath.Join(dir, "template.png"),
		Image:         filepath.Join(dir, "image.png"),
		Mask:          config.Mask{Rect: []int{8, 8, 32, 32}},
		Initial:       []float64{20.4, 16.7},
		Preview:       filepath.Join(dir, "preview.png"),
		Overlay:       filepath.Join(dir, "overlay.png"),
		Result:        filepath.Join(dir, "result.json"),
		LogLevel:      "info",
	}
	writeGray(t, cfg.Template, sc.Template)
	writeGray(t, cfg.Image, sc.Target)
	return cfg
}

func TestSessionRun(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, cfg.Validate())

	s := NewSession(cfg, zerolog.Nop())
	var loaded, written []string
	var complete int
	s.On(EventImageLoaded, func(data interface{}) { loaded = append(loaded, data.(string)) })
	s.On(EventOutputWritten, func(data interface{}) { written = append(written, data.(string)) })
	s.On(EventAlignmentComplete, func(interface{}) { complete++ })

	require.NoError(t, s.Run())

	assert.Equal(t, []string{cfg.Template, cfg.Image}, loaded)
	assert.Equal(t, []string{cfg.Preview, cfg.Overlay, cfg.Result}, written)
	assert.Equal(t, 1, complete)
	assert.InDeltaSlice(t, []float64{20, 17}, s.Fitting.FinalParameters(), 1e-3)
	assert.Equal(t, 32*32, s.Template.Mask.Count())

	f, err := os.Open(cfg.Overlay)
	require.NoError(t, err)
	defer f.Close()
	overlay, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, goimage.Rect(0, 0, 48, 48), overlay.Bounds())

	data, err := os.ReadFile(cfg.Result)
	require.NoError(t, err)
	var res ResultFile
	require.NoError(t, json.Unmarshal(data, &res))
	assert.Equal(t, "IC", res.Variant)
	assert.Equal(t, "GN", res.Optimisation)
	assert.True(t, res.Converged)
	assert.Equal(t, res.Iterations+1, len(res.Parameters))
	assert.Equal(t, []float64{20.4, 16.7}, res.Parameters[0])
}

func TestSessionPreviewMatchesTemplateFrame(t *testing.T) {
	cfg := testConfig(t)
	cfg.Overlay, cfg.Result = "", ""
	s := NewSession(cfg, zerolog.Nop())
	require.NoError(t, s.Run())

	f, err := os.Open(cfg.Preview)
	require.NoError(t, err)
	defer f.Close()
	preview, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, goimage.Rect(0, 0, 48, 48), preview.Bounds())
}

func TestAlignBeforeLoad(t *testing.T) {
	s := NewSession(testConfig(t), zerolog.Nop())
	_, err := s.Align()
	assert.Error(t, err)
	assert.Error(t, s.WriteOverlay(filepath.Join(t.TempDir(), "o.png")))
	assert.Error(t, s.SaveResult(filepath.Join(t.TempDir(), "r.json")))
}

func TestComponentSizeMismatch(t *testing.T) {
	cfg := testConfig(t)
	cfg.Variant = "POIC"
	// The target is larger than the template frame.
	cfg.Appearance.Components = []string{cfg.Image}

	s := NewSession(cfg, zerolog.Nop())
	err := s.LoadImages()
	assert.ErrorIs(t, err, alignment.ErrDimensionMismatch)
}

func TestEmptyMaskIsRejected(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mask = config.Mask{Rect: []int{100, 100, 4, 4}}

	s := NewSession(cfg, zerolog.Nop())
	assert.ErrorIs(t, s.LoadImages(), alignment.ErrInvalidConfiguration)
}

func TestConverged(t *testing.T) {
	assert.False(t, Converged(&alignment.Fitting{}, 1e-6))
	assert.True(t, Converged(&alignment.Fitting{DeltaNorms: []float64{1, 1e-7}}, 1e-6))
	assert.False(t, Converged(&alignment.Fitting{DeltaNorms: []float64{1, 1e-3}}, 1e-6))
}

func TestSessionInitialisesFromLandmarks(t *testing.T) {
	cfg := testConfig(t)
	cfg.Initial = nil
	cfg.Landmarks = config.Landmarks{
		Template: []geometry.Point2D{{X: 10, Y: 10}, {X: 38, Y: 12}, {X: 20, Y: 36}},
		Image:    []geometry.Point2D{{X: 30.4, Y: 26.7}, {X: 58.4, Y: 28.7}, {X: 40.4, Y: 52.7}},
	}
	require.NoError(t, cfg.Validate())

	s := NewSession(cfg, zerolog.Nop())
	require.NoError(t, s.Run())
	assert.InDeltaSlice(t, []float64{20.4, 16.7}, s.Fitting.InitialParameters(), 1e-9)
	assert.InDeltaSlice(t, []float64{20, 17}, s.Fitting.FinalParameters(), 1e-3)
}
