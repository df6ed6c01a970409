// Package app runs one alignment job end to end: loading the inputs named
// by a configuration, building the aligner, running it and writing the
// results. Progress is reported to registered event listeners.
package app

import (
	"encoding/json"
	goimage "image"
	"image/png"
	"os"
	"sync"

	"lkalign/internal/alignment"
	"lkalign/internal/appearance"
	"lkalign/internal/config"
	"lkalign/internal/image"
	"lkalign/internal/residual"
	"lkalign/internal/transform"
	"lkalign/pkg/colorutil"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// EventType identifies session events.
type EventType int

const (
	EventImageLoaded EventType = iota
	EventModelBuilt
	EventAlignmentComplete
	EventOutputWritten
)

// EventListener is called when an event occurs.
type EventListener func(data interface{})

// Session holds the inputs and the outcome of one alignment job.
type Session struct {
	mu sync.RWMutex

	Config *config.Config

	Template *image.MaskedImage
	Image    *image.MaskedImage
	// source is the decoded target, kept for colour previews.
	source goimage.Image

	Model     *appearance.Model
	Transform transform.Transform
	Fitting   *alignment.Fitting

	log       zerolog.Logger
	listeners map[EventType][]EventListener
}

// NewSession creates a session for cfg. cfg must already be validated.
func NewSession(cfg *config.Config, log zerolog.Logger) *Session {
	return &Session{
		Config:    cfg,
		log:       log.With().Str("component", "session").Logger(),
		listeners: make(map[EventType][]EventListener),
	}
}

// On registers an event listener for the specified event type.
func (s *Session) On(event EventType, listener EventListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[event] = append(s.listeners[event], listener)
}

// Emit triggers all listeners for the specified event type.
func (s *Session) Emit(event EventType, data interface{}) {
	s.mu.RLock()
	listeners := s.listeners[event]
	s.mu.RUnlock()

	for _, listener := range listeners {
		listener(data)
	}
}

// LoadImages loads the template (masked as configured), the target image
// and, for project-out variants, the appearance basis.
func (s *Session) LoadImages() error {
	cfg := s.Config

	tmpl, _, err := image.Load(cfg.Template)
	if err != nil {
		return errors.Wrap(err, "load template")
	}
	tmpl, err = tmpl.WithMask(cfg.Mask.BuildMask(tmpl.Width, tmpl.Height))
	if err != nil {
		return errors.Wrap(err, "mask template")
	}
	if tmpl.Mask.Count() == 0 {
		return errors.Wrap(alignment.ErrInvalidConfiguration, "template mask selects no pixels")
	}
	s.Emit(EventImageLoaded, cfg.Template)

	img, src, err := image.Load(cfg.Image)
	if err != nil {
		return errors.Wrap(err, "load image")
	}
	s.Emit(EventImageLoaded, cfg.Image)

	var model *appearance.Model
	if len(cfg.Appearance.Components) > 0 {
		model, err = loadModel(tmpl, cfg.Appearance.Components)
		if err != nil {
			return err
		}
		s.Emit(EventModelBuilt, model.NComponents())
	}

	s.mu.Lock()
	s.Template = tmpl
	s.Image = img
	s.source = src
	s.Model = model
	s.mu.Unlock()

	s.log.Info().
		Int("template_pixels", tmpl.Mask.Count()).
		Int("image_width", img.Width).
		Int("image_height", img.Height).
		Msg("inputs loaded")
	return nil
}

// loadModel reads each component image, restricts it to the template mask
// and builds the appearance model around the template.
func loadModel(tmpl *image.MaskedImage, paths []string) (*appearance.Model, error) {
	components := make([][]float64, 0, len(paths))
	for _, path := range paths {
		c, _, err := image.Load(path)
		if err != nil {
			return nil, errors.Wrap(err, "load appearance component")
		}
		if c.Width != tmpl.Width || c.Height != tmpl.Height {
			return nil, errors.Wrapf(alignment.ErrDimensionMismatch,
				"component %s is %dx%d, template is %dx%d", path, c.Width, c.Height, tmpl.Width, tmpl.Height)
		}
		masked, err := c.WithMask(tmpl.Mask)
		if err != nil {
			return nil, err
		}
		components = append(components, masked.AsVector())
	}
	model, err := appearance.NewModel(tmpl, components)
	if err != nil {
		return nil, errors.Wrap(err, "build appearance model")
	}
	return model, nil
}

// Align builds the configured aligner and runs it.
func (s *Session) Align() (*alignment.Fitting, error) {
	cfg := s.Config

	variant, err := alignment.ParseVariant(cfg.Variant)
	if err != nil {
		return nil, err
	}
	opt, err := cfg.OptimisationSetting()
	if err != nil {
		return nil, err
	}
	t, err := transform.New(cfg.Transform, nil)
	if err != nil {
		return nil, errors.Wrap(alignment.ErrInvalidConfiguration, err.Error())
	}

	s.mu.RLock()
	tmpl, img, model := s.Template, s.Image, s.Model
	s.mu.RUnlock()
	if img == nil {
		return nil, errors.New("images are not loaded")
	}

	var am alignment.AppearanceModel
	if model != nil {
		am = model
	}
	aligner, err := alignment.New(variant, tmpl, am, residual.NewLSIntensity(), t,
		alignment.WithOptimisation(opt),
		alignment.WithInterpolation(cfg.Interpolation),
		alignment.WithEps(cfg.Eps),
		alignment.WithLogger(s.log),
	)
	if err != nil {
		return nil, err
	}

	initial := cfg.InitialParameters(t.NParameters())
	if lm := cfg.Landmarks; len(lm.Template) > 0 {
		var ransac *alignment.RANSAC
		if lm.RANSAC {
			r := alignment.DefaultRANSAC()
			ransac = &r
		}
		initial, err = alignment.InitialFromLandmarks(t, lm.Template, lm.Image, ransac)
		if err != nil {
			return nil, errors.Wrap(err, "initialise from landmarks")
		}
		s.log.Info().Floats64("initial", initial).Msg("initial warp estimated from landmarks")
	}

	fitting, err := aligner.Align(img, initial, cfg.MaxIterations)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.Transform = t
	s.Fitting = fitting
	s.mu.Unlock()

	s.Emit(EventAlignmentComplete, fitting)
	return fitting, nil
}

// WritePreview renders the source image into the template frame through
// the fitted warp and writes it as PNG.
func (s *Session) WritePreview(path string) error {
	s.mu.RLock()
	tmpl, src, t := s.Template, s.source, s.Transform
	s.mu.RUnlock()
	if t == nil {
		return errors.New("no alignment to preview")
	}

	preview, err := image.Preview(src, tmpl.Width, tmpl.Height, t.Affine())
	if err != nil {
		return errors.Wrap(err, "render preview")
	}
	return s.writePNG(path, preview)
}

// WriteOverlay writes the template in green screened with the aligned
// image in magenta. Aligned structure shows up grey or white; residual
// misalignment shows up as coloured fringes.
func (s *Session) WriteOverlay(path string) error {
	s.mu.RLock()
	tmpl, img, t := s.Template, s.Image, s.Transform
	s.mu.RUnlock()
	if t == nil {
		return errors.New("no alignment to overlay")
	}

	warped, err := img.WarpTo(tmpl.Mask, t, s.Config.Interpolation)
	if err != nil {
		return errors.Wrap(err, "warp image")
	}

	comp := image.NewComposite(tmpl.Width, tmpl.Height)
	comp.BackColor = colorutil.Black
	comp.AddLayer(tmpl, colorutil.Green, image.BlendScreen, 1)
	comp.AddLayer(warped, colorutil.Magenta, image.BlendScreen, 1)
	return s.writePNG(path, comp.Render())
}

func (s *Session) writePNG(path string, img goimage.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return errors.Wrapf(err, "encode %s", path)
	}
	if err := f.Close(); err != nil {
		return err
	}
	s.Emit(EventOutputWritten, path)
	return nil
}

// ResultFile is the JSON form of an alignment result.
type ResultFile struct {
	Variant      string      `json:"variant"`
	Transform    string      `json:"transform"`
	Optimisation string      `json:"optimisation"`
	Iterations   int         `json:"iterations"`
	Converged    bool        `json:"converged"`
	Final        []float64   `json:"final"`
	Parameters   [][]float64 `json:"parameters"`
	Errors       []float64   `json:"errors"`
	DeltaNorms   []float64   `json:"delta_norms"`
}

// SaveResult writes the trajectory of the last alignment as JSON.
func (s *Session) SaveResult(path string) error {
	s.mu.RLock()
	fit := s.Fitting
	s.mu.RUnlock()
	if fit == nil {
		return errors.New("no alignment result to save")
	}

	cfg := s.Config
	opt, err := cfg.OptimisationSetting()
	if err != nil {
		return err
	}
	res := ResultFile{
		Variant:      cfg.Variant,
		Transform:    cfg.Transform,
		Optimisation: opt.String(),
		Iterations:   fit.NIters(),
		Converged:    Converged(fit, cfg.Eps),
		Final:        fit.FinalParameters(),
		Parameters:   fit.Parameters,
		Errors:       fit.Errors,
		DeltaNorms:   fit.DeltaNorms,
	}

	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	s.Emit(EventOutputWritten, path)
	return nil
}

// Converged reports whether fit stopped on the delta norm rather than on
// the iteration budget.
func Converged(fit *alignment.Fitting, eps float64) bool {
	n := len(fit.DeltaNorms)
	return n > 0 && fit.DeltaNorms[n-1] <= eps
}

// Run loads the inputs, aligns and writes every configured output.
func (s *Session) Run() error {
	if err := s.LoadImages(); err != nil {
		return err
	}
	if _, err := s.Align(); err != nil {
		return err
	}

	cfg := s.Config
	if cfg.Preview != "" {
		if err := s.WritePreview(cfg.Preview); err != nil {
			return err
		}
	}
	if cfg.Overlay != "" {
		if err := s.WriteOverlay(cfg.Overlay); err != nil {
			return err
		}
	}
	if cfg.Result != "" {
		if err := s.SaveResult(cfg.Result); err != nil {
			return err
		}
	}
	return nil
}
