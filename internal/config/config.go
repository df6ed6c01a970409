// Package config loads the run configuration of the lkalign command from a
// YAML file, LKALIGN_* environment variables and command line flags, in
// increasing order of precedence.
package config

import (
	"fmt"
	"reflect"
	"strings"

	"lkalign/internal/alignment"
	lkimage "lkalign/internal/image"
	"lkalign/internal/transform"
	"lkalign/pkg/geometry"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "LKALIGN"

// Optimisation selects the update rule.
type Optimisation struct {
	Method string  `mapstructure:"method" validate:"required"`
	Param  float64 `mapstructure:"param"`
}

// Mask selects the template pixels taking part in alignment. At most one
// of Rect (x, y, width, height) and Hull (landmarks whose convex hull is
// used) may be set; with neither the whole template is used.
type Mask struct {
	Rect []int             `mapstructure:"rect" validate:"omitempty,len=4"`
	Hull []geometry.Point2D `mapstructure:"hull" validate:"omitempty,min=3"`
}

// Landmarks are point correspondences between the template and the image
// from which the starting warp is estimated in place of Initial.
type Landmarks struct {
	Template []geometry.Point2D `mapstructure:"template"`
	Image    []geometry.Point2D `mapstructure:"image"`
	// RANSAC rejects outlying correspondences before the fit.
	RANSAC bool `mapstructure:"ransac"`
}

// Appearance lists the image files spanning the appearance subspace for
// project-out variants.
type Appearance struct {
	Components []string `mapstructure:"components"`
}

// Config is one alignment run.
type Config struct {
	Variant       string       `mapstructure:"variant" validate:"required"`
	Transform     string       `mapstructure:"transform" validate:"required"`
	Optimisation  Optimisation `mapstructure:"optimisation"`
	Interpolation string       `mapstructure:"interpolation" validate:"required"`
	Eps           float64      `mapstructure:"eps" validate:"gte=0"`
	MaxIterations int          `mapstructure:"max_iterations" validate:"gte=0"`
	Template      string       `mapstructure:"template" validate:"required"`
	Image         string       `mapstructure:"image" validate:"required"`
	Mask          Mask         `mapstructure:"mask"`
	Initial       []float64    `mapstructure:"initial"`
	Landmarks     Landmarks    `mapstructure:"landmarks"`
	Appearance    Appearance   `mapstructure:"appearance"`
	Preview       string       `mapstructure:"preview"`
	Overlay       string       `mapstructure:"overlay"`
	Result        string       `mapstructure:"result"`
	LogLevel      string       `mapstructure:"log_level" validate:"oneof=trace debug info warn error disabled"`
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"variant":            "variant",
	"transform":          "transform",
	"optimisation":       "optimisation.method",
	"optimisation-param": "optimisation.param",
	"interpolation":      "interpolation",
	"eps":                "eps",
	"max-iterations":     "max_iterations",
	"template":           "template",
	"image":              "image",
	"mask":               "mask.rect",
	"initial":            "initial",
	"components":         "appearance.components",
	"preview":            "preview",
	"overlay":            "overlay",
	"result":             "result",
	"log-level":          "log_level",
}

// SetDefaults installs the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("variant", string(alignment.InverseCompositional))
	v.SetDefault("transform", "affine")
	v.SetDefault("optimisation.method", string(alignment.GaussNewtonMethod))
	v.SetDefault("optimisation.param", alignment.DefaultLMStep)
	v.SetDefault("interpolation", lkimage.DefaultInterpolation)
	v.SetDefault("eps", alignment.DefaultEps)
	v.SetDefault("max_iterations", alignment.DefaultMaxIterations)
	v.SetDefault("log_level", "info")
}

// RegisterFlags adds the run flags to fs. Flags left unset do not override
// the file or the environment.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("variant", "", "alignment variant: FA, FC, IC, POFA, POFC or POIC")
	fs.String("transform", "", "warp: translation, similarity or affine")
	fs.String("optimisation", "", "update rule: GN, LM, GD or GN_lp")
	fs.Float64("optimisation-param", 0, "initial damping for LM")
	fs.String("interpolation", "", "interpolator used to resample the image")
	fs.Float64("eps", 0, "convergence threshold on the parameter delta norm")
	fs.Int("max-iterations", 0, "iteration budget")
	fs.String("template", "", "template image file")
	fs.String("image", "", "image to align")
	fs.StringSlice("mask", nil, "template mask rectangle as x,y,width,height")
	fs.StringSlice("initial", nil, "initial warp parameters")
	fs.StringSlice("components", nil, "appearance basis image files for project-out variants")
	fs.String("preview", "", "write the aligned image, resampled into the template frame, to this PNG")
	fs.String("overlay", "", "write a template/aligned overlay to this PNG")
	fs.String("result", "", "write the parameter trajectory to this JSON file")
	fs.String("log-level", "", "log level: trace, debug, info, warn, error or disabled")
}

// BindFlags binds the flags added by RegisterFlags to their keys.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return errors.Wrapf(err, "bind flag %s", name)
		}
	}
	return nil
}

// NewViper returns a viper instance with defaults and environment lookup
// configured. Nested keys map to variables with dots replaced, so
// optimisation.method is read from LKALIGN_OPTIMISATION_METHOD.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads file (when non-empty) into v, decodes the merged settings and
// validates them. No image is touched.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", file)
		}
	}

	// Environment variables are only seen by Unmarshal for keys viper
	// already knows about.
	for _, key := range []string{"template", "image", "mask.rect", "initial", "appearance.components", "preview", "overlay", "result"} {
		if err := v.BindEnv(key); err != nil {
			return nil, errors.Wrapf(err, "bind env %s", key)
		}
	}

	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToSliceHookFunc(","),
		trimSpaceHook,
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// trimSpaceHook trims list entries such as " 16" from "16, 16, 32, 32".
func trimSpaceHook(from, _ reflect.Kind, data interface{}) (interface{}, error) {
	if s, ok := data.(string); ok && from == reflect.String {
		return strings.TrimSpace(s), nil
	}
	return data, nil
}

var validate = validator.New()

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return errors.Wrap(alignment.ErrInvalidConfiguration, strings.Join(msgs, "; "))
		}
		return errors.Wrap(err, "validate config")
	}

	variant, err := alignment.ParseVariant(c.Variant)
	if err != nil {
		return err
	}
	if _, err := alignment.ParseOptimisation(c.Optimisation.Method, c.Optimisation.Param); err != nil {
		return err
	}
	t, err := transform.New(c.Transform, nil)
	if err != nil {
		return errors.Wrap(alignment.ErrInvalidConfiguration, err.Error())
	}
	if _, err := lkimage.LookupInterpolator(c.Interpolation); err != nil {
		return errors.Wrap(alignment.ErrInvalidConfiguration, err.Error())
	}
	if len(c.Initial) > 0 && len(c.Initial) != t.NParameters() {
		return errors.Wrapf(alignment.ErrDimensionMismatch, "initial has %d entries, %s transform has %d", len(c.Initial), c.Transform, t.NParameters())
	}
	if n := len(c.Landmarks.Template); n > 0 || len(c.Landmarks.Image) > 0 {
		if n != len(c.Landmarks.Image) {
			return errors.Wrapf(alignment.ErrDimensionMismatch, "%d template landmarks, %d image landmarks", n, len(c.Landmarks.Image))
		}
		if len(c.Initial) > 0 {
			return errors.Wrap(alignment.ErrInvalidConfiguration, "initial and landmarks are mutually exclusive")
		}
	}
	if len(c.Mask.Rect) > 0 && len(c.Mask.Hull) > 0 {
		return errors.Wrap(alignment.ErrInvalidConfiguration, "mask.rect and mask.hull are mutually exclusive")
	}
	if len(c.Mask.Rect) == 4 && (c.Mask.Rect[2] <= 0 || c.Mask.Rect[3] <= 0) {
		return errors.Wrapf(alignment.ErrInvalidConfiguration, "mask rectangle %v has no area", c.Mask.Rect)
	}
	if variant.ProjectsOut() && len(c.Appearance.Components) == 0 {
		return errors.Wrapf(alignment.ErrInvalidConfiguration, "%s needs appearance.components", variant)
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if idx := strings.Index(field, "."); idx != -1 {
		field = field[idx+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	default:
		return fmt.Sprintf("%s has invalid value %v (%s=%s)", field, fe.Value(), fe.Tag(), fe.Param())
	}
}

// BuildMask returns the alignment mask for a template of the given size.
func (m Mask) BuildMask(width, height int) *lkimage.BooleanMask {
	switch {
	case len(m.Rect) == 4:
		return lkimage.RectMask(width, height, geometry.Rect{X: m.Rect[0], Y: m.Rect[1], Width: m.Rect[2], Height: m.Rect[3]})
	case len(m.Hull) >= 3:
		return lkimage.HullMask(width, height, m.Hull)
	default:
		return lkimage.NewBooleanMask(width, height)
	}
}

// InitialParameters returns the configured start vector, or zeros (the
// identity warp) when none was given.
func (c *Config) InitialParameters(n int) []float64 {
	if len(c.Initial) == 0 {
		return make([]float64, n)
	}
	return append([]float64(nil), c.Initial...)
}

// OptimisationSetting returns the parsed update rule configuration.
func (c *Config) OptimisationSetting() (alignment.Optimisation, error) {
	return alignment.ParseOptimisation(c.Optimisation.Method, c.Optimisation.Param)
}
