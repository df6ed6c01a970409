// Command aligntest runs every alignment variant with Gauss-Newton and
// Levenberg-Marquardt updates on a synthetic problem with a known warp and
// prints how close each run gets.
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"lkalign/internal/alignment"
	"lkalign/internal/appearance"
	"lkalign/internal/image/cvinterp"
	"lkalign/internal/logger"
	"lkalign/internal/residual"
	"lkalign/internal/synth"
	"lkalign/internal/transform"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"
	"gonum.org/v1/gonum/floats"
)

func main() {
	kind := flag.StringP("transform", "t", "affine", "warp: translation, similarity or affine")
	offset := flag.Float64P("offset", "o", 0.5, "translation error of the starting point in pixels")
	linear := flag.Float64P("linear", "l", 0.01, "error of the linear warp parameters at the start")
	brightness := flag.Float64("brightness", 0.3, "constant appearance change for project-out variants")
	ramp := flag.Float64("ramp", 0.5, "horizontal ramp appearance change for project-out variants")
	iters := flag.IntP("max-iterations", "n", 50, "iteration budget")
	interp := flag.StringP("interpolation", "i", "scipy", "interpolator name")
	lmStep := flag.Float64("lm-step", alignment.DefaultLMStep, "initial Levenberg-Marquardt damping")
	level := flag.String("log-level", "warn", "log level")
	flag.Parse()

	cvinterp.Register()

	log, err := logger.NewConsole(*level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	truth, start, err := problem(*kind, *offset, *linear)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Variant", "Update", "Iterations", "Final error", "Parameter error", "Time"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)

	failed := false
	for _, v := range alignment.Variants {
		for _, opt := range []alignment.Optimisation{alignment.GaussNewton(), alignment.LevenbergMarquardt(*lmStep)} {
			row, err := run(v, opt, *kind, truth, start, *brightness, *ramp, *iters, *interp, log)
			if err != nil {
				log.Error().Err(err).Str("variant", string(v)).Str("update", opt.String()).Msg("alignment failed")
				failed = true
				continue
			}
			table.Append(row)
		}
	}
	table.Render()

	if failed {
		os.Exit(1)
	}
}

// problem returns the true parameters and a perturbed starting point.
func problem(kind string, offset, linear float64) (truth, start []float64, err error) {
	switch kind {
	case "translation":
		truth = []float64{20, 17}
		start = synth.Perturb(truth, []float64{offset, -offset})
	case "similarity":
		truth = []float64{0, 0, 20, 17}
		start = synth.Perturb(truth, []float64{linear, -linear, offset, -offset})
	case "affine":
		truth = []float64{0, 0, 0, 0, 20, 17}
		start = synth.Perturb(truth, []float64{linear, -linear, linear / 2, linear, offset, -offset})
	default:
		return nil, nil, fmt.Errorf("unknown transform %q", kind)
	}
	return truth, start, nil
}

func run(v alignment.Variant, opt alignment.Optimisation, kind string, truth, start []float64,
	brightness, ramp float64, iters int, interp string, log zerolog.Logger) ([]string, error) {
	cfg := synth.DefaultConfig()
	cfg.Transform = kind
	cfg.Truth = truth
	if v.ProjectsOut() {
		cfg.Brightness = brightness
		cfg.Ramp = ramp
	}
	sc, err := synth.Build(cfg)
	if err != nil {
		return nil, err
	}

	t, err := transform.New(kind, nil)
	if err != nil {
		return nil, err
	}
	var model alignment.AppearanceModel
	if v.ProjectsOut() {
		m, err := appearance.NewModel(sc.Template, sc.Basis)
		if err != nil {
			return nil, err
		}
		model = m
	}

	a, err := alignment.New(v, sc.Template, model, residual.NewLSIntensity(), t,
		alignment.WithOptimisation(opt),
		alignment.WithInterpolation(interp),
		alignment.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	began := time.Now()
	fit, err := a.Align(sc.Target, start, iters)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(began)

	diff := make([]float64, len(truth))
	floats.SubTo(diff, fit.FinalParameters(), truth)
	finalErr := 0.0
	if n := len(fit.Errors); n > 0 {
		finalErr = fit.Errors[n-1]
	}

	return []string{
		string(v),
		opt.String(),
		strconv.Itoa(fit.NIters()),
		strconv.FormatFloat(finalErr, 'e', 3, 64),
		strconv.FormatFloat(floats.Norm(diff, 2), 'e', 3, 64),
		elapsed.Round(time.Microsecond).String(),
	}, nil
}
