package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"lkalign/internal/alignment"
	"lkalign/internal/app"
	"lkalign/internal/config"
	"lkalign/internal/logger"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func alignCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "align",
		Short: "Align an image to a template",
		Long: `Align an image to a template with a Lucas-Kanade variant.

Settings are read from the optional --config YAML file, then from LKALIGN_*
environment variables (LKALIGN_OPTIMISATION_METHOD for optimisation.method),
then from flags.

Example run.yaml:

  variant: IC
  transform: affine
  optimisation:
    method: LM
    param: 0.001
  template: template.png
  image: frame.tif
  mask:
    rect: [16, 16, 96, 64]
  max_iterations: 50
  overlay: overlay.png
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := config.NewViper()
			if err := config.BindFlags(v, cmd.Flags()); err != nil {
				return err
			}
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			log, err := logger.NewConsole(cfg.LogLevel)
			if err != nil {
				return err
			}

			s := app.NewSession(cfg, log)
			s.On(app.EventOutputWritten, func(data interface{}) {
				log.Info().Str("path", data.(string)).Msg("output written")
			})
			if err := s.Run(); err != nil {
				log.Error().Err(err).Msg("alignment failed")
				return err
			}
			printFitting(cmd.OutOrStdout(), s.Fitting, cfg.Eps)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "YAML run configuration")
	config.RegisterFlags(cmd.Flags())
	return cmd
}

// printFitting writes the parameter trajectory as a table followed by the
// final parameters.
func printFitting(w io.Writer, fit *alignment.Fitting, eps float64) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Iteration", "Parameters", "Error", "Delta norm"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	table.Append([]string{"0", formatVector(fit.InitialParameters()), "", ""})
	for i := range fit.Errors {
		table.Append([]string{
			strconv.Itoa(i + 1),
			formatVector(fit.Parameters[i+1]),
			strconv.FormatFloat(fit.Errors[i], 'g', 6, 64),
			strconv.FormatFloat(fit.DeltaNorms[i], 'g', 6, 64),
		})
	}
	table.Render()

	status := "iteration budget spent"
	if app.Converged(fit, eps) {
		status = "converged"
	}
	fmt.Fprintf(w, "%s after %d iterations\nfinal: %s\n", status, fit.NIters(), formatVector(fit.FinalParameters()))
}

func formatVector(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(x, 'f', 6, 64)
	}
	return strings.Join(parts, ", ")
}
