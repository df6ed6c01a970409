// Package main provides the lkalign command, which aligns an image to a
// template with one of the Lucas-Kanade variants.
package main

import (
	"fmt"
	"os"

	"lkalign/internal/image/cvinterp"
	"lkalign/internal/version"

	"github.com/spf13/cobra"
)

func main() {
	cvinterp.Register()
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "lkalign",
		Short:        "Lucas-Kanade image alignment",
		SilenceUsage: true,
	}
	cmd.AddCommand(
		alignCmd(),
		versionCmd(),
	)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
