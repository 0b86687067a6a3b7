package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/AltairaLabs/DubKit/version"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "dubkitd",
	Short:         "DubKit audio dubbing server",
	Version:       version.GetVersion(),
	SilenceUsage:  true,
	SilenceErrors: false,
	Long: `dubkitd retargets spoken audio into a new language: it separates the
original track into vocals and background, synthesizes the translated
transcript with per-speaker voice cloning, and mixes the result back over
the original background on the original timeline.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to a ServerConfig manifest (YAML)")
	rootCmd.SetVersionTemplate(version.GetVersionInfo() + "\n")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(doctorCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
