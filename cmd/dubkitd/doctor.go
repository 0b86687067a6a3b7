package main

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AltairaLabs/DubKit/config"
	"github.com/AltairaLabs/DubKit/media"
	"github.com/AltairaLabs/DubKit/separation"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that external tools are available",
	Long: `doctor probes the external programs the server shells out to (ffmpeg,
ffprobe, the separation helper) and reports their versions. It exits
non-zero when any required tool is missing or too old.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := config.FromEnv()
		toolkit := media.NewToolkit(media.Config{
			FFmpegPath:  cfg.Spec.Media.FFmpegBin,
			FFprobePath: cfg.Spec.Media.FFprobeBin,
		})

		healthy := true
		for _, status := range toolkit.CheckTools(cmd.Context()) {
			if status.OK() {
				fmt.Printf("ok    %-8s %s (%s)\n", status.Name, status.Version, status.Path)
			} else {
				healthy = false
				fmt.Printf("FAIL  %-8s %v\n", status.Name, status.Err)
			}
		}

		command := cfg.Spec.Separator.Command
		if command == "" {
			command = separation.DefaultCommand
		}
		helper := strings.Fields(command)[0]
		if path, err := exec.LookPath(helper); err == nil {
			fmt.Printf("ok    %-8s %s\n", helper, path)
		} else {
			healthy = false
			fmt.Printf("FAIL  %-8s not found in PATH\n", helper)
		}

		if !healthy {
			return fmt.Errorf("environment is not ready")
		}
		return nil
	},
}
