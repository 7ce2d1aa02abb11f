package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/example/go-int8api/internal/doctor"
	"github.com/example/go-int8api/internal/onnx"
	"github.com/example/go-int8api/internal/ppm"
	"github.com/spf13/cobra"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run local runtime, model and data file checks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "cpu: %s\n", onnx.CPUDescription())

			dcfg := doctor.Config{
				RuntimeVersion: func() (string, error) {
					info, err := onnx.DetectRuntime(cfg.Runtime)
					if err != nil {
						return "", err
					}
					return fmt.Sprintf("%s (%s)", info.Version, info.LibraryPath), nil
				},
				FastInt8:  onnx.PlatformHasFastInt8,
				Paths:     cfg.Paths,
				Inference: cfg.Inference,
				Image:     ppm.DefaultParams(),
			}

			result := doctor.Run(cmd.Context(), dcfg, out)

			if result.Failed() {
				for _, f := range result.Failures() {
					// #nosec G705 -- Writes plain diagnostic text to stderr for CLI output, not HTML rendering.
					fmt.Fprintf(os.Stderr, "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(out, "doctor checks passed")

			return nil
		},
	}

	return cmd
}
