package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/example/go-int8api/internal/config"
	"github.com/example/go-int8api/internal/network"
	"github.com/example/go-int8api/internal/onnx"
	"github.com/spf13/cobra"
)

func newTensorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tensors",
		Short: "Write the network tensor names used to author a dynamic range file",
		Long: "Writes one \"TensorName: <name>\" line per network input and layer\n" +
			"output to --network-tensors-file (\"-\" for stdout).",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			modelPath, err := config.LocateFile(cfg.Paths.Model, cfg.Paths.DataDirs)
			if err != nil {
				return fmt.Errorf("locate model: %w", err)
			}

			return writeTensorListing(modelPath, cfg.Paths.NetworkTensors, cmd.OutOrStdout())
		},
	}
}

// writeTensorListing writes the listing for the model at modelPath to out, or
// to stdout when out is "-".
func writeTensorListing(modelPath, out string, stdout io.Writer) error {
	g, err := onnx.ParseGraph(modelPath)
	if err != nil {
		return err
	}

	if out == "-" || out == "" {
		return network.WriteTensorNames(stdout, g)
	}

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("unable to open network tensors file: %w", err)
	}

	if err := network.WriteTensorNames(f, g); err != nil {
		_ = f.Close()
		return fmt.Errorf("write network tensors: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	slog.Info("wrote network tensor names", "path", out, "tensors", len(network.TensorNames(g)))

	return nil
}
