package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/example/go-int8api/internal/config"
	"github.com/example/go-int8api/internal/dynrange"
	"github.com/example/go-int8api/internal/network"
	"github.com/example/go-int8api/internal/onnx"
	"github.com/spf13/cobra"
)

func newRangesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ranges",
		Short: "Author, check and convert dynamic range files",
	}

	cmd.AddCommand(newRangesTemplateCmd())
	cmd.AddCommand(newRangesCheckCmd())
	cmd.AddCommand(newRangesExportCacheCmd())
	cmd.AddCommand(newRangesImportCacheCmd())

	return cmd
}

func newRangesTemplateCmd() *cobra.Command {
	var (
		listing string
		value   float64
		out     string
	)

	cmd := &cobra.Command{
		Use:   "template",
		Short: "Write a name:value range file covering every network tensor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			var names []string
			if listing != "" {
				names, err = readListing(listing)
			} else {
				names, err = modelTensorNames(cfg)
			}
			if err != nil {
				return err
			}

			if value == 0 {
				value = cfg.Inference.DefaultRange
			}
			if !(value > 0) {
				return fmt.Errorf("%w: template value must be positive, got %v", config.ErrInvalidOptions, value)
			}

			for _, name := range names {
				if strings.Contains(name, ":") {
					slog.Warn("tensor name contains ':' and cannot be expressed in a range file", "tensor", name)
				}
			}

			return writeOutput(out, cmd.OutOrStdout(), func(w io.Writer) error {
				return network.WriteRangeTemplate(w, names, value)
			})
		},
	}

	cmd.Flags().StringVar(&listing, "from-listing", "", "Read tensor names from a TensorName listing instead of the model")
	cmd.Flags().Float64Var(&value, "value", 0, "Range written for every tensor (defaults to --default-range)")
	cmd.Flags().StringVarP(&out, "output", "o", "-", "Output file (\"-\" for stdout)")

	return cmd
}

func newRangesCheckCmd() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report which network tensors the range file covers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			names, err := modelTensorNames(cfg)
			if err != nil {
				return err
			}

			table, err := loadRanges(cfg)
			if err != nil {
				return err
			}

			covered, missing := network.Coverage(names, table)
			unused := unusedEntries(names, table)

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "covered: %d/%d tensors\n", len(covered), len(names))
			for _, name := range missing {
				fmt.Fprintf(w, "missing: %s (default %g)\n", name, cfg.Inference.DefaultRange)
			}
			for _, name := range unused {
				fmt.Fprintf(w, "unused: %s\n", name)
			}

			if strict && len(missing) > 0 {
				return fmt.Errorf("%d tensors have no dynamic range", len(missing))
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Fail when any tensor is missing from the range file")

	return cmd
}

func newRangesExportCacheCmd() *cobra.Command {
	var (
		header string
		out    string
	)

	cmd := &cobra.Command{
		Use:   "export-cache",
		Short: "Convert the range file into a calibration cache",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			table, err := loadRanges(cfg)
			if err != nil {
				return err
			}

			return writeOutput(out, cmd.OutOrStdout(), func(w io.Writer) error {
				return dynrange.WriteCalibrationCache(w, table, header)
			})
		},
	}

	cmd.Flags().StringVar(&header, "header", dynrange.DefaultCacheHeader, "First line of the calibration cache")
	cmd.Flags().StringVarP(&out, "output", "o", "-", "Output file (\"-\" for stdout)")

	return cmd
}

func newRangesImportCacheCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "import-cache <cache-file>",
		Short: "Convert a calibration cache into a range file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open calibration cache: %w", err)
			}
			defer f.Close()

			table, err := dynrange.ReadCalibrationCache(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			return writeOutput(out, cmd.OutOrStdout(), table.Write)
		},
	}

	cmd.Flags().StringVarP(&out, "output", "o", "-", "Output file (\"-\" for stdout)")

	return cmd
}

func modelTensorNames(cfg config.Config) ([]string, error) {
	modelPath, err := config.LocateFile(cfg.Paths.Model, cfg.Paths.DataDirs)
	if err != nil {
		return nil, fmt.Errorf("locate model: %w", err)
	}

	g, err := onnx.ParseGraph(modelPath)
	if err != nil {
		return nil, err
	}

	return network.TensorNames(g), nil
}

func loadRanges(cfg config.Config) (*dynrange.Table, error) {
	table, _, err := dynrange.Locate(cfg.Paths.Ranges, cfg.Paths.DataDirs)
	return table, err
}

func readListing(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tensor listing: %w", err)
	}
	defer f.Close()

	names, err := network.ReadTensorNames(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if len(names) == 0 {
		return nil, errors.New("tensor listing is empty")
	}

	return names, nil
}

// unusedEntries lists table names that match no network tensor.
func unusedEntries(names []string, table *dynrange.Table) []string {
	known := make(map[string]struct{}, len(names))
	for _, n := range names {
		known[n] = struct{}{}
	}

	var out []string
	for _, n := range table.Names() {
		if _, ok := known[n]; !ok {
			out = append(out, n)
		}
	}

	return out
}

// writeOutput runs fn against path, or stdout when path is "-".
func writeOutput(path string, stdout io.Writer, fn func(io.Writer) error) error {
	if path == "-" || path == "" {
		return fn(stdout)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := fn(f); err != nil {
		_ = f.Close()
		return err
	}

	return f.Close()
}
