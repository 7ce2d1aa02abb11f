package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/example/go-int8api/internal/config"
	"github.com/example/go-int8api/internal/dynrange"
	"github.com/example/go-int8api/internal/labels"
	"github.com/example/go-int8api/internal/onnx"
	"github.com/example/go-int8api/internal/ppm"
	"github.com/example/go-int8api/internal/rank"
	"github.com/example/go-int8api/internal/report"
	"github.com/spf13/cobra"
)

type runOptions struct {
	format       string
	expect       string
	writeTensors bool
}

// classifier is the part of *onnx.Engine the run command drives.
type classifier interface {
	Infer(ctx context.Context, activations []float32) ([]float32, error)
	Input() onnx.ValueInfo
	Precision() config.Precision
	Device() string
	Close()
}

var buildEngine = func(ctx context.Context, opts onnx.BuildOptions) (classifier, error) {
	e, err := onnx.Build(ctx, opts)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func newRunCmd() *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Classify one image and print the Top-K and Bottom-K predictions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			return runClassify(cmd.Context(), cfg, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.format, "format", "text", "Output format (text|json|yaml)")
	cmd.Flags().StringVar(&opts.expect, "expect", "", "Fail unless the top-1 label equals this value")
	cmd.Flags().BoolVar(&opts.writeTensors, "write-tensors", false, "Write the network tensor names to --network-tensors-file and exit")

	return cmd
}

func runClassify(ctx context.Context, cfg config.Config, opts runOptions, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	format, err := report.ParseFormat(opts.format)
	if err != nil {
		return err
	}

	if opts.writeTensors {
		modelPath, err := config.LocateFile(cfg.Paths.Model, cfg.Paths.DataDirs)
		if err != nil {
			return fmt.Errorf("locate model: %w", err)
		}
		return writeTensorListing(modelPath, cfg.Paths.NetworkTensors, w)
	}

	s, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.engine.Close()

	scores, err := s.engine.Infer(ctx, s.activations)
	if err != nil {
		return fmt.Errorf("inference failed: %w", err)
	}

	res, err := rank.Rank(rank.Float64s(scores), s.labels, cfg.Inference.TopBottomK)
	if err != nil {
		return fmt.Errorf("verify output: %w", err)
	}

	rep := report.FromResult(res)
	rep.Model = s.modelPath
	rep.Image = s.imagePath
	rep.Precision = string(s.engine.Precision())
	rep.Device = s.engine.Device()

	if err := report.Write(w, rep, format); err != nil {
		return err
	}

	if opts.expect != "" {
		if len(res.Top) == 0 || res.Top[0].Label != opts.expect {
			got := "<none>"
			if len(res.Top) > 0 {
				got = res.Top[0].Label
			}
			return fmt.Errorf("expected top-1 %q, got %q", opts.expect, got)
		}
	}

	return nil
}

// session is a built engine with its preprocessed input and reference labels.
type session struct {
	engine      classifier
	activations []float32
	labels      []string
	modelPath   string
	imagePath   string
}

// openSession locates and reads every input file, then builds the engine.
// The caller closes s.engine.
func openSession(ctx context.Context, cfg config.Config) (*session, error) {
	dirs := cfg.Paths.DataDirs
	s := &session{}

	var err error
	s.modelPath, err = config.LocateFile(cfg.Paths.Model, dirs)
	if err != nil {
		return nil, fmt.Errorf("locate model: %w", err)
	}

	var ranges *dynrange.Table
	if !cfg.Inference.FP32 {
		var rangesPath string
		if ranges, rangesPath, err = dynrange.Locate(cfg.Paths.Ranges, dirs); err != nil {
			return nil, err
		}
		slog.Debug("read dynamic ranges", "path", rangesPath, "entries", ranges.Len())
	}

	refPath, err := config.LocateFile(cfg.Paths.Reference, dirs)
	if err != nil {
		return nil, fmt.Errorf("locate reference file: %w", err)
	}
	if s.labels, err = labels.Load(refPath); err != nil {
		return nil, err
	}

	s.imagePath, err = config.LocateFile(cfg.Paths.Image, dirs)
	if err != nil {
		return nil, fmt.Errorf("locate image: %w", err)
	}
	img, err := ppm.Load(s.imagePath)
	if err != nil {
		return nil, err
	}

	s.engine, err = buildEngine(ctx, onnx.BuildOptions{
		ModelPath: s.modelPath,
		Inference: cfg.Inference,
		Runtime:   cfg.Runtime,
		Ranges:    ranges,
		Verbose:   cfg.Verbose,
		Logger:    slog.Default(),
	})
	if err != nil {
		return nil, err
	}

	s.activations, err = ppm.Preprocess(img, imageParams(s.engine.Input().StaticShape()))
	if err != nil {
		s.engine.Close()
		return nil, fmt.Errorf("prepare input %s: %w", s.imagePath, err)
	}

	return s, nil
}

// imageParams derives the preprocessing geometry from an NCHW input shape.
func imageParams(shape []int64) ppm.Params {
	p := ppm.DefaultParams()
	if len(shape) != 4 {
		return p
	}

	p.Channels, p.Height, p.Width = int(shape[1]), int(shape[2]), int(shape[3])
	mean := p.Mean[0]
	p.Mean = make([]int, p.Channels)
	for i := range p.Mean {
		p.Mean[i] = mean
	}

	return p
}
