// Package doctor provides environment preflight checks for int8api.
package doctor

import (
	"context"
	"fmt"
	"io"

	"github.com/example/go-int8api/internal/config"
	"github.com/example/go-int8api/internal/dynrange"
	"github.com/example/go-int8api/internal/labels"
	"github.com/example/go-int8api/internal/network"
	"github.com/example/go-int8api/internal/onnx"
	"github.com/example/go-int8api/internal/ppm"
	"golang.org/x/sync/errgroup"
)

// PassMark, FailMark and WarnMark are the prefix symbols printed for each
// check result.
const (
	PassMark = "✓"
	FailMark = "✗"
	WarnMark = "!"
)

// VersionFunc returns a version string or an error if the component is unavailable.
type VersionFunc func() (string, error)

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// RuntimeVersion describes the ONNX Runtime library; nil skips the check.
	RuntimeVersion VersionFunc
	// FastInt8 reports whether the CPU has 8-bit dot product instructions.
	FastInt8 func() bool

	Paths     config.PathsConfig
	Inference config.InferenceConfig
	Image     ppm.Params
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
	warnings []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// Warnings returns checks that passed with a caveat.
func (r *Result) Warnings() []string { return append([]string(nil), r.warnings...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(w io.Writer, check string, err error) {
	r.failures = append(r.failures, fmt.Sprintf("%s: %v", check, err))
	fmt.Fprintf(w, "%s %s: %v\n", FailMark, check, err)
}

func (r *Result) warn(w io.Writer, check, msg string) {
	r.warnings = append(r.warnings, check+": "+msg)
	fmt.Fprintf(w, "%s %s: %s\n", WarnMark, check, msg)
}

func pass(w io.Writer, check, format string, args ...any) {
	fmt.Fprintf(w, "%s %s: %s\n", PassMark, check, fmt.Sprintf(format, args...))
}

// inputs holds the files loaded concurrently before the checks are reported.
type inputs struct {
	modelPath string
	graph     *onnx.Graph
	modelErr  error

	rangesPath string
	ranges     *dynrange.Table
	rangesErr  error

	labelsPath string
	labels     []string
	labelsErr  error

	imagePath string
	image     *ppm.Image
	imageErr  error
}

// load reads every configured file concurrently. Per-file errors are kept on
// inputs for reporting; only cancellation of ctx aborts the load.
func load(ctx context.Context, cfg Config) (*inputs, error) {
	var in inputs

	dirs := cfg.Paths.DataDirs
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		in.modelPath, in.modelErr = config.LocateFile(cfg.Paths.Model, dirs)
		if in.modelErr == nil {
			in.graph, in.modelErr = onnx.ParseGraph(in.modelPath)
		}
		return nil
	})

	if !cfg.Inference.FP32 {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			in.ranges, in.rangesPath, in.rangesErr = dynrange.Locate(cfg.Paths.Ranges, dirs)
			return nil
		})
	}

	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		in.labelsPath, in.labelsErr = config.LocateFile(cfg.Paths.Reference, dirs)
		if in.labelsErr == nil {
			in.labels, in.labelsErr = labels.Load(in.labelsPath)
		}
		return nil
	})

	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		in.imagePath, in.imageErr = config.LocateFile(cfg.Paths.Image, dirs)
		if in.imageErr == nil {
			in.image, in.imageErr = ppm.Load(in.imagePath)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &in, nil
}

// Run executes all configured checks and writes human-readable output to w.
// Files are loaded concurrently; results are printed in a fixed order, each
// line prefixed with PassMark, WarnMark or FailMark.
func Run(ctx context.Context, cfg Config, w io.Writer) Result {
	var res Result

	// ---- configuration ----------------------------------------------------
	if err := (config.Config{Inference: cfg.Inference}).Validate(); err != nil {
		res.fail(w, "options", err)
	} else {
		pass(w, "options", "%s on %s", cfg.Inference.Precision(), cfg.Inference.Device())
	}

	// ---- onnx runtime -----------------------------------------------------
	if cfg.RuntimeVersion == nil {
		pass(w, "onnx runtime", "skipped")
	} else if ver, err := cfg.RuntimeVersion(); err != nil {
		res.fail(w, "onnx runtime", err)
	} else {
		pass(w, "onnx runtime", "%s", ver)
	}

	in, err := load(ctx, cfg)
	if err != nil {
		res.fail(w, "load", err)
		return res
	}

	// ---- model --------------------------------------------------------------
	if in.modelErr != nil {
		res.fail(w, "model", in.modelErr)
	} else {
		checkModel(w, &res, in)
	}

	// ---- dynamic ranges -----------------------------------------------------
	if cfg.Inference.FP32 {
		pass(w, "dynamic ranges", "skipped (fp32)")
	} else if in.rangesErr != nil {
		res.fail(w, "dynamic ranges", in.rangesErr)
	} else {
		pass(w, "dynamic ranges", "%d entries in %s", in.ranges.Len(), in.rangesPath)
		if in.graph != nil {
			checkCoverage(w, &res, in, cfg.Inference.DefaultRange)
		}
	}

	// ---- reference labels ---------------------------------------------------
	if in.labelsErr != nil {
		res.fail(w, "reference labels", in.labelsErr)
	} else {
		checkLabels(w, &res, in)
	}

	// ---- image --------------------------------------------------------------
	if in.imageErr != nil {
		res.fail(w, "image", in.imageErr)
	} else if _, err := ppm.Preprocess(in.image, cfg.Image); err != nil {
		res.fail(w, "image", err)
	} else {
		pass(w, "image", "%s (%dx%d)", in.imagePath, in.image.Width, in.image.Height)
	}

	// ---- fast int8 ----------------------------------------------------------
	switch {
	case cfg.Inference.FP32 || cfg.FastInt8 == nil:
		pass(w, "fast int8", "skipped")
	case cfg.FastInt8():
		pass(w, "fast int8", "available")
	default:
		res.warn(w, "fast int8", "not available; INT8 kernels will be emulated")
	}

	return res
}

func checkModel(w io.Writer, res *Result, in *inputs) {
	ins, outs := in.graph.InputInfo(), in.graph.OutputInfo()
	if len(ins) != 1 || len(outs) != 1 {
		res.fail(w, "model", fmt.Errorf("%w: got %d inputs, %d outputs", onnx.ErrBindings, len(ins), len(outs)))
		return
	}

	pass(w, "model", "%s (%d layers, input %s %v, output %s %v)",
		in.modelPath, len(in.graph.Layers()),
		ins[0].Name, ins[0].StaticShape(), outs[0].Name, outs[0].StaticShape())
}

func checkCoverage(w io.Writer, res *Result, in *inputs, defaultRange float64) {
	names := network.TensorNames(in.graph)
	covered, missing := network.Coverage(names, in.ranges)

	if len(missing) == 0 {
		pass(w, "range coverage", "%d/%d tensors", len(covered), len(names))
		return
	}

	res.warn(w, "range coverage", fmt.Sprintf("%d/%d tensors; %d use default range %g (first: %s)",
		len(covered), len(names), len(missing), defaultRange, missing[0]))
}

func checkLabels(w io.Writer, res *Result, in *inputs) {
	if in.graph != nil {
		if outs := in.graph.OutputInfo(); len(outs) == 1 {
			classes := 1
			for _, d := range outs[0].StaticShape() {
				classes *= int(d)
			}
			if classes != len(in.labels) {
				res.fail(w, "reference labels", fmt.Errorf("%d labels for %d output classes", len(in.labels), classes))
				return
			}
		}
	}

	pass(w, "reference labels", "%d labels in %s", len(in.labels), in.labelsPath)
}
