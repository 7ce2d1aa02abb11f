package onnx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/example/go-int8api/internal/config"
	"github.com/example/go-int8api/internal/dynrange"
	"github.com/example/go-int8api/internal/network"
)

// DefaultAPIVersion is the ORT C API version requested when none is set.
const DefaultAPIVersion uint32 = 23

// ErrBindings is returned for networks without exactly one input and one output.
var ErrBindings = errors.New("network must have exactly one input and one output")

// RunnerConfig holds ORT library settings for creating runners.
type RunnerConfig struct {
	LibraryPath string
	APIVersion  uint32
}

// GraphRunner executes a loaded network.
type GraphRunner interface {
	Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error)
	Name() string
	Close()
}

var (
	newGraphRunner   = newORTRunner
	bootstrapRuntime = Bootstrap
)

func newORTRunner(name, path string, cfg RunnerConfig) (GraphRunner, error) {
	r, err := NewRunner(name, path, cfg)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// BuildOptions configures Build.
type BuildOptions struct {
	ModelPath string
	Inference config.InferenceConfig
	Runtime   config.RuntimeConfig
	// Ranges is required for INT8 builds.
	Ranges  *dynrange.Table
	Verbose bool
	Logger  *slog.Logger
}

// Engine is a network compiled for one precision and device.
type Engine struct {
	graph      *Graph
	runner     GraphRunner
	precision  config.Precision
	device     string
	input      ValueInfo
	output     ValueInfo
	inputScale float64
	assignment network.Assignment
	log        *slog.Logger
}

// Build parses the model, assigns dynamic ranges in INT8 mode and loads the
// network into the runtime.
func Build(_ context.Context, opts BuildOptions) (*Engine, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	if err := (config.Config{Inference: opts.Inference}).Validate(); err != nil {
		return nil, err
	}

	g, err := ParseGraph(opts.ModelPath)
	if err != nil {
		return nil, err
	}

	if len(g.inputs) != 1 || len(g.outputs) != 1 {
		return nil, fmt.Errorf("%w: got %d inputs, %d outputs", ErrBindings, len(g.inputs), len(g.outputs))
	}

	e := &Engine{
		graph:      g,
		precision:  opts.Inference.Precision(),
		device:     opts.Inference.Device(),
		input:      g.inputs[0],
		output:     g.outputs[0],
		inputScale: 1,
		log:        log,
	}

	if e.input.ElemType != ElemFloat {
		return nil, fmt.Errorf("input %q has element type %s; only float32 inputs are supported", e.input.Name, e.input.ElemType)
	}

	log.Info("building inference engine",
		"precision", e.precision,
		"device", e.device,
		"model", opts.ModelPath,
		"layers", len(g.nodes),
	)

	if opts.Inference.DLACore >= 0 {
		log.Warn("DLA placement is delegated to the runtime's execution providers", "dla_core", opts.Inference.DLACore)
	} else if opts.Inference.SafeGPUInt8 {
		log.Info("safe GPU engine capability requested")
	}

	if e.precision == config.PrecisionINT8 {
		if opts.Ranges == nil {
			return nil, errors.New("INT8 build requires a dynamic range table")
		}

		if !PlatformHasFastInt8() {
			log.Warn("platform has no fast INT8 instructions; quantized kernels will be emulated", "cpu", CPUDescription())
		}

		e.assignment, err = network.AssignRanges(g, opts.Ranges, network.AssignOptions{
			DefaultRange: opts.Inference.DefaultRange,
			Verbose:      opts.Verbose,
			Logger:       log,
		})
		if err != nil {
			return nil, fmt.Errorf("unable to set per-tensor dynamic range: %w", err)
		}

		r, _ := g.DynamicRange(e.input.Name)
		e.inputScale = r.Hi / network.Int8Max

		log.Info("per tensor dynamic range set",
			"tensors", len(e.assignment.Applied),
			"defaulted", len(e.assignment.Missing),
		)
	}

	info, err := bootstrapRuntime(opts.Runtime)
	if err != nil {
		return nil, fmt.Errorf("bootstrap onnx runtime: %w", err)
	}

	name := g.Name
	if name == "" {
		name = "network"
	}

	e.runner, err = newGraphRunner(name, opts.ModelPath, RunnerConfig{
		LibraryPath: info.LibraryPath,
		APIVersion:  opts.Runtime.APIVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to build engine: %w", err)
	}

	if opts.Verbose {
		log.Debug("found input", "name", e.input.Name, "shape", e.input.StaticShape(), "dtype", e.input.ElemType.String())
		log.Debug("found output", "name", e.output.Name, "shape", e.output.StaticShape(), "dtype", e.output.ElemType.String())
	}

	return e, nil
}

// Infer runs one sample. In INT8 mode activations are signed 8-bit values and
// are scaled by the input tensor's dynamic range before entering the network.
func (e *Engine) Infer(ctx context.Context, activations []float32) ([]float32, error) {
	shape := e.input.StaticShape()

	want, err := elementCount(shape)
	if err != nil {
		return nil, fmt.Errorf("input %q: %w", e.input.Name, err)
	}
	if len(activations) != want {
		return nil, fmt.Errorf("input %q expects %d values, got %d", e.input.Name, want, len(activations))
	}

	data := activations
	if e.precision == config.PrecisionINT8 {
		data = make([]float32, len(activations))
		for i, v := range activations {
			q := math.Max(-128, math.Min(127, math.Round(float64(v))))
			data[i] = float32(q * e.inputScale)
		}
	}

	in, err := NewTensor(data, shape)
	if err != nil {
		return nil, err
	}

	outs, err := e.runner.Run(ctx, map[string]*Tensor{e.input.Name: in})
	if err != nil {
		return nil, err
	}

	out, ok := outs[e.output.Name]
	if !ok {
		return nil, fmt.Errorf("runtime returned no %q output", e.output.Name)
	}

	return ExtractFloat32(out)
}

// Close releases the runtime session.
func (e *Engine) Close() {
	if e.runner != nil {
		e.runner.Close()
		e.runner = nil
	}
}

// Graph returns the parsed network, including any assigned dynamic ranges.
func (e *Engine) Graph() *Graph { return e.graph }

// Precision reports the precision the engine was built for.
func (e *Engine) Precision() config.Precision { return e.precision }

// Device reports the configured target, "GPU" or "DLA:<core>".
func (e *Engine) Device() string { return e.device }

// Input describes the single network input binding.
func (e *Engine) Input() ValueInfo { return e.input }

// Output describes the single network output binding.
func (e *Engine) Output() ValueInfo { return e.output }

// Assignment lists the ranges applied at build time. It is empty for FP32.
func (e *Engine) Assignment() network.Assignment { return e.assignment }
