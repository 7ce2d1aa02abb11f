// Package network assigns per-tensor dynamic ranges to a network definition
// owned by an inference engine and produces the tensor-name listing used to
// author range files.
package network

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/example/go-int8api/internal/dynrange"
)

// Int8Max is the largest magnitude of a signed 8-bit value.
const Int8Max = 127.0

// TensorNamePrefix starts each line of a tensor-name listing.
const TensorNamePrefix = "TensorName: "

// Layer is one node of the network and the tensors it produces.
type Layer struct {
	Name    string
	Outputs []string
}

// Definition is the engine-side network object that receives ranges.
type Definition interface {
	Inputs() []string
	Layers() []Layer
	SetDynamicRange(tensor string, lo, hi float64) error
}

// TensorRange is the symmetric interval assigned to one tensor.
type TensorRange struct {
	Tensor  string
	Range   float64
	Default bool
}

// Assignment reports what AssignRanges applied.
type Assignment struct {
	Applied []TensorRange
	Missing []string
}

// AssignOptions control AssignRanges.
type AssignOptions struct {
	// DefaultRange is used for tensors missing from the table.
	DefaultRange float64
	// Verbose logs every missing tensor and the table contents.
	Verbose bool
	Logger  *slog.Logger
}

// ErrInvalidRange is returned for a non-positive dynamic range.
var ErrInvalidRange = errors.New("dynamic range must be positive")

// AssignRanges sets [-r, r] on every input tensor and every layer output, in
// that order, where r is looked up in table with opts.DefaultRange as fallback.
func AssignRanges(def Definition, table *dynrange.Table, opts AssignOptions) (Assignment, error) {
	if opts.DefaultRange == 0 {
		opts.DefaultRange = dynrange.DefaultRange
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	var out Assignment

	for _, name := range TensorNames(def) {
		r, ok := table.Lookup(name)
		if !ok {
			r = opts.DefaultRange
			out.Missing = append(out.Missing, name)

			if opts.Verbose {
				log.Warn("missing dynamic range, using default", "tensor", name, "range", r)
			}
		}

		if !(r > 0) || math.IsInf(r, 0) {
			return Assignment{}, fmt.Errorf("%w: tensor %q has range %v", ErrInvalidRange, name, r)
		}

		if err := def.SetDynamicRange(name, -r, r); err != nil {
			return Assignment{}, fmt.Errorf("set dynamic range for %q: %w", name, err)
		}

		out.Applied = append(out.Applied, TensorRange{Tensor: name, Range: r, Default: !ok})
	}

	if opts.Verbose {
		for _, name := range table.Names() {
			r, _ := table.Lookup(name)
			log.Debug("per tensor dynamic range",
				"tensor", name,
				"max_abs", r,
				"int8_resolution", Resolution(r),
			)
		}
	}

	return out, nil
}

// Resolution is the quantization step of range r at INT8.
func Resolution(r float64) float64 {
	return r / Int8Max
}

// TensorNames lists the input tensors followed by every layer output tensor.
func TensorNames(def Definition) []string {
	names := append([]string(nil), def.Inputs()...)
	for _, l := range def.Layers() {
		names = append(names, l.Outputs...)
	}

	return names
}

// WriteTensorNames writes one TensorName line per tensor of def.
func WriteTensorNames(w io.Writer, def Definition) error {
	bw := bufio.NewWriter(w)
	for _, name := range TensorNames(def) {
		if _, err := bw.WriteString(TensorNamePrefix + name + "\n"); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// ReadTensorNames parses a listing written by WriteTensorNames. Names are
// returned exactly as written after the prefix.
func ReadTensorNames(r io.Reader) ([]string, error) {
	var names []string

	sc := bufio.NewScanner(r)
	lineNo := 0

	for sc.Scan() {
		lineNo++

		line := strings.TrimSuffix(sc.Text(), "\r")
		if line == "" {
			continue
		}

		name, ok := strings.CutPrefix(line, TensorNamePrefix)
		if !ok {
			return nil, fmt.Errorf("line %d: missing %q prefix", lineNo, strings.TrimSpace(TensorNamePrefix))
		}

		names = append(names, name)
	}

	if err := sc.Err(); err != nil {
		return nil, err
	}

	return names, nil
}

// WriteRangeTemplate writes `name:value` for each name, ready to be edited
// into a dynamic range file.
func WriteRangeTemplate(w io.Writer, names []string, value float64) error {
	v := strconv.FormatFloat(value, 'g', -1, 64)

	bw := bufio.NewWriter(w)
	for _, name := range names {
		if _, err := bw.WriteString(name + ":" + v + "\n"); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// Coverage splits names into those with a table entry and those without.
func Coverage(names []string, table *dynrange.Table) (covered, missing []string) {
	for _, name := range names {
		if _, ok := table.Lookup(name); ok {
			covered = append(covered, name)
		} else {
			missing = append(missing, name)
		}
	}

	return covered, missing
}
