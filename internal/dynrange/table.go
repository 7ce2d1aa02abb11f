// Package dynrange loads per-tensor dynamic ranges from a colon-delimited text
// file. Each line maps a tensor name to the maximum absolute value the tensor
// is expected to take; the range assigned to the tensor is [-v, +v].
package dynrange

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/example/go-int8api/internal/config"
)

// DefaultRange is the fallback used for tensors missing from the file. It is
// the full representable range of a signed 8-bit value.
const DefaultRange = 127.0

var (
	// ErrFileNotFound is returned by Load when the range file does not exist.
	ErrFileNotFound = errors.New("dynamic range file not found")
	// ErrNumericParse matches every *ParseError.
	ErrNumericParse = errors.New("invalid dynamic range value")
)

// ParseError describes a malformed line.
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d %q: %v", e.Line, e.Text, e.Err)
}

func (e *ParseError) Unwrap() []error { return []error{ErrNumericParse, e.Err} }

// Table maps tensor names to their maximum absolute dynamic range. A Table is
// never modified after Parse returns, so concurrent readers need no locking.
type Table struct {
	ranges map[string]float64
}

// Load reads and parses the range file at path.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", ErrFileNotFound, err)
		}

		return nil, fmt.Errorf("open dynamic range file: %w", err)
	}
	defer f.Close()

	t, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return t, nil
}

// Locate resolves name against the data directories and loads the first
// match. It returns the resolved path alongside the table.
func Locate(name string, dirs []string) (*Table, string, error) {
	path, err := config.LocateFile(name, dirs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", fmt.Errorf("%w: %w", ErrFileNotFound, err)
		}
		return nil, "", fmt.Errorf("locate dynamic range file: %w", err)
	}

	t, err := Load(path)
	if err != nil {
		return nil, path, err
	}

	return t, path, nil
}

// Parse reads `name:value` lines from r. The name is everything before the
// first colon and is kept byte-for-byte; the value may carry surrounding
// whitespace. Empty lines are skipped and a repeated name keeps its last value.
func Parse(r io.Reader) (*Table, error) {
	ranges := make(map[string]float64)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for sc.Scan() {
		lineNo++

		line := strings.TrimSuffix(sc.Text(), "\r")
		if line == "" {
			continue
		}

		name, raw, ok := strings.Cut(line, ":")
		if !ok {
			return nil, &ParseError{Line: lineNo, Text: line, Err: errors.New("missing ':' separator")}
		}

		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, &ParseError{Line: lineNo, Text: line, Err: err}
		}

		ranges[name] = v
	}

	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read dynamic ranges: %w", err)
	}

	return &Table{ranges: ranges}, nil
}

// New builds a table from an existing map. The map is copied.
func New(ranges map[string]float64) *Table {
	cp := make(map[string]float64, len(ranges))
	for k, v := range ranges {
		cp[k] = v
	}

	return &Table{ranges: cp}
}

// RangeFor returns the stored range for name, or def when name is absent.
func (t *Table) RangeFor(name string, def float64) float64 {
	if v, ok := t.Lookup(name); ok {
		return v
	}

	return def
}

// Lookup reports the stored range for name.
func (t *Table) Lookup(name string) (float64, bool) {
	if t == nil {
		return 0, false
	}

	v, ok := t.ranges[name]

	return v, ok
}

// Len returns the number of distinct tensor names.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}

	return len(t.ranges)
}

// Names returns the tensor names in sorted order.
func (t *Table) Names() []string {
	if t == nil {
		return nil
	}

	names := make([]string, 0, len(t.ranges))
	for name := range t.ranges {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

// Write serializes the table in the format accepted by Parse, sorted by name.
func (t *Table) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, name := range t.Names() {
		if _, err := fmt.Fprintf(bw, "%s:%s\n", name, strconv.FormatFloat(t.ranges[name], 'g', -1, 64)); err != nil {
			return err
		}
	}

	return bw.Flush()
}
