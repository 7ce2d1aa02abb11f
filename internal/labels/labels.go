// Package labels reads reference label files: one class name per line, where
// line i names output position i of the classifier.
package labels

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Load reads the label file at path.
func Load(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open reference file: %w", err)
	}
	defer f.Close()

	out, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("read reference file %s: %w", path, err)
	}

	return out, nil
}

// Read returns every line of r with any trailing carriage return removed.
// Blank lines are kept so indices stay aligned with the output vector.
func Read(r io.Reader) ([]string, error) {
	var out []string

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		out = append(out, strings.TrimSuffix(sc.Text(), "\r"))
	}

	if err := sc.Err(); err != nil {
		return nil, err
	}

	return out, nil
}
