// Package report renders classification results as text, JSON or YAML.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/example/go-int8api/internal/rank"
	"gopkg.in/yaml.v3"
)

// Format selects the output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts text, json or yaml (case-insensitive; yml is an alias).
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text|json|yaml)", s)
	}
}

// Report is one classification run.
type Report struct {
	Model     string             `json:"model,omitempty" yaml:"model,omitempty"`
	Image     string             `json:"image,omitempty" yaml:"image,omitempty"`
	Precision string             `json:"precision,omitempty" yaml:"precision,omitempty"`
	Device    string             `json:"device,omitempty" yaml:"device,omitempty"`
	Top       []rank.ScoredLabel `json:"top" yaml:"top"`
	Bottom    []rank.ScoredLabel `json:"bottom" yaml:"bottom"`
	Detected  []string           `json:"detected" yaml:"detected"`
}

// FromResult builds a Report whose detected list is the Top-K labels.
func FromResult(res rank.Result) Report {
	return Report{
		Top:      res.Top,
		Bottom:   res.Bottom,
		Detected: res.TopLabels(),
	}
}

// Write encodes r to w in format f.
func Write(w io.Writer, r Report, f Format) error {
	switch f {
	case FormatText, "":
		return WriteText(w, r)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", f)
	}
}

// WriteText prints the Top-K lines, the Bottom-K lines and the detected list.
func WriteText(w io.Writer, r Report) error {
	var b strings.Builder

	for i, s := range r.Top {
		fmt.Fprintf(&b, "Top-%d predicted class, activation value: %s, %s\n", i+1, s.Label, FormatScore(s.Score))
	}
	for i, s := range r.Bottom {
		fmt.Fprintf(&b, "Bottom-%d predicted class, activation value: %s, %s\n", i+1, s.Label, FormatScore(s.Score))
	}

	b.WriteString("Detected:\n")
	for i, label := range r.Detected {
		fmt.Fprintf(&b, "[%d]  %s\n", i+1, label)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// FormatScore prints an activation with six significant digits.
func FormatScore(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 32)
}
