// Package rank orders a classifier's output activations and returns the
// highest and lowest scoring labels.
package rank

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
)

// ErrDimensionMismatch is returned when scores and labels differ in length or
// are empty.
var ErrDimensionMismatch = errors.New("scores and labels dimension mismatch")

// ScoredLabel pairs a label with its activation value.
type ScoredLabel struct {
	Label string  `json:"label" yaml:"label"`
	Score float64 `json:"score" yaml:"score"`
}

// Result holds the K best entries in descending order and the K worst in
// ascending order.
type Result struct {
	Top    []ScoredLabel `json:"top" yaml:"top"`
	Bottom []ScoredLabel `json:"bottom" yaml:"bottom"`
}

// TopLabels returns the labels of r.Top in rank order.
func (r Result) TopLabels() []string {
	out := make([]string, len(r.Top))
	for i, s := range r.Top {
		out[i] = s.Label
	}

	return out
}

// Rank returns the k highest and k lowest scoring labels. scores[i] belongs to
// labels[i]. Equal scores keep their original index order in both sequences.
// k is clamped to len(scores); k <= 0 yields empty sequences.
func Rank(scores []float64, labels []string, k int) (Result, error) {
	if len(scores) != len(labels) || len(scores) == 0 {
		return Result{}, fmt.Errorf("%w: %d scores, %d labels", ErrDimensionMismatch, len(scores), len(labels))
	}

	k = min(max(k, 0), len(scores))

	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}

	desc := slices.Clone(idx)
	slices.SortStableFunc(desc, func(a, b int) int {
		return cmp.Compare(scores[b], scores[a])
	})

	asc := idx
	slices.SortStableFunc(asc, func(a, b int) int {
		return cmp.Compare(scores[a], scores[b])
	})

	return Result{
		Top:    pick(desc[:k], scores, labels),
		Bottom: pick(asc[:k], scores, labels),
	}, nil
}

// Float64s widens a raw activation vector.
func Float64s[T ~float32 | ~float64](in []T) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}

	return out
}

func pick(order []int, scores []float64, labels []string) []ScoredLabel {
	out := make([]ScoredLabel, len(order))
	for i, j := range order {
		out[i] = ScoredLabel{Label: labels[j], Score: scores[j]}
	}

	return out
}
