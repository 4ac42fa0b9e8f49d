// Package matcher - Assignment of anchors/regions to ground-truth boxes.
//
// All matchers consume a common.IoUMatrix whose rows are anchors (or regions) and
// whose columns are ground-truth boxes, and produce one ground-truth index per
// row, or Unmatched.
package matcher

import (
	"sort"

	"github.com/nvr-ai/go-rcnn/common"
)

// Unmatched marks a row with no assigned ground truth.
const Unmatched = -1

// bipartiteEpsilon is the smallest IoU the bipartite phase will assign.
const bipartiteEpsilon = 1e-12

// Matcher assigns at most one ground-truth column per row.
type Matcher interface {
	Match(iou *common.IoUMatrix) []int
}

// Unassigned returns a match vector of n Unmatched entries.
func Unassigned(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = Unmatched
	}
	return out
}

// BipartiteMatcher greedily pairs rows and columns by descending IoU.
//
// Entries are visited from the globally highest IoU down. Exact ties keep the
// row-major scan order: lower row index first, then lower column index. A pair is
// assigned when neither its row nor its column has been taken, so every column
// with a positive entry in some still-free row receives exactly one row.
type BipartiteMatcher struct{}

type entry struct {
	row, col int
	iou      float32
}

// Match implements Matcher.
func (BipartiteMatcher) Match(iou *common.IoUMatrix) []int {
	matches := Unassigned(iou.Rows)
	if iou.Rows == 0 || iou.Cols == 0 {
		return matches
	}

	entries := make([]entry, 0, iou.Rows)
	for i := 0; i < iou.Rows; i++ {
		if iou.Masked(i) {
			continue
		}
		for j, v := range iou.Row(i) {
			if v > bipartiteEpsilon {
				entries = append(entries, entry{row: i, col: j, iou: v})
			}
		}
	}
	sort.SliceStable(entries, func(a, b int) bool { return entries[a].iou > entries[b].iou })

	colTaken := make([]bool, iou.Cols)
	remaining := iou.Cols
	for _, e := range entries {
		if remaining == 0 {
			break
		}
		if matches[e.row] != Unmatched || colTaken[e.col] {
			continue
		}
		matches[e.row] = e.col
		colTaken[e.col] = true
		remaining--
	}
	return matches
}

// MaximumMatcher assigns each row to its highest-IoU column when that IoU is at
// least Threshold.
type MaximumMatcher struct {
	Threshold float32
}

// Match implements Matcher.
func (m MaximumMatcher) Match(iou *common.IoUMatrix) []int {
	matches := Unassigned(iou.Rows)
	for i := 0; i < iou.Rows; i++ {
		best, arg := iou.RowMax(i)
		if arg >= 0 && best >= m.Threshold {
			matches[i] = arg
		}
	}
	return matches
}

// CompositeMatcher runs matchers in order; each one only fills rows the previous
// ones left Unmatched.
type CompositeMatcher []Matcher

// Match implements Matcher.
func (c CompositeMatcher) Match(iou *common.IoUMatrix) []int {
	result := Unassigned(iou.Rows)
	for _, m := range c {
		next := m.Match(iou)
		for i, v := range next {
			if result[i] == Unmatched {
				result[i] = v
			}
		}
	}
	return result
}

// NewDefault returns the bipartite-then-threshold matcher used by the RPN and every
// cascade stage.
func NewDefault(posThresh float32) CompositeMatcher {
	return CompositeMatcher{BipartiteMatcher{}, MaximumMatcher{Threshold: posThresh}}
}
