// Package postprocess - provides Non-Maximum Suppression for detection results.
package postprocess

import (
	"sort"
	"sync"
)

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	IoUThreshold float32 // Overlap threshold for suppression. Outside (0, 1) disables NMS.
	ClassAware   bool    // If true, suppress only within same class.
	TopK         int     // Candidates considered after sorting. <= 0 considers all.
	NumWorkers   int     // Number of goroutines for parallel IoU computation.
}

// Enabled reports whether suppression runs at all.
//
// A threshold outside (0, 1) is a deliberate escape valve: every candidate is
// kept and only the TopK truncation applies.
func (c *NMSConfig) Enabled() bool {
	return c.IoUThreshold > 0 && c.IoUThreshold < 1
}

// SortByScore orders detections by descending score. Equal scores keep their
// input order.
func SortByScore(detections []Result) {
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Score > detections[j].Score
	})
}

// Suppress sorts, truncates to TopK, and applies NMS.
//
// Arguments:
//   - detections: Candidates in any order. The slice is reordered in place.
//   - config: NMS configuration.
//
// Returns:
//   - Kept detections in descending score order. Nil when none survive.
func Suppress(detections []Result, config *NMSConfig) []Result {
	SortByScore(detections)
	if config.TopK > 0 && len(detections) > config.TopK {
		detections = detections[:config.TopK]
	}
	if !config.Enabled() {
		if len(detections) == 0 {
			return nil
		}
		return append([]Result(nil), detections...)
	}
	if config.NumWorkers > 1 {
		return ApplyNMS(detections, config)
	}
	return ApplyGreedyNMS(detections, config)
}

func (c *NMSConfig) suppresses(kept, candidate *Result) bool {
	if c.ClassAware && kept.Class != candidate.Class {
		return false
	}
	return kept.Box.IoU(candidate.Box) > c.IoUThreshold
}

// ApplyNMS filters overlapping detections using a worker pool.
//
// For each kept detection the remaining candidates are split into contiguous
// chunks, one per worker; a worker only reads and writes its own chunk of the
// suppression mask.
//
// Arguments:
//   - detections: Sorted slice of detections (highest score first).
//   - config: NMS configuration.
//
// Returns:
//   - Filtered slice of detections. If no detections are provided, returns nil.
func ApplyNMS(detections []Result, config *NMSConfig) []Result {
	n := len(detections)
	if n == 0 {
		return nil
	}
	workers := max(1, config.NumWorkers)

	used := make([]bool, n)
	filtered := make([]Result, 0, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		if used[i] {
			continue
		}
		filtered = append(filtered, detections[i])
		used[i] = true

		rest := n - i - 1
		if rest == 0 {
			break
		}
		chunk := (rest + workers - 1) / workers
		for start := i + 1; start < n; start += chunk {
			end := min(start+chunk, n)
			wg.Add(1)
			go func(anchor, start, end int) {
				defer wg.Done()
				for j := start; j < end; j++ {
					if !used[j] && config.suppresses(&detections[anchor], &detections[j]) {
						used[j] = true
					}
				}
			}(i, start, end)
		}
		wg.Wait()
	}

	return filtered
}

// ApplyGreedyNMS performs standard greedy Non-Maximum Suppression.
//
// Arguments:
//   - detections: Slice of detections sorted by descending confidence.
//   - config: NMS configuration; boxes overlapping a kept box by more than
//     IoUThreshold are suppressed.
//
// Returns:
//   - Filtered slice of detections.
func ApplyGreedyNMS(detections []Result, config *NMSConfig) []Result {
	n := len(detections)
	if n == 0 {
		return nil
	}

	filtered := make([]Result, 0, n)
	used := make([]bool, n)

	for i := 0; i < n; i++ {
		if used[i] {
			continue
		}

		anchor := &detections[i]
		filtered = append(filtered, *anchor)
		used[i] = true

		for j := i + 1; j < n; j++ {
			if used[j] {
				continue
			}

			// Suppress if IoU exceeds threshold
			if config.suppresses(anchor, &detections[j]) {
				used[j] = true
			}
		}
	}

	return filtered
}
