package rcnn

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/nvr-ai/go-rcnn/common"
	"github.com/nvr-ai/go-rcnn/models/postprocess"
)

// Softmax converts row-major logits (rows, cols) into per-row probabilities.
func Softmax(logits []float32, cols int) []float64 {
	out := make([]float64, len(logits))
	for off := 0; off+cols <= len(logits); off += cols {
		row := out[off : off+cols]
		for j := range row {
			row[j] = float64(logits[off+j])
		}
		lse := floats.LogSumExp(row)
		for j := range row {
			row[j] = math.Exp(row[j] - lse)
		}
	}
	return out
}

// Fuse averages per-stage probability tables element-wise with equal weights.
//
// Returns:
//   - error: Wraps common.ErrShapeMismatch when the tables differ in length.
func Fuse(probs ...[]float64) ([]float64, error) {
	if len(probs) == 0 {
		return nil, nil
	}
	out := make([]float64, len(probs[0]))
	for i, p := range probs {
		if len(p) != len(out) {
			return nil, errors.Wrapf(common.ErrShapeMismatch, "fuse: table %d has %d entries, want %d", i, len(p), len(out))
		}
		floats.Add(out, p)
	}
	floats.Scale(1/float64(len(probs)), out)
	return out, nil
}

// ClassScores expands fused probabilities (len(boxes), numClass+1) into one
// candidate per region and foreground class whose score exceeds thresh.
// Column 0 is background and never produces a detection; column k maps to
// class id k-1.
func ClassScores(probs []float64, boxes []common.Box, numClass int, thresh float32) postprocess.Detections {
	cols := numClass + 1
	var out postprocess.Detections
	for r, box := range boxes {
		row := probs[r*cols : (r+1)*cols]
		for k := 1; k < cols; k++ {
			score := float32(row[k])
			if score <= thresh {
				continue
			}
			out = append(out, postprocess.Result{Box: box, Score: score, Class: k - 1})
		}
	}
	return out
}
