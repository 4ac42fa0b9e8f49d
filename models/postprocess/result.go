// Package postprocess - Detection results and Non-Maximum Suppression.
package postprocess

import "github.com/nvr-ai/go-rcnn/common"

// Result represents a single detection result.
type Result struct {
	// The bounding box of the result.
	Box common.Box
	// The confidence score of the result.
	Score float32
	// The predicted class index of the result (0-based, background excluded).
	Class int
}

// Detections is a list of results ordered by descending score.
type Detections []Result

// Split returns the class ids, scores and boxes as parallel arrays, the layout
// expected by evaluation metrics.
func (d Detections) Split() (ids []int, scores []float32, boxes []common.Box) {
	ids = make([]int, len(d))
	scores = make([]float32, len(d))
	boxes = make([]common.Box, len(d))
	for i, r := range d {
		ids[i] = r.Class
		scores[i] = r.Score
		boxes[i] = r.Box
	}
	return ids, scores, boxes
}
