package rcnn

import "gorgonia.org/tensor"

// Backbone extracts a feature map (1, C, h, w) from an image (1, 3, H, W).
type Backbone interface {
	Features(image *tensor.Dense) (*tensor.Dense, error)
}

// RPNHead predicts objectness scores (N) and box deltas (N, 4) for the N
// anchors of a feature map, in (y, x, anchor) order. Scores may be
// probabilities or logits; proposals only rank them.
type RPNHead interface {
	Predict(feature *tensor.Dense) (scores, deltas *tensor.Dense, err error)
}

// Head classifies and regresses pooled regions (R, C, roiH, roiW), returning
// logits (R, NumClass+1) and class-agnostic deltas (R, 4).
type Head interface {
	Predict(pooled *tensor.Dense) (logits, deltas *tensor.Dense, err error)
}

// Primitives are the learned components a Cascade runs.
type Primitives struct {
	Backbone Backbone
	RPN      RPNHead
	Heads    [NumStages]Head
}
