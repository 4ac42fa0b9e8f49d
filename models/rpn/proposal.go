package rpn

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-rcnn/common"
	"github.com/nvr-ai/go-rcnn/models/coder"
	"github.com/nvr-ai/go-rcnn/models/postprocess"
)

// ProposalConfig controls proposal decoding and filtering.
type ProposalConfig struct {
	// NMSThresh is the IoU threshold for proposal NMS.
	NMSThresh float32 `json:"nms_thresh" yaml:"nms_thresh"`
	// TrainPreNMS / TrainPostNMS bound the candidates before and after NMS in training.
	TrainPreNMS  int `json:"train_pre_nms"  yaml:"train_pre_nms"`
	TrainPostNMS int `json:"train_post_nms" yaml:"train_post_nms"`
	// TestPreNMS / TestPostNMS bound the candidates before and after NMS in inference.
	TestPreNMS  int `json:"test_pre_nms"  yaml:"test_pre_nms"`
	TestPostNMS int `json:"test_post_nms" yaml:"test_post_nms"`
	// MinSize is the smallest accepted width and height after clipping.
	MinSize float32 `json:"min_size" yaml:"min_size"`
	// Stds must match the stds used to build RPN box targets.
	Stds []float32 `json:"stds" yaml:"stds"`
	// NumWorkers parallelizes NMS when greater than 1.
	NumWorkers int `json:"num_workers" yaml:"num_workers"`
}

// DefaultProposalConfig returns the standard proposal settings.
func DefaultProposalConfig() ProposalConfig {
	return ProposalConfig{
		NMSThresh:    0.7,
		TrainPreNMS:  12000,
		TrainPostNMS: 2000,
		TestPreNMS:   6000,
		TestPostNMS:  300,
		MinSize:      16,
		Stds:         []float32{1, 1, 1, 1},
	}
}

// ProposalGenerator turns RPN scores and deltas into a ranked proposal set.
type ProposalGenerator struct {
	cfg   ProposalConfig
	coder *coder.Coder
}

// NewProposalGenerator validates cfg. Pre/post NMS counts are floored at 1.
func NewProposalGenerator(cfg ProposalConfig) (*ProposalGenerator, error) {
	c, err := coder.FromSlices(nil, cfg.Stds)
	if err != nil {
		return nil, errors.Wrap(err, "proposal box coder")
	}
	cfg.TrainPreNMS = max(1, cfg.TrainPreNMS)
	cfg.TrainPostNMS = max(1, cfg.TrainPostNMS)
	cfg.TestPreNMS = max(1, cfg.TestPreNMS)
	cfg.TestPostNMS = max(1, cfg.TestPostNMS)
	return &ProposalGenerator{cfg: cfg, coder: c}, nil
}

// Limits returns the pre- and post-NMS counts for mode.
func (p *ProposalGenerator) Limits(mode common.Mode) (pre, post int) {
	if mode == common.ModeTraining {
		return p.cfg.TrainPreNMS, p.cfg.TrainPostNMS
	}
	return p.cfg.TestPreNMS, p.cfg.TestPostNMS
}

// Generate decodes, clips, filters and suppresses proposals.
//
// Boxes narrower or shorter than MinSize after clipping get score -Inf and the
// InvalidBox sentinel; they rank below every valid box, whether scores are
// probabilities or raw logits, and never appear in the output. The result holds at most post-NMS entries, ordered by score, and may
// be shorter (or empty) when few boxes survive.
//
// Arguments:
//   - anchors: Anchor boxes in RPN head order.
//   - scores: Objectness score per anchor. Only the order matters.
//   - deltas: Box regression per anchor.
//   - width, height: Image size used for clipping.
//   - mode: Selects training or inference counts.
//
// Returns:
//   - []postprocess.Result: Proposals with Class 0.
//   - error: Wraps common.ErrShapeMismatch when input lengths differ.
func (p *ProposalGenerator) Generate(anchors []common.Box, scores []float32, deltas []coder.Delta,
	width, height float32, mode common.Mode,
) ([]postprocess.Result, error) {
	if len(scores) != len(anchors) || len(deltas) != len(anchors) {
		return nil, errors.Wrapf(common.ErrShapeMismatch,
			"proposals: %d anchors, %d scores, %d deltas", len(anchors), len(scores), len(deltas))
	}
	pre, post := p.Limits(mode)

	candidates := make([]postprocess.Result, len(anchors))
	for i, a := range anchors {
		roi := p.coder.Decode(a, deltas[i]).Clip(width, height)
		score := scores[i]
		if roi.Width() < p.cfg.MinSize || roi.Height() < p.cfg.MinSize {
			roi = common.InvalidBox
			score = math32.Inf(-1)
		}
		candidates[i] = postprocess.Result{Box: roi, Score: score}
	}

	// Undersized boxes are zero-area and can suppress nothing, so dropping them
	// after ranking leaves the kept set unchanged.
	kept := postprocess.Suppress(candidates, &postprocess.NMSConfig{
		IoUThreshold: p.cfg.NMSThresh,
		TopK:         pre,
		NumWorkers:   p.cfg.NumWorkers,
	})

	out := make([]postprocess.Result, 0, min(post, len(kept)))
	for _, r := range kept {
		if r.Box.IsInvalid() {
			continue
		}
		out = append(out, r)
		if len(out) == post {
			break
		}
	}
	return out, nil
}

// ProposalBoxes extracts the boxes of proposals.
func ProposalBoxes(proposals []postprocess.Result) []common.Box {
	out := make([]common.Box, len(proposals))
	for i, r := range proposals {
		out[i] = r.Box
	}
	return out
}
