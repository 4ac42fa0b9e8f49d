package rpn

import (
	"math/rand/v2"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-rcnn/common"
	"github.com/nvr-ai/go-rcnn/models/coder"
	"github.com/nvr-ai/go-rcnn/models/matcher"
	"github.com/nvr-ai/go-rcnn/models/sampler"
)

// TargetConfig controls RPN training target generation.
type TargetConfig struct {
	NumSample    int       `json:"num_sample"     yaml:"num_sample"`
	PosIoUThresh float32   `json:"pos_iou_thresh" yaml:"pos_iou_thresh"`
	NegIoUThresh float32   `json:"neg_iou_thresh" yaml:"neg_iou_thresh"`
	PosRatio     float32   `json:"pos_ratio"      yaml:"pos_ratio"`
	Stds         []float32 `json:"stds"           yaml:"stds"`
}

// DefaultTargetConfig returns 256 samples per image, half of them positive.
func DefaultTargetConfig() TargetConfig {
	return TargetConfig{
		NumSample:    256,
		PosIoUThresh: 0.7,
		NegIoUThresh: 0.3,
		PosRatio:     0.5,
		Stds:         []float32{1, 1, 1, 1},
	}
}

// Targets holds per-anchor RPN supervision.
type Targets struct {
	// Objectness is 1 for positives, 0 for negatives and -1 for ignored anchors.
	Objectness []float32
	BoxTargets []coder.Delta
	BoxMasks   []coder.Delta
	Labels     []sampler.Label
	Matches    []int
}

// TargetGenerator assigns anchors to ground truth and samples them.
type TargetGenerator struct {
	matcher matcher.Matcher
	sampler *sampler.QuotaSampler
	coder   *coder.Coder
}

// NewTargetGenerator validates cfg and builds the generator.
//
// Arguments:
//   - cfg: Target parameters.
//   - src: Random source for the sampling quotas.
//
// Returns:
//   - error: Wraps common.ErrConfiguration for invalid ratios or stds.
func NewTargetGenerator(cfg TargetConfig, src rand.Source) (*TargetGenerator, error) {
	s, err := sampler.New(sampler.Config{
		NumSample:     cfg.NumSample,
		PosThresh:     cfg.PosIoUThresh,
		NegThreshHigh: cfg.NegIoUThresh,
		NegThreshLow:  0,
		PosRatio:      cfg.PosRatio,
	}, src)
	if err != nil {
		return nil, errors.Wrap(err, "rpn target sampler")
	}
	c, err := coder.FromSlices(nil, cfg.Stds)
	if err != nil {
		return nil, errors.Wrap(err, "rpn target box coder")
	}
	return &TargetGenerator{
		matcher: matcher.NewDefault(s.Config().PosThresh),
		sampler: s,
		coder:   c,
	}, nil
}

// Generate builds objectness and box targets for every anchor.
//
// Anchors that do not lie entirely inside the image are masked out of matching
// and always come back ignored.
//
// Arguments:
//   - gts: Ground-truth boxes. May be empty, in which case every valid anchor
//     is a negative candidate.
//   - anchors: Anchor boxes in RPN head order.
//   - width, height: Image size.
//
// Returns:
//   - *Targets: One entry per anchor in every slice.
//   - error: Propagated from the sampler or coder.
func (g *TargetGenerator) Generate(gts, anchors []common.Box, width, height float32) (*Targets, error) {
	iou := common.PairwiseIoU(anchors, gts)
	var outside []int
	for i, a := range anchors {
		if !a.Inside(width, height) {
			outside = append(outside, i)
		}
	}
	iou.MaskRows(outside)

	matches := g.matcher.Match(iou)
	labels, err := g.sampler.Sample(matches, iou)
	if err != nil {
		return nil, errors.Wrap(err, "rpn targets")
	}

	positive := make([]bool, len(labels))
	objectness := make([]float32, len(labels))
	for i, l := range labels {
		switch l {
		case sampler.Positive:
			positive[i] = true
			objectness[i] = 1
		case sampler.Negative:
			objectness[i] = 0
		default:
			objectness[i] = -1
		}
	}

	boxTargets, boxMasks, err := g.coder.EncodeMasked(anchors, gts, matches, positive)
	if err != nil {
		return nil, errors.Wrap(err, "rpn box targets")
	}
	return &Targets{
		Objectness: objectness,
		BoxTargets: boxTargets,
		BoxMasks:   boxMasks,
		Labels:     labels,
		Matches:    matches,
	}, nil
}
