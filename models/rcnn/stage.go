package rcnn

import (
	"math/rand/v2"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-rcnn/common"
	"github.com/nvr-ai/go-rcnn/models/coder"
	"github.com/nvr-ai/go-rcnn/models/matcher"
	"github.com/nvr-ai/go-rcnn/models/roi"
	"github.com/nvr-ai/go-rcnn/models/sampler"
)

// StageOutput is the result of one cascade stage.
type StageOutput struct {
	// Regions are the boxes the stage pooled, after sampling in training.
	Regions []common.Box
	// Labels and Matches describe Regions against ground truth. Training only.
	Labels  []sampler.Label
	Matches []int
	// Logits is row-major (len(Regions), NumClass+1).
	Logits []float32
	Deltas []coder.Delta
	// Boxes are Regions refined by Deltas and clipped to the image. They are the
	// next stage's input.
	Boxes []common.Box
}

// Len returns the number of regions.
func (o *StageOutput) Len() int { return len(o.Regions) }

// Stage runs SAMPLE, POOL, PREDICT and DECODE for one cascade level.
type Stage struct {
	index   int
	cfg     StageConfig
	matcher matcher.Matcher
	sampler *sampler.QuotaSampler
	coder   *coder.Coder
	head    Head
}

func newStage(index int, cfg StageConfig, head Head, src rand.Source) (*Stage, error) {
	s, err := sampler.New(cfg.Sampler, src)
	if err != nil {
		return nil, errors.Wrapf(err, "stage %d sampler", index+1)
	}
	c, err := coder.FromSlices(cfg.Means, cfg.Stds)
	if err != nil {
		return nil, errors.Wrapf(err, "stage %d box coder", index+1)
	}
	return &Stage{
		index:   index,
		cfg:     cfg,
		matcher: matcher.NewDefault(s.Config().PosThresh),
		sampler: s,
		coder:   c,
		head:    head,
	}, nil
}

// Coder returns the stage's box coder.
func (s *Stage) Coder() *coder.Coder { return s.coder }

// Sample matches regions to ground truth and selects the supervised subset.
//
// With a non-negative quota only positives and negatives are kept, positives
// first, each group in input order. Without a quota every region is kept with
// its label.
//
// Arguments:
//   - regions: Candidate boxes from the previous stage or the RPN.
//   - gts: Ground-truth boxes.
//   - addGroundTruth: Append gts to the candidates before matching.
//
// Returns:
//   - kept, labels, matches: Parallel slices over the kept regions.
func (s *Stage) Sample(regions, gts []common.Box, addGroundTruth bool) ([]common.Box, []sampler.Label, []int, error) {
	candidates := regions
	if addGroundTruth && len(gts) > 0 {
		candidates = make([]common.Box, 0, len(regions)+len(gts))
		candidates = append(candidates, regions...)
		candidates = append(candidates, gts...)
	}

	iou := common.PairwiseIoU(candidates, gts)
	matches := s.matcher.Match(iou)
	labels, err := s.sampler.Sample(matches, iou)
	if err != nil {
		return nil, nil, nil, errors.Wrapf(err, "stage %d", s.index+1)
	}
	if s.cfg.Sampler.NumSample < 0 {
		return candidates, labels, matches, nil
	}

	pos, neg := sampler.Count(labels)
	kept := make([]common.Box, 0, pos+neg)
	keptLabels := make([]sampler.Label, 0, pos+neg)
	keptMatches := make([]int, 0, pos+neg)
	for _, want := range []sampler.Label{sampler.Positive, sampler.Negative} {
		for i, l := range labels {
			if l == want {
				kept = append(kept, candidates[i])
				keptLabels = append(keptLabels, l)
				keptMatches = append(keptMatches, matches[i])
			}
		}
	}
	return kept, keptLabels, keptMatches, nil
}

// Forward pools, predicts and decodes regions. An empty region set yields an
// empty output without touching the pooler or head.
//
// Arguments:
//   - pooler: ROI feature extractor.
//   - feature: Feature map (1, C, h, w).
//   - regions: Boxes in image coordinates.
//   - numClass: Foreground class count; logits must have numClass+1 columns.
//   - roiSize: Pooled (height, width).
//   - spatialScale: Feature stride reciprocal.
//   - width, height: Image size for clipping decoded boxes.
func (s *Stage) Forward(pooler roi.Pooler, feature *tensor.Dense, regions []common.Box, numClass int,
	roiSize [2]int, spatialScale, width, height float32,
) (*StageOutput, error) {
	out := &StageOutput{Regions: regions}
	if len(regions) == 0 {
		return out, nil
	}

	pooled, err := pooler.Pool(feature, roi.Regions(regions), roiSize[0], roiSize[1], spatialScale)
	if err != nil {
		return nil, errors.Wrapf(err, "stage %d pool", s.index+1)
	}
	logits, deltas, err := s.head.Predict(pooled)
	if err != nil {
		return nil, errors.Wrapf(err, "stage %d head", s.index+1)
	}
	n := len(regions)
	if out.Logits, err = common.Float32s("stage logits", logits, n, numClass+1); err != nil {
		return nil, errors.Wrapf(err, "stage %d", s.index+1)
	}
	d, err := common.Float32s("stage deltas", deltas, n, 4)
	if err != nil {
		return nil, errors.Wrapf(err, "stage %d", s.index+1)
	}
	out.Deltas = coder.DeltasFromSlice(d)

	boxes, err := s.coder.DecodeAll(regions, out.Deltas)
	if err != nil {
		return nil, errors.Wrapf(err, "stage %d", s.index+1)
	}
	for i := range boxes {
		boxes[i] = boxes[i].Clip(width, height)
	}
	out.Boxes = boxes
	return out, nil
}
