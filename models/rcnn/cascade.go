package rcnn

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-rcnn/common"
	"github.com/nvr-ai/go-rcnn/models/coder"
	"github.com/nvr-ai/go-rcnn/models/postprocess"
	"github.com/nvr-ai/go-rcnn/models/roi"
	"github.com/nvr-ai/go-rcnn/models/rpn"
	"github.com/nvr-ai/go-rcnn/models/sampler"
)

// Cascade runs an RPN followed by NumStages refinement stages.
//
// Detect and SetNMS are safe for concurrent use. Train is not when a random
// source was injected with WithRand.
type Cascade struct {
	cfg    Config
	prims  Primitives
	pooler roi.Pooler
	log    *logrus.Logger
	src    rand.Source

	anchors    *rpn.AnchorGenerator
	proposals  *rpn.ProposalGenerator
	rpnTargets *rpn.TargetGenerator
	stages     [NumStages]*Stage
	roiSize    [2]int

	mu  sync.RWMutex
	nms postprocess.NMSConfig
	// postNMS is the final detection count, -1 for all.
	postNMS int
}

// Option customizes a Cascade.
type Option func(*Cascade)

// WithLogger sets the logger. The default is logrus.StandardLogger().
func WithLogger(l *logrus.Logger) Option {
	return func(c *Cascade) { c.log = l }
}

// WithRand sets the random source of every sampler.
func WithRand(src rand.Source) Option {
	return func(c *Cascade) { c.src = src }
}

// WithPooler overrides the pooler selected by Config.ROIMode.
func WithPooler(p roi.Pooler) Option {
	return func(c *Cascade) { c.pooler = p }
}

// RPNOutput holds the proposal network's raw predictions and supervision.
type RPNOutput struct {
	Anchors   []common.Box
	Scores    []float32
	Deltas    []coder.Delta
	Proposals []postprocess.Result
	Targets   *rpn.Targets
}

// TrainOutput is everything a loss needs from one training step.
type TrainOutput struct {
	RPN     RPNOutput
	Stages  [NumStages]*StageOutput
	Targets [NumStages]*StageTargets
}

// New validates cfg and assembles a Cascade.
//
// Arguments:
//   - cfg: Cascade configuration.
//   - prims: Backbone, RPN head and one head per stage.
//   - opts: Logger, random source and pooler overrides.
//
// Returns:
//   - *Cascade: The model.
//   - error: Wraps common.ErrConfiguration for an invalid config or missing
//     primitive.
func New(cfg Config, prims Primitives, opts ...Option) (*Cascade, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if prims.Backbone == nil || prims.RPN == nil {
		return nil, errors.Wrap(common.ErrConfiguration, "backbone and rpn head are required")
	}
	for i, h := range prims.Heads {
		if h == nil {
			return nil, errors.Wrapf(common.ErrConfiguration, "stage %d head is required", i+1)
		}
	}

	c := &Cascade{
		cfg:     cfg,
		prims:   prims,
		log:     logrus.StandardLogger(),
		roiSize: [2]int{cfg.ROISize[0], cfg.ROISize[1]},
		postNMS: cfg.PostNMS,
		nms: postprocess.NMSConfig{
			IoUThreshold: cfg.NMSThresh,
			ClassAware:   true,
			TopK:         cfg.NMSTopK,
			NumWorkers:   cfg.NMSWorkers,
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	var err error
	if c.pooler == nil {
		if c.pooler, err = roi.New(cfg.ROIMode); err != nil {
			return nil, err
		}
	}
	if c.anchors, err = rpn.NewAnchorGenerator(cfg.Anchors); err != nil {
		return nil, err
	}
	if c.proposals, err = rpn.NewProposalGenerator(cfg.Proposals); err != nil {
		return nil, err
	}
	if c.rpnTargets, err = rpn.NewTargetGenerator(cfg.RPNTargets, c.src); err != nil {
		return nil, err
	}
	for i := range c.stages {
		if c.stages[i], err = newStage(i, cfg.Stages[i], prims.Heads[i], c.src); err != nil {
			return nil, err
		}
	}

	c.logNMS()
	return c, nil
}

// Config returns the construction-time configuration.
func (c *Cascade) Config() Config { return c.cfg }

// Stage returns stage i (0-based).
func (c *Cascade) Stage(i int) *Stage { return c.stages[i] }

// SetNMS replaces the final NMS settings for subsequent Detect calls.
//
// Arguments:
//   - thresh: IoU threshold. Outside (0, 1) disables NMS.
//   - topk: Candidates entering NMS, <= 0 for all.
//   - postNMS: Detections returned, -1 for all.
//
// Returns:
//   - error: Wraps common.ErrConfiguration for a NaN threshold or a postNMS of
//     0 or below -1. The previous settings are kept on error.
func (c *Cascade) SetNMS(thresh float32, topk, postNMS int) error {
	if err := validateNMS(thresh, postNMS); err != nil {
		return err
	}
	c.mu.Lock()
	c.nms.IoUThreshold = thresh
	c.nms.TopK = topk
	c.postNMS = postNMS
	c.mu.Unlock()
	c.logNMS()
	return nil
}

func (c *Cascade) nmsSettings() (postprocess.NMSConfig, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nms, c.postNMS
}

func (c *Cascade) logNMS() {
	cfg, post := c.nmsSettings()
	if !cfg.Enabled() {
		c.log.WithFields(logrus.Fields{
			"nms_thresh": cfg.IoUThreshold,
			"nms_topk":   cfg.TopK,
			"post_nms":   post,
		}).Info("final nms disabled, keeping top-k detections only")
	}
}

// imageSize validates a (1, 3, H, W) image and returns (width, height).
func imageSize(image *tensor.Dense) (float32, float32, error) {
	if _, err := common.Float32s("image", image, 1, 3, -1, -1); err != nil {
		return 0, 0, err
	}
	s := image.Shape()
	return float32(s[3]), float32(s[2]), nil
}

// propose runs the backbone and RPN head and generates proposals.
func (c *Cascade) propose(image *tensor.Dense, mode common.Mode, width, height float32) (*tensor.Dense, *RPNOutput, error) {
	feature, err := c.prims.Backbone.Features(image)
	if err != nil {
		return nil, nil, errors.Wrap(err, "backbone")
	}
	if _, err = common.Float32s("feature", feature, 1, -1, -1, -1); err != nil {
		return nil, nil, err
	}
	fs := feature.Shape()

	scores, deltas, err := c.prims.RPN.Predict(feature)
	if err != nil {
		return nil, nil, errors.Wrap(err, "rpn head")
	}
	anchors := rpn.AnchorBoxes(c.anchors.Generate(fs[2], fs[3]))
	s, err := common.Float32s("rpn scores", scores, len(anchors))
	if err != nil {
		return nil, nil, err
	}
	d, err := common.Float32s("rpn deltas", deltas, len(anchors), 4)
	if err != nil {
		return nil, nil, err
	}

	out := &RPNOutput{Anchors: anchors, Scores: s, Deltas: coder.DeltasFromSlice(d)}
	if out.Proposals, err = c.proposals.Generate(anchors, s, out.Deltas, width, height, mode); err != nil {
		return nil, nil, err
	}
	c.log.WithFields(logrus.Fields{
		"mode":      mode,
		"anchors":   len(anchors),
		"proposals": len(out.Proposals),
	}).Debug("rpn")
	return feature, out, nil
}

func (c *Cascade) spatialScale() float32 {
	return 1 / float32(c.anchors.Stride())
}

// Train runs the full cascade with sampling at every stage.
//
// Arguments:
//   - ctx: Checked between stages.
//   - image: Normalized image (1, 3, H, W).
//   - gts: Ground truth in image coordinates. May be empty.
//
// Returns:
//   - *TrainOutput: RPN and per-stage predictions with their targets.
//   - error: Shape, primitive or context errors.
func (c *Cascade) Train(ctx context.Context, image *tensor.Dense, gts []common.GroundTruth) (*TrainOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	width, height, err := imageSize(image)
	if err != nil {
		return nil, err
	}
	feature, rpnOut, err := c.propose(image, common.ModeTraining, width, height)
	if err != nil {
		return nil, err
	}

	gtBoxes := common.Boxes(gts)
	if rpnOut.Targets, err = c.rpnTargets.Generate(gtBoxes, rpnOut.Anchors, width, height); err != nil {
		return nil, err
	}

	out := &TrainOutput{RPN: *rpnOut}
	regions := rpn.ProposalBoxes(rpnOut.Proposals)
	for i, stage := range c.stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		kept, labels, matches, err := stage.Sample(regions, gtBoxes, c.cfg.AddGroundTruth)
		if err != nil {
			return nil, err
		}
		so, err := stage.Forward(c.pooler, feature, kept, c.cfg.NumClass, c.roiSize, c.spatialScale(), width, height)
		if err != nil {
			return nil, err
		}
		so.Labels, so.Matches = labels, matches
		if out.Targets[i], err = stage.Targets(so, gts); err != nil {
			return nil, err
		}
		out.Stages[i] = so

		pos, neg := sampler.Count(labels)
		c.log.WithFields(logrus.Fields{
			"stage":     i + 1,
			"regions":   so.Len(),
			"positives": pos,
			"negatives": neg,
		}).Debug("cascade stage")
		regions = so.Boxes
	}
	return out, nil
}

// Refine runs the stages without sampling and returns every stage output.
//
// Arguments:
//   - ctx: Checked between stages.
//   - feature: Backbone feature map (1, C, h, w).
//   - regions: Initial regions, usually RPN proposals.
//   - width, height: Image size.
func (c *Cascade) Refine(ctx context.Context, feature *tensor.Dense, regions []common.Box, width, height float32,
) ([NumStages]*StageOutput, error) {
	var outs [NumStages]*StageOutput
	for i, stage := range c.stages {
		if err := ctx.Err(); err != nil {
			return outs, err
		}
		so, err := stage.Forward(c.pooler, feature, regions, c.cfg.NumClass, c.roiSize, c.spatialScale(), width, height)
		if err != nil {
			return outs, err
		}
		c.log.WithFields(logrus.Fields{"stage": i + 1, "regions": so.Len()}).Debug("cascade stage")
		outs[i] = so
		regions = so.Boxes
	}
	return outs, nil
}

// Detect runs inference on one image.
//
// Class probabilities of the three stages are averaged; boxes come from the
// last stage. Per-class candidates above ScoreThresh go through class-aware
// NMS and the PostNMS cut.
//
// Arguments:
//   - ctx: Checked between stages.
//   - image: Normalized image (1, 3, H, W).
//
// Returns:
//   - postprocess.Detections: Detections by descending score. Empty when
//     nothing survives.
//   - error: Shape, primitive or context errors.
func (c *Cascade) Detect(ctx context.Context, image *tensor.Dense) (postprocess.Detections, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	nmsCfg, postNMS := c.nmsSettings()

	width, height, err := imageSize(image)
	if err != nil {
		return nil, err
	}
	feature, rpnOut, err := c.propose(image, common.ModeInference, width, height)
	if err != nil {
		return nil, err
	}
	outs, err := c.Refine(ctx, feature, rpn.ProposalBoxes(rpnOut.Proposals), width, height)
	if err != nil {
		return nil, err
	}

	last := outs[NumStages-1]
	if last.Len() == 0 {
		return nil, nil
	}
	probs := make([][]float64, NumStages)
	for i, so := range outs {
		probs[i] = Softmax(so.Logits, c.cfg.NumClass+1)
	}
	fused, err := Fuse(probs...)
	if err != nil {
		return nil, err
	}

	candidates := ClassScores(fused, last.Boxes, c.cfg.NumClass, c.cfg.ScoreThresh)
	dets := postprocess.Suppress(candidates, &nmsCfg)
	if postNMS >= 0 && len(dets) > postNMS {
		dets = dets[:postNMS]
	}
	c.log.WithFields(logrus.Fields{
		"candidates": len(candidates),
		"detections": len(dets),
	}).Debug("detect")
	return dets, nil
}
