package transforms

import (
	"image"
	"math/rand/v2"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-rcnn/common"
	"github.com/nvr-ai/go-rcnn/models/rpn"
)

// PresetConfig holds the input pipeline parameters.
type PresetConfig struct {
	Short    int        `json:"short" yaml:"short"`
	MaxSize  int        `json:"max_size" yaml:"max_size"`
	Mean     [3]float32 `json:"mean" yaml:"mean"`
	Std      [3]float32 `json:"std" yaml:"std"`
	FlipProb float64    `json:"flip_prob" yaml:"flip_prob"`
}

// DefaultPresetConfig returns short 600, max 1000, ImageNet statistics and a
// 0.5 flip probability.
func DefaultPresetConfig() PresetConfig {
	return PresetConfig{
		Short:    600,
		MaxSize:  1000,
		Mean:     DefaultMean,
		Std:      DefaultStd,
		FlipProb: 0.5,
	}
}

// Sample is a preprocessed image ready for the detector.
type Sample struct {
	Image *tensor.Dense
	// GroundTruth in resized (and possibly flipped) image coordinates.
	GroundTruth []common.GroundTruth
	ScaleX      float32
	ScaleY      float32
	Flipped     bool
	// RPN is set when the train preset has target generation enabled.
	RPN *rpn.Targets
}

// Unscale maps a box of the resized image back to the source image.
func (s *Sample) Unscale(b common.Box) common.Box {
	return common.Box{X1: b.X1 / s.ScaleX, Y1: b.Y1 / s.ScaleY, X2: b.X2 / s.ScaleX, Y2: b.Y2 / s.ScaleY}
}

// TestPreset resizes and normalizes images for inference.
type TestPreset struct {
	cfg PresetConfig
}

// NewTestPreset validates cfg.
func NewTestPreset(cfg PresetConfig) (*TestPreset, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &TestPreset{cfg: cfg}, nil
}

func (c PresetConfig) validate() error {
	if c.Short <= 0 {
		return errors.Wrapf(common.ErrConfiguration, "short side must be positive, got %d", c.Short)
	}
	for i, s := range c.Std {
		if s <= 0 {
			return errors.Wrapf(common.ErrConfiguration, "std[%d] must be positive, got %g", i, s)
		}
	}
	if c.FlipProb < 0 || c.FlipProb > 1 {
		return errors.Wrapf(common.ErrConfiguration, "flip probability must be in [0, 1], got %g", c.FlipProb)
	}
	return nil
}

// Apply resizes img and converts it to a tensor.
func (p *TestPreset) Apply(img image.Image) *Sample {
	resized, sx, sy := p.resize(img)
	return &Sample{Image: ToTensor(resized, p.cfg.Mean, p.cfg.Std), ScaleX: sx, ScaleY: sy}
}

func (p *TestPreset) resize(img image.Image) (image.Image, float32, float32) {
	src := img.Bounds()
	resized, _ := ResizeShortWithin(img, p.cfg.Short, p.cfg.MaxSize)
	dst := resized.Bounds()
	if src.Dx() == 0 || src.Dy() == 0 {
		return resized, 1, 1
	}
	return resized, float32(dst.Dx()) / float32(src.Dx()), float32(dst.Dy()) / float32(src.Dy())
}

// TrainPreset extends TestPreset with box transforms, random flips and
// optional RPN target generation.
type TrainPreset struct {
	TestPreset
	rng     *rand.Rand
	anchors *rpn.AnchorGenerator
	targets *rpn.TargetGenerator
}

// NewTrainPreset validates cfg. src drives the flips.
func NewTrainPreset(cfg PresetConfig, src rand.Source) (*TrainPreset, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if src == nil {
		return nil, errors.Wrap(common.ErrConfiguration, "train preset needs a random source")
	}
	return &TrainPreset{TestPreset: TestPreset{cfg: cfg}, rng: rand.New(src)}, nil
}

// WithRPNTargets makes Apply compute RPN targets on the anchor grid of a
// feature map floor(H/stride) x floor(W/stride).
func (p *TrainPreset) WithRPNTargets(anchors *rpn.AnchorGenerator, targets *rpn.TargetGenerator) *TrainPreset {
	p.anchors = anchors
	p.targets = targets
	return p
}

// Apply resizes img and gts, flips both at random and converts img to a
// tensor.
//
// Arguments:
//   - img: Source image.
//   - gts: Ground truth in source image coordinates.
//
// Returns:
//   - *Sample: The preprocessed sample.
//   - error: Target generation errors.
func (p *TrainPreset) Apply(img image.Image, gts []common.GroundTruth) (*Sample, error) {
	resized, sx, sy := p.resize(img)
	out := &Sample{ScaleX: sx, ScaleY: sy, GroundTruth: ResizeBoxes(gts, sx, sy)}

	b := resized.Bounds()
	width, height := b.Dx(), b.Dy()
	if RandomFlip(p.rng, p.cfg.FlipProb) {
		resized = FlipImage(resized)
		out.GroundTruth = FlipBoxes(out.GroundTruth, float32(width))
		out.Flipped = true
	}
	out.Image = ToTensor(resized, p.cfg.Mean, p.cfg.Std)

	if p.anchors == nil || p.targets == nil {
		return out, nil
	}
	stride := p.anchors.Stride()
	anchors := rpn.AnchorBoxes(p.anchors.Generate(height/stride, width/stride))
	targets, err := p.targets.Generate(common.Boxes(out.GroundTruth), anchors, float32(width), float32(height))
	if err != nil {
		return nil, errors.Wrap(err, "rpn targets")
	}
	out.RPN = targets
	return out, nil
}
