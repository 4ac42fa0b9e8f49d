// Package rcnn - Three-stage cascade of region refinement on top of a region
// proposal network.
package rcnn

import (
	"math"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-rcnn/common"
	"github.com/nvr-ai/go-rcnn/models/coder"
	"github.com/nvr-ai/go-rcnn/models/roi"
	"github.com/nvr-ai/go-rcnn/models/rpn"
	"github.com/nvr-ai/go-rcnn/models/sampler"
)

// NumStages is the depth of the cascade.
const NumStages = 3

// StageConfig holds the sampling thresholds and box statistics of one stage.
type StageConfig struct {
	Sampler sampler.Config `json:"sampler" yaml:"sampler"`
	// Means and Stds normalize the stage's box regression.
	Means []float32 `json:"means" yaml:"means"`
	Stds  []float32 `json:"stds"  yaml:"stds"`
}

// Config is the complete cascade configuration.
type Config struct {
	// NumClass is the number of foreground classes, background excluded.
	NumClass int `json:"num_class" yaml:"num_class"`
	// Classes optionally names the foreground classes.
	Classes []string `json:"classes,omitempty" yaml:"classes,omitempty"`

	Anchors    rpn.AnchorConfig   `json:"anchors"     yaml:"anchors"`
	Proposals  rpn.ProposalConfig `json:"proposals"   yaml:"proposals"`
	RPNTargets rpn.TargetConfig   `json:"rpn_targets" yaml:"rpn_targets"`

	// ROIMode is "align" or "pool".
	ROIMode roi.Mode `json:"roi_mode" yaml:"roi_mode"`
	// ROISize is the pooled (height, width).
	ROISize []int `json:"roi_size" yaml:"roi_size"`
	// AddGroundTruth appends ground-truth boxes to the regions sampled in training.
	AddGroundTruth bool `json:"add_gt" yaml:"add_gt"`

	// Stages replaces all stage settings when present in a config file.
	Stages []StageConfig `json:"stages" yaml:"stages"`

	// ScoreThresh drops per-class scores at or below it before NMS.
	ScoreThresh float32 `json:"score_thresh" yaml:"score_thresh"`
	// NMSThresh outside (0, 1) disables NMS.
	NMSThresh float32 `json:"nms_thresh" yaml:"nms_thresh"`
	// NMSTopK bounds the candidates entering NMS. <= 0 considers all.
	NMSTopK int `json:"nms_topk" yaml:"nms_topk"`
	// PostNMS bounds the detections returned. -1 keeps all.
	PostNMS int `json:"post_nms" yaml:"post_nms"`
	// NMSWorkers parallelizes the final NMS when greater than 1.
	NMSWorkers int `json:"nms_workers" yaml:"nms_workers"`
}

// DefaultStageConfigs returns the three stages with IoU thresholds 0.5, 0.6 and
// 0.7 and progressively tighter regression stds.
func DefaultStageConfigs() []StageConfig {
	stage := func(numSample int, thresh float32, stds []float32) StageConfig {
		return StageConfig{
			Sampler: sampler.Config{
				NumSample:     numSample,
				PosThresh:     thresh,
				NegThreshHigh: thresh,
				NegThreshLow:  0,
				PosRatio:      0.25,
			},
			Means: []float32{0, 0, 0, 0},
			Stds:  stds,
		}
	}
	return []StageConfig{
		stage(128, 0.5, []float32{1, 1, 1, 1}),
		stage(-1, 0.6, []float32{0.05, 0.05, 0.1, 0.1}),
		stage(-1, 0.7, []float32{0.033, 0.033, 0.067, 0.067}),
	}
}

// DefaultConfig returns the standard cascade settings for numClass foreground
// classes.
//
// @example
// cfg := DefaultConfig(20)
// cfg.ROIMode = roi.ModePool
// model, err := New(cfg, prims)
func DefaultConfig(numClass int) Config {
	return Config{
		NumClass:       numClass,
		Anchors:        rpn.DefaultAnchorConfig(),
		Proposals:      rpn.DefaultProposalConfig(),
		RPNTargets:     rpn.DefaultTargetConfig(),
		ROIMode:        roi.ModeAlign,
		ROISize:        []int{14, 14},
		AddGroundTruth: true,
		Stages:         DefaultStageConfigs(),
		ScoreThresh:    0.01,
		NMSThresh:      0.3,
		NMSTopK:        400,
		PostNMS:        100,
	}
}

// Validate checks every field that would make construction fail.
//
// Returns:
//   - error: Wraps common.ErrConfiguration describing the first invalid field.
func (c *Config) Validate() error {
	if c.NumClass <= 0 {
		return errors.Wrapf(common.ErrConfiguration, "num_class must be positive, got %d", c.NumClass)
	}
	if len(c.Classes) > 0 && len(c.Classes) != c.NumClass {
		return errors.Wrapf(common.ErrConfiguration, "%d class names for %d classes", len(c.Classes), c.NumClass)
	}
	if _, err := roi.New(c.ROIMode); err != nil {
		return err
	}
	if len(c.ROISize) != 2 || c.ROISize[0] <= 0 || c.ROISize[1] <= 0 {
		return errors.Wrapf(common.ErrConfiguration, "roi_size must be two positive values, got %v", c.ROISize)
	}
	if _, err := rpn.NewAnchorGenerator(c.Anchors); err != nil {
		return errors.Wrap(err, "anchors")
	}
	if _, err := rpn.NewProposalGenerator(c.Proposals); err != nil {
		return errors.Wrap(err, "proposals")
	}
	if _, err := rpn.NewTargetGenerator(c.RPNTargets, nil); err != nil {
		return errors.Wrap(err, "rpn targets")
	}
	if len(c.Stages) != NumStages {
		return errors.Wrapf(common.ErrConfiguration, "expected %d stages, got %d", NumStages, len(c.Stages))
	}
	for i, s := range c.Stages {
		if _, err := coder.FromSlices(s.Means, s.Stds); err != nil {
			return errors.Wrapf(err, "stage %d", i+1)
		}
		if _, err := sampler.New(s.Sampler, nil); err != nil {
			return errors.Wrapf(err, "stage %d", i+1)
		}
	}
	return validateNMS(c.NMSThresh, c.PostNMS)
}

func validateNMS(thresh float32, postNMS int) error {
	if math.IsNaN(float64(thresh)) {
		return errors.Wrap(common.ErrConfiguration, "nms_thresh is NaN")
	}
	if postNMS == 0 || postNMS < -1 {
		return errors.Wrapf(common.ErrConfiguration, "post_nms must be positive or -1, got %d", postNMS)
	}
	return nil
}

// LoadConfig reads a YAML file over DefaultConfig(0) and validates the result.
//
// Arguments:
//   - path: Path to the YAML file. num_class is required.
//
// Returns:
//   - Config: The merged configuration.
//   - error: File, parse or validation errors.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig(0)
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}
