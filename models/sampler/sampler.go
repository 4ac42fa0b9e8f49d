// Package sampler - Positive/negative/ignore selection for training targets.
//
// The sampler is a plain value-in/value-out function. It is not differentiable and
// has zero sensitivity to its inputs; nothing downstream may propagate through it.
package sampler

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat/sampleuv"

	"github.com/nvr-ai/go-rcnn/common"
	"github.com/nvr-ai/go-rcnn/models/matcher"
)

// Label is the sampling decision for one anchor or region.
type Label int8

const (
	// Negative rows are supervised as background.
	Negative Label = -1
	// Ignore rows contribute no loss and receive no box target.
	Ignore Label = 0
	// Positive rows are supervised as foreground.
	Positive Label = 1
)

// Config holds QuotaSampler parameters.
type Config struct {
	// NumSample is the total quota. A negative value disables rebalancing.
	NumSample int `json:"num_sample" yaml:"num_sample"`
	// PosThresh is the max-IoU at or above which a row is positive.
	PosThresh float32 `json:"pos_thresh" yaml:"pos_thresh"`
	// NegThreshHigh and NegThreshLow bound negatives: max IoU in [low, high).
	NegThreshHigh float32 `json:"neg_thresh_high" yaml:"neg_thresh_high"`
	NegThreshLow  float32 `json:"neg_thresh_low"  yaml:"neg_thresh_low"`
	// PosRatio is the positive share of NumSample.
	PosRatio float32 `json:"pos_ratio" yaml:"pos_ratio"`
	// NegRatio overrides the negative share. Nil means NumSample minus the positive quota.
	NegRatio *float32 `json:"neg_ratio,omitempty" yaml:"neg_ratio,omitempty"`
}

// QuotaSampler labels rows positive, negative, or ignore under fixed quotas.
//
// A QuotaSampler is not safe for concurrent use: its random source is shared
// across calls.
type QuotaSampler struct {
	cfg    Config
	maxPos int
	maxNeg int
	src    rand.Source
}

// New validates cfg and creates a sampler.
//
// Arguments:
//   - cfg: Sampling parameters. Thresholds are clamped into [0, 1].
//   - src: Random source for quota draws. Nil uses the math/rand/v2 global source.
//
// Returns:
//   - *QuotaSampler: The sampler.
//   - error: Wraps common.ErrConfiguration when ratios are out of range.
func New(cfg Config, src rand.Source) (*QuotaSampler, error) {
	if cfg.PosRatio < 0 || cfg.PosRatio > 1 {
		return nil, errors.Wrapf(common.ErrConfiguration, "pos_ratio must be in [0, 1], got %v", cfg.PosRatio)
	}
	negRatio := 1 - cfg.PosRatio
	if cfg.NegRatio != nil {
		negRatio = *cfg.NegRatio
		if negRatio < 0 {
			return nil, errors.Wrapf(common.ErrConfiguration, "neg_ratio must be non-negative, got %v", negRatio)
		}
	}
	if cfg.PosRatio+negRatio > 1+1e-6 {
		return nil, errors.Wrapf(common.ErrConfiguration,
			"positive and negative ratio exceed 1: %v + %v", cfg.PosRatio, negRatio)
	}

	cfg.PosThresh = clamp01(cfg.PosThresh)
	cfg.NegThreshHigh = clamp01(cfg.NegThreshHigh)
	cfg.NegThreshLow = clamp01(cfg.NegThreshLow)

	s := &QuotaSampler{cfg: cfg, src: src}
	if cfg.NumSample >= 0 {
		// Ties round to even.
		s.maxPos = int(math.RoundToEven(float64(cfg.PosRatio) * float64(cfg.NumSample)))
		if cfg.NegRatio != nil {
			s.maxNeg = int(float64(negRatio) * float64(cfg.NumSample))
		} else {
			s.maxNeg = cfg.NumSample - s.maxPos
		}
	}
	return s, nil
}

// Config returns the effective (clamped) configuration.
func (s *QuotaSampler) Config() Config { return s.cfg }

// MaxPositive returns the positive quota, or -1 when rebalancing is disabled.
func (s *QuotaSampler) MaxPositive() int {
	if s.cfg.NumSample < 0 {
		return -1
	}
	return s.maxPos
}

// MaxNegative returns the negative quota, or -1 when rebalancing is disabled.
func (s *QuotaSampler) MaxNegative() int {
	if s.cfg.NumSample < 0 {
		return -1
	}
	return s.maxNeg
}

// Sample labels every row of iou.
//
// Negatives are rows whose max IoU lies in [NegThreshLow, NegThreshHigh).
// Positives, which override negatives, are rows with a match or with max IoU at
// or above PosThresh. When a class exceeds its quota a uniformly random subset of
// the excess is demoted to Ignore; nothing is ever flipped between positive and
// negative.
//
// Arguments:
//   - matches: Ground-truth index per row, matcher.Unmatched for none.
//   - iou: The IoU matrix the matches were computed from.
//
// Returns:
//   - []Label: One label per row.
//   - error: Wraps common.ErrShapeMismatch when len(matches) != iou.Rows.
func (s *QuotaSampler) Sample(matches []int, iou *common.IoUMatrix) ([]Label, error) {
	if len(matches) != iou.Rows {
		return nil, errors.Wrapf(common.ErrShapeMismatch,
			"sample: %d matches for %d iou rows", len(matches), iou.Rows)
	}

	labels := make([]Label, iou.Rows)
	for i := range labels {
		if iou.Masked(i) {
			continue
		}
		best, _ := iou.RowMax(i)
		if best >= s.cfg.NegThreshLow && best < s.cfg.NegThreshHigh {
			labels[i] = Negative
		}
		if matches[i] != matcher.Unmatched || best >= s.cfg.PosThresh {
			labels[i] = Positive
		}
	}

	if s.cfg.NumSample >= 0 {
		s.demoteExcess(labels, Positive, s.maxPos)
		s.demoteExcess(labels, Negative, s.maxNeg)
	}
	return labels, nil
}

// demoteExcess sets a random subset of the rows labelled l to Ignore so at most
// limit remain.
func (s *QuotaSampler) demoteExcess(labels []Label, l Label, limit int) {
	var idx []int
	for i, v := range labels {
		if v == l {
			idx = append(idx, i)
		}
	}
	excess := len(idx) - limit
	if excess <= 0 {
		return
	}
	picks := make([]int, excess)
	sampleuv.WithoutReplacement(picks, len(idx), s.src)
	for _, p := range picks {
		labels[idx[p]] = Ignore
	}
}

// Count returns the number of positive and negative labels.
func Count(labels []Label) (pos, neg int) {
	for _, l := range labels {
		switch l {
		case Positive:
			pos++
		case Negative:
			neg++
		}
	}
	return pos, neg
}

func clamp01(v float32) float32 {
	return min(1, max(0, v))
}
