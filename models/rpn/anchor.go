// Package rpn - Region Proposal Network anchors, proposals, and training targets.
package rpn

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-rcnn/common"
)

// Anchor is a reference box on the feature-map grid.
type Anchor struct {
	Box    common.Box
	Stride int
}

// AnchorConfig describes the anchor grid.
type AnchorConfig struct {
	// Stride of the feature map with respect to the input image.
	Stride int `json:"stride" yaml:"stride"`
	// BaseSize of the reference anchor. Zero means Stride.
	BaseSize int `json:"base_size" yaml:"base_size"`
	// Scales multiply the base size.
	Scales []float32 `json:"scales" yaml:"scales"`
	// Ratios are height/width aspect ratios.
	Ratios []float32 `json:"ratios" yaml:"ratios"`
}

// DefaultAnchorConfig returns stride 16 anchors with five scales and three ratios.
func DefaultAnchorConfig() AnchorConfig {
	return AnchorConfig{
		Stride: 16,
		Scales: []float32{2, 4, 8, 16, 32},
		Ratios: []float32{0.5, 1, 2},
	}
}

// AnchorGenerator places a fixed set of base anchors on every feature-map cell.
type AnchorGenerator struct {
	stride int
	base   []common.Box
}

// NewAnchorGenerator builds the base anchors for cfg.
//
// Base anchors are centered on ((base-1)/2, (base-1)/2). For ratio r and scale s,
// ws = round(sqrt(base^2/r)), half-width (ws*s-1)/2 and half-height
// (round(ws*r)*s-1)/2. They are ordered ratio-major, scale-minor.
//
// Returns:
//   - error: Wraps common.ErrConfiguration for a non-positive stride, or empty or
//     non-positive scales/ratios.
func NewAnchorGenerator(cfg AnchorConfig) (*AnchorGenerator, error) {
	if cfg.Stride <= 0 {
		return nil, errors.Wrapf(common.ErrConfiguration, "anchor stride must be positive, got %d", cfg.Stride)
	}
	if len(cfg.Scales) == 0 || len(cfg.Ratios) == 0 {
		return nil, errors.Wrap(common.ErrConfiguration, "anchor scales and ratios must not be empty")
	}
	base := cfg.BaseSize
	if base <= 0 {
		base = cfg.Stride
	}

	fb := float32(base)
	p := (fb - 1) * 0.5
	anchors := make([]common.Box, 0, len(cfg.Scales)*len(cfg.Ratios))
	for _, r := range cfg.Ratios {
		if r <= 0 {
			return nil, errors.Wrapf(common.ErrConfiguration, "anchor ratio must be positive, got %v", r)
		}
		ws := math32.Round(math32.Sqrt(fb * fb / r))
		hs := math32.Round(ws * r)
		for _, s := range cfg.Scales {
			if s <= 0 {
				return nil, errors.Wrapf(common.ErrConfiguration, "anchor scale must be positive, got %v", s)
			}
			w := (ws*s - 1) * 0.5
			h := (hs*s - 1) * 0.5
			anchors = append(anchors, common.Box{X1: p - w, Y1: p - h, X2: p + w, Y2: p + h})
		}
	}
	return &AnchorGenerator{stride: cfg.Stride, base: anchors}, nil
}

// NumPerCell returns the number of anchors per feature-map cell.
func (g *AnchorGenerator) NumPerCell() int { return len(g.base) }

// Stride returns the feature stride.
func (g *AnchorGenerator) Stride() int { return g.stride }

// Generate lays the anchors out over a height x width feature map.
//
// The order is (y, x, anchor) row-major, the layout of RPN head outputs.
//
// @example
// g, _ := NewAnchorGenerator(DefaultAnchorConfig())
// anchors := g.Generate(38, 50) // 38*50*15 anchors
func (g *AnchorGenerator) Generate(height, width int) []Anchor {
	out := make([]Anchor, 0, height*width*len(g.base))
	for y := 0; y < height; y++ {
		sy := float32(y * g.stride)
		for x := 0; x < width; x++ {
			sx := float32(x * g.stride)
			for _, b := range g.base {
				out = append(out, Anchor{
					Box:    common.Box{X1: b.X1 + sx, Y1: b.Y1 + sy, X2: b.X2 + sx, Y2: b.Y2 + sy},
					Stride: g.stride,
				})
			}
		}
	}
	return out
}

// AnchorBoxes extracts the boxes of anchors.
func AnchorBoxes(anchors []Anchor) []common.Box {
	out := make([]common.Box, len(anchors))
	for i, a := range anchors {
		out[i] = a.Box
	}
	return out
}
