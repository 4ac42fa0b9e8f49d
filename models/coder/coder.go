// Package coder - Box regression encoding and decoding against reference boxes.
package coder

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-rcnn/common"
)

// DefaultClip bounds the decoded log-scale terms so exp() cannot overflow.
var DefaultClip = math32.Log(1000.0 / 16.0)

// Delta is a regression target (dx, dy, dw, dh).
type Delta [4]float32

// Coder encodes ground-truth boxes as normalized center offsets and log-scales
// relative to a reference box, and decodes them back.
type Coder struct {
	Means [4]float32
	Stds  [4]float32
	// Clip bounds dw and dh before exponentiation. Values <= 0 disable it.
	Clip float32
}

// New creates a Coder with the given normalization statistics.
//
// Arguments:
//   - means: Per-field means subtracted after encoding.
//   - stds: Per-field standard deviations, all strictly positive.
//
// Returns:
//   - *Coder: The coder, with Clip set to DefaultClip.
//   - error: Wraps common.ErrConfiguration when any std is not positive.
func New(means, stds [4]float32) (*Coder, error) {
	for i, s := range stds {
		if !(s > 0) {
			return nil, errors.Wrapf(common.ErrConfiguration, "stds[%d] must be positive, got %v", i, s)
		}
	}
	return &Coder{Means: means, Stds: stds, Clip: DefaultClip}, nil
}

// FromSlices builds a Coder from config slices of length 4.
func FromSlices(means, stds []float32) (*Coder, error) {
	var m, s [4]float32
	if len(means) != 0 && len(means) != 4 {
		return nil, errors.Wrapf(common.ErrConfiguration, "means must have 4 values, got %d", len(means))
	}
	if len(stds) != 4 {
		return nil, errors.Wrapf(common.ErrConfiguration, "stds must have 4 values, got %d", len(stds))
	}
	copy(m[:], means)
	copy(s[:], stds)
	return New(m, s)
}

// Encode computes the regression target of target relative to reference.
//
// Only meaningful when both boxes have positive width and height, which holds
// for positively matched regions.
func (c *Coder) Encode(reference, target common.Box) Delta {
	r := reference.Center()
	g := target.Center()
	return Delta{
		((g.CX-r.CX)/r.W - c.Means[0]) / c.Stds[0],
		((g.CY-r.CY)/r.H - c.Means[1]) / c.Stds[1],
		(math32.Log(g.W/r.W) - c.Means[2]) / c.Stds[2],
		(math32.Log(g.H/r.H) - c.Means[3]) / c.Stds[3],
	}
}

// Decode applies a regression delta to reference. It is the inverse of Encode.
//
// Decode never fails: degenerate results are left for the caller to clip and
// filter.
func (c *Coder) Decode(reference common.Box, d Delta) common.Box {
	r := reference.Center()
	dx := d[0]*c.Stds[0] + c.Means[0]
	dy := d[1]*c.Stds[1] + c.Means[1]
	dw := d[2]*c.Stds[2] + c.Means[2]
	dh := d[3]*c.Stds[3] + c.Means[3]
	if c.Clip > 0 {
		dw = min(dw, c.Clip)
		dh = min(dh, c.Clip)
	}
	return common.CenterBox{
		CX: dx*r.W + r.CX,
		CY: dy*r.H + r.CY,
		W:  math32.Exp(dw) * r.W,
		H:  math32.Exp(dh) * r.H,
	}.Corner()
}

// DecodeAll decodes deltas against references pairwise.
func (c *Coder) DecodeAll(references []common.Box, deltas []Delta) ([]common.Box, error) {
	if len(references) != len(deltas) {
		return nil, errors.Wrapf(common.ErrShapeMismatch, "decode: %d references vs %d deltas", len(references), len(deltas))
	}
	out := make([]common.Box, len(references))
	for i := range references {
		out[i] = c.Decode(references[i], deltas[i])
	}
	return out, nil
}

// EncodeMasked builds regression targets for the rows selected by mask.
//
// Arguments:
//   - references: Anchors or regions.
//   - gts: Ground-truth boxes indexed by matches.
//   - matches: Ground-truth index per reference.
//   - mask: Rows that receive a target (positive samples).
//
// Returns:
//   - targets: Encoded deltas, zero for unselected rows.
//   - masks: 1 for every field of a selected row, 0 elsewhere.
//   - error: Wraps common.ErrShapeMismatch on inconsistent lengths or an
//     out-of-range match on a selected row.
func (c *Coder) EncodeMasked(references, gts []common.Box, matches []int, mask []bool) ([]Delta, []Delta, error) {
	n := len(references)
	if len(matches) != n || len(mask) != n {
		return nil, nil, errors.Wrapf(common.ErrShapeMismatch,
			"encode: %d references, %d matches, %d mask entries", n, len(matches), len(mask))
	}
	targets := make([]Delta, n)
	masks := make([]Delta, n)
	for i := 0; i < n; i++ {
		if !mask[i] {
			continue
		}
		m := matches[i]
		if m < 0 || m >= len(gts) {
			return nil, nil, errors.Wrapf(common.ErrShapeMismatch, "encode: row %d matched to %d of %d", i, m, len(gts))
		}
		targets[i] = c.Encode(references[i], gts[m])
		masks[i] = Delta{1, 1, 1, 1}
	}
	return targets, masks, nil
}

// DeltasFromSlice reshapes a flat (n*4) slice into deltas.
func DeltasFromSlice(data []float32) []Delta {
	out := make([]Delta, len(data)/4)
	for i := range out {
		copy(out[i][:], data[i*4:i*4+4])
	}
	return out
}
