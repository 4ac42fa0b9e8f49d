// Package roi - Region-of-interest feature pooling.
package roi

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-rcnn/common"
)

// Region is a box in image coordinates tagged with its batch index.
type Region struct {
	BatchIndex int
	Box        common.Box
}

// Mode names a pooling variant in configuration.
type Mode string

const (
	// ModePool selects quantized max pooling.
	ModePool Mode = "pool"
	// ModeAlign selects bilinear ROI align.
	ModeAlign Mode = "align"
)

// Pooler extracts a fixed-size feature grid for every region.
type Pooler interface {
	// Pool reads feature (N, C, H, W) and returns (len(regions), C, outH, outW).
	// Region boxes are multiplied by spatialScale to reach feature coordinates.
	Pool(feature *tensor.Dense, regions []Region, outH, outW int, spatialScale float32) (*tensor.Dense, error)
}

// New returns the Pooler for mode.
//
// Returns:
//   - error: Wraps common.ErrConfiguration for an unknown mode.
func New(mode Mode) (Pooler, error) {
	switch mode {
	case ModePool:
		return MaxPool{}, nil
	case ModeAlign:
		return Align{SamplingRatio: DefaultSamplingRatio}, nil
	default:
		return nil, errors.Wrapf(common.ErrConfiguration, "unknown roi mode %q, expected %q or %q", mode, ModePool, ModeAlign)
	}
}

// Regions wraps boxes as regions of batch 0.
func Regions(boxes []common.Box) []Region {
	out := make([]Region, len(boxes))
	for i, b := range boxes {
		out[i] = Region{Box: b}
	}
	return out
}

// featureMap is a validated view over an (N, C, H, W) float32 tensor.
type featureMap struct {
	data       []float32
	n, c, h, w int
}

func (f *featureMap) plane(batch, channel int) []float32 {
	off := (batch*f.c + channel) * f.h * f.w
	return f.data[off : off+f.h*f.w]
}

func prepare(feature *tensor.Dense, regions []Region, outH, outW int) (*featureMap, error) {
	if outH <= 0 || outW <= 0 {
		return nil, errors.Wrapf(common.ErrConfiguration, "pool: output size must be positive, got %dx%d", outH, outW)
	}
	if len(regions) == 0 {
		return nil, errors.Wrap(common.ErrShapeMismatch, "pool: no regions")
	}
	data, err := common.Float32s("feature", feature, -1, -1, -1, -1)
	if err != nil {
		return nil, err
	}
	s := feature.Shape()
	f := &featureMap{data: data, n: s[0], c: s[1], h: s[2], w: s[3]}
	if f.h == 0 || f.w == 0 {
		return nil, errors.Wrapf(common.ErrShapeMismatch, "pool: empty feature map %v", s)
	}
	for i, r := range regions {
		if r.BatchIndex < 0 || r.BatchIndex >= f.n {
			return nil, errors.Wrapf(common.ErrShapeMismatch, "pool: region %d has batch index %d of %d", i, r.BatchIndex, f.n)
		}
	}
	return f, nil
}
