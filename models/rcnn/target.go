package rcnn

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-rcnn/common"
	"github.com/nvr-ai/go-rcnn/models/coder"
	"github.com/nvr-ai/go-rcnn/models/sampler"
)

// StageTargets is the supervision for one stage's sampled regions.
type StageTargets struct {
	// Classes holds gt class + 1 for positives, 0 for negatives and -1 for
	// ignored regions.
	Classes    []int
	BoxTargets []coder.Delta
	BoxMasks   []coder.Delta
}

// Targets builds classification and regression targets for a training output.
func (s *Stage) Targets(out *StageOutput, gts []common.GroundTruth) (*StageTargets, error) {
	n := out.Len()
	if len(out.Labels) != n || len(out.Matches) != n {
		return nil, errors.Wrapf(common.ErrShapeMismatch,
			"stage %d targets: %d regions, %d labels, %d matches", s.index+1, n, len(out.Labels), len(out.Matches))
	}

	classes := make([]int, n)
	positive := make([]bool, n)
	for i, l := range out.Labels {
		switch l {
		case sampler.Positive:
			m := out.Matches[i]
			if m < 0 || m >= len(gts) {
				return nil, errors.Wrapf(common.ErrShapeMismatch,
					"stage %d targets: positive region %d matched to %d of %d", s.index+1, i, m, len(gts))
			}
			classes[i] = gts[m].Class + 1
			positive[i] = true
		case sampler.Negative:
			classes[i] = 0
		default:
			classes[i] = -1
		}
	}

	boxTargets, boxMasks, err := s.coder.EncodeMasked(out.Regions, common.Boxes(gts), out.Matches, positive)
	if err != nil {
		return nil, errors.Wrapf(err, "stage %d targets", s.index+1)
	}
	return &StageTargets{Classes: classes, BoxTargets: boxTargets, BoxMasks: boxMasks}, nil
}
