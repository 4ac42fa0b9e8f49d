package rpn

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-rcnn/common"
	"github.com/nvr-ai/go-rcnn/models/coder"
)

func newTestProposals(t *testing.T, post int) *ProposalGenerator {
	t.Helper()
	cfg := DefaultProposalConfig()
	cfg.TestPostNMS = post
	p, err := NewProposalGenerator(cfg)
	require.NoError(t, err)
	return p
}

func TestProposalGenerator_Scenario(t *testing.T) {
	p := newTestProposals(t, 300)

	anchors := []common.Box{
		{X1: 0, Y1: 0, X2: 40, Y2: 40},
		{X1: 2, Y1: 2, X2: 42, Y2: 42}, // IoU ~0.82 with the first
		{X1: 100, Y1: 100, X2: 140, Y2: 140},
		{X1: 60, Y1: 60, X2: 70, Y2: 70}, // below the minimum size
	}
	scores := []float32{0.6, 0.9, 0.5, 0.99}
	deltas := make([]coder.Delta, len(anchors))

	out, err := p.Generate(anchors, scores, deltas, 200, 200, common.ModeInference)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, anchors[1], out[0].Box)
	assert.Equal(t, float32(0.9), out[0].Score)
	assert.Equal(t, anchors[2], out[1].Box)
	assert.Equal(t, 0, out[0].Class)
}

// TestProposalGenerator_MinSize checks every surviving proposal is at least
// MinSize wide and high after clipping.
func TestProposalGenerator_MinSize(t *testing.T) {
	p := newTestProposals(t, 300)

	g, err := NewAnchorGenerator(DefaultAnchorConfig())
	require.NoError(t, err)
	anchors := AnchorBoxes(g.Generate(6, 8))

	scores := make([]float32, len(anchors))
	deltas := make([]coder.Delta, len(anchors))
	for i := range anchors {
		scores[i] = float32(i%17) / 17
		deltas[i] = coder.Delta{float32(i%5) * 0.1, -float32(i%3) * 0.1, -float32(i%7) * 0.4, float32(i%4) * -0.5}
	}

	out, err := p.Generate(anchors, scores, deltas, 128, 96, common.ModeInference)
	require.NoError(t, err)
	require.NotEmpty(t, out)
	assert.LessOrEqual(t, len(out), 300)
	for _, r := range out {
		assert.False(t, r.Box.IsInvalid())
		assert.GreaterOrEqual(t, r.Box.Width(), float32(16))
		assert.GreaterOrEqual(t, r.Box.Height(), float32(16))
		assert.True(t, r.Box.Inside(128, 96), "proposal %v outside image", r.Box)
	}
	for i := 1; i < len(out); i++ {
		assert.GreaterOrEqual(t, out[i-1].Score, out[i].Score)
	}
}

func TestProposalGenerator_PostNMSBound(t *testing.T) {
	p := newTestProposals(t, 3)

	anchors := make([]common.Box, 10)
	scores := make([]float32, 10)
	for i := range anchors {
		x := float32(i * 50)
		anchors[i] = common.Box{X1: x, Y1: 0, X2: x + 40, Y2: 40}
		scores[i] = float32(i)
	}
	out, err := p.Generate(anchors, scores, make([]coder.Delta, 10), 1000, 100, common.ModeInference)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, float32(9), out[0].Score)
	assert.Equal(t, float32(7), out[2].Score)
}

func TestProposalGenerator_AllFiltered(t *testing.T) {
	p := newTestProposals(t, 300)

	anchors := []common.Box{{X1: 0, Y1: 0, X2: 8, Y2: 8}}
	out, err := p.Generate(anchors, []float32{1}, make([]coder.Delta, 1), 100, 100, common.ModeTraining)
	require.NoError(t, err)
	assert.Empty(t, out)
}

// TestProposalGenerator_LogitScores checks undersized boxes rank below valid
// boxes whose scores are negative logits.
func TestProposalGenerator_LogitScores(t *testing.T) {
	cfg := DefaultProposalConfig()
	cfg.TestPreNMS = 1
	p, err := NewProposalGenerator(cfg)
	require.NoError(t, err)

	anchors := []common.Box{
		{X1: 0, Y1: 0, X2: 4, Y2: 4},
		{X1: 50, Y1: 50, X2: 90, Y2: 90},
	}
	out, err := p.Generate(anchors, []float32{-3, -1}, make([]coder.Delta, 2), 100, 100, common.ModeInference)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, anchors[1], out[0].Box)
	assert.Equal(t, float32(-1), out[0].Score)
}

func TestProposalGenerator_Limits(t *testing.T) {
	p, err := NewProposalGenerator(ProposalConfig{NMSThresh: 0.7, Stds: []float32{1, 1, 1, 1}})
	require.NoError(t, err)

	pre, post := p.Limits(common.ModeTraining)
	assert.Equal(t, 1, pre)
	assert.Equal(t, 1, post)

	d := newTestProposals(t, 300)
	pre, post = d.Limits(common.ModeTraining)
	assert.Equal(t, 12000, pre)
	assert.Equal(t, 2000, post)
	pre, post = d.Limits(common.ModeInference)
	assert.Equal(t, 6000, pre)
	assert.Equal(t, 300, post)
}

func TestProposalGenerator_ShapeMismatch(t *testing.T) {
	p := newTestProposals(t, 300)

	_, err := p.Generate(make([]common.Box, 2), make([]float32, 3), make([]coder.Delta, 2), 10, 10, common.ModeInference)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrShapeMismatch))
}

func TestNewProposalGenerator_BadStds(t *testing.T) {
	cfg := DefaultProposalConfig()
	cfg.Stds = []float32{1, 1, 0, 1}
	_, err := NewProposalGenerator(cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrConfiguration))
}
