package rcnn

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-rcnn/common"
	"github.com/nvr-ai/go-rcnn/models/sampler"
)

func newTestCascade(t *testing.T, cfg Config, prims Primitives) (*Cascade, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	c, err := New(cfg, prims, WithLogger(logger), WithRand(rand.NewPCG(11, 12)))
	require.NoError(t, err)
	return c, hook
}

func TestCascade_Train(t *testing.T) {
	c, hook := newTestCascade(t, DefaultConfig(2), newFakePrimitives([]float32{0, 0, 0}))
	gts := []common.GroundTruth{{Box: common.Box{X1: 8, Y1: 8, X2: 40, Y2: 40}, Class: 1}}

	out, err := c.Train(context.Background(), newImage(64, 64), gts)
	require.NoError(t, err)

	require.Len(t, out.RPN.Anchors, 4*4*15)
	assert.Len(t, out.RPN.Scores, len(out.RPN.Anchors))
	assert.Len(t, out.RPN.Targets.Objectness, len(out.RPN.Anchors))
	assert.NotEmpty(t, out.RPN.Proposals)

	for i := 0; i < NumStages; i++ {
		so, targets := out.Stages[i], out.Targets[i]
		require.NotNil(t, so)
		assert.Len(t, so.Boxes, so.Len())
		assert.Len(t, targets.Classes, so.Len())

		pos, _ := sampler.Count(so.Labels)
		assert.GreaterOrEqual(t, pos, 1, "stage %d", i+1)
		for j, l := range so.Labels {
			if l == sampler.Positive {
				assert.Equal(t, 2, targets.Classes[j])
			}
		}
	}
	// Later stages keep every region and append the ground truth.
	assert.Equal(t, out.Stages[0].Len()+1, out.Stages[1].Len())
	assert.Equal(t, out.Stages[1].Len()+1, out.Stages[2].Len())

	pos, neg := sampler.Count(out.Stages[0].Labels)
	assert.LessOrEqual(t, pos, 32)
	assert.LessOrEqual(t, neg, 96)

	var stageLogs int
	for _, e := range hook.AllEntries() {
		if e.Message == "cascade stage" {
			stageLogs++
			assert.Contains(t, e.Data, "positives")
		}
	}
	assert.Equal(t, NumStages, stageLogs)
}

func TestCascade_TrainWithoutGroundTruth(t *testing.T) {
	c, _ := newTestCascade(t, DefaultConfig(2), newFakePrimitives([]float32{0, 0, 0}))

	out, err := c.Train(context.Background(), newImage(64, 64), nil)
	require.NoError(t, err)
	for i := 0; i < NumStages; i++ {
		pos, _ := sampler.Count(out.Stages[i].Labels)
		assert.Zero(t, pos)
		for _, cls := range out.Targets[i].Classes {
			assert.Equal(t, 0, cls)
		}
	}
}

func TestCascade_Detect(t *testing.T) {
	c, _ := newTestCascade(t, DefaultConfig(2), newFakePrimitives([]float32{0, 5, 0}))
	image := newImage(64, 64)

	dets, err := c.Detect(context.Background(), image)
	require.NoError(t, err)
	require.NotEmpty(t, dets)
	assert.LessOrEqual(t, len(dets), 100)
	for i, d := range dets {
		assert.Equal(t, 0, d.Class)
		assert.InDelta(t, math.Exp(5)/(math.Exp(5)+2), d.Score, 1e-5)
		assert.True(t, d.Box.Inside(64, 64))
		for _, other := range dets[:i] {
			assert.LessOrEqual(t, d.Box.IoU(other.Box), float32(0.3))
		}
	}

	ids, scores, boxes := dets.Split()
	assert.Len(t, ids, len(dets))
	assert.Len(t, scores, len(dets))
	assert.Len(t, boxes, len(dets))
}

// TestCascade_NMSEscapeValve disables NMS with an out-of-range threshold: every
// proposal then yields exactly one candidate and all of them are kept.
func TestCascade_NMSEscapeValve(t *testing.T) {
	cfg := DefaultConfig(2)
	cfg.NMSThresh = 1.5
	cfg.NMSTopK = -1
	cfg.PostNMS = -1
	c, hook := newTestCascade(t, cfg, newFakePrimitives([]float32{0, 5, 0}))

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)

	image := newImage(64, 64)
	_, rpnOut, err := c.propose(image, common.ModeInference, 64, 64)
	require.NoError(t, err)

	all, err := c.Detect(context.Background(), image)
	require.NoError(t, err)
	assert.Len(t, all, len(rpnOut.Proposals))

	require.NoError(t, c.SetNMS(0.3, 400, 100))
	suppressed, err := c.Detect(context.Background(), image)
	require.NoError(t, err)
	assert.Less(t, len(suppressed), len(all))

	require.NoError(t, c.SetNMS(0, 400, 5))
	top, err := c.Detect(context.Background(), image)
	require.NoError(t, err)
	assert.Len(t, top, 5)
}

func TestCascade_SetNMSValidation(t *testing.T) {
	c, _ := newTestCascade(t, DefaultConfig(2), newFakePrimitives([]float32{0, 0, 0}))
	before, post := c.nmsSettings()

	assert.ErrorIs(t, c.SetNMS(0.5, 10, 0), common.ErrConfiguration)
	assert.ErrorIs(t, c.SetNMS(float32(math.NaN()), 10, 10), common.ErrConfiguration)

	after, afterPost := c.nmsSettings()
	assert.Equal(t, before, after)
	assert.Equal(t, post, afterPost)

	require.NoError(t, c.SetNMS(0.5, 10, -1))
	after, afterPost = c.nmsSettings()
	assert.Equal(t, float32(0.5), after.IoUThreshold)
	assert.Equal(t, 10, after.TopK)
	assert.Equal(t, -1, afterPost)
	assert.True(t, after.ClassAware)
}

// TestCascade_ProbabilityFusion gives each stage a different distribution and
// checks the reported score is their mean.
func TestCascade_ProbabilityFusion(t *testing.T) {
	ln3 := float32(math.Log(3))
	cfg := DefaultConfig(1)
	cfg.NMSThresh = -1
	c, _ := newTestCascade(t, cfg, newFakePrimitives(
		[]float32{0, 0},   // 0.5
		[]float32{0, ln3}, // 0.75
		[]float32{ln3, 0}, // 0.25
	))

	dets, err := c.Detect(context.Background(), newImage(64, 64))
	require.NoError(t, err)
	require.NotEmpty(t, dets)
	for _, d := range dets {
		assert.InDelta(t, 0.5, d.Score, 1e-5)
	}
}

func TestCascade_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("cancelled context", func(t *testing.T) {
		c, _ := newTestCascade(t, DefaultConfig(2), newFakePrimitives([]float32{0, 0, 0}))
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := c.Detect(cctx, newImage(64, 64))
		assert.ErrorIs(t, err, context.Canceled)
		_, err = c.Train(cctx, newImage(64, 64), nil)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("batch of two", func(t *testing.T) {
		c, _ := newTestCascade(t, DefaultConfig(2), newFakePrimitives([]float32{0, 0, 0}))
		image := common.NewFloat32(make([]float32, 2*3*64*64), 2, 3, 64, 64)
		_, err := c.Detect(ctx, image)
		assert.ErrorIs(t, err, common.ErrShapeMismatch)
	})

	t.Run("rpn anchor count", func(t *testing.T) {
		prims := newFakePrimitives([]float32{0, 0, 0})
		prims.RPN = &fakeRPN{perCell: 9}
		c, _ := newTestCascade(t, DefaultConfig(2), prims)
		_, err := c.Detect(ctx, newImage(64, 64))
		assert.ErrorIs(t, err, common.ErrShapeMismatch)
	})

	t.Run("head failure", func(t *testing.T) {
		prims := newFakePrimitives([]float32{0, 0, 0})
		prims.Heads[1] = &fakeHead{err: errHead}
		c, _ := newTestCascade(t, DefaultConfig(2), prims)
		_, err := c.Detect(ctx, newImage(64, 64))
		assert.ErrorIs(t, err, errHead)
	})
}
