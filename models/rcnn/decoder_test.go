package rcnn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-rcnn/common"
)

func TestSoftmax(t *testing.T) {
	probs := Softmax([]float32{0, 0, 1000, 1000, 0, float32(math.Log(3))}, 2)
	require.Len(t, probs, 6)
	assert.InDelta(t, 0.5, probs[0], 1e-9)
	assert.InDelta(t, 0.5, probs[1], 1e-9)
	assert.InDelta(t, 0.5, probs[2], 1e-9)
	assert.InDelta(t, 0.25, probs[4], 1e-6)
	assert.InDelta(t, 0.75, probs[5], 1e-6)
}

func TestFuse(t *testing.T) {
	fused, err := Fuse([]float64{0.2, 0.8}, []float64{0.6, 0.4}, []float64{0.4, 0.6})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.4, 0.6}, fused, 1e-9)

	_, err = Fuse([]float64{1}, []float64{0.5, 0.5})
	assert.ErrorIs(t, err, common.ErrShapeMismatch)

	fused, err = Fuse()
	require.NoError(t, err)
	assert.Nil(t, fused)
}

func TestClassScores(t *testing.T) {
	boxes := []common.Box{{X2: 10, Y2: 10}, {X2: 20, Y2: 20}}
	probs := []float64{
		0.9, 0.005, 0.095,
		0.1, 0.6, 0.3,
	}
	dets := ClassScores(probs, boxes, 2, 0.01)
	require.Len(t, dets, 3)
	assert.Equal(t, 1, dets[0].Class)
	assert.Equal(t, boxes[0], dets[0].Box)
	assert.Equal(t, 0, dets[1].Class)
	assert.InDelta(t, 0.6, dets[1].Score, 1e-6)
	assert.Equal(t, 1, dets[2].Class)
}
