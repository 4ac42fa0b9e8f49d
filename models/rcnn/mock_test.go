package rcnn

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-rcnn/common"
)

// fakeBackbone returns a constant (1, channels, H/stride, W/stride) feature map.
type fakeBackbone struct {
	stride   int
	channels int
}

func (b *fakeBackbone) Features(image *tensor.Dense) (*tensor.Dense, error) {
	s := image.Shape()
	h, w := s[2]/b.stride, s[3]/b.stride
	data := make([]float32, b.channels*h*w)
	for i := range data {
		data[i] = 1
	}
	return common.NewFloat32(data, 1, b.channels, h, w), nil
}

// fakeRPN scores every anchor equally with zero deltas, so proposals are the
// clipped anchors themselves.
type fakeRPN struct {
	perCell int
}

func (r *fakeRPN) Predict(feature *tensor.Dense) (*tensor.Dense, *tensor.Dense, error) {
	s := feature.Shape()
	n := s[2] * s[3] * r.perCell
	scores := make([]float32, n)
	for i := range scores {
		scores[i] = 0.9
	}
	return common.NewFloat32(scores, n), common.NewFloat32(make([]float32, n*4), n, 4), nil
}

// fakeHead returns the same logits row for every region and zero deltas.
type fakeHead struct {
	logits []float32
	calls  int
	err    error
}

func (h *fakeHead) Predict(pooled *tensor.Dense) (*tensor.Dense, *tensor.Dense, error) {
	h.calls++
	if h.err != nil {
		return nil, nil, h.err
	}
	n := pooled.Shape()[0]
	k := len(h.logits)
	logits := make([]float32, 0, n*k)
	for i := 0; i < n; i++ {
		logits = append(logits, h.logits...)
	}
	return common.NewFloat32(logits, n, k), common.NewFloat32(make([]float32, n*4), n, 4), nil
}

func newFakePrimitives(logits ...[]float32) Primitives {
	p := Primitives{
		Backbone: &fakeBackbone{stride: 16, channels: 2},
		RPN:      &fakeRPN{perCell: 15},
	}
	for i := range p.Heads {
		p.Heads[i] = &fakeHead{logits: logits[i%len(logits)]}
	}
	return p
}

func newImage(height, width int) *tensor.Dense {
	return common.NewFloat32(make([]float32, 3*height*width), 1, 3, height, width)
}

var errHead = errors.New("head failed")
