package inference

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-rcnn/common"
	"github.com/nvr-ai/go-rcnn/inference/providers"
	"github.com/nvr-ai/go-rcnn/models/rcnn"
)

// Graph node names shared by the exported cascade components.
const (
	InputImage   = "image"
	InputFeature = "feature"
	InputPooled  = "pooled"

	OutputFeature  = "feature"
	OutputScores   = "scores"
	OutputDeltas   = "deltas"
	OutputLogits   = "logits"
	OutputBoxDelta = "box_deltas"
)

// ModelPath returns the weight file of a cascade variant, e.g.
// ModelPath("models", "resnet50_v1b", "voc") is
// "models/cascade_rcnn_resnet50_v1b_voc.onnx".
func ModelPath(root, name, dataset string) string {
	return filepath.Join(root, fmt.Sprintf("cascade_rcnn_%s_%s.onnx", name, dataset))
}

// ComponentPath derives the file of one exported component from a ModelPath,
// e.g. "cascade_rcnn_resnet50_v1b_voc_backbone.onnx".
func ComponentPath(modelPath, component string) string {
	return strings.TrimSuffix(modelPath, ".onnx") + "_" + component + ".onnx"
}

// Backbone adapts a feature extractor graph (image -> feature).
type Backbone struct {
	*Session
}

// Features implements rcnn.Backbone.
func (b *Backbone) Features(image *tensor.Dense) (*tensor.Dense, error) {
	out, err := b.Run(image)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// RPNHead adapts a proposal head graph (feature -> scores, deltas). Outputs of
// any leading batch shape are flattened to (N) and (N, 4).
type RPNHead struct {
	*Session
}

// Predict implements rcnn.RPNHead.
func (h *RPNHead) Predict(feature *tensor.Dense) (*tensor.Dense, *tensor.Dense, error) {
	out, err := h.Run(feature)
	if err != nil {
		return nil, nil, err
	}
	scores, err := reshapeRows(out[0], 0)
	if err != nil {
		return nil, nil, errors.Wrap(err, "rpn scores")
	}
	deltas, err := reshapeRows(out[1], 4)
	if err != nil {
		return nil, nil, errors.Wrap(err, "rpn deltas")
	}
	return scores, deltas, nil
}

// Head adapts a stage head graph (pooled -> logits, box_deltas).
type Head struct {
	*Session
	// NumClass is the foreground class count; logits have NumClass+1 columns.
	NumClass int
}

// Predict implements rcnn.Head.
func (h *Head) Predict(pooled *tensor.Dense) (*tensor.Dense, *tensor.Dense, error) {
	out, err := h.Run(pooled)
	if err != nil {
		return nil, nil, err
	}
	logits, err := reshapeRows(out[0], h.NumClass+1)
	if err != nil {
		return nil, nil, errors.Wrap(err, "stage logits")
	}
	deltas, err := reshapeRows(out[1], 4)
	if err != nil {
		return nil, nil, errors.Wrap(err, "stage deltas")
	}
	return logits, deltas, nil
}

// reshapeRows reshapes t in place to (n, cols), or to (n) when cols is 0.
func reshapeRows(t *tensor.Dense, cols int) (*tensor.Dense, error) {
	size := t.Shape().TotalSize()
	if cols == 0 {
		return t, errors.Wrap(t.Reshape(size), "reshape")
	}
	if size%cols != 0 {
		return nil, errors.Wrapf(common.ErrShapeMismatch, "%v does not split into rows of %d", t.Shape(), cols)
	}
	return t, errors.Wrap(t.Reshape(size/cols, cols), "reshape")
}

// Models are the loaded sessions of one cascade variant.
type Models struct {
	Backbone *Backbone
	RPN      *RPNHead
	Heads    [rcnn.NumStages]*Head
}

// LoadModels opens the backbone, RPN head and stage heads stored next to
// modelPath.
//
// Arguments:
//   - modelPath: Base path from ModelPath.
//   - numClass: Foreground class count of the stage heads.
//   - provider: Execution provider for every session.
//
// Returns:
//   - *Models: The sessions. Close releases them.
//   - error: The first load failure; sessions opened before it are closed.
func LoadModels(modelPath string, numClass int, provider providers.Config) (*Models, error) {
	m := &Models{}
	open := func(component string, inputs, outputs []string) (*Session, error) {
		return NewSession(SessionArgs{
			ModelPath: ComponentPath(modelPath, component),
			Inputs:    inputs,
			Outputs:   outputs,
			Provider:  provider,
		})
	}

	s, err := open("backbone", []string{InputImage}, []string{OutputFeature})
	if err != nil {
		return nil, err
	}
	m.Backbone = &Backbone{Session: s}

	if s, err = open("rpn", []string{InputFeature}, []string{OutputScores, OutputDeltas}); err != nil {
		m.Close()
		return nil, err
	}
	m.RPN = &RPNHead{Session: s}

	for i := range m.Heads {
		if s, err = open(fmt.Sprintf("head%d", i+1), []string{InputPooled}, []string{OutputLogits, OutputBoxDelta}); err != nil {
			m.Close()
			return nil, err
		}
		m.Heads[i] = &Head{Session: s, NumClass: numClass}
	}
	return m, nil
}

// Primitives exposes the sessions to rcnn.New.
func (m *Models) Primitives() rcnn.Primitives {
	p := rcnn.Primitives{Backbone: m.Backbone, RPN: m.RPN}
	for i, h := range m.Heads {
		p.Heads[i] = h
	}
	return p
}

// Close releases every opened session.
func (m *Models) Close() error {
	var first error
	closeSession := func(s *Session) {
		if s == nil {
			return
		}
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	if m.Backbone != nil {
		closeSession(m.Backbone.Session)
	}
	if m.RPN != nil {
		closeSession(m.RPN.Session)
	}
	for _, h := range m.Heads {
		if h != nil {
			closeSession(h.Session)
		}
	}
	return first
}
