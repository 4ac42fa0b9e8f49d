// Package inference - ONNX Runtime sessions backing the cascade primitives.
package inference

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-rcnn/common"
	"github.com/nvr-ai/go-rcnn/inference/providers"
)

var (
	envOnce sync.Once
	envErr  error
)

// InitEnvironment loads the ONNX Runtime shared library once per process.
//
// Arguments:
//   - libPath: Shared library path. Empty uses providers.GetSharedLibPath().
//
// Returns:
//   - error: The first initialization error; later calls return it again.
func InitEnvironment(libPath string) error {
	envOnce.Do(func() {
		if libPath == "" {
			libPath = providers.GetSharedLibPath()
		}
		if _, err := os.Stat(libPath); err != nil {
			envErr = errors.Wrapf(err, "ONNX Runtime library not found at %s", libPath)
			return
		}
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			envErr = errors.Wrap(err, "initializing ONNX Runtime environment")
		}
	})
	return envErr
}

// SessionArgs are the arguments for creating a Session.
type SessionArgs struct {
	// ModelPath is the path to the ONNX model file.
	ModelPath string
	// Inputs and Outputs are the graph's node names, in call order.
	Inputs  []string
	Outputs []string
	// Provider selects the execution provider.
	Provider providers.Config
	// LibPath overrides the ONNX Runtime shared library location.
	LibPath string
}

// Session runs one ONNX graph with dynamic input shapes.
//
// Run is serialized by a mutex, so a Session may be shared by goroutines.
type Session struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	args    SessionArgs
}

// NewSession loads a model.
//
// Returns:
//   - *Session: The session. Close releases its native resources.
//   - error: When the model file is missing, the runtime cannot be initialized
//     or the graph fails to load.
func NewSession(args SessionArgs) (*Session, error) {
	if len(args.Inputs) == 0 || len(args.Outputs) == 0 {
		return nil, errors.Wrapf(common.ErrConfiguration, "%s: input and output names are required", args.ModelPath)
	}
	if err := args.Provider.Validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(args.ModelPath); err != nil {
		return nil, errors.Wrap(err, "model file")
	}
	if err := InitEnvironment(args.LibPath); err != nil {
		return nil, err
	}

	options, err := args.Provider.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(args.ModelPath, args.Inputs, args.Outputs, options)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", args.ModelPath)
	}
	return &Session{session: session, args: args}, nil
}

// Run feeds inputs in SessionArgs.Inputs order and returns the outputs in
// SessionArgs.Outputs order as float32 tensors.
func (s *Session) Run(inputs ...*tensor.Dense) ([]*tensor.Dense, error) {
	if len(inputs) != len(s.args.Inputs) {
		return nil, errors.Wrapf(common.ErrShapeMismatch, "%s: %d inputs, want %d",
			s.args.ModelPath, len(inputs), len(s.args.Inputs))
	}

	values := make([]ort.Value, 0, len(inputs))
	defer func() {
		for _, v := range values {
			v.Destroy()
		}
	}()
	for i, in := range inputs {
		v, err := toValue(s.args.Inputs[i], in)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}

	outputs := make([]ort.Value, len(s.args.Outputs))
	defer func() {
		for _, v := range outputs {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	s.mu.Lock()
	err := s.session.Run(values, outputs)
	s.mu.Unlock()
	if err != nil {
		return nil, errors.Wrapf(err, "running %s", s.args.ModelPath)
	}

	result := make([]*tensor.Dense, len(outputs))
	for i, v := range outputs {
		if result[i], err = fromValue(s.args.Outputs[i], v); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Close releases the native session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	if err != nil {
		return errors.Wrap(err, "destroying ONNX session")
	}
	return nil
}

func toValue(name string, t *tensor.Dense) (ort.Value, error) {
	data, err := common.Float32s(name, t, shapeWildcard(t)...)
	if err != nil {
		return nil, err
	}
	dims := make([]int64, len(t.Shape()))
	for i, d := range t.Shape() {
		dims[i] = int64(d)
	}
	v, err := ort.NewTensor(ort.NewShape(dims...), data)
	if err != nil {
		return nil, errors.Wrapf(err, "creating input %s", name)
	}
	return v, nil
}

func fromValue(name string, v ort.Value) (*tensor.Dense, error) {
	t, ok := v.(*ort.Tensor[float32])
	if !ok {
		return nil, errors.Wrapf(common.ErrShapeMismatch, "output %s: expected float32 tensor, got %T", name, v)
	}
	shape := t.GetShape()
	dims := make([]int, len(shape))
	for i, d := range shape {
		dims[i] = int(d)
	}
	// The native buffer is released with the value.
	data := append([]float32(nil), t.GetData()...)
	return common.NewFloat32(data, dims...), nil
}

func shapeWildcard(t *tensor.Dense) []int {
	if t == nil {
		return nil
	}
	s := make([]int, len(t.Shape()))
	for i := range s {
		s[i] = -1
	}
	return s
}
