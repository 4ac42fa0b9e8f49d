// Package providers - ONNX Runtime execution provider selection and session options.
package providers

import (
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/go-rcnn/common"
)

// ProviderBackend names an ONNX Runtime execution provider.
type ProviderBackend string

const (
	// CPUProviderBackend runs on the default CPU provider.
	CPUProviderBackend ProviderBackend = "cpu"
	// CUDAProviderBackend uses NVIDIA CUDA for inference.
	CUDAProviderBackend ProviderBackend = "cuda"
	// CoreMLProviderBackend uses Apple CoreML for inference.
	CoreMLProviderBackend ProviderBackend = "coreml"
	// OpenVINOProviderBackend uses Intel OpenVINO for inference.
	OpenVINOProviderBackend ProviderBackend = "openvino"
)

// Config selects the execution provider and threading of a session.
type Config struct {
	// Backend specifies the execution provider.
	Backend ProviderBackend `json:"backend" yaml:"backend"`
	// CUDA options, used when Backend is "cuda".
	CUDA *CUDAOptions `json:"cuda,omitempty" yaml:"cuda,omitempty"`
	// OpenVINO options, used when Backend is "openvino".
	OpenVINO *OpenVINOOptions `json:"openvino,omitempty" yaml:"openvino,omitempty"`
	// CoreMLFlags are passed through to the CoreML provider.
	CoreMLFlags uint32 `json:"coreml_flags" yaml:"coreml_flags"`
	// IntraOpNumThreads parallelizes a single node. 0 lets the runtime decide.
	IntraOpNumThreads int `json:"intra_op_num_threads" yaml:"intra_op_num_threads"`
	// InterOpNumThreads parallelizes independent nodes. 0 lets the runtime decide.
	InterOpNumThreads int `json:"inter_op_num_threads" yaml:"inter_op_num_threads"`
}

// DefaultConfig returns a CPU configuration with runtime-chosen threading.
func DefaultConfig() Config {
	return Config{Backend: CPUProviderBackend}
}

// Validate checks the backend name and thread counts.
func (c *Config) Validate() error {
	switch c.Backend {
	case CPUProviderBackend, CUDAProviderBackend, CoreMLProviderBackend, OpenVINOProviderBackend:
	default:
		return errors.Wrapf(common.ErrConfiguration, "unknown provider backend %q", c.Backend)
	}
	if c.IntraOpNumThreads < 0 || c.InterOpNumThreads < 0 {
		return errors.Wrapf(common.ErrConfiguration, "thread counts must be non-negative, got %d/%d",
			c.IntraOpNumThreads, c.InterOpNumThreads)
	}
	return nil
}

// NewSessionOptions builds ONNX Runtime session options for c.
//
// Graph optimizations are always enabled at the extended level. The caller owns
// the returned options and must Destroy them.
//
// Returns:
//   - *ort.SessionOptions: Options with the execution provider appended.
//   - error: An error if the provider cannot be enabled.
func (c *Config) NewSessionOptions() (*ort.SessionOptions, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "creating session options")
	}
	if err := c.apply(options); err != nil {
		options.Destroy()
		return nil, err
	}
	return options, nil
}

func (c *Config) apply(options *ort.SessionOptions) error {
	if err := options.SetIntraOpNumThreads(c.IntraOpNumThreads); err != nil {
		return errors.Wrap(err, "setting intra-op threads")
	}
	if err := options.SetInterOpNumThreads(c.InterOpNumThreads); err != nil {
		return errors.Wrap(err, "setting inter-op threads")
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		return errors.Wrap(err, "setting graph optimization level")
	}

	switch c.Backend {
	case CoreMLProviderBackend:
		if err := options.AppendExecutionProviderCoreML(c.CoreMLFlags); err != nil {
			return errors.Wrap(err, "enabling CoreML")
		}
	case OpenVINOProviderBackend:
		opts := OpenVINOOptions{}
		if c.OpenVINO != nil {
			opts = *c.OpenVINO
		}
		if err := options.AppendExecutionProviderOpenVINO(opts.Map()); err != nil {
			return errors.Wrap(err, "enabling OpenVINO")
		}
	case CUDAProviderBackend:
		opts := CUDAOptions{}
		if c.CUDA != nil {
			opts = *c.CUDA
		}
		cuda, err := opts.ToNativeProviderOptions()
		if err != nil {
			return errors.Wrap(err, "converting CUDA options")
		}
		defer cuda.Destroy()
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return errors.Wrap(err, "enabling CUDA")
		}
	}
	return nil
}
