package providers

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// CUDAOptions contains arguments for the CUDA provider.
// See:
// https://onnxruntime.ai/docs/execution-providers/CUDA-ExecutionProvider.html#configuration-options
type CUDAOptions struct {
	// The device ID.
	DeviceID int `json:"device_id" yaml:"device_id"`
	// The size limit of the device memory arena in bytes. 0 leaves it unlimited.
	GPUMemLimit int64 `json:"gpu_mem_limit" yaml:"gpu_mem_limit"`
	// 0: kNextPowerOfTwo, 1: kSameAsRequested.
	ArenaExtendStrategy int `json:"arena_extend_strategy" yaml:"arena_extend_strategy"`
	// 0: EXHAUSTIVE, 1: HEURISTIC, 2: DEFAULT.
	CudnnConvAlgoSearch int `json:"cudnn_conv_algo_search" yaml:"cudnn_conv_algo_search"`
	// Whether to do copies in the default stream or use separate streams.
	DoCopyInDefaultStream bool `json:"do_copy_in_default_stream" yaml:"do_copy_in_default_stream"`
	// Allow TF32 math on Ampere and newer GPUs.
	UseTF32 bool `json:"use_tf32" yaml:"use_tf32"`
}

// Map returns the provider option keys understood by ONNX Runtime.
func (o CUDAOptions) Map() map[string]string {
	m := map[string]string{
		"device_id":                 fmt.Sprintf("%d", o.DeviceID),
		"arena_extend_strategy":     pick(arenaStrategies, o.ArenaExtendStrategy),
		"cudnn_conv_algo_search":    pick(convAlgoSearches, o.CudnnConvAlgoSearch),
		"do_copy_in_default_stream": fmt.Sprintf("%d", boolInt(o.DoCopyInDefaultStream)),
		"use_tf32":                  fmt.Sprintf("%d", boolInt(o.UseTF32)),
	}
	if o.GPUMemLimit > 0 {
		m["gpu_mem_limit"] = fmt.Sprintf("%d", o.GPUMemLimit)
	}
	return m
}

var (
	arenaStrategies  = []string{"kNextPowerOfTwo", "kSameAsRequested"}
	convAlgoSearches = []string{"EXHAUSTIVE", "HEURISTIC", "DEFAULT"}
)

// ToNativeProviderOptions converts the options for ort.SessionOptions.
// The caller must Destroy the result.
func (o CUDAOptions) ToNativeProviderOptions() (*ort.CUDAProviderOptions, error) {
	opts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return nil, err
	}
	if err := opts.Update(o.Map()); err != nil {
		opts.Destroy()
		return nil, err
	}
	return opts, nil
}

// pick returns values[i], falling back to the runtime default values[0].
func pick(values []string, i int) string {
	if i < 0 || i >= len(values) {
		return values[0]
	}
	return values[i]
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
