package providers

import "fmt"

// OpenVINOOptions contains arguments for the OpenVINO provider.
// See:
// https://onnxruntime.ai/docs/execution-providers/OpenVINO-ExecutionProvider.html#summary-of-options
type OpenVINOOptions struct {
	// Overrides the accelerator hardware type, e.g. "CPU" or "GPU".
	DeviceType string `json:"device_type" yaml:"device_type"`
	// FP32, FP16 or ACCURACY.
	Precision string `json:"precision" yaml:"precision"`
	// Overrides the default number of inference threads.
	NumOfThreads int `json:"num_of_threads" yaml:"num_of_threads"`
	// Rewrites dynamic shaped models to static shape at runtime.
	DisableDynamicShapes bool `json:"disable_dynamic_shapes" yaml:"disable_dynamic_shapes"`
}

// Map returns the provider option keys understood by ONNX Runtime. Unset
// fields are omitted.
func (o OpenVINOOptions) Map() map[string]string {
	m := map[string]string{}
	if o.DeviceType != "" {
		m["device_type"] = o.DeviceType
	}
	if o.Precision != "" {
		m["precision"] = o.Precision
	}
	if o.NumOfThreads > 0 {
		m["num_of_threads"] = fmt.Sprintf("%d", o.NumOfThreads)
	}
	if o.DisableDynamicShapes {
		m["disable_dynamic_shapes"] = "true"
	}
	return m
}
