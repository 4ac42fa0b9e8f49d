package providers

import (
	"os"
	"runtime"
)

// SharedLibEnv overrides the ONNX Runtime shared library location.
const SharedLibEnv = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

// GetSharedLibPath returns the path to the shared library for the current platform.
//
// Returns:
//   - string: $ONNXRUNTIME_SHARED_LIBRARY_PATH when set, otherwise the bundled
//     library under ./third_party.
func GetSharedLibPath() string {
	if p := os.Getenv(SharedLibEnv); p != "" {
		return p
	}
	switch runtime.GOOS {
	case "windows":
		return "./third_party/onnxruntime.dll"
	case "darwin":
		return "./third_party/libonnxruntime.1.23.0.dylib"
	}
	if runtime.GOARCH == "arm64" {
		return "./third_party/onnxruntime_arm64.so"
	}
	return "./third_party/onnxruntime.so"
}
