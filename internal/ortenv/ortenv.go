// Package ortenv initializes the process-wide ONNX Runtime environment shared
// by every ONNX-backed provider.
package ortenv

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	mu      sync.Mutex
	libPath string
)

// Init loads the ONNX Runtime shared library from path and initializes the
// environment. Later calls are no-ops when path matches the first one. An
// empty path uses the library's default lookup.
func Init(path string) error {
	mu.Lock()
	defer mu.Unlock()

	if ort.IsInitialized() {
		if path != "" && path != libPath {
			return fmt.Errorf("ortenv: already initialized from %q", libPath)
		}
		return nil
	}
	if path != "" {
		ort.SetSharedLibraryPath(path)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("ortenv: initialize environment: %w", err)
	}
	libPath = path
	return nil
}

// Shutdown destroys the environment. Sessions must be destroyed first.
func Shutdown() error {
	mu.Lock()
	defer mu.Unlock()
	if !ort.IsInitialized() {
		return nil
	}
	if err := ort.DestroyEnvironment(); err != nil {
		return fmt.Errorf("ortenv: destroy environment: %w", err)
	}
	return nil
}
