// Package testutil provides shared skip helpers and fixture writers for tests.
//
// Each Require helper calls t.Skip with a clear human-readable reason when the
// named prerequisite is absent, so integration tests remain runnable in
// partial environments without failing noisily.
//
// Typical usage:
//
//	func TestMyIntegration(t *testing.T) {
//	    testutil.RequireONNXRuntime(t)
//	    model := testutil.RequireFile(t, "mobilenet_quantized_opt.onnx")
//	    ...
//	}
package testutil

import (
	"os"
	"testing"

	"github.com/example/go-int8api/internal/config"
)

// RequireONNXRuntime skips the test if no ONNX Runtime shared library can be
// located. It checks (in order): the ORT_LIBRARY_PATH env var, then the
// INT8API_ORT_LIB env var, then common system library paths.
func RequireONNXRuntime(tb testing.TB) {
	tb.Helper()

	for _, env := range []string{"ORT_LIBRARY_PATH", "INT8API_ORT_LIB"} {
		if p := os.Getenv(env); p != "" {
			// #nosec G703 -- Integration tests intentionally accept explicit env-provided local library paths.
			_, err := os.Stat(p)
			if err == nil {
				return // found
			}

			tb.Skipf("ONNX Runtime library not found at %s=%q", env, p)
		}
	}
	// Fall back to common system locations.
	candidates := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
	}
	for _, p := range candidates {
		_, err := os.Stat(p)
		if err == nil {
			return // found
		}
	}

	tb.Skip("ONNX Runtime shared library not found; set ORT_LIBRARY_PATH or INT8API_ORT_LIB")
}

// RequireFile skips the test unless name resolves in the sample data
// directories (INT8API_DATA overrides the defaults). It returns the resolved
// path.
func RequireFile(tb testing.TB, name string) string {
	tb.Helper()

	dirs := config.DefaultConfig().Paths.DataDirs
	if d := os.Getenv("INT8API_DATA"); d != "" {
		dirs = []string{d}
	}

	path, err := config.LocateFile(name, dirs)
	if err != nil {
		tb.Skipf("sample file %q not available: %v", name, err)
	}

	return path
}
