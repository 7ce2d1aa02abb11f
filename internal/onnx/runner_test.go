//go:build !windows && !(js && wasm)

package onnx

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/go-int8api/internal/testutil"
)

func identityModel(t *testing.T) string {
	t.Helper()

	m := testutil.ONNXModel{
		Graph:   "identity",
		Opset:   13,
		Nodes:   []testutil.ONNXNode{{Name: "identity", OpType: "Identity", Inputs: []string{"input"}, Outputs: []string{"output"}}},
		Inputs:  []testutil.ONNXValue{{Name: "input", ElemType: testutil.ONNXFloat, Dims: []any{int64(1), int64(3)}}},
		Outputs: []testutil.ONNXValue{{Name: "output", ElemType: testutil.ONNXFloat, Dims: []any{int64(1), int64(3)}}},
	}

	return testutil.WriteONNXModel(t, t.TempDir(), "identity_float32.onnx", m)
}

func ortLibraryForTest(t *testing.T) string {
	t.Helper()

	libPath := os.Getenv("INT8API_ORT_LIB")
	if libPath == "" {
		libPath = os.Getenv("ORT_LIBRARY_PATH")
	}
	if libPath == "" {
		t.Skip("no ORT library available; set INT8API_ORT_LIB")
	}
	return libPath
}

func TestRunnerRoundTrip(t *testing.T) {
	libPath := ortLibraryForTest(t)

	runner, err := NewRunner("identity", identityModel(t), RunnerConfig{
		LibraryPath: libPath,
		APIVersion:  23,
	})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	defer runner.Close()

	input, err := NewTensor([]float32{1.0, 2.0, 3.0}, []int64{1, 3})
	if err != nil {
		t.Fatalf("NewTensor: %v", err)
	}

	outputs, err := runner.Run(context.Background(), map[string]*Tensor{"input": input})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	out, ok := outputs["output"]
	if !ok {
		t.Fatal("missing 'output' key in results")
	}

	data, err := ExtractFloat32(out)
	if err != nil {
		t.Fatalf("ExtractFloat32: %v", err)
	}

	if len(data) != 3 {
		t.Fatalf("expected 3 elements, got %d", len(data))
	}

	for i, want := range []float32{1.0, 2.0, 3.0} {
		if data[i] != want {
			t.Errorf("data[%d] = %f, want %f", i, data[i], want)
		}
	}
}

func TestRunnerCloseIsIdempotent(t *testing.T) {
	libPath := ortLibraryForTest(t)

	runner, err := NewRunner("identity", identityModel(t), RunnerConfig{LibraryPath: libPath})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	runner.Close()
	runner.Close() // second close should not panic
}

func TestNewRunnerBadLibrary(t *testing.T) {
	_, err := NewRunner("identity", "model.onnx", RunnerConfig{
		LibraryPath: filepath.Join(t.TempDir(), "missing.so"),
	})
	if err == nil {
		t.Fatal("expected error for missing runtime library")
	}
}
