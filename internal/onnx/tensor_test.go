package onnx

import (
	"reflect"
	"strings"
	"testing"
)

func TestNewTensor(t *testing.T) {
	t.Run("float32 ok", func(t *testing.T) {
		tt, err := NewTensor([]float32{1, 2, 3, 4}, []int64{2, 2})
		if err != nil {
			t.Fatalf("NewTensor failed: %v", err)
		}

		if !reflect.DeepEqual(tt.Shape(), []int64{2, 2}) {
			t.Fatalf("unexpected shape: %v", tt.Shape())
		}

		got, err := ExtractFloat32(tt)
		if err != nil {
			t.Fatalf("ExtractFloat32 failed: %v", err)
		}

		if !reflect.DeepEqual(got, []float32{1, 2, 3, 4}) {
			t.Fatalf("unexpected data: %v", got)
		}
	})

	t.Run("scalar", func(t *testing.T) {
		tt, err := NewTensor([]float32{7}, nil)
		if err != nil {
			t.Fatalf("NewTensor failed: %v", err)
		}

		if len(tt.Shape()) != 0 {
			t.Fatalf("expected scalar shape, got %v", tt.Shape())
		}
	})

	t.Run("shape mismatch", func(t *testing.T) {
		_, err := NewTensor([]float32{1, 2, 3}, []int64{2, 2})
		if err == nil {
			t.Fatal("expected shape mismatch error")
		}

		if !strings.Contains(err.Error(), "expects 4 elements, got 3") {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("non-positive dim", func(t *testing.T) {
		_, err := NewTensor([]float32{}, []int64{0, 3})
		if err == nil || !strings.Contains(err.Error(), "is not positive") {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestTensorCopiesAreIndependent(t *testing.T) {
	src := []float32{1, 2}
	shape := []int64{2}

	tt, err := NewTensor(src, shape)
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}

	src[0] = 99
	shape[0] = 5

	got, _ := ExtractFloat32(tt)
	if got[0] != 1 || tt.Shape()[0] != 2 {
		t.Fatalf("tensor aliases caller memory: data=%v shape=%v", got, tt.Shape())
	}

	got[1] = 42
	again, _ := ExtractFloat32(tt)
	if again[1] != 2 {
		t.Fatal("ExtractFloat32 returned internal storage")
	}
}

func TestExtractFloat32Errors(t *testing.T) {
	if _, err := ExtractFloat32(nil); err == nil {
		t.Fatal("expected error for nil tensor")
	}
}
