package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// WriteFile writes content to name inside dir and returns the full path.
func WriteFile(tb testing.TB, dir, name, content string) string {
	tb.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		tb.Fatalf("write %s: %v", path, err)
	}

	return path
}

// WritePPM writes a binary P6 image with max value 255. pix holds
// width*height*3 interleaved RGB bytes.
func WritePPM(tb testing.TB, dir, name string, width, height int, pix []byte) string {
	tb.Helper()

	if len(pix) != width*height*3 {
		tb.Fatalf("WritePPM: %d bytes for %dx%d image", len(pix), width, height)
	}

	data := append([]byte(fmt.Sprintf("P6\n%d %d\n255\n", width, height)), pix...)

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		tb.Fatalf("write %s: %v", path, err)
	}

	return path
}
