package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/spf13/pflag"
)

// fakeBinder wraps a pflag.FlagSet to satisfy the flagBinder interface.
type fakeBinder struct {
	fs *pflag.FlagSet
}

func (f *fakeBinder) Flags() *pflag.FlagSet { return f.fs }

// newFlagSet creates a FlagSet with all config flags registered at their defaults.
func newFlagSet(defaults Config) *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	return fs
}

// --- DefaultConfig ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Paths.Model != "mobilenet_quantized_opt.onnx" {
		t.Errorf("Paths.Model = %q; want %q", cfg.Paths.Model, "mobilenet_quantized_opt.onnx")
	}

	if cfg.Paths.Image != "airliner.ppm" {
		t.Errorf("Paths.Image = %q; want %q", cfg.Paths.Image, "airliner.ppm")
	}

	if cfg.Paths.Ranges != "mobilenet_last_dynamic_range.txt" {
		t.Errorf("Paths.Ranges = %q", cfg.Paths.Ranges)
	}

	if cfg.Paths.NetworkTensors != "network_tensors.txt" {
		t.Errorf("Paths.NetworkTensors = %q", cfg.Paths.NetworkTensors)
	}

	if len(cfg.Paths.DataDirs) != 2 {
		t.Errorf("Paths.DataDirs = %v; want 2 entries", cfg.Paths.DataDirs)
	}

	if cfg.Inference.TopBottomK != 5 {
		t.Errorf("Inference.TopBottomK = %d; want 5", cfg.Inference.TopBottomK)
	}

	if cfg.Inference.DLACore != -1 {
		t.Errorf("Inference.DLACore = %d; want -1", cfg.Inference.DLACore)
	}

	if cfg.Inference.DefaultRange != 127 {
		t.Errorf("Inference.DefaultRange = %v; want 127", cfg.Inference.DefaultRange)
	}

	if cfg.Runtime.APIVersion != 23 {
		t.Errorf("Runtime.APIVersion = %d; want 23", cfg.Runtime.APIVersion)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "info")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

// --- RegisterFlags ---

func TestRegisterFlags(t *testing.T) {
	fs := newFlagSet(DefaultConfig())

	checks := []struct {
		flag string
		want string
	}{
		{"model", "mobilenet_quantized_opt.onnx"},
		{"ranges", "mobilenet_last_dynamic_range.txt"},
		{"top-bottom-k", "5"},
		{"use-dla-core", "-1"},
		{"fp32", "false"},
		{"log-level", "info"},
	}

	for _, c := range checks {
		f := fs.Lookup(c.flag)
		if f == nil {
			t.Errorf("flag %q not registered", c.flag)
			continue
		}

		if f.DefValue != c.want {
			t.Errorf("flag %q default = %q; want %q", c.flag, f.DefValue, c.want)
		}
	}

	if fs.ShorthandLookup("v") == nil {
		t.Error("expected -v shorthand for --verbose")
	}
}

func TestEveryFlagHasAKey(t *testing.T) {
	fs := newFlagSet(DefaultConfig())

	bound := map[string]bool{}
	for _, fk := range flagKeys {
		bound[fk.flag] = true
	}

	fs.VisitAll(func(f *pflag.Flag) {
		if !bound[f.Name] {
			t.Errorf("flag %q has no config key", f.Name)
		}
	})
}

// --- Load ---

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ORT_LIBRARY_PATH", "")
	t.Setenv("INT8API_ORT_LIB", "")

	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{
		Cmd:      &fakeBinder{fs: newFlagSet(defaults)},
		Defaults: defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !reflect.DeepEqual(cfg, defaults) {
		t.Errorf("Load() = %+v; want %+v", cfg, defaults)
	}
}

func TestLoad_FlagOverride(t *testing.T) {
	defaults := DefaultConfig()
	fs := newFlagSet(defaults)

	err := fs.Parse([]string{
		"--model=/abs/model.onnx",
		"--top-bottom-k=10",
		"--fp32",
		"--data=/a,/b",
		"--default-range=64",
		"-v",
	})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	cfg, err := Load(LoadOptions{
		Cmd:      &fakeBinder{fs: fs},
		Defaults: defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Paths.Model != "/abs/model.onnx" {
		t.Errorf("Paths.Model = %q", cfg.Paths.Model)
	}

	if cfg.Inference.TopBottomK != 10 {
		t.Errorf("TopBottomK = %d; want 10", cfg.Inference.TopBottomK)
	}

	if !cfg.Inference.FP32 {
		t.Error("FP32 = false; want true")
	}

	if !reflect.DeepEqual(cfg.Paths.DataDirs, []string{"/a", "/b"}) {
		t.Errorf("DataDirs = %v", cfg.Paths.DataDirs)
	}

	if cfg.Inference.DefaultRange != 64 {
		t.Errorf("DefaultRange = %v; want 64", cfg.Inference.DefaultRange)
	}

	if !cfg.Verbose {
		t.Error("Verbose = false; want true")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("INT8API_LOG_LEVEL", "warn")
	t.Setenv("INT8API_INFERENCE_TOP_BOTTOM_K", "3")
	t.Setenv("INT8API_ORT_LIB", "/opt/ort/libonnxruntime.so")

	cfg, err := Load(LoadOptions{Defaults: DefaultConfig()})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "warn")
	}

	if cfg.Inference.TopBottomK != 3 {
		t.Errorf("TopBottomK = %d; want 3", cfg.Inference.TopBottomK)
	}

	if cfg.Runtime.ORTLibraryPath != "/opt/ort/libonnxruntime.so" {
		t.Errorf("ORTLibraryPath = %q", cfg.Runtime.ORTLibraryPath)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "int8api.yaml")

	content := `
log_level: error
paths:
  ranges: custom_ranges.txt
inference:
  top_bottom_k: 7
`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{
		Cmd:        &fakeBinder{fs: newFlagSet(defaults)},
		ConfigFile: cfgFile,
		Defaults:   defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "error" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "error")
	}

	if cfg.Paths.Ranges != "custom_ranges.txt" {
		t.Errorf("Paths.Ranges = %q", cfg.Paths.Ranges)
	}

	if cfg.Inference.TopBottomK != 7 {
		t.Errorf("TopBottomK = %d; want 7", cfg.Inference.TopBottomK)
	}

	if cfg.Paths.Model != defaults.Paths.Model {
		t.Errorf("Paths.Model = %q; want default", cfg.Paths.Model)
	}
}

func TestLoad_FlagBeatsConfigFile(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "int8api.yaml")
	if err := os.WriteFile(cfgFile, []byte("inference:\n  top_bottom_k: 7\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	defaults := DefaultConfig()
	fs := newFlagSet(defaults)
	if err := fs.Parse([]string{"--top-bottom-k=2"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg, err := Load(LoadOptions{Cmd: &fakeBinder{fs: fs}, ConfigFile: cfgFile, Defaults: defaults})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Inference.TopBottomK != 2 {
		t.Errorf("TopBottomK = %d; want 2", cfg.Inference.TopBottomK)
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "int8api.yaml")
	if err := os.WriteFile(cfgFile, []byte("inference: [unterminated"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(LoadOptions{ConfigFile: cfgFile, Defaults: DefaultConfig()}); err == nil {
		t.Fatal("expected error for malformed config file")
	}
}

func TestLoad_MissingExplicitConfigFile(t *testing.T) {
	_, err := Load(LoadOptions{
		ConfigFile: filepath.Join(t.TempDir(), "missing.yaml"),
		Defaults:   DefaultConfig(),
	})
	if err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

// --- Validate ---

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*InferenceConfig)
		wantErr bool
	}{
		{"defaults", func(*InferenceConfig) {}, false},
		{"fp32 on gpu", func(in *InferenceConfig) { in.FP32 = true }, false},
		{"int8 on dla", func(in *InferenceConfig) { in.DLACore = 1 }, false},
		{"safe gpu int8", func(in *InferenceConfig) { in.SafeGPUInt8 = true }, false},
		{"dla with fp32", func(in *InferenceConfig) { in.DLACore = 0; in.FP32 = true }, true},
		{"safe gpu with fp32", func(in *InferenceConfig) { in.SafeGPUInt8 = true; in.FP32 = true }, true},
		{"safe gpu with dla", func(in *InferenceConfig) { in.SafeGPUInt8 = true; in.DLACore = 0 }, true},
		{"negative k", func(in *InferenceConfig) { in.TopBottomK = -1 }, true},
		{"zero default range", func(in *InferenceConfig) { in.DefaultRange = 0 }, true},
		{"batch of two", func(in *InferenceConfig) { in.BatchSize = 2 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg.Inference)

			err := cfg.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidOptions) {
					t.Errorf("Validate() = %v; want ErrInvalidOptions", err)
				}

				return
			}

			if err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestPrecisionAndDevice(t *testing.T) {
	in := DefaultConfig().Inference
	if in.Precision() != PrecisionINT8 || in.Device() != "GPU" {
		t.Errorf("defaults = %s on %s; want INT8 on GPU", in.Precision(), in.Device())
	}

	in.FP32 = true
	in.DLACore = 1
	if in.Precision() != PrecisionFP32 || in.Device() != "DLA:1" {
		t.Errorf("got %s on %s; want FP32 on DLA:1", in.Precision(), in.Device())
	}
}

// --- LocateFile ---

func TestLocateFile(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()

	if err := os.WriteFile(filepath.Join(dirB, "ranges.txt"), []byte("x:1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := LocateFile("ranges.txt", []string{dirA, dirB})
	if err != nil {
		t.Fatalf("LocateFile: %v", err)
	}

	if got != filepath.Join(dirB, "ranges.txt") {
		t.Errorf("LocateFile = %q", got)
	}

	abs := filepath.Join(dirB, "ranges.txt")
	if got, err := LocateFile(abs, []string{dirA}); err != nil || got != abs {
		t.Errorf("LocateFile(abs) = %q, %v", got, err)
	}

	_, err = LocateFile("missing.txt", []string{dirA, dirB})
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("LocateFile(missing) = %v; want ErrNotExist", err)
	}
}
