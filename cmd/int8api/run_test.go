package main

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/go-int8api/internal/config"
	"github.com/example/go-int8api/internal/dynrange"
	"github.com/example/go-int8api/internal/onnx"
	"github.com/example/go-int8api/internal/rank"
	"github.com/example/go-int8api/internal/report"
	"github.com/example/go-int8api/internal/testutil"
)

type fakeEngine struct {
	opts   onnx.BuildOptions
	scores []float32
	got    []float32
	closed bool
}

func (f *fakeEngine) Infer(_ context.Context, activations []float32) ([]float32, error) {
	f.got = activations
	return f.scores, nil
}

func (f *fakeEngine) Input() onnx.ValueInfo {
	return onnx.ValueInfo{
		Name:     "input",
		ElemType: onnx.ElemFloat,
		Shape:    []onnx.Dim{{Value: 1}, {Value: 3}, {Value: 2}, {Value: 2}},
	}
}

func (f *fakeEngine) Precision() config.Precision { return f.opts.Inference.Precision() }
func (f *fakeEngine) Device() string              { return f.opts.Inference.Device() }
func (f *fakeEngine) Close()                      { f.closed = true }

func stubEngine(t *testing.T, fe *fakeEngine) {
	t.Helper()

	saved := buildEngine
	t.Cleanup(func() { buildEngine = saved })

	buildEngine = func(_ context.Context, opts onnx.BuildOptions) (classifier, error) {
		fe.opts = opts
		return fe, nil
	}
}

func TestRunPrintsTopAndBottom(t *testing.T) {
	fe := &fakeEngine{scores: []float32{0.1, 0.9, 0.3, 0.2}}
	stubEngine(t, fe)
	dir, flags := sampleData(t)

	out, err := execute(t, append([]string{"run"}, flags...)...)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	for _, want := range []string{
		"Top-1 predicted class, activation value: goldfish, 0.9\n",
		"Top-4 predicted class, activation value: tench, 0.1\n",
		"Bottom-1 predicted class, activation value: tench, 0.1\n",
		"Detected:\n[1]  goldfish\n[2]  airliner\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	if !fe.closed {
		t.Error("engine not closed")
	}
	if fe.opts.ModelPath != filepath.Join(dir, "model.onnx") {
		t.Errorf("model path = %q", fe.opts.ModelPath)
	}
	if fe.opts.Ranges == nil || fe.opts.Ranges.Len() != 5 {
		t.Errorf("ranges not passed to engine: %+v", fe.opts.Ranges)
	}
	if len(fe.got) != 12 || fe.got[0] != -128 {
		t.Errorf("activations = %v", fe.got)
	}
}

func TestRunIsDefaultAction(t *testing.T) {
	stubEngine(t, &fakeEngine{scores: []float32{0.1, 0.9, 0.3, 0.2}})
	_, flags := sampleData(t)

	out, err := execute(t, append(flags, "--top-bottom-k", "1")...)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	want := "Top-1 predicted class, activation value: goldfish, 0.9\n" +
		"Bottom-1 predicted class, activation value: tench, 0.1\n" +
		"Detected:\n[1]  goldfish\n"
	if out != want {
		t.Errorf("output =\n%s\nwant\n%s", out, want)
	}
}

func TestRunJSONFormat(t *testing.T) {
	stubEngine(t, &fakeEngine{scores: []float32{0.1, 0.9, 0.3, 0.2}})
	_, flags := sampleData(t)

	out, err := execute(t, append([]string{"run", "--format", "json", "--top-bottom-k", "2"}, flags...)...)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	var rep report.Report
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if rep.Precision != "INT8" || rep.Device != "GPU" {
		t.Errorf("precision/device = %s/%s", rep.Precision, rep.Device)
	}
	if got := (rank.Result{Top: rep.Top}).TopLabels(); strings.Join(got, ",") != "goldfish,airliner" {
		t.Errorf("top = %v", got)
	}
}

func TestRunExpect(t *testing.T) {
	stubEngine(t, &fakeEngine{scores: []float32{0.1, 0.9, 0.3, 0.2}})
	_, flags := sampleData(t)

	if _, err := execute(t, append([]string{"run", "--expect", "goldfish"}, flags...)...); err != nil {
		t.Errorf("matching --expect failed: %v", err)
	}

	_, err := execute(t, append([]string{"run", "--expect", "airliner"}, flags...)...)
	if err == nil || !strings.Contains(err.Error(), `expected top-1 "airliner", got "goldfish"`) {
		t.Errorf("err = %v", err)
	}
}

func TestRunFP32SkipsRangeFile(t *testing.T) {
	fe := &fakeEngine{scores: []float32{0.1, 0.9, 0.3, 0.2}}
	stubEngine(t, fe)
	_, flags := sampleData(t)

	_, err := execute(t, append([]string{"run", "--fp32"}, append(flags, "--ranges", "absent.txt")...)...)
	if err != nil {
		t.Fatalf("run --fp32: %v", err)
	}
	if fe.opts.Ranges != nil {
		t.Error("fp32 run must not load ranges")
	}
	if fe.Precision() != config.PrecisionFP32 {
		t.Errorf("precision = %s", fe.Precision())
	}
}

func TestRunErrors(t *testing.T) {
	stubEngine(t, &fakeEngine{scores: []float32{0.1, 0.9, 0.3}})
	dir, flags := sampleData(t)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"invalid options", []string{"--fp32", "--use-dla-core", "0"}, "invalid options"},
		{"bad format", []string{"--format", "xml"}, "unknown output format"},
		{"missing model", []string{"--model", "absent.onnx"}, "locate model"},
		{"missing ranges", []string{"--ranges", "absent.txt"}, "dynamic range file not found"},
		{"output size", nil, "dimension mismatch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"run"}, flags...)
			args = append(args, tt.args...)

			_, err := execute(t, args...)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v; want %q", err, tt.wantErr)
			}
		})
	}

	_, err := execute(t, append(append([]string{"run"}, flags...), "--ranges", "absent.txt")...)
	if !errors.Is(err, dynrange.ErrFileNotFound) {
		t.Errorf("missing range file err = %v; want ErrFileNotFound", err)
	}

	testutil.WriteFile(t, dir, "ranges.txt", "input:127\nconv1_out:oops\n")
	_, err = execute(t, append([]string{"run"}, flags...)...)
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("range parse err = %v", err)
	}
}

func TestRunBuildError(t *testing.T) {
	saved := buildEngine
	t.Cleanup(func() { buildEngine = saved })
	buildEngine = func(context.Context, onnx.BuildOptions) (classifier, error) {
		return nil, errors.New("unable to build engine")
	}

	_, flags := sampleData(t)
	if _, err := execute(t, append([]string{"run"}, flags...)...); err == nil {
		t.Fatal("expected build error")
	}
}

func TestImageParams(t *testing.T) {
	p := imageParams([]int64{1, 3, 224, 224})
	if p.Channels != 3 || p.Height != 224 || p.Width != 224 || len(p.Mean) != 3 || p.Mean[2] != 128 {
		t.Errorf("params = %+v", p)
	}

	p = imageParams([]int64{1, 1000})
	if p.Height != 224 {
		t.Errorf("non-image shape should fall back to defaults, got %+v", p)
	}
}

func TestBenchCommand(t *testing.T) {
	fe := &fakeEngine{scores: []float32{0.1, 0.9, 0.3, 0.2}}
	stubEngine(t, fe)
	_, flags := sampleData(t)

	out, err := execute(t, append([]string{"bench", "--runs", "3", "--format", "json"}, flags...)...)
	if err != nil {
		t.Fatalf("bench: %v", err)
	}

	var rep struct {
		Runs []struct {
			Cold bool `json:"cold"`
		} `json:"runs"`
	}
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(rep.Runs) != 3 || !rep.Runs[0].Cold || rep.Runs[1].Cold {
		t.Errorf("runs = %+v", rep.Runs)
	}
	if !fe.closed {
		t.Error("engine not closed")
	}

	if _, err := execute(t, append([]string{"bench", "--runs", "0"}, flags...)...); err == nil {
		t.Error("expected error for --runs 0")
	}
	if _, err := execute(t, append([]string{"bench", "--format", "csv"}, flags...)...); err == nil {
		t.Error("expected error for unknown format")
	}
}
