package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

// ONNX element type codes used by fixtures.
const (
	ONNXFloat int32 = 1
	ONNXUint8 int32 = 2
	ONNXInt64 int32 = 7
)

// ONNXNode is one operator of a fixture graph.
type ONNXNode struct {
	Name    string
	OpType  string
	Inputs  []string
	Outputs []string
}

// ONNXValue is a graph input or output. Dims holds int64 values for fixed
// dimensions and strings for symbolic ones.
type ONNXValue struct {
	Name     string
	ElemType int32
	Dims     []any
}

// ONNXModel describes a minimal ModelProto for tests. Initializers name graph
// inputs that carry weights.
type ONNXModel struct {
	Graph        string
	Opset        uint64
	Nodes        []ONNXNode
	Inputs       []ONNXValue
	Outputs      []ONNXValue
	Initializers []string
}

// Classifier returns a four-layer model with one float input "input"
// (batch x 3 x 2 x 2), two weight initializers and output "169" with four
// classes.
func Classifier() ONNXModel {
	return ONNXModel{
		Graph: "mobilenet",
		Opset: 11,
		Nodes: []ONNXNode{
			{"conv1", "Conv", []string{"input", "w1"}, []string{"conv1_out"}},
			{"relu1", "Relu", []string{"conv1_out"}, []string{"relu1_out"}},
			{"", "Dropout", []string{"relu1_out"}, []string{"drop_out", ""}},
			{"last_conv_fc", "Conv", []string{"drop_out", "w2"}, []string{"169"}},
		},
		Inputs: []ONNXValue{
			{"input", ONNXFloat, []any{"batch", int64(3), int64(2), int64(2)}},
			{"w1", ONNXFloat, []any{int64(4)}},
			{"w2", ONNXFloat, []any{int64(4)}},
		},
		Outputs: []ONNXValue{
			{"169", ONNXFloat, []any{int64(1), int64(4), int64(1), int64(1)}},
		},
		Initializers: []string{"w1", "w2"},
	}
}

// WriteONNXModel encodes m into dir/name and returns the path.
func WriteONNXModel(tb testing.TB, dir, name string, m ONNXModel) string {
	tb.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, m.Encode(), 0o644); err != nil {
		tb.Fatalf("write %s: %v", path, err)
	}

	return path
}

// Encode serializes m as an ONNX ModelProto.
func (m ONNXModel) Encode() []byte {
	var g []byte
	for _, n := range m.Nodes {
		var nb []byte
		for _, in := range n.Inputs {
			nb = appendString(nb, 1, in)
		}
		for _, out := range n.Outputs {
			nb = appendString(nb, 2, out)
		}
		nb = appendString(nb, 3, n.Name)
		nb = appendString(nb, 4, n.OpType)
		g = appendMessage(g, 1, nb)
	}
	g = appendString(g, 2, m.Graph)
	for _, name := range m.Initializers {
		var tb []byte
		tb = appendVarint(tb, 1, 4) // dims
		tb = appendString(tb, 8, name)
		g = appendMessage(g, 5, tb)
	}
	for _, v := range m.Inputs {
		g = appendMessage(g, 11, encodeValue(v))
	}
	for _, v := range m.Outputs {
		g = appendMessage(g, 12, encodeValue(v))
	}

	var model []byte
	model = appendVarint(model, 1, 7) // ir_version
	model = appendString(model, 2, "int8api-test")
	model = appendMessage(model, 7, g)

	var opset []byte
	opset = appendString(opset, 1, "")
	opset = appendVarint(opset, 2, m.Opset)
	model = appendMessage(model, 8, opset)

	return model
}

func encodeValue(v ONNXValue) []byte {
	var shape []byte
	for _, d := range v.Dims {
		var dim []byte
		switch x := d.(type) {
		case int64:
			dim = appendVarint(dim, 1, uint64(x))
		case string:
			dim = appendString(dim, 2, x)
		}
		shape = appendMessage(shape, 1, dim)
	}

	var tensor []byte
	tensor = appendVarint(tensor, 1, uint64(v.ElemType))
	tensor = appendMessage(tensor, 2, shape)

	var typ []byte
	typ = appendMessage(typ, 1, tensor)

	var out []byte
	out = appendString(out, 1, v.Name)
	out = appendMessage(out, 2, typ)
	return out
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}
