package onnx

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"sync"

	"github.com/example/go-int8api/internal/network"
	"google.golang.org/protobuf/encoding/protowire"
)

// ONNX protobuf field numbers used by the graph walker.
const (
	modelIRVersion   protowire.Number = 1
	modelProducer    protowire.Number = 2
	modelGraph       protowire.Number = 7
	modelOpsetImport protowire.Number = 8

	graphNode        protowire.Number = 1
	graphName        protowire.Number = 2
	graphInitializer protowire.Number = 5
	graphInput       protowire.Number = 11
	graphOutput      protowire.Number = 12

	nodeInput  protowire.Number = 1
	nodeOutput protowire.Number = 2
	nodeName   protowire.Number = 3
	nodeOpType protowire.Number = 4

	valueInfoName protowire.Number = 1
	valueInfoType protowire.Number = 2

	typeTensor      protowire.Number = 1
	tensorElemType  protowire.Number = 1
	tensorShape     protowire.Number = 2
	shapeDim        protowire.Number = 1
	dimValue        protowire.Number = 1
	dimParam        protowire.Number = 2
	tensorProtoName protowire.Number = 8
	opsetDomain     protowire.Number = 1
	opsetVersion    protowire.Number = 2
)

// ElemType is the ONNX TensorProto.DataType code.
type ElemType int32

const (
	ElemUndefined ElemType = 0
	ElemFloat     ElemType = 1
	ElemUint8     ElemType = 2
	ElemInt8      ElemType = 3
	ElemInt32     ElemType = 6
	ElemInt64     ElemType = 7
	ElemFloat16   ElemType = 10
)

func (e ElemType) String() string {
	switch e {
	case ElemFloat:
		return "float32"
	case ElemUint8:
		return "uint8"
	case ElemInt8:
		return "int8"
	case ElemInt32:
		return "int32"
	case ElemInt64:
		return "int64"
	case ElemFloat16:
		return "float16"
	default:
		return "elem(" + strconv.Itoa(int(e)) + ")"
	}
}

// Dim is one tensor dimension, either fixed or symbolic.
type Dim struct {
	Value int64
	Param string
}

// ValueInfo describes a graph input or output binding.
type ValueInfo struct {
	Name     string
	ElemType ElemType
	Shape    []Dim
}

// StaticShape resolves the shape for a single-sample run: symbolic and
// unknown dimensions become 1.
func (v ValueInfo) StaticShape() []int64 {
	out := make([]int64, len(v.Shape))
	for i, d := range v.Shape {
		out[i] = d.Value
		if out[i] < 1 {
			out[i] = 1
		}
	}
	return out
}

// Node is one operator of the graph.
type Node struct {
	Name    string
	OpType  string
	Inputs  []string
	Outputs []string
}

// Interval is a dynamic range assigned to a tensor.
type Interval struct {
	Lo, Hi float64
}

// Graph is the parsed network definition of an ONNX model. It records the
// dynamic ranges assigned to its tensors.
type Graph struct {
	Name      string
	Producer  string
	IRVersion int64
	Opset     int64

	inputs  []ValueInfo
	outputs []ValueInfo
	nodes   []Node
	known   map[string]struct{}

	mu     sync.Mutex
	ranges map[string]Interval
}

var _ network.Definition = (*Graph)(nil)

// ErrUnknownTensor is returned when a range targets a tensor not in the graph.
var ErrUnknownTensor = errors.New("tensor not found in graph")

// ParseGraph reads the ONNX model at path.
func ParseGraph(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ONNX model: %w", err)
	}

	g, err := DecodeGraph(data)
	if err != nil {
		return nil, fmt.Errorf("parse ONNX model %s: %w", path, err)
	}

	return g, nil
}

// DecodeGraph decodes a serialized ModelProto. Graph inputs that are backed
// by initializers are weights, not runtime inputs, and are dropped.
func DecodeGraph(data []byte) (*Graph, error) {
	g := &Graph{
		known:  make(map[string]struct{}),
		ranges: make(map[string]Interval),
	}

	var graphBytes []byte

	err := eachField(data, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		var err error
		switch num {
		case modelIRVersion:
			var v uint64
			v, err = varintField(typ, raw)
			g.IRVersion = int64(v)
		case modelProducer:
			g.Producer, err = stringField(typ, raw)
		case modelGraph:
			graphBytes, err = bytesField(typ, raw)
		case modelOpsetImport:
			var b []byte
			if b, err = bytesField(typ, raw); err == nil {
				err = g.decodeOpset(b)
			}
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	if graphBytes == nil {
		return nil, errors.New("model has no graph")
	}

	if err := g.decodeGraph(graphBytes); err != nil {
		return nil, fmt.Errorf("graph: %w", err)
	}

	return g, nil
}

func (g *Graph) decodeOpset(b []byte) error {
	var domain string
	var version uint64

	err := eachField(b, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		var err error
		switch num {
		case opsetDomain:
			domain, err = stringField(typ, raw)
		case opsetVersion:
			version, err = varintField(typ, raw)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("opset_import: %w", err)
	}

	if domain == "" || domain == "ai.onnx" {
		g.Opset = int64(version)
	}

	return nil
}

func (g *Graph) decodeGraph(b []byte) error {
	var declared []ValueInfo
	initializers := make(map[string]struct{})

	err := eachField(b, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		switch num {
		case graphName:
			name, err := stringField(typ, raw)
			g.Name = name
			return err
		case graphNode:
			msg, err := bytesField(typ, raw)
			if err != nil {
				return err
			}
			n, err := decodeNode(msg)
			if err != nil {
				return fmt.Errorf("node %d: %w", len(g.nodes), err)
			}
			g.nodes = append(g.nodes, n)
		case graphInitializer:
			msg, err := bytesField(typ, raw)
			if err != nil {
				return err
			}
			name, err := decodeTensorName(msg)
			if err != nil {
				return fmt.Errorf("initializer: %w", err)
			}
			initializers[name] = struct{}{}
		case graphInput, graphOutput:
			msg, err := bytesField(typ, raw)
			if err != nil {
				return err
			}
			vi, err := decodeValueInfo(msg)
			if err != nil {
				return fmt.Errorf("value info: %w", err)
			}
			if num == graphInput {
				declared = append(declared, vi)
			} else {
				g.outputs = append(g.outputs, vi)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, vi := range declared {
		if _, isWeight := initializers[vi.Name]; isWeight {
			continue
		}
		g.inputs = append(g.inputs, vi)
		g.known[vi.Name] = struct{}{}
	}

	for _, n := range g.nodes {
		for _, out := range n.Outputs {
			g.known[out] = struct{}{}
		}
	}

	return nil
}

func decodeNode(b []byte) (Node, error) {
	var n Node

	err := eachField(b, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		var err error
		var s string
		switch num {
		case nodeInput:
			s, err = stringField(typ, raw)
			n.Inputs = append(n.Inputs, s)
		case nodeOutput:
			s, err = stringField(typ, raw)
			n.Outputs = append(n.Outputs, s)
		case nodeName:
			n.Name, err = stringField(typ, raw)
		case nodeOpType:
			n.OpType, err = stringField(typ, raw)
		}
		return err
	})

	return n, err
}

func decodeTensorName(b []byte) (string, error) {
	var name string

	err := eachField(b, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		if num != tensorProtoName {
			return nil
		}
		var err error
		name, err = stringField(typ, raw)
		return err
	})

	return name, err
}

func decodeValueInfo(b []byte) (ValueInfo, error) {
	var vi ValueInfo

	err := eachField(b, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		switch num {
		case valueInfoName:
			name, err := stringField(typ, raw)
			vi.Name = name
			return err
		case valueInfoType:
			msg, err := bytesField(typ, raw)
			if err != nil {
				return err
			}
			return decodeTypeProto(msg, &vi)
		}
		return nil
	})

	return vi, err
}

func decodeTypeProto(b []byte, vi *ValueInfo) error {
	return eachField(b, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		if num != typeTensor {
			return nil
		}
		msg, err := bytesField(typ, raw)
		if err != nil {
			return err
		}
		return eachField(msg, func(num protowire.Number, typ protowire.Type, raw []byte) error {
			switch num {
			case tensorElemType:
				v, err := varintField(typ, raw)
				vi.ElemType = ElemType(v)
				return err
			case tensorShape:
				shape, err := bytesField(typ, raw)
				if err != nil {
					return err
				}
				vi.Shape, err = decodeShape(shape)
				return err
			}
			return nil
		})
	})
}

func decodeShape(b []byte) ([]Dim, error) {
	dims := []Dim{}

	err := eachField(b, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		if num != shapeDim {
			return nil
		}
		msg, err := bytesField(typ, raw)
		if err != nil {
			return err
		}

		var d Dim
		err = eachField(msg, func(num protowire.Number, typ protowire.Type, raw []byte) error {
			var err error
			switch num {
			case dimValue:
				var v uint64
				v, err = varintField(typ, raw)
				d.Value = int64(v)
			case dimParam:
				d.Param, err = stringField(typ, raw)
			}
			return err
		})
		dims = append(dims, d)
		return err
	})

	return dims, err
}

// Inputs returns the runtime input tensor names.
func (g *Graph) Inputs() []string {
	names := make([]string, len(g.inputs))
	for i, vi := range g.inputs {
		names[i] = vi.Name
	}
	return names
}

// Layers returns one entry per node with its non-empty output tensors.
func (g *Graph) Layers() []network.Layer {
	layers := make([]network.Layer, 0, len(g.nodes))
	for i, n := range g.nodes {
		name := n.Name
		if name == "" {
			name = fmt.Sprintf("%s_%d", n.OpType, i)
		}

		outs := make([]string, 0, len(n.Outputs))
		for _, o := range n.Outputs {
			if o != "" {
				outs = append(outs, o)
			}
		}

		layers = append(layers, network.Layer{Name: name, Outputs: outs})
	}
	return layers
}

// InputInfo returns the runtime input bindings.
func (g *Graph) InputInfo() []ValueInfo { return append([]ValueInfo(nil), g.inputs...) }

// OutputInfo returns the graph output bindings.
func (g *Graph) OutputInfo() []ValueInfo { return append([]ValueInfo(nil), g.outputs...) }

// Nodes returns the graph operators in topological (file) order.
func (g *Graph) Nodes() []Node { return append([]Node(nil), g.nodes...) }

// SetDynamicRange records [lo, hi] for tensor.
func (g *Graph) SetDynamicRange(tensor string, lo, hi float64) error {
	if _, ok := g.known[tensor]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTensor, tensor)
	}
	if !(lo < hi) || math.IsInf(lo, 0) || math.IsInf(hi, 0) {
		return fmt.Errorf("invalid dynamic range [%v, %v] for %q", lo, hi, tensor)
	}

	g.mu.Lock()
	g.ranges[tensor] = Interval{Lo: lo, Hi: hi}
	g.mu.Unlock()

	return nil
}

// DynamicRange reports the interval assigned to tensor.
func (g *Graph) DynamicRange(tensor string) (Interval, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.ranges[tensor]
	return r, ok
}

func eachField(b []byte, fn func(num protowire.Number, typ protowire.Type, raw []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m := protowire.ConsumeFieldValue(num, typ, b)
		if m < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(m))
		}

		if err := fn(num, typ, b[:m]); err != nil {
			return err
		}
		b = b[m:]
	}
	return nil
}

func bytesField(typ protowire.Type, raw []byte) ([]byte, error) {
	if typ != protowire.BytesType {
		return nil, fmt.Errorf("expected length-delimited field, got wire type %d", typ)
	}
	v, n := protowire.ConsumeBytes(raw)
	if n < 0 {
		return nil, protowire.ParseError(n)
	}
	return v, nil
}

func stringField(typ protowire.Type, raw []byte) (string, error) {
	b, err := bytesField(typ, raw)
	return string(b), err
}

func varintField(typ protowire.Type, raw []byte) (uint64, error) {
	if typ != protowire.VarintType {
		return 0, fmt.Errorf("expected varint field, got wire type %d", typ)
	}
	v, n := protowire.ConsumeVarint(raw)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return v, nil
}
