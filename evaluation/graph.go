package evaluation

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// GraphDoc is the on-disk graph-exchange format: a flat operator graph
// with float32 initializers, the portable export target for every
// supported framework.
type GraphDoc struct {
	Format    string    `json:"format"`
	IRVersion int       `json:"ir_version"`
	Producer  string    `json:"producer,omitempty"`
	Classes   []float64 `json:"classes,omitempty"`
	Graph     GraphBody `json:"graph"`
}

// GraphBody holds the operator list and its constant tensors
type GraphBody struct {
	Input        string                 `json:"input"`
	Output       string                 `json:"output"`
	Initializers map[string]GraphTensor `json:"initializers"`
	Nodes        []GraphNode            `json:"nodes"`
}

// GraphTensor is a dense float32 constant
type GraphTensor struct {
	Dims      []int     `json:"dims"`
	FloatData []float32 `json:"float_data"`
}

// GraphNode is one operator application
type GraphNode struct {
	Op     string   `json:"op"`
	Inputs []string `json:"inputs"`
	Output string   `json:"output"`
}

const graphFormat = "evalmodel-graph"

// GraphSession executes a loaded graph. All arithmetic runs in float32,
// matching the storage precision; inputs are narrowed on entry and
// outputs widened back to float64, so callers keep the estimator surface
// and never special-case this format.
type GraphSession struct {
	doc     *GraphDoc
	classes []float64
}

// loadGraphModel reads a graph file into an inference session
func loadGraphModel(path string) (*LoadedModel, error) {
	session, err := OpenGraphSession(path)
	if err != nil {
		return nil, &LoadError{Path: path, Framework: FrameworkONNX, Attempts: []LoadAttempt{
			{Strategy: "graph", Err: err},
		}}
	}
	return &LoadedModel{Predictor: session, Framework: FrameworkONNX, Kind: KindGraph, Path: path}, nil
}

// OpenGraphSession parses and validates a graph file
func OpenGraphSession(path string) (*GraphSession, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc GraphDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse graph: %v", err)
	}
	return NewGraphSession(&doc)
}

// NewGraphSession validates a graph document and prepares it for execution
func NewGraphSession(doc *GraphDoc) (*GraphSession, error) {
	if doc.Format != graphFormat {
		return nil, fmt.Errorf("not a graph file (format %q)", doc.Format)
	}
	if doc.Graph.Input == "" || doc.Graph.Output == "" {
		return nil, fmt.Errorf("graph must declare input and output names")
	}
	if len(doc.Graph.Nodes) == 0 {
		return nil, fmt.Errorf("graph has no nodes")
	}
	for name, t := range doc.Graph.Initializers {
		want := 1
		for _, d := range t.Dims {
			want *= d
		}
		if len(t.Dims) == 0 || want != len(t.FloatData) {
			return nil, fmt.Errorf("initializer %q: dims %v do not match %d values", name, t.Dims, len(t.FloatData))
		}
	}

	// Nodes must arrive topologically sorted with all inputs resolvable
	defined := map[string]bool{doc.Graph.Input: true}
	for name := range doc.Graph.Initializers {
		defined[name] = true
	}
	produced := false
	for i, node := range doc.Graph.Nodes {
		switch node.Op {
		case "MatMul", "Gemm", "Add", "Relu", "Sigmoid", "Tanh", "Softmax", "Identity":
		default:
			return nil, fmt.Errorf("node %d: unsupported op %q", i, node.Op)
		}
		for _, in := range node.Inputs {
			if !defined[in] {
				return nil, fmt.Errorf("node %d (%s): undefined input %q", i, node.Op, in)
			}
		}
		defined[node.Output] = true
		if node.Output == doc.Graph.Output {
			produced = true
		}
	}
	if !produced {
		return nil, fmt.Errorf("no node produces graph output %q", doc.Graph.Output)
	}
	return &GraphSession{doc: doc, classes: doc.Classes}, nil
}

// SaveGraph writes a graph document to disk
func SaveGraph(path string, doc *GraphDoc) error {
	if _, err := NewGraphSession(doc); err != nil {
		return fmt.Errorf("refusing to save invalid graph: %v", err)
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode graph: %v", err)
	}
	return os.WriteFile(path, raw, 0644)
}

// matrix32 is a dense float32 value flowing between nodes
type matrix32 struct {
	rows, cols int
	data       []float32
}

func (m *matrix32) at(r, c int) float32 {
	return m.data[r*m.cols+c]
}

func (m *matrix32) set(r, c int, v float32) {
	m.data[r*m.cols+c] = v
}

func newMatrix32(rows, cols int) *matrix32 {
	return &matrix32{rows: rows, cols: cols, data: make([]float32, rows*cols)}
}

// run executes the graph on a batch of rows
func (s *GraphSession) run(X [][]float64) (*matrix32, error) {
	if len(X) == 0 {
		return newMatrix32(0, 0), nil
	}
	in := newMatrix32(len(X), len(X[0]))
	for r, row := range X {
		if len(row) != in.cols {
			return nil, fmt.Errorf("ragged input batch at row %d", r)
		}
		for c, v := range row {
			in.set(r, c, float32(v))
		}
	}

	values := map[string]*matrix32{s.doc.Graph.Input: in}
	for name, t := range s.doc.Graph.Initializers {
		values[name] = tensorMatrix(t)
	}

	for i, node := range s.doc.Graph.Nodes {
		args := make([]*matrix32, len(node.Inputs))
		for j, in := range node.Inputs {
			args[j] = values[in]
		}
		out, err := applyGraphOp(node.Op, args)
		if err != nil {
			return nil, fmt.Errorf("node %d (%s): %v", i, node.Op, err)
		}
		values[node.Output] = out
	}

	out, ok := values[s.doc.Graph.Output]
	if !ok {
		return nil, fmt.Errorf("graph output %q was never produced", s.doc.Graph.Output)
	}
	return out, nil
}

// tensorMatrix views an initializer as a matrix: 1-D tensors become a
// single row, higher ranks collapse trailing dims into columns
func tensorMatrix(t GraphTensor) *matrix32 {
	if len(t.Dims) == 1 {
		return &matrix32{rows: 1, cols: t.Dims[0], data: t.FloatData}
	}
	cols := 1
	for _, d := range t.Dims[1:] {
		cols *= d
	}
	return &matrix32{rows: t.Dims[0], cols: cols, data: t.FloatData}
}

func applyGraphOp(op string, args []*matrix32) (*matrix32, error) {
	switch op {
	case "MatMul":
		if len(args) != 2 {
			return nil, fmt.Errorf("expects 2 inputs, got %d", len(args))
		}
		return matmul32(args[0], args[1])
	case "Gemm":
		if len(args) != 3 {
			return nil, fmt.Errorf("expects 3 inputs, got %d", len(args))
		}
		prod, err := matmul32(args[0], args[1])
		if err != nil {
			return nil, err
		}
		return addBroadcast32(prod, args[2])
	case "Add":
		if len(args) != 2 {
			return nil, fmt.Errorf("expects 2 inputs, got %d", len(args))
		}
		return addBroadcast32(args[0], args[1])
	case "Relu", "Sigmoid", "Tanh", "Identity":
		if len(args) != 1 {
			return nil, fmt.Errorf("expects 1 input, got %d", len(args))
		}
		return elementwise32(args[0], op), nil
	case "Softmax":
		if len(args) != 1 {
			return nil, fmt.Errorf("expects 1 input, got %d", len(args))
		}
		return softmax32(args[0]), nil
	}
	return nil, fmt.Errorf("unsupported op %q", op)
}

func matmul32(a, b *matrix32) (*matrix32, error) {
	if a.cols != b.rows {
		return nil, fmt.Errorf("shape mismatch: %dx%d by %dx%d", a.rows, a.cols, b.rows, b.cols)
	}
	out := newMatrix32(a.rows, b.cols)
	for r := 0; r < a.rows; r++ {
		for k := 0; k < a.cols; k++ {
			av := a.at(r, k)
			if av == 0 {
				continue
			}
			for c := 0; c < b.cols; c++ {
				out.set(r, c, out.at(r, c)+av*b.at(k, c))
			}
		}
	}
	return out, nil
}

// addBroadcast32 adds b to a, broadcasting a single-row b across rows
func addBroadcast32(a, b *matrix32) (*matrix32, error) {
	if b.rows == 1 && b.cols == a.cols {
		out := newMatrix32(a.rows, a.cols)
		for r := 0; r < a.rows; r++ {
			for c := 0; c < a.cols; c++ {
				out.set(r, c, a.at(r, c)+b.at(0, c))
			}
		}
		return out, nil
	}
	if b.rows != a.rows || b.cols != a.cols {
		return nil, fmt.Errorf("shape mismatch: %dx%d plus %dx%d", a.rows, a.cols, b.rows, b.cols)
	}
	out := newMatrix32(a.rows, a.cols)
	for i := range a.data {
		out.data[i] = a.data[i] + b.data[i]
	}
	return out, nil
}

func elementwise32(a *matrix32, op string) *matrix32 {
	out := newMatrix32(a.rows, a.cols)
	for i, v := range a.data {
		switch op {
		case "Relu":
			if v > 0 {
				out.data[i] = v
			}
		case "Sigmoid":
			out.data[i] = float32(1 / (1 + math.Exp(-float64(v))))
		case "Tanh":
			out.data[i] = float32(math.Tanh(float64(v)))
		default:
			out.data[i] = v
		}
	}
	return out
}

func softmax32(a *matrix32) *matrix32 {
	out := newMatrix32(a.rows, a.cols)
	for r := 0; r < a.rows; r++ {
		maxV := float32(math.Inf(-1))
		for c := 0; c < a.cols; c++ {
			if a.at(r, c) > maxV {
				maxV = a.at(r, c)
			}
		}
		var sum float32
		for c := 0; c < a.cols; c++ {
			e := float32(math.Exp(float64(a.at(r, c) - maxV)))
			out.set(r, c, e)
			sum += e
		}
		if sum > 0 {
			for c := 0; c < a.cols; c++ {
				out.set(r, c, out.at(r, c)/sum)
			}
		}
	}
	return out
}

// Predict runs the graph and coerces the output to labels or values:
// argmax over multi-column outputs, the raw value for single columns
func (s *GraphSession) Predict(X [][]float64) ([]float64, error) {
	out, err := s.run(X)
	if err != nil {
		return nil, err
	}
	labels := make([]float64, out.rows)
	for r := 0; r < out.rows; r++ {
		if out.cols > 1 {
			best := 0
			for c := 1; c < out.cols; c++ {
				if out.at(r, c) > out.at(r, best) {
					best = c
				}
			}
			labels[r] = classLabel(s.classes, best)
		} else if out.cols == 1 {
			labels[r] = float64(out.at(r, 0))
		}
	}
	return labels, nil
}

// PredictProba returns the multi-column graph output as probabilities
func (s *GraphSession) PredictProba(X [][]float64) ([][]float64, error) {
	out, err := s.run(X)
	if err != nil {
		return nil, err
	}
	if out.cols < 2 {
		return nil, fmt.Errorf("graph output has no probability columns")
	}
	proba := make([][]float64, out.rows)
	for r := 0; r < out.rows; r++ {
		row := make([]float64, out.cols)
		for c := 0; c < out.cols; c++ {
			row[c] = float64(out.at(r, c))
		}
		proba[r] = row
	}
	return proba, nil
}
