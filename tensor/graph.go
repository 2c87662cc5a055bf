package tensor

import (
	"fmt"

	"github.com/tensorforge/tensorforge/internal/backend"
	"github.com/tensorforge/tensorforge/internal/compiler"
	"github.com/tensorforge/tensorforge/internal/dim"
	"github.com/tensorforge/tensorforge/internal/executor"
	"github.com/tensorforge/tensorforge/internal/graph"
	"github.com/tensorforge/tensorforge/internal/kernel"
	"github.com/tensorforge/tensorforge/internal/ops"
	"github.com/tensorforge/tensorforge/internal/shape"
)

// Graph owns the node store and the executor built over it, the
// correct model spec.md §9's "cyclic references" design note calls
// for: GraphTensor handles hold a non-owning back-reference to a
// Graph, never the reverse.
type Graph struct {
	g     *graph.Graph
	queue kernel.CommandQueue
	exec  *executor.Executor
}

// New builds an empty Graph dispatching kernel work through queue. Pass
// backend.HostQueue{} for a CPU-only run, or metal.NewQueue() for the
// Metal-backed path; a nil queue is equivalent to backend.HostQueue{}.
func New(queue kernel.CommandQueue) *Graph {
	if queue == nil {
		queue = backend.HostQueue{}
	}
	g := graph.New()
	return &Graph{g: g, queue: queue, exec: executor.New(g, queue)}
}

// Tensor builds an unnamed leaf node of the given shape, the
// `graph.tensor<Shape>()` entry point. Call Set before executing.
func (gr *Graph) Tensor(dims ...dim.Expr) (*GraphTensor, error) {
	return gr.NamedTensor("", dims...)
}

// NamedTensor builds a named leaf node of the given shape, the
// `graph.named_tensor<Shape>(name)` entry point.
func (gr *Graph) NamedTensor(name string, dims ...dim.Expr) (*GraphTensor, error) {
	view := shape.New(dims...)
	leaf := ops.NewLeaf(name, view)
	id, err := gr.g.AddOp(leaf).Finish()
	if err != nil {
		return nil, err
	}
	return &GraphTensor{g: gr, node: id, view: view, leaf: leaf}, nil
}

// Arange builds a 1D tensor [0,1,...,n-1] via the Function primitive,
// the `graph.arange<Dim>()` entry point. n may be symbolic; its extent
// is resolved from the dyn-map at execution time, per scenario S6.
func (gr *Graph) Arange(n dim.Expr) (*GraphTensor, error) {
	outShape := func([]*shape.Tracker) (*shape.Tracker, error) { return shape.New(n), nil }
	fn := func(_ map[byte]int, _ [][]float32, _ [][]int, outData []float32) {
		for i := range outData {
			outData[i] = float32(i)
		}
	}
	return gr.emitFunction("arange", 0, outShape, fn)
}

// Triu builds a [n,n] upper-triangular 0/1 mask with diagonal offset k
// (k=0 includes the main diagonal; k=1 is the canonical strict causal
// mask), the `graph.triu<Dim>(k)` entry point.
func (gr *Graph) Triu(n dim.Expr, k int) (*GraphTensor, error) {
	outShape := func([]*shape.Tracker) (*shape.Tracker, error) { return shape.New(n, n), nil }
	fn := func(dyn map[byte]int, _ [][]float32, _ [][]int, outData []float32) {
		size, err := n.Resolve(dyn)
		if err != nil {
			return
		}
		for i := 0; i < size; i++ {
			for j := 0; j < size; j++ {
				v := float32(0)
				if j-i >= k {
					v = 1
				}
				outData[i*size+j] = v
			}
		}
	}
	return gr.emitFunction("triu", 0, outShape, fn)
}

// SymbolValue builds a tensor of the given shape filled with the
// dyn-map's concrete binding for sym at execution time, used to
// broadcast a symbolic scalar (e.g. a sequence offset) into an
// elementwise operand.
func (gr *Graph) SymbolValue(sym byte, dims ...dim.Expr) (*GraphTensor, error) {
	outShape := func([]*shape.Tracker) (*shape.Tracker, error) { return shape.New(dims...), nil }
	fn := func(dyn map[byte]int, _ [][]float32, _ [][]int, outData []float32) {
		v := float32(dyn[sym])
		for i := range outData {
			outData[i] = v
		}
	}
	return gr.emitFunction(fmt.Sprintf("symbol:%c", sym), 0, outShape, fn)
}

// Constant builds a tensor of the given shape filled with host-known
// data, via the same Function primitive Arange/Triu/SymbolValue use.
// len(data) must equal the product of dims. Useful for precomputed
// lookup tables (e.g. a rotary-embedding frequency table) where the
// values depend only on the tensor's static shape, not on any runtime
// input.
func (gr *Graph) Constant(dims []dim.Expr, data []float32) (*GraphTensor, error) {
	want := 1
	for _, d := range dims {
		n, ok := d.IsConst()
		if !ok {
			return nil, fmt.Errorf("tensor: Constant requires static dims, got %s", d)
		}
		want *= n
	}
	if want != len(data) {
		return nil, fmt.Errorf("tensor: Constant shape %v wants %d values, got %d", dims, want, len(data))
	}
	outShape := func([]*shape.Tracker) (*shape.Tracker, error) { return shape.New(dims...), nil }
	fn := func(_ map[byte]int, _ [][]float32, _ [][]int, outData []float32) {
		copy(outData, data)
	}
	return gr.emitFunction("constant", 0, outShape, fn)
}

func (gr *Graph) emitFunction(label string, arity int, outShape func([]*shape.Tracker) (*shape.Tracker, error), fn ops.FunctionForward) (*GraphTensor, error) {
	op := ops.NewFunction(label, arity, outShape, fn)
	id, err := gr.g.AddOp(op).Finish()
	if err != nil {
		return nil, err
	}
	view, err := op.InferShape(nil)
	if err != nil {
		return nil, err
	}
	return &GraphTensor{g: gr, node: id, view: view[0]}, nil
}

// SetDyn binds a symbol to a concrete value in the dyn-map, consulted
// by Execute. Must only be called between executions, per spec.md §5's
// shared-resource policy.
func (gr *Graph) SetDyn(symbol byte, value int) { gr.g.SetDyn(symbol, value) }

// Compile applies the given rewrite pipeline (compiler.Default() is the
// canonical MatMul-only pipeline) to the graph. Passing no handles is
// fine; handles are accepted purely so callers can express "these must
// still be valid after compile" in the call site, mirroring spec.md
// §6's `graph.compile(pipeline, tensor_handles…)` signature — validity
// itself is automatic, since every GraphTensor resolves its node id
// through Graph.Resolve on every access.
func (gr *Graph) Compile(pipeline compiler.Pipeline, handles ...*GraphTensor) error {
	if pipeline == nil {
		pipeline = compiler.Default()
	}
	return compiler.Compile(gr.g, pipeline)
}

// Execute runs every live node once and returns any error encountered;
// retrieved handles' Result becomes available afterward.
func (gr *Graph) Execute() error {
	_, err := gr.exec.Execute()
	return err
}

// addOp is the shared node-append primitive every desugaring method in
// graph_tensor.go bottoms out through, kept unexported so callers never
// need to import internal/graph directly.
func (gr *Graph) addOp(op graph.Op) *graph.OpBuilder { return gr.g.AddOp(op) }
