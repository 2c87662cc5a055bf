// Package executor implements the topological scheduler/dispatcher:
// the last of the core's five layers, consuming a compiled Graph and
// running each node's kernel.Kernel, per spec.md §4.J.
package executor

import (
	"fmt"
	"sync"
	"sync/atomic"

	"gorgonia.org/tensor"

	"github.com/tensorforge/tensorforge/internal/graph"
	"github.com/tensorforge/tensorforge/internal/kernel"
	"github.com/tensorforge/tensorforge/internal/storage"
	"github.com/tensorforge/tensorforge/internal/tflog"
)

// Executor walks a Graph's live nodes in topological order, dispatching
// each one's kernel.Kernel against a shared CommandQueue and managing
// output buffer lifecycle: allocate on first need, release once every
// consumer has fired, unless the node is pinned to_retrieve. NodeID
// order alone is not topological once a compiler pass has run (a
// rewrite redirects existing consumers to newer, larger-id nodes), so
// Execute orders nodes by a depth-first walk of their source edges.
type Executor struct {
	g     *graph.Graph
	queue kernel.CommandQueue

	mu      sync.Mutex
	running int32
	results map[graph.NodeID]*storage.Buffer
}

// New builds an Executor over g, dispatching device work (when a
// kernel asks for it) through queue. Pass backend.HostQueue{} for a
// CPU-only run or metal.NewQueue() for the Metal-backed path.
func New(g *graph.Graph, queue kernel.CommandQueue) *Executor {
	return &Executor{g: g, queue: queue}
}

// Execute runs every live node once, in topological order, and returns
// the buffers of every node marked to_retrieve. Only one Execute call
// may be in flight per Executor at a time, per spec.md §4.J's
// concurrency invariant; a concurrent call returns
// ErrExecutionInProgress rather than racing the shared buffer store.
func (e *Executor) Execute() (map[graph.NodeID]*storage.Buffer, error) {
	if !atomic.CompareAndSwapInt32(&e.running, 0, 1) {
		return nil, ErrExecutionInProgress
	}
	defer atomic.StoreInt32(&e.running, 0)

	dyn := e.g.DynMap()
	ids := e.g.AllNodeIDs()

	sources := make(map[graph.NodeID][]graph.Edge, len(ids))
	pending := make(map[graph.NodeID]int, len(ids))
	for _, id := range ids {
		edges, err := e.g.GetSources(id)
		if err != nil {
			return nil, err
		}
		sources[id] = edges
		for _, edge := range edges {
			pending[edge.Src]++
		}
	}

	order := make([]graph.NodeID, 0, len(ids))
	visited := make(map[graph.NodeID]bool, len(ids))
	var visit func(id graph.NodeID)
	visit = func(id graph.NodeID) {
		if _, live := sources[id]; !live || visited[id] {
			return
		}
		visited[id] = true
		for _, edge := range sources[id] {
			visit(edge.Src)
		}
		order = append(order, id)
	}
	for _, id := range ids {
		visit(id)
	}

	buffers := make(map[graph.NodeID]*storage.Buffer, len(ids))
	for _, id := range order {
		op, err := e.g.Op(id)
		if err != nil {
			return nil, err
		}
		k, ok := op.(kernel.Kernel)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no device kernel", ErrKernelCompilation, op.Name())
		}

		edges := sources[id]
		inputs := make([]kernel.Input, len(edges))
		for i, edge := range edges {
			buf, ok := buffers[edge.Src]
			if !ok {
				return nil, fmt.Errorf("executor: node %d consumed before its producer %d ran", id, edge.Src)
			}
			inputs[i] = kernel.Input{Buf: buf, View: edge.View}
		}

		sizes, err := k.OutputBufferSizes(dyn, inputs)
		if err != nil {
			return nil, err
		}
		outputs := make([]*storage.Buffer, len(sizes))
		for i, dims := range sizes {
			outputs[i] = storage.NewHost(tensor.Float32, dims...)
		}

		ctx := &kernel.Context{Dyn: dyn, Queue: e.queue}
		if err := k.Forward(ctx, inputs, outputs); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrKernelCompilation, op.Name(), err)
		}
		tflog.Log.Debug().Uint64("node", uint64(id)).Str("op", op.Name()).Msg("dispatched")

		buffers[id] = outputs[0]
		for _, edge := range edges {
			pending[edge.Src]--
			if pending[edge.Src] == 0 && !e.g.IsToRetrieve(edge.Src) {
				delete(buffers, edge.Src)
			}
		}
	}

	results := make(map[graph.NodeID]*storage.Buffer)
	for _, id := range e.g.ToRetrieve() {
		buf, ok := buffers[id]
		if !ok {
			return nil, fmt.Errorf("executor: to_retrieve node %d produced no buffer", id)
		}
		results[id] = buf
	}

	e.mu.Lock()
	e.results = results
	e.mu.Unlock()
	return results, nil
}

// Result returns the buffer retrieved for node by the most recent
// Execute call, the lookup a tensor handle's retrieve() performs.
func (e *Executor) Result(node graph.NodeID) (*storage.Buffer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	buf, ok := e.results[e.g.Resolve(node)]
	return buf, ok
}
