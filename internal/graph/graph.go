// Package graph implements the Graph: a directed multigraph of operator
// instances whose edges carry the ShapeTracker view under which a
// producer's output feeds a consumer's input slot. It is the one
// mutable piece of shared state the rest of the compiler pipeline
// rewrites in place.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tensorforge/tensorforge/internal/shape"
)

// ErrNodeNotFound is returned when an operation references a node id
// that does not exist in the graph (and has no id_remap redirect).
var ErrNodeNotFound = errors.New("graph: node not found")

// NodeID identifies a node. IDs are assigned monotonically and are
// never reused; after a rewrite removes a node, its id either resolves
// through id_remap to a surviving node or is simply dead.
type NodeID uint64

// Op is a primitive operator instance attached to a node. Concrete ops
// live in internal/ops; Graph only needs the shape-inference and
// identification contract.
type Op interface {
	// Name identifies the operator kind, used by the pattern engine's
	// type-based selectors and by debug logging.
	Name() string
	// Arity is the fixed number of input slots this op expects.
	Arity() int
	// InferShape computes this op's output ShapeTracker(s) from its
	// inputs' ShapeTrackers.
	InferShape(inputs []*shape.Tracker) ([]*shape.Tracker, error)
	// Custom is an escape hatch returning backend-specific wrappers
	// (e.g. a compiled kernel handle) keyed by an arbitrary string, so
	// the pattern compiler can retrieve them without a type switch over
	// every concrete Op.
	Custom(key string) (any, bool)
}

// Edge is one input binding: node Dst's input slot InputSlot reads
// output OutputSlot of node Src, through the given view.
type Edge struct {
	Src        NodeID
	OutputSlot int
	InputSlot  int
	View       *shape.Tracker
}

type nodeEntry struct {
	id      NodeID
	op      Op
	sources []Edge // sorted by InputSlot; input-slot identity is positional
}

// Graph is the node/edge store. Nodes are appended monotonically while
// building; compiler passes may later replace or remove them, updating
// id_remap so that external handles (no_delete, to_retrieve, and any
// user-held tensor handle) remain valid.
type Graph struct {
	mu sync.RWMutex

	nodes  map[NodeID]*nodeEntry
	nextID NodeID

	noDelete   map[NodeID]struct{}
	toRetrieve map[NodeID]struct{}
	dynMap     map[byte]int
	idRemap    map[NodeID]NodeID
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		nodes:      make(map[NodeID]*nodeEntry),
		noDelete:   make(map[NodeID]struct{}),
		toRetrieve: make(map[NodeID]struct{}),
		dynMap:     make(map[byte]int),
		idRemap:    make(map[NodeID]NodeID),
	}
}

// OpBuilder accumulates input edges for a not-yet-finalized node.
type OpBuilder struct {
	g       *Graph
	op      Op
	sources []Edge
}

// AddOp starts building a new node for op. Call Input for each of its
// operands (in slot order) and Finish to append the node to the graph.
func (g *Graph) AddOp(op Op) *OpBuilder {
	return &OpBuilder{g: g, op: op}
}

// Input binds input slot len(sources) to output outputSlot of src,
// through view.
func (b *OpBuilder) Input(src NodeID, outputSlot int, view *shape.Tracker) *OpBuilder {
	b.sources = append(b.sources, Edge{
		Src:        src,
		OutputSlot: outputSlot,
		InputSlot:  len(b.sources),
		View:       view,
	})
	return b
}

// Finish validates arity, appends the node, and returns its id.
func (b *OpBuilder) Finish() (NodeID, error) {
	if b.op.Arity() >= 0 && len(b.sources) != b.op.Arity() {
		return 0, fmt.Errorf("graph: op %s expects %d inputs, got %d", b.op.Name(), b.op.Arity(), len(b.sources))
	}
	b.g.mu.Lock()
	defer b.g.mu.Unlock()

	id := b.g.nextID
	b.g.nextID++
	b.g.nodes[id] = &nodeEntry{id: id, op: b.op, sources: b.sources}
	return id, nil
}

// GetSources returns the edge triples feeding node, resolved through
// id_remap, in input-slot order.
func (g *Graph) GetSources(node NodeID) ([]Edge, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[g.resolveLocked(node)]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNodeNotFound, node)
	}
	out := make([]Edge, len(n.sources))
	for i, e := range n.sources {
		e.Src = g.resolveLocked(e.Src)
		out[i] = e
	}
	return out, nil
}

// Op returns the operator instance attached to node.
func (g *Graph) Op(node NodeID) (Op, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[g.resolveLocked(node)]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNodeNotFound, node)
	}
	return n.op, nil
}

// Exists reports whether node resolves to a live node.
func (g *Graph) Exists(node NodeID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[g.resolveLocked(node)]
	return ok
}

// Resolve follows id_remap until it reaches a surviving node id (or the
// original id, if it was never remapped).
func (g *Graph) Resolve(node NodeID) NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.resolveLocked(node)
}

func (g *Graph) resolveLocked(node NodeID) NodeID {
	seen := map[NodeID]bool{}
	for {
		if seen[node] {
			return node // defensive: break any accidental remap cycle
		}
		seen[node] = true
		next, ok := g.idRemap[node]
		if !ok {
			return node
		}
		node = next
	}
}

// RemoveNode deletes node and the incoming source edges it owns.
// It does not rewrite other nodes' edges that reference node as a
// source; callers must MoveOutgoingEdge/MoveReferences first.
func (g *Graph) RemoveNode(node NodeID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.nodes, g.resolveLocked(node))
}

// AllNodeIDs returns every live node id, sorted for determinism (used
// by the executor's topological sort and by tests).
func (g *Graph) AllNodeIDs() []NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]NodeID, 0, len(g.nodes))
	for id := range g.nodes {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NoDelete pins node so rewrite passes must never remove it.
func (g *Graph) NoDelete(node NodeID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.noDelete[g.resolveLocked(node)] = struct{}{}
}

// IsNoDelete reports whether node (after id_remap resolution) is pinned.
func (g *Graph) IsNoDelete(node NodeID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.noDelete[g.resolveLocked(node)]
	return ok
}

// Retrieve marks node's output buffer for return to the host after
// execution.
func (g *Graph) Retrieve(node NodeID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.toRetrieve[g.resolveLocked(node)] = struct{}{}
}

// ToRetrieve returns every node currently marked for retrieval.
func (g *Graph) ToRetrieve() []NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]NodeID, 0, len(g.toRetrieve))
	for id := range g.toRetrieve {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsToRetrieve reports whether node is marked for retrieval.
func (g *Graph) IsToRetrieve(node NodeID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.toRetrieve[g.resolveLocked(node)]
	return ok
}

// SetDyn binds a symbol to a concrete value in the dyn-map. Must only
// be called between executions (see backend concurrency model).
func (g *Graph) SetDyn(symbol byte, value int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dynMap[symbol] = value
}

// DynMap returns a copy of the current symbol -> value bindings.
func (g *Graph) DynMap() map[byte]int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[byte]int, len(g.dynMap))
	for k, v := range g.dynMap {
		out[k] = v
	}
	return out
}

// MoveOutgoingEdge redirects every edge in the graph whose Src is
// oldID to newID, and registers the id_remap entry. Used by rewrite
// passes (e.g. the MatMul pass) after emitting a replacement node.
func (g *Graph) MoveOutgoingEdge(oldID, newID NodeID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, n := range g.nodes {
		for i := range n.sources {
			if n.sources[i].Src == oldID {
				n.sources[i].Src = newID
			}
		}
	}
	g.idRemap[oldID] = newID
}

// MoveReferences transfers oldID's membership in no_delete/to_retrieve
// to newID and records the id_remap entry, so any user handle still
// holding oldID resolves to newID after Resolve.
func (g *Graph) MoveReferences(oldID, newID NodeID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.noDelete[oldID]; ok {
		delete(g.noDelete, oldID)
		g.noDelete[newID] = struct{}{}
	}
	if _, ok := g.toRetrieve[oldID]; ok {
		delete(g.toRetrieve, oldID)
		g.toRetrieve[newID] = struct{}{}
	}
	g.idRemap[oldID] = newID
}

// Pass is a single rewrite pass over the graph. A pass may replace or
// remove nodes but must leave every no_delete/to_retrieve node either
// present or redirected through id_remap.
type Pass func(*Graph) error

// Compile applies each pass in sequence; the first error aborts the
// pipeline (kernel-compilation failures and similar are fatal per the
// error-handling design).
func (g *Graph) Compile(passes ...Pass) error {
	for _, p := range passes {
		if err := p(g); err != nil {
			return err
		}
	}
	return nil
}
