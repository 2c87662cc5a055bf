// Package pattern implements the declarative selector/matcher used by
// compiler rewrite passes (the MatMul pass foremost among them) to find
// subgraphs worth recognizing without hand-writing a DFS per pass.
package pattern

import (
	"github.com/tensorforge/tensorforge/internal/dim"
	"github.com/tensorforge/tensorforge/internal/graph"
)

type dimKind int

const (
	kindAny dimKind = iota
	kindConst
	kindSymbol
)

// DimPattern matches one axis of an input shape pattern: a wildcard, an
// exact compile-time constant, or a named symbol.
type DimPattern struct {
	kind   dimKind
	value  int
	symbol byte
}

// Any matches any axis extent.
func Any() DimPattern { return DimPattern{kind: kindAny} }

// ConstDim matches only the exact compile-time constant n.
func ConstDim(n int) DimPattern { return DimPattern{kind: kindConst, value: n} }

// SymbolDim matches only the named symbol c.
func SymbolDim(c byte) DimPattern { return DimPattern{kind: kindSymbol, symbol: c} }

func (p DimPattern) matches(e dim.Expr) bool {
	switch p.kind {
	case kindAny:
		return true
	case kindConst:
		v, ok := e.IsConst()
		return ok && v == p.value
	case kindSymbol:
		return e.Op() == dim.OpSymbol && e.Equal(dim.Sym(p.symbol))
	default:
		return false
	}
}

// True and False build fake-flag pattern wildcards that require the
// axis to be exactly broadcast or exactly non-broadcast, respectively.
// A nil entry in an InputFake pattern matches either.
func True() *bool  { v := true; return &v }
func False() *bool { v := false; return &v }

// SelectOp is one node in a selector pattern tree: constraints on a
// single matched node (operator type, per-input-slot shape/fake
// patterns, an arbitrary predicate over the node and its incoming
// edges) plus, per input slot, a nested SelectOp constraining that
// input's producer. A direct dataflow edge from a's match to b's match
// is expressed as b.Edge(slot, a); SelectEdge is sugar for the common
// binary case.
type SelectOp struct {
	opName      string
	inputShapes map[int][]DimPattern
	inputFake   map[int][]*bool
	children    map[int]*SelectOp
	predicate   func(op graph.Op, edges []graph.Edge) bool
	bind        *graph.NodeID
}

// NewSelectOp starts an unconstrained pattern (matches any node).
func NewSelectOp() *SelectOp {
	return &SelectOp{
		inputShapes: map[int][]DimPattern{},
		inputFake:   map[int][]*bool{},
		children:    map[int]*SelectOp{},
	}
}

// OpType constrains the match to nodes whose Op.Name() equals name.
func (s *SelectOp) OpType(name string) *SelectOp {
	s.opName = name
	return s
}

// InputShape constrains input slot's ShapeTracker to match pattern
// positionally, axis by axis (and requires the rank to match).
func (s *SelectOp) InputShape(slot int, pattern ...DimPattern) *SelectOp {
	s.inputShapes[slot] = pattern
	return s
}

// InputFake constrains input slot's per-axis fake/broadcast flags.
// A nil entry in pattern is a wildcard for that axis.
func (s *SelectOp) InputFake(slot int, pattern ...*bool) *SelectOp {
	s.inputFake[slot] = pattern
	return s
}

// Check attaches an arbitrary predicate over the matched op and its
// resolved incoming edges, evaluated after all structural constraints.
func (s *SelectOp) Check(fn func(op graph.Op, edges []graph.Edge) bool) *SelectOp {
	s.predicate = fn
	return s
}

// Bind stores the matched node id into slot whenever this SelectOp
// matches, letting a caller read out which concrete node satisfied a
// sub-pattern deep inside a larger match.
func (s *SelectOp) Bind(slot *graph.NodeID) *SelectOp {
	s.bind = slot
	return s
}

// Edge requires input slot's producer to itself match child.
func (s *SelectOp) Edge(slot int, child *SelectOp) *SelectOp {
	s.children[slot] = child
	return s
}

// SelectEdge is the binary sugar form: b must consume a's match at
// input slot 0.
func SelectEdge(a, b *SelectOp) *SelectOp {
	return b.Edge(0, a)
}

func match(g *graph.Graph, nodeID graph.NodeID, sel *SelectOp) bool {
	op, err := g.Op(nodeID)
	if err != nil {
		return false
	}
	if sel.opName != "" && op.Name() != sel.opName {
		return false
	}
	edges, err := g.GetSources(nodeID)
	if err != nil {
		return false
	}
	for slot, pats := range sel.inputShapes {
		if slot >= len(edges) {
			return false
		}
		shp := edges[slot].View.Shape()
		if len(shp) != len(pats) {
			return false
		}
		for i, p := range pats {
			if !p.matches(shp[i]) {
				return false
			}
		}
	}
	for slot, pats := range sel.inputFake {
		if slot >= len(edges) {
			return false
		}
		fk := edges[slot].View.Fake()
		if len(fk) != len(pats) {
			return false
		}
		for i, p := range pats {
			if p != nil && *p != fk[i] {
				return false
			}
		}
	}
	for slot, child := range sel.children {
		if slot >= len(edges) {
			return false
		}
		if !match(g, edges[slot].Src, child) {
			return false
		}
	}
	if sel.predicate != nil && !sel.predicate(op, edges) {
		return false
	}
	if sel.bind != nil {
		*sel.bind = nodeID
	}
	return true
}

// Iterator yields successive matches of a root pattern against a
// graph, re-scanning live node ids on every Next call so that a client
// mutating the graph between matches (the common case: a compiler pass
// rewrites what it just matched) never observes an already-removed
// node and never needs to restart the search from scratch.
type Iterator struct {
	g       *graph.Graph
	sel     *SelectOp
	visited map[graph.NodeID]bool
}

// Search begins iterating matches of sel against g.
func Search(g *graph.Graph, sel *SelectOp) *Iterator {
	return &Iterator{g: g, sel: sel, visited: map[graph.NodeID]bool{}}
}

// Next returns the next matching node id, or ok=false once no live,
// not-yet-yielded node satisfies the pattern.
func (it *Iterator) Next() (graph.NodeID, bool) {
	for _, id := range it.g.AllNodeIDs() {
		resolved := it.g.Resolve(id)
		if it.visited[resolved] {
			continue
		}
		if match(it.g, resolved, it.sel) {
			it.visited[resolved] = true
			return resolved, true
		}
	}
	return 0, false
}
