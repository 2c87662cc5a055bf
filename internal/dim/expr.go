// Package dim implements the symbolic integer algebra used to describe
// tensor dimensions that mix compile-time constants with runtime-bound
// symbols ('A'..'Z'). Expressions substitute and simplify independently
// of any tensor or graph machinery.
package dim

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrSymbolUnbound is returned by Resolve when an expression still
// contains a free symbol after substitution.
var ErrSymbolUnbound = errors.New("dim: symbol unbound")

// Op identifies the kind of node in an Expr tree.
type Op int

const (
	// OpConst is a leaf holding a compile-time constant.
	OpConst Op = iota
	// OpSymbol is a leaf holding a named runtime-bound dimension.
	OpSymbol
	OpAdd
	OpMul
	OpDiv
	OpMod
	OpMax
	OpMin
)

func (o Op) commutative() bool {
	return o == OpAdd || o == OpMul || o == OpMax || o == OpMin
}

func (o Op) String() string {
	switch o {
	case OpConst:
		return "const"
	case OpSymbol:
		return "sym"
	case OpAdd:
		return "+"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpMod:
		return "%"
	case OpMax:
		return "max"
	case OpMin:
		return "min"
	default:
		return "?"
	}
}

// Expr is an immutable node in a symbolic integer expression tree.
// Zero value is not valid; construct via Const/Sym or the combinators.
type Expr struct {
	op       Op
	value    int
	symbol   byte
	children []Expr
}

// Const builds a compile-time constant dimension.
func Const(n int) Expr {
	return Expr{op: OpConst, value: n}
}

// Sym builds a named runtime-symbolic dimension, e.g. Sym('A').
func Sym(name byte) Expr {
	return Expr{op: OpSymbol, symbol: name}
}

func bin(op Op, a, b Expr) Expr {
	return Expr{op: op, children: []Expr{a, b}}.Simplify()
}

// Add returns a+b, simplified.
func Add(a, b Expr) Expr { return bin(OpAdd, a, b) }

// Mul returns a*b, simplified.
func Mul(a, b Expr) Expr { return bin(OpMul, a, b) }

// Div returns a/b (integer division), simplified.
func Div(a, b Expr) Expr { return bin(OpDiv, a, b) }

// Mod returns a%b, simplified.
func Mod(a, b Expr) Expr { return bin(OpMod, a, b) }

// Max returns max(a,b), simplified.
func Max(a, b Expr) Expr { return bin(OpMax, a, b) }

// Min returns min(a,b), simplified.
func Min(a, b Expr) Expr { return bin(OpMin, a, b) }

// Sub returns a-b. There is no dedicated subtraction node; it is sugar
// for Add(a, Mul(b, Const(-1))) so the simplifier only needs to reason
// about one commutative-additive shape.
func Sub(a, b Expr) Expr { return Add(a, Mul(b, Const(-1))) }

// IsConst reports whether the expression is a compile-time constant,
// returning its value.
func (e Expr) IsConst() (int, bool) {
	if e.op == OpConst {
		return e.value, true
	}
	return 0, false
}

// Op exposes the node kind; used by shape trackers to special-case
// constant-1 axes without a full Resolve.
func (e Expr) Op() Op { return e.op }

// Symbols returns the set of free symbol names appearing in e.
func (e Expr) Symbols() []byte {
	seen := map[byte]bool{}
	var walk func(Expr)
	walk = func(n Expr) {
		if n.op == OpSymbol {
			seen[n.symbol] = true
			return
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(e)
	out := make([]byte, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Substitute replaces every symbol present in dynMap with its bound
// constant value and returns the simplified result. Symbols absent from
// dynMap are left free.
func (e Expr) Substitute(dynMap map[byte]int) Expr {
	switch e.op {
	case OpConst:
		return e
	case OpSymbol:
		if v, ok := dynMap[e.symbol]; ok {
			return Const(v)
		}
		return e
	default:
		children := make([]Expr, len(e.children))
		for i, c := range e.children {
			children[i] = c.Substitute(dynMap)
		}
		return Expr{op: e.op, children: children}.Simplify()
	}
}

// Resolve substitutes dynMap and requires the result to collapse to a
// single constant, returning ErrSymbolUnbound otherwise.
func (e Expr) Resolve(dynMap map[byte]int) (int, error) {
	r := e.Substitute(dynMap)
	if v, ok := r.IsConst(); ok {
		return v, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrSymbolUnbound, r.String())
}

// MustResolve is Resolve but panics on error; used where the caller has
// already validated the dyn-map (e.g. inside an executor that checked
// symbols up front).
func (e Expr) MustResolve(dynMap map[byte]int) int {
	v, err := e.Resolve(dynMap)
	if err != nil {
		panic(err)
	}
	return v
}

// Simplify canonicalizes the expression: constant-folds, flattens
// associative chains, drops identity elements, and sorts commutative
// children into a deterministic order so that structurally equal
// expressions compare Equal after Simplify.
func (e Expr) Simplify() Expr {
	switch e.op {
	case OpConst, OpSymbol:
		return e
	}

	children := make([]Expr, len(e.children))
	for i, c := range e.children {
		children[i] = c.Simplify()
	}

	if e.op.commutative() {
		children = flatten(e.op, children)
	}

	// Constant fold when every child is a constant.
	allConst := true
	vals := make([]int, len(children))
	for i, c := range children {
		v, ok := c.IsConst()
		if !ok {
			allConst = false
			break
		}
		vals[i] = v
	}
	if allConst {
		return Const(foldConst(e.op, vals))
	}

	switch e.op {
	case OpAdd:
		children = dropIdentity(children, 0)
		if len(children) == 0 {
			return Const(0)
		}
	case OpMul:
		if hasConst(children, 0) {
			return Const(0)
		}
		children = dropIdentity(children, 1)
		if len(children) == 0 {
			return Const(1)
		}
	}

	if e.op.commutative() {
		sort.SliceStable(children, func(i, j int) bool {
			return children[i].String() < children[j].String()
		})
		if len(children) == 1 {
			return children[0]
		}
	}

	return Expr{op: e.op, children: children}
}

func flatten(op Op, children []Expr) []Expr {
	out := make([]Expr, 0, len(children))
	for _, c := range children {
		if c.op == op {
			out = append(out, c.children...)
		} else {
			out = append(out, c)
		}
	}
	return out
}

func hasConst(children []Expr, n int) bool {
	for _, c := range children {
		if v, ok := c.IsConst(); ok && v == n {
			return true
		}
	}
	return false
}

func dropIdentity(children []Expr, identity int) []Expr {
	out := make([]Expr, 0, len(children))
	for _, c := range children {
		if v, ok := c.IsConst(); ok && v == identity {
			continue
		}
		out = append(out, c)
	}
	return out
}

func foldConst(op Op, vals []int) int {
	acc := vals[0]
	for _, v := range vals[1:] {
		switch op {
		case OpAdd:
			acc += v
		case OpMul:
			acc *= v
		case OpDiv:
			acc /= v
		case OpMod:
			acc %= v
		case OpMax:
			if v > acc {
				acc = v
			}
		case OpMin:
			if v < acc {
				acc = v
			}
		}
	}
	return acc
}

// Equal reports structural equality after canonicalization.
func (e Expr) Equal(other Expr) bool {
	return e.Simplify().String() == other.Simplify().String()
}

// String renders a canonical textual form, used both for debugging and
// as the basis of Equal.
func (e Expr) String() string {
	switch e.op {
	case OpConst:
		return fmt.Sprintf("%d", e.value)
	case OpSymbol:
		return string(e.symbol)
	default:
		parts := make([]string, len(e.children))
		for i, c := range e.children {
			parts[i] = c.String()
		}
		return fmt.Sprintf("%s(%s)", e.op, strings.Join(parts, ","))
	}
}
