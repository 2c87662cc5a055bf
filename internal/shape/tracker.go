// Package shape implements ShapeTracker: symbolic view metadata that
// describes how to read a logical tensor index from an underlying
// linear buffer without moving data. Views compose by permuting,
// slicing, padding, expanding or reshaping a tracker; only
// reshape/contiguous ever require the caller to materialize a copy.
package shape

import (
	"errors"
	"fmt"

	"github.com/tensorforge/tensorforge/internal/dim"
)

// ErrNotContiguous is returned by Reshape when the tracker's current
// view cannot be reinterpreted without a data copy.
var ErrNotContiguous = errors.New("shape: reshape requires a contiguous view")

// ErrNotRemovable is returned by RemoveDim when the target axis is
// neither a unit (size-1) axis nor a fake (broadcast) axis.
var ErrNotRemovable = errors.New("shape: axis is not a unit or fake dim")

// ErrBadPermutation is returned by Permute when the argument is not a
// permutation of 0..n-1.
var ErrBadPermutation = errors.New("shape: not a valid permutation")

// window is a half-open (lo, hi) range used for both masks and padding,
// kept in its original (unsimplified-relative) form purely for
// reporting via Mask/Padding; addressing uses the derived offset/pad
// fields on physAxis instead.
type window struct {
	lo, hi dim.Expr
}

// physAxis is one physical storage axis. origD is the axis's extent at
// creation/expand time and is what Strides() is computed from — it
// never changes, so that stride reflects the real underlying buffer
// even after Slice/Pad narrow or widen what's logically reported. d is
// the axis's current reported size. offset accumulates slice lower
// bounds (physical index = logical index + offset). padBefore/padAfter
// describe a zero-padded border around the pre-pad extent.
type physAxis struct {
	origD  dim.Expr
	d      dim.Expr
	fake   bool
	offset dim.Expr

	mask *window // original Slice(lo,hi) args, for IsSliced/Mask reporting
	pad  *window // original Pad(before,after) args, for IsPadded/Padding reporting

	padBefore dim.Expr
	padAfter  dim.Expr
}

// Tracker is an immutable view descriptor. All mutators return a new
// Tracker; none modify the receiver.
type Tracker struct {
	physical []physAxis
	logical  []int // logical axis i reads physical[logical[i]]
}

// New creates an identity Tracker over the given dimensions: no
// permutation, no fake axes, no mask, no padding.
func New(dims ...dim.Expr) *Tracker {
	phys := make([]physAxis, len(dims))
	logical := make([]int, len(dims))
	for i, d := range dims {
		phys[i] = physAxis{origD: d, d: d, offset: dim.Const(0)}
		logical[i] = i
	}
	return &Tracker{physical: phys, logical: logical}
}

func (t *Tracker) clone() *Tracker {
	phys := make([]physAxis, len(t.physical))
	copy(phys, t.physical)
	logical := make([]int, len(t.logical))
	copy(logical, t.logical)
	return &Tracker{physical: phys, logical: logical}
}

// Rank returns the number of logical axes.
func (t *Tracker) Rank() int { return len(t.logical) }

// Shape returns the logical dimension sequence, post-permute.
func (t *Tracker) Shape() []dim.Expr {
	out := make([]dim.Expr, len(t.logical))
	for i, p := range t.logical {
		out[i] = t.physical[p].d
	}
	return out
}

// Fake returns the per-logical-axis broadcast flag.
func (t *Tracker) Fake() []bool {
	out := make([]bool, len(t.logical))
	for i, p := range t.logical {
		out[i] = t.physical[p].fake
	}
	return out
}

// Strides returns the symbolic row-major stride of each logical axis,
// computed over the physical (creation-order, pre-slice/pad) extents
// so that permuting or slicing a view carries its original stride with
// it.
func (t *Tracker) Strides() []dim.Expr {
	physStrides := make([]dim.Expr, len(t.physical))
	acc := dim.Const(1)
	for i := len(t.physical) - 1; i >= 0; i-- {
		if t.physical[i].fake {
			physStrides[i] = dim.Const(0)
			continue
		}
		physStrides[i] = acc
		acc = dim.Mul(acc, t.physical[i].origD)
	}
	out := make([]dim.Expr, len(t.logical))
	for i, p := range t.logical {
		out[i] = physStrides[p]
	}
	return out
}

// IsContiguous reports whether the tracker's logical axes visit their
// backing physical axes in increasing order with no axis carrying a
// mask, padding, or fake flag. Physical axes RemoveDim dropped from
// the logical list (always fake or unit-size, per its precondition)
// contribute no stride of their own, so their absence never breaks
// contiguity of what remains: a reshape-free identity view over fewer
// axes than it started with is exactly as contiguous as one that never
// had an axis removed.
func (t *Tracker) IsContiguous() bool {
	last := -1
	for _, p := range t.logical {
		if p <= last {
			return false
		}
		last = p
		ax := t.physical[p]
		if ax.fake || ax.mask != nil || ax.pad != nil {
			return false
		}
	}
	return true
}

// IsSliced reports whether any logical axis carries a mask.
func (t *Tracker) IsSliced() bool {
	for _, p := range t.logical {
		if t.physical[p].mask != nil {
			return true
		}
	}
	return false
}

// IsPadded reports whether any logical axis carries padding.
func (t *Tracker) IsPadded() bool {
	for _, p := range t.logical {
		if t.physical[p].pad != nil {
			return true
		}
	}
	return false
}

// Permute reorders the logical axes according to axes, a permutation
// of 0..Rank()-1. Each physical axis's mask/padding travels with it.
func (t *Tracker) Permute(axes []int) (*Tracker, error) {
	if len(axes) != len(t.logical) {
		return nil, fmt.Errorf("%w: len %d for rank %d", ErrBadPermutation, len(axes), len(t.logical))
	}
	seen := make([]bool, len(axes))
	for _, a := range axes {
		if a < 0 || a >= len(axes) || seen[a] {
			return nil, ErrBadPermutation
		}
		seen[a] = true
	}
	out := t.clone()
	newLogical := make([]int, len(axes))
	for i, a := range axes {
		newLogical[i] = t.logical[a]
	}
	out.logical = newLogical
	return out, nil
}

// RemoveDim drops logical axis i, which must be a unit (constant 1) or
// fake (broadcast) axis — the shapes rewrite passes use this to undo a
// broadcast/expand they introduced.
func (t *Tracker) RemoveDim(i int) (*Tracker, error) {
	if i < 0 || i >= len(t.logical) {
		return nil, fmt.Errorf("shape: axis %d out of range (rank %d)", i, len(t.logical))
	}
	ax := t.physical[t.logical[i]]
	unit := false
	if v, ok := ax.d.IsConst(); ok && v == 1 {
		unit = true
	}
	if !ax.fake && !unit {
		return nil, fmt.Errorf("%w: axis %d (dim=%s, fake=%v)", ErrNotRemovable, i, ax.d, ax.fake)
	}
	out := t.clone()
	out.logical = append(out.logical[:i:i], out.logical[i+1:]...)
	return out, nil
}

// Expand inserts a fake (broadcast) axis of size d at logical position i.
func (t *Tracker) Expand(i int, d dim.Expr) *Tracker {
	out := t.clone()
	out.physical = append(out.physical, physAxis{origD: d, d: d, fake: true, offset: dim.Const(0)})
	newPhys := len(out.physical) - 1

	if i < 0 {
		i = 0
	}
	if i > len(out.logical) {
		i = len(out.logical)
	}
	logical := make([]int, 0, len(out.logical)+1)
	logical = append(logical, out.logical[:i]...)
	logical = append(logical, newPhys)
	logical = append(logical, out.logical[i:]...)
	out.logical = logical
	return out
}

// Slice installs a (lo, hi) window on each logical axis named in
// windows; axes absent from windows are left unsliced. The axis's
// reported size becomes hi-lo and its physical offset accumulates lo,
// so downstream stride math transparently reads the sliced sub-range.
func (t *Tracker) Slice(windows map[int][2]dim.Expr) *Tracker {
	out := t.clone()
	for axis, w := range windows {
		if axis < 0 || axis >= len(out.logical) {
			continue
		}
		p := out.logical[axis]
		ax := out.physical[p]
		ax.mask = &window{lo: w[0], hi: w[1]}
		ax.offset = dim.Add(ax.offset, w[0])
		ax.d = dim.Sub(w[1], w[0])
		out.physical[p] = ax
	}
	return out
}

// Pad installs a (before, after) zero-pad on each logical axis named in
// windows. The axis's reported size grows by before+after; reads in the
// border are the caller's responsibility to treat as zero (Resolve
// reports Padded/PadBefore/PadAfter for exactly this purpose).
func (t *Tracker) Pad(windows map[int][2]dim.Expr) *Tracker {
	out := t.clone()
	for axis, w := range windows {
		if axis < 0 || axis >= len(out.logical) {
			continue
		}
		p := out.logical[axis]
		ax := out.physical[p]
		ax.pad = &window{lo: w[0], hi: w[1]}
		ax.padBefore = w[0]
		ax.padAfter = w[1]
		ax.d = dim.Add(dim.Add(w[0], ax.d), w[1])
		out.physical[p] = ax
	}
	return out
}

// Reshape reinterprets the tracker as new dimensions. Legal only when
// the tracker is contiguous in memory order; callers must insert a
// Contiguous op first otherwise.
func (t *Tracker) Reshape(newDims []dim.Expr) (*Tracker, error) {
	if !t.IsContiguous() {
		return nil, ErrNotContiguous
	}
	return New(newDims...), nil
}

// Contiguous returns a fresh tracker over the same logical shape with
// identity permutation, no mask, and no padding. The caller is
// responsible for inserting the explicit copy op this implies.
func (t *Tracker) Contiguous() *Tracker {
	return New(t.Shape()...)
}

// Mask returns the (lo, hi) window for logical axis i, or ok=false if
// unsliced.
func (t *Tracker) Mask(i int) (lo, hi dim.Expr, ok bool) {
	p := t.logical[i]
	if t.physical[p].mask == nil {
		return dim.Expr{}, dim.Expr{}, false
	}
	return t.physical[p].mask.lo, t.physical[p].mask.hi, true
}

// Padding returns the (before, after) pad amounts for logical axis i,
// or ok=false if unpadded.
func (t *Tracker) Padding(i int) (before, after dim.Expr, ok bool) {
	p := t.logical[i]
	if t.physical[p].pad == nil {
		return dim.Expr{}, dim.Expr{}, false
	}
	return t.physical[p].pad.lo, t.physical[p].pad.hi, true
}

// ResolvedAxis is one logical axis of a Tracker with every symbol bound
// to a concrete integer, ready for address computation.
type ResolvedAxis struct {
	Size      int
	Stride    int
	Fake      bool
	Offset    int
	Padded    bool
	PadBefore int
	PadAfter  int
}

// Resolve binds every symbol in the tracker against dyn and returns the
// per-logical-axis concrete layout, or ErrSymbolUnbound (via dim.Expr.Resolve)
// if some symbol is missing.
func (t *Tracker) Resolve(dyn map[byte]int) ([]ResolvedAxis, error) {
	physStride := make([]int, len(t.physical))
	acc := 1
	for i := len(t.physical) - 1; i >= 0; i-- {
		if t.physical[i].fake {
			physStride[i] = 0
			continue
		}
		physStride[i] = acc
		origSize, err := t.physical[i].origD.Resolve(dyn)
		if err != nil {
			return nil, err
		}
		acc *= origSize
	}

	out := make([]ResolvedAxis, len(t.logical))
	for i, p := range t.logical {
		ax := t.physical[p]
		size, err := ax.d.Resolve(dyn)
		if err != nil {
			return nil, err
		}
		offset, err := ax.offset.Resolve(dyn)
		if err != nil {
			return nil, err
		}
		ra := ResolvedAxis{Size: size, Stride: physStride[p], Fake: ax.fake, Offset: offset}
		if ax.pad != nil {
			pb, err := ax.padBefore.Resolve(dyn)
			if err != nil {
				return nil, err
			}
			pa, err := ax.padAfter.Resolve(dyn)
			if err != nil {
				return nil, err
			}
			ra.Padded = true
			ra.PadBefore = pb
			ra.PadAfter = pa
		}
		out[i] = ra
	}
	return out, nil
}

// Walk iterates every logical coordinate of axes in row-major order
// (last axis fastest), calling fn with the linear address into the
// underlying physical buffer and whether that position is valid (false
// inside a zero-padded border, where the reader should substitute the
// dtype's zero value instead of dereferencing addr).
func Walk(axes []ResolvedAxis, fn func(addr int, valid bool)) {
	WalkMulti([][]ResolvedAxis{axes}, func(addrs []int, valids []bool) {
		fn(addrs[0], valids[0])
	})
}

// WalkMulti iterates a shared logical coordinate space — one set of
// resolved axes per operand, all with identical per-axis Size — calling
// fn once per coordinate with each operand's linear address and
// validity. This is how elementwise ops read several differently-viewed
// operands (e.g. a broadcast Mul input and a plain Add input) in lock
// step without materializing any of them.
func WalkMulti(axesSets [][]ResolvedAxis, fn func(addrs []int, valids []bool)) {
	if len(axesSets) == 0 {
		return
	}
	n := len(axesSets[0])
	if n == 0 {
		fn(make([]int, len(axesSets)), make([]bool, len(axesSets)))
		return
	}
	total := 1
	for _, a := range axesSets[0] {
		total *= a.Size
	}
	if total <= 0 {
		return
	}

	coord := make([]int, n)
	addrs := make([]int, len(axesSets))
	valids := make([]bool, len(axesSets))
	for i := 0; i < total; i++ {
		for s, axes := range axesSets {
			addr := 0
			valid := true
			for ax := 0; ax < n; ax++ {
				a := axes[ax]
				c := coord[ax]
				switch {
				case a.Padded:
					if c < a.PadBefore || c >= a.Size-a.PadAfter {
						valid = false
						continue
					}
					addr += (c - a.PadBefore) * a.Stride
				case a.Fake:
					// contributes nothing: every coordinate reads the same element.
				default:
					addr += (c + a.Offset) * a.Stride
				}
			}
			addrs[s] = addr
			valids[s] = valid
		}
		fn(addrs, valids)

		for ax := n - 1; ax >= 0; ax-- {
			coord[ax]++
			if coord[ax] < axesSets[0][ax].Size {
				break
			}
			coord[ax] = 0
		}
	}
}
