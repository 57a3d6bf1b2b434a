// Package boundpred implements the single directional inequality a
// bounds check asserts: either index <= bound (an upper-bound check) or
// bound <= index (a lower-bound check), expressed over two
// subscript.Expr values.
package boundpred

import (
	"fmt"

	"github.com/dshills/boundcheck/internal/subscript"
)

// Kind distinguishes the two predicate directions. Deliberately a sum
// type over a shared struct rather than two unrelated hierarchies, per
// the "sum types, not class hierarchies" design note.
type Kind int

const (
	// Upper means Index <= Bound.
	Upper Kind = iota
	// Lower means Bound <= Index.
	Lower
)

func (k Kind) String() string {
	if k == Upper {
		return "upper"
	}
	return "lower"
}

// Identity is the pair of subscript identities a predicate carries; two
// predicates are only ever compared, fused, or subsumed when their
// Identity values are equal.
type Identity struct {
	Bound subscript.Identity
	Index subscript.Identity
}

// Predicate is one bound check: Kind plus the Bound/Index pair it
// compares.
type Predicate struct {
	Kind  Kind
	Bound subscript.Expr
	Index subscript.Expr
}

// NewUpper builds an Upper predicate: index <= bound.
func NewUpper(bound, index subscript.Expr) Predicate {
	return Predicate{Kind: Upper, Bound: bound, Index: index}
}

// NewLower builds a Lower predicate: bound <= index.
func NewLower(bound, index subscript.Expr) Predicate {
	return Predicate{Kind: Lower, Bound: bound, Index: index}
}

// Identity returns the (bound-identity, index-identity) pair.
func (p Predicate) Identity() Identity {
	return Identity{Bound: p.Bound.Identity(), Index: p.Index.Identity()}
}

// IsNormalized reports whether the index's constant term is zero.
func (p Predicate) IsNormalized() bool { return p.Index.B == 0 }

// Normalize subtracts the index's constant term from both sides,
// returning an equivalent predicate whose index has B=0.
func (p Predicate) Normalize() Predicate {
	if p.IsNormalized() {
		return p
	}
	return Predicate{Kind: p.Kind, Bound: p.Bound.SubConst(p.Index.B), Index: p.Index.SubConst(p.Index.B)}
}

// IsIdentityCheck reports whether the index is exactly 1*i+0.
func (p Predicate) IsIdentityCheck() bool {
	return !p.Index.IsConstant() && p.Index.A == 1 && p.Index.B == 0
}

// AlwaysTrue reports whether the inequality holds unconditionally:
// both sides constant, or both sides sharing one identity so only the
// constant terms differ (n-1 <= n-1 is true for every n). Used by loop
// propagation to elide a hoisted, substituted check instead of
// inserting it.
func (p Predicate) AlwaysTrue() bool {
	bothConst := p.Bound.IsConstant() && p.Index.IsConstant()
	if !bothConst && !p.Bound.SameIdentity(p.Index) {
		return false
	}
	switch p.Kind {
	case Upper:
		return p.Index.B <= p.Bound.B
	default:
		return p.Bound.B <= p.Index.B
	}
}

// Equal is structural equality: same kind, same Bound/Index.
func (p Predicate) Equal(o Predicate) bool {
	return p.Kind == o.Kind && p.Bound.Equal(o.Bound) && p.Index.Equal(o.Index)
}

// Subsumes reports whether p is at least as strong as q: both must be
// normalized (callers are expected to pass normalized predicates;
// Subsumes normalizes defensively) and share the same identity, an
// upper never subsumes a lower and vice versa.
//
// Panics on a bound-identity mismatch between two predicates of the
// same kind and index identity: callers must only ever compare
// same-identity predicates.
func (p Predicate) Subsumes(q Predicate) bool {
	if p.Kind != q.Kind {
		return false
	}
	pn, qn := p.Normalize(), q.Normalize()
	if pn.Index.Identity() != qn.Index.Identity() {
		return false
	}
	if pn.Bound.Identity() != qn.Bound.Identity() {
		panic(fmt.Sprintf("boundpred: Subsumes of mismatched bound identity %v vs %v", pn, qn))
	}
	switch p.Kind {
	case Upper:
		return pn.Bound.B <= qn.Bound.B
	default:
		return pn.Bound.B >= qn.Bound.B
	}
}

func (p Predicate) String() string {
	if p.Kind == Upper {
		return fmt.Sprintf("%s <= %s", p.Index, p.Bound)
	}
	return fmt.Sprintf("%s <= %s", p.Bound, p.Index)
}
