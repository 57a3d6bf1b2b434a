// Package predset implements the per-block, per-index-variable
// aggregate of lower- and upper-bound predicates
// and its AND/OR lattice operations.
package predset

import (
	"fmt"

	"github.com/dshills/boundcheck/internal/boundpred"
	"github.com/dshills/boundcheck/internal/subscript"
)

// Set is a pair of predicate lists sharing one subscript identity: the
// index variable's (A, I) projection. Within one list no two elements
// share a bound identity; duplicates are fused by tightening.
type Set struct {
	Lowers []boundpred.Predicate
	Uppers []boundpred.Predicate
}

// Empty returns a Set with no facts.
func Empty() Set { return Set{} }

// IsEmpty reports whether the set carries no predicates at all.
func (s Set) IsEmpty() bool { return len(s.Lowers) == 0 && len(s.Uppers) == 0 }

// Identity returns the set's subscript identity (the shared Index
// identity across every predicate it holds), and whether the set is
// non-empty enough to have one.
func (s Set) Identity() (subscript.Identity, bool) {
	if len(s.Lowers) > 0 {
		return s.Lowers[0].Index.Identity(), true
	}
	if len(s.Uppers) > 0 {
		return s.Uppers[0].Index.Identity(), true
	}
	return subscript.Identity{}, false
}

// IsIdentityCheck reports whether every predicate in the set is an
// identity check (subscript 1*i+0).
func (s Set) IsIdentityCheck() bool {
	for _, p := range s.Lowers {
		if !p.IsIdentityCheck() {
			return false
		}
	}
	for _, p := range s.Uppers {
		if !p.IsIdentityCheck() {
			return false
		}
	}
	return true
}

func (s Set) assertCompatible(p boundpred.Predicate) {
	id, ok := s.Identity()
	if !ok {
		return
	}
	if id != p.Index.Identity() {
		panic(fmt.Sprintf("predset: Add of incompatible subscript identity %v into set with identity %v", p.Index.Identity(), id))
	}
}

// AddLower normalizes p and inserts it, fusing with any existing
// predicate that shares its bound identity by keeping the tighter
// (max) constant.
func (s *Set) AddLower(p boundpred.Predicate) {
	p = p.Normalize()
	s.assertCompatible(p)
	for i, e := range s.Lowers {
		if e.Bound.Identity() == p.Bound.Identity() {
			if p.Bound.B > e.Bound.B {
				s.Lowers[i] = p
			}
			return
		}
	}
	s.Lowers = append(s.Lowers, p)
}

// AddUpper is the Upper-kind mirror of AddLower: fuses by keeping the
// tighter (min) constant.
func (s *Set) AddUpper(p boundpred.Predicate) {
	p = p.Normalize()
	s.assertCompatible(p)
	for i, e := range s.Uppers {
		if e.Bound.Identity() == p.Bound.Identity() {
			if p.Bound.B < e.Bound.B {
				s.Uppers[i] = p
			}
			return
		}
	}
	s.Uppers = append(s.Uppers, p)
}

// Add dispatches on p.Kind to AddLower/AddUpper.
func (s *Set) Add(p boundpred.Predicate) {
	switch p.Kind {
	case boundpred.Lower:
		s.AddLower(p)
	default:
		s.AddUpper(p)
	}
}

// AddSet adds every predicate of o into s.
func (s *Set) AddSet(o Set) {
	for _, p := range o.Lowers {
		s.AddLower(p)
	}
	for _, p := range o.Uppers {
		s.AddUpper(p)
	}
}

// SubsumesLower reports whether some predicate in s.Lowers subsumes q.
// A list legitimately holds several entries that share an index
// identity but differ in bound identity (distinct arrays indexed
// by the same loop variable), so only entries whose bound identity
// matches q's are ever compared; the rest are unrelated facts and are
// skipped rather than handed to Subsumes, which panics on an identity
// mismatch.
func (s Set) SubsumesLower(q boundpred.Predicate) bool {
	qn := q.Normalize()
	for _, p := range s.Lowers {
		if p.Normalize().Bound.Identity() != qn.Bound.Identity() {
			continue
		}
		if p.Subsumes(q) {
			return true
		}
	}
	return false
}

// SubsumesUpper reports whether some predicate in s.Uppers subsumes q,
// skipping entries with a different bound identity; see SubsumesLower.
func (s Set) SubsumesUpper(q boundpred.Predicate) bool {
	qn := q.Normalize()
	for _, p := range s.Uppers {
		if p.Normalize().Bound.Identity() != qn.Bound.Identity() {
			continue
		}
		if p.Subsumes(q) {
			return true
		}
	}
	return false
}

// Subsumes dispatches on q.Kind.
func (s Set) Subsumes(q boundpred.Predicate) bool {
	if q.Kind == boundpred.Lower {
		return s.SubsumesLower(q)
	}
	return s.SubsumesUpper(q)
}

// Equal is structural equality used by fixpoint convergence checks.
func (s Set) Equal(o Set) bool {
	if len(s.Lowers) != len(o.Lowers) || len(s.Uppers) != len(o.Uppers) {
		return false
	}
outerL:
	for _, p := range s.Lowers {
		for _, q := range o.Lowers {
			if p.Equal(q) {
				continue outerL
			}
		}
		return false
	}
outerU:
	for _, p := range s.Uppers {
		for _, q := range o.Uppers {
			if p.Equal(q) {
				continue outerU
			}
		}
		return false
	}
	return true
}

// All returns every predicate in the set, lowers first.
func (s Set) All() []boundpred.Predicate {
	all := make([]boundpred.Predicate, 0, len(s.Lowers)+len(s.Uppers))
	all = append(all, s.Lowers...)
	all = append(all, s.Uppers...)
	return all
}

// Or fuses sets by weakening shared-identity predicates (max for
// uppers, min for lowers) and keeps any predicate appearing in at
// least one operand. It computes "facts certainly true on at least one
// incoming edge after merge" — the join used at local fact
// introduction (C_GEN OR transferred facts); see DESIGN.md for the
// note on why this differs from the classical forward-dataflow join.
func Or(sets ...Set) Set {
	result := Empty()
	for _, s := range sets {
		for _, p := range s.Lowers {
			orMerge(&result.Lowers, p, false)
		}
		for _, p := range s.Uppers {
			orMerge(&result.Uppers, p, true)
		}
	}
	return result
}

func orMerge(list *[]boundpred.Predicate, p boundpred.Predicate, upper bool) {
	for i, e := range *list {
		if e.Bound.Identity() == p.Bound.Identity() {
			if upper {
				if p.Bound.B > e.Bound.B {
					(*list)[i] = p
				}
			} else {
				if p.Bound.B < e.Bound.B {
					(*list)[i] = p
				}
			}
			return
		}
	}
	*list = append(*list, p)
}

// And fuses sets by strengthening shared-identity predicates (min for
// uppers, max for lowers). If any operand lacks a lower (resp. upper)
// bound for the set's identity, the result drops it entirely: missing
// information is "no fact", never "infer from others". And() with no
// operands yields Empty.
func And(sets ...Set) Set {
	if len(sets) == 0 {
		return Empty()
	}
	result := Set{
		Lowers: append([]boundpred.Predicate(nil), sets[0].Lowers...),
		Uppers: append([]boundpred.Predicate(nil), sets[0].Uppers...),
	}
	for _, s := range sets[1:] {
		result = and2(result, s)
	}
	return result
}

func and2(a, b Set) Set {
	return Set{
		Lowers: andMerge(a.Lowers, b.Lowers, false),
		Uppers: andMerge(a.Uppers, b.Uppers, true),
	}
}

func andMerge(a, b []boundpred.Predicate, upper bool) []boundpred.Predicate {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	var out []boundpred.Predicate
	for _, pa := range a {
		for _, pb := range b {
			if pa.Bound.Identity() != pb.Bound.Identity() {
				continue
			}
			tight := pa
			if upper {
				if pb.Bound.B < pa.Bound.B {
					tight = pb
				}
			} else {
				if pb.Bound.B > pa.Bound.B {
					tight = pb
				}
			}
			out = append(out, tight)
		}
	}
	return out
}
