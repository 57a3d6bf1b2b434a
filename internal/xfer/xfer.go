// Package xfer holds the single identity/monotonicity transfer table
// shared by the backward Modification analysis and the forward
// Elimination analysis. The table answers the backward question: given
// a predicate known to hold after a block's effect on its index
// variable, does it still hold before? The forward pass asks the exact
// inverse and reuses the table by inverting the effect first (see
// elimination's forward transfer), so one table suffices for both
// directions.
package xfer

import (
	"github.com/dshills/boundcheck/internal/boundpred"
	"github.com/dshills/boundcheck/internal/effect"
)

// Keeps reports whether predicate p survives propagation across a
// block whose effect on p's index variable is e (identity checks and
// monotone-index checks handled separately; a
// non-monotone, non-identity predicate only survives an Unchanged
// effect).
func Keeps(p boundpred.Predicate, e effect.Effect) bool {
	identity := p.IsIdentityCheck()
	switch p.Kind {
	case boundpred.Lower:
		switch {
		case identity:
			return e.Kind == effect.Unchanged || e.Kind == effect.Decrement
		case p.Index.DecreasingIn():
			return e.Kind == effect.Unchanged || e.Kind == effect.Increment || e.Kind == effect.Decrement
		case p.Index.IncreasingIn():
			return e.Kind == effect.Unchanged || e.Kind == effect.Decrement
		default:
			return e.Kind == effect.Unchanged
		}
	default: // Upper
		switch {
		case identity:
			return e.Kind == effect.Unchanged || e.Kind == effect.Increment || e.Kind == effect.Multiply
		case p.Index.IncreasingIn():
			return e.Kind == effect.Unchanged || e.Kind == effect.Increment || e.Kind == effect.Multiply
		case p.Index.DecreasingIn():
			return e.Kind == effect.Unchanged || e.Kind == effect.Decrement
		default:
			return e.Kind == effect.Unchanged
		}
	}
}

// adjust rewrites a surviving predicate's bound for the one case that
// is not a plain pass-through: a Lower check whose
// index is decreasing-in-i (A<0) propagated across a Decrement(C)
// effect. There, index_after =
// index_before + |A|*C, so "bound <= index_after" is not a
// restatement of "bound <= index_before" but an exact algebraic
// equivalent of "bound-|A|*C <= index_before": the margin the effect
// introduces must be subtracted from the bound before the predicate is
// valid at the block's entry. Every other surviving case keeps the
// bound as-is: there the pre-effect index is already at least as
// extreme, in the direction the predicate needs, as the post-effect
// one, so the original bound stays sound without adjustment.
func adjust(p boundpred.Predicate, e effect.Effect) boundpred.Predicate {
	if p.Kind == boundpred.Lower && !p.IsIdentityCheck() && p.Index.DecreasingIn() && e.Kind == effect.Decrement {
		margin := -p.Index.A * e.C
		return boundpred.NewLower(p.Bound.SubConst(margin), p.Index)
	}
	return p
}

// Transfer filters a set of predicates, keeping (in adjusted form,
// where required — see adjust) those for which Keeps returns true.
func Transfer(preds []boundpred.Predicate, e effect.Effect) []boundpred.Predicate {
	var out []boundpred.Predicate
	for _, p := range preds {
		if Keeps(p, e) {
			out = append(out, adjust(p, e))
		}
	}
	return out
}
