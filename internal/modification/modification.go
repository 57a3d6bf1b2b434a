// Package modification implements the backward Modification analysis:
// it tightens surviving checks to the strongest bound provable
// from every successor path, pushed backward across each block's
// Effect on the index variable, and inserts new checks where a tighter
// bound is available but no check currently asserts it.
package modification

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/value"

	"github.com/dshills/boundcheck/internal/boundpred"
	"github.com/dshills/boundcheck/internal/cfg"
	"github.com/dshills/boundcheck/internal/cgen"
	"github.com/dshills/boundcheck/internal/checkabi"
	"github.com/dshills/boundcheck/internal/dataflow"
	"github.com/dshills/boundcheck/internal/effect"
	"github.com/dshills/boundcheck/internal/predset"
	"github.com/dshills/boundcheck/internal/subscript"
	"github.com/dshills/boundcheck/internal/xfer"
)

// Run computes, for a single index variable v, the backward fixpoint
// C_IN/C_OUT over g.
func Run(g *cfg.Graph, gen map[*ir.Block]predset.Set, eff *effect.Summary, v value.Value) dataflow.Result {
	transfer := func(b *ir.Block, out predset.Set) predset.Set {
		return backward(out, eff.Of(v, b))
	}
	return dataflow.Run(g, dataflow.Backward, gen, transfer)
}

// backward filters sOut per the shared transfer table in package xfer,
// handling lowers and uppers independently.
func backward(sOut predset.Set, e effect.Effect) predset.Set {
	result := predset.Empty()
	for _, p := range xfer.Transfer(sOut.Lowers, e) {
		result.AddLower(p)
	}
	for _, p := range xfer.Transfer(sOut.Uppers, e) {
		result.AddUpper(p)
	}
	return result
}

// Availability reports whether a value referenced by a synthesized
// check (an alloca, parameter, global, or instruction result) is
// available — dominates — the given insertion block. Values not defined
// by an instruction of the procedure (parameters, globals, constants)
// are assumed globally available.
type Availability func(v value.Value, at *ir.Block) bool

// Apply visits every block whose C_OUT is non-empty and, for each
// existing check on v in that block, rewrites its bound operand when
// C_OUT carries a strictly tighter bound-identity-matching predicate;
// for each direction present in C_OUT but absent from the block, it
// inserts a new check before the terminator provided avail confirms
// the referenced values are available there.
func Apply(m *cgen.Maps, v value.Value, out map[*ir.Block]predset.Set, checkLB, checkUB *ir.Func, diag FileLine, avail Availability) {
	for b, cOut := range out {
		if cOut.IsEmpty() {
			continue
		}
		calls := callsOnVar(m.CallsIn(b), v)
		haveLower, haveUpper := false, false
		for _, c := range calls {
			existing := c.Predicate().Normalize()
			if existing.Kind == boundpred.Lower {
				haveLower = true
			} else {
				haveUpper = true
			}
			tightenExisting(b, c, existing, cOut)
		}
		if !haveLower {
			insertMissing(b, checkLB, cOut.Lowers, diag, avail)
		}
		if !haveUpper {
			insertMissing(b, checkUB, cOut.Uppers, diag, avail)
		}
	}
}

// FileLine resolves the (file, line) operands a synthesized check
// should carry: the nearest original check's file argument and the
// debug location's line, or 0 when absent.
type FileLine func(at *ir.Block) (file, line value.Value)

func callsOnVar(calls []checkabi.Call, v value.Value) []checkabi.Call {
	var out []checkabi.Call
	for _, c := range calls {
		if subscript.Evaluate(c.Index).I == v {
			out = append(out, c)
		}
	}
	return out
}

// tightenExisting rewrites c's bound argument when cOut holds a
// strictly tighter same-bound-identity predicate than c's own,
// replacing the bound operand with the tighter predicate's
// materialized bound expression.
func tightenExisting(b *ir.Block, c checkabi.Call, existing boundpred.Predicate, cOut predset.Set) {
	candidates := cOut.Uppers
	if existing.Kind == boundpred.Lower {
		candidates = cOut.Lowers
	}
	for _, cand := range candidates {
		if cand.Bound.Identity() != existing.Bound.Identity() || cand.Equal(existing) {
			continue
		}
		tighter := (existing.Kind == boundpred.Upper && cand.Bound.B < existing.Bound.B) ||
			(existing.Kind == boundpred.Lower && cand.Bound.B > existing.Bound.B)
		if !tighter {
			continue
		}
		idx := subscript.IndexOf(b, c.Inst)
		if idx < 0 {
			return
		}
		newBound, _ := subscript.InsertBefore(b, idx, cand.Bound)
		checkabi.RewriteBound(c, newBound)
		return
	}
}

func insertMissing(b *ir.Block, callee *ir.Func, preds []boundpred.Predicate, diag FileLine, avail Availability) {
	file, line := diag(b)
	for _, p := range preds {
		if !availExpr(avail, p.Bound, b) || !availExpr(avail, p.Index, b) {
			continue // value not available at the insertion point
		}
		bound, index := subscript.AppendTo(b, p.Bound), subscript.AppendTo(b, p.Index)
		checkabi.Build(b, callee, bound, index, file, line)
	}
}

func availExpr(avail Availability, e subscript.Expr, at *ir.Block) bool {
	if e.IsConstant() {
		return true
	}
	return avail(e.I, at)
}
