// Package elimination implements the forward Elimination analysis:
// after modification and cleanup have run and C_GEN has been rebuilt,
// a forward fixpoint determines which checks are subsumed by facts
// already proven at a block's entry, and Apply deletes them.
package elimination

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/value"

	"github.com/dshills/boundcheck/internal/cfg"
	"github.com/dshills/boundcheck/internal/cgen"
	"github.com/dshills/boundcheck/internal/dataflow"
	"github.com/dshills/boundcheck/internal/effect"
	"github.com/dshills/boundcheck/internal/irutil"
	"github.com/dshills/boundcheck/internal/predset"
	"github.com/dshills/boundcheck/internal/subscript"
	"github.com/dshills/boundcheck/internal/xfer"
)

// Run computes the forward fixpoint C_IN/C_OUT for variable v, the
// mirror of modification.Run's backward transfer with the
// identity/monotonicity table reflected.
func Run(g *cfg.Graph, gen map[*ir.Block]predset.Set, eff *effect.Summary, v value.Value) dataflow.Result {
	transfer := func(b *ir.Block, in predset.Set) predset.Set {
		return forward(in, eff.Of(v, b))
	}
	return dataflow.Run(g, dataflow.Forward, gen, transfer)
}

// forward pushes entry facts to the block's exit. The shared table in
// package xfer is phrased for the backward question ("given a fact
// after the effect, does it hold before?"), and the forward question
// is its exact inverse, so the effect is inverted before the table is
// applied: an Increment behaves like the table's Decrement and vice
// versa. Multiply has no affine inverse and degrades to UnknownChanged,
// which kills dependent predicates rather than guessing.
func forward(sIn predset.Set, e effect.Effect) predset.Set {
	inv := invert(e)
	result := predset.Empty()
	for _, p := range xfer.Transfer(sIn.Lowers, inv) {
		result.AddLower(p)
	}
	for _, p := range xfer.Transfer(sIn.Uppers, inv) {
		result.AddUpper(p)
	}
	return result
}

func invert(e effect.Effect) effect.Effect {
	switch e.Kind {
	case effect.Increment:
		return effect.Effect{Kind: effect.Decrement, C: e.C}
	case effect.Decrement:
		return effect.Effect{Kind: effect.Increment, C: e.C}
	case effect.Multiply:
		return effect.Effect{Kind: effect.UnknownChanged}
	default:
		return e
	}
}

// Apply takes a C_GEN built by the caller after modification+cleanup
// and deletes every check in each block whose normalized predicate is
// subsumed by the incoming C_IN[v][b], or that is AlwaysTrue on its own
// (both operands constant, or sharing one identity, and the inequality
// holds unconditionally; a
// tautology needs no incoming fact to justify dropping it, mirroring
// loopprop's use of AlwaysTrue for a hoisted, substituted check).
// Deletions cascade to any
// single-use support instructions via the same bounded worklist cleanup
// uses. Returns the number of checks eliminated.
func Apply(fn *ir.Func, m *cgen.Maps, v value.Value, in map[*ir.Block]predset.Set) int {
	eliminated := 0
	for _, b := range fn.Blocks {
		cIn := in[b]
		for _, c := range m.CallsIn(b) {
			if subscript.Evaluate(c.Index).I != v {
				continue
			}
			pred := c.Predicate().Normalize()
			if pred.AlwaysTrue() || (!cIn.IsEmpty() && cIn.Subsumes(pred)) {
				eraseCall(b, c.Inst)
				eliminated++
			}
		}
	}
	return eliminated
}

func eraseCall(b *ir.Block, inst *ir.InstCall) {
	irutil.EraseRecursive(b, inst)
}
