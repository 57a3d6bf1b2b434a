// Package cleanup implements the single-block cleanup pass: within one
// block, keep only the first check of each (subscript-identity,
// bound-identity) pair, transferring tightness from a later, tighter
// occurrence to the earliest, and erasing the later occurrences
// together with any support instructions that become single-use-dead
// as a result. It also drops any check that is AlwaysTrue on its own
// (both operands constant, or sharing one identity, with the inequality
// holding unconditionally), since such a check may have no subscript
// variable for the per-variable
// Elimination analysis to ever visit it under.
package cleanup

import (
	"github.com/llir/llvm/ir"

	"github.com/dshills/boundcheck/internal/boundpred"
	"github.com/dshills/boundcheck/internal/checkabi"
	"github.com/dshills/boundcheck/internal/irutil"
	"github.com/dshills/boundcheck/internal/subscript"
)

// key identifies a check by its subscript identity and bound identity;
// two checks sharing a key are candidates for fusion in one block.
type key struct {
	indexID boundpred.Identity
	kind    boundpred.Kind
}

// Run scans every block in fn, fusing duplicate/subsumed checks in
// textual order, and returns the number of checks erased.
func Run(fn *ir.Func) int {
	erased := 0
	for _, b := range fn.Blocks {
		erased += runBlock(b)
	}
	return erased
}

func runBlock(b *ir.Block) int {
	first := make(map[key]checkabi.Call)
	var dead []*ir.InstCall
	for _, inst := range b.Insts {
		call, ok := checkabi.Recognize(inst)
		if !ok {
			continue
		}
		pred := call.Predicate().Normalize()
		if pred.AlwaysTrue() {
			dead = append(dead, call.Inst)
			continue
		}
		k := key{indexID: pred.Identity(), kind: pred.Kind}
		firstCall, seen := first[k]
		if !seen {
			first[k] = call
			continue
		}
		firstPred := firstCall.Predicate().Normalize()
		tighter := (pred.Kind == boundpred.Upper && pred.Bound.B < firstPred.Bound.B) ||
			(pred.Kind == boundpred.Lower && pred.Bound.B > firstPred.Bound.B)
		if tighter {
			retighten(b, firstCall, pred.Bound)
		}
		dead = append(dead, call.Inst)
	}
	for _, d := range dead {
		irutil.EraseRecursive(b, d)
	}
	return len(dead)
}

func retighten(b *ir.Block, c checkabi.Call, tighterBound subscript.Expr) {
	idx := subscript.IndexOf(b, c.Inst)
	if idx < 0 {
		return
	}
	newBound, _ := subscript.InsertBefore(b, idx, tighterBound)
	checkabi.RewriteBound(c, newBound)
}
