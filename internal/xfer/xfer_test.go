package xfer

import (
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"

	"github.com/dshills/boundcheck/internal/boundpred"
	"github.com/dshills/boundcheck/internal/effect"
	"github.com/dshills/boundcheck/internal/subscript"
)

func identityIndex() subscript.Expr {
	alloca := ir.NewAlloca(types.I64)
	return subscript.Expr{A: 1, I: alloca, B: 0}
}

func TestKeepsIdentityLowerSurvivesDecrement(t *testing.T) {
	p := boundpred.NewLower(subscript.Const(0), identityIndex())
	if !Keeps(p, effect.Effect{Kind: effect.Decrement, C: 1}) {
		t.Fatal("identity lower-bound check should survive a decrement (index only grows further from the lower bound)")
	}
}

func TestKeepsIdentityLowerKilledByIncrement(t *testing.T) {
	p := boundpred.NewLower(subscript.Const(0), identityIndex())
	if Keeps(p, effect.Effect{Kind: effect.Increment, C: 1}) {
		t.Fatal("identity lower-bound check must not survive an increment")
	}
}

func TestKeepsIdentityUpperSurvivesIncrement(t *testing.T) {
	p := boundpred.NewUpper(subscript.Const(16), identityIndex())
	if !Keeps(p, effect.Effect{Kind: effect.Increment, C: 1}) {
		t.Fatal("identity upper-bound check should survive an increment (already checked at the larger value)")
	}
}

func TestKeepsIdentityUpperKilledByDecrement(t *testing.T) {
	p := boundpred.NewUpper(subscript.Const(16), identityIndex())
	if Keeps(p, effect.Effect{Kind: effect.Decrement, C: 1}) {
		t.Fatal("identity upper-bound check must not survive a decrement")
	}
}

func TestKeepsUnchangedAlwaysSurvives(t *testing.T) {
	lower := boundpred.NewLower(subscript.Const(0), identityIndex())
	upper := boundpred.NewUpper(subscript.Const(16), identityIndex())
	if !Keeps(lower, effect.Effect{Kind: effect.Unchanged}) || !Keeps(upper, effect.Effect{Kind: effect.Unchanged}) {
		t.Fatal("any predicate must survive an Unchanged effect")
	}
}

func TestKeepsNonMonotoneNonIdentityOnlyUnchanged(t *testing.T) {
	// An index with no variable dependency (A=0) is neither an identity
	// check nor increasing or decreasing in any variable, so it falls to
	// the conservative row: Unchanged only.
	index := subscript.Const(2)
	p := boundpred.Predicate{Kind: boundpred.Upper, Bound: subscript.Const(16), Index: index}
	if Keeps(p, effect.Effect{Kind: effect.Multiply, C: 2}) {
		t.Fatal("a non-identity, non-monotone predicate must not survive a Multiply effect")
	}
	if !Keeps(p, effect.Effect{Kind: effect.Unchanged}) {
		t.Fatal("a non-identity predicate must still survive Unchanged")
	}
}

func decreasingIndex() subscript.Expr {
	return subscript.Expr{A: -2, I: ir.NewAlloca(types.I64), B: 0}
}

func increasingIndex() subscript.Expr {
	return subscript.Expr{A: 2, I: ir.NewAlloca(types.I64), B: 0}
}

func TestKeepsLowerDecreasingInSurvivesIncrement(t *testing.T) {
	// A<0: increasing i shrinks the index further below where it
	// started, so the already-proven lower bound on the (now smaller)
	// post-effect index is even more safely a lower bound pre-effect.
	p := boundpred.NewLower(subscript.Const(0), decreasingIndex())
	if !Keeps(p, effect.Effect{Kind: effect.Increment, C: 3}) {
		t.Fatal("lower-bound check on a decreasing-in-i index should survive an increment")
	}
}

func TestKeepsLowerDecreasingInChecksDecrement(t *testing.T) {
	// The table's sole "check dec" cell: A<0, Decrement. The predicate
	// still survives (Keeps is true), but only because Transfer rewrites
	// its bound by the exact margin the effect introduces (see
	// TestTransferAdjustsBoundOnCheckDecCell) — Keeps alone must not be
	// read as "pass through unchanged" for this cell.
	p := boundpred.NewLower(subscript.Const(0), decreasingIndex())
	if !Keeps(p, effect.Effect{Kind: effect.Decrement, C: 3}) {
		t.Fatal("lower-bound check on a decreasing-in-i index should survive a decrement, with its bound adjusted")
	}
}

func TestKeepsLowerDecreasingInKilledByMultiplyAndUnknown(t *testing.T) {
	p := boundpred.NewLower(subscript.Const(0), decreasingIndex())
	if Keeps(p, effect.Effect{Kind: effect.Multiply, C: 2}) {
		t.Fatal("lower-bound check on a decreasing-in-i index must not survive a multiply")
	}
	if Keeps(p, effect.Effect{Kind: effect.UnknownChanged}) {
		t.Fatal("lower-bound check on a decreasing-in-i index must not survive an unknown change")
	}
}

func TestKeepsLowerIncreasingInSurvivesDecrementOnly(t *testing.T) {
	p := boundpred.NewLower(subscript.Const(0), increasingIndex())
	if !Keeps(p, effect.Effect{Kind: effect.Decrement, C: 3}) {
		t.Fatal("lower-bound check on an increasing-in-i index should survive a decrement")
	}
	if Keeps(p, effect.Effect{Kind: effect.Increment, C: 3}) {
		t.Fatal("lower-bound check on an increasing-in-i index must not survive an increment")
	}
}

func TestKeepsUpperIncreasingInSurvivesIncrementAndMultiply(t *testing.T) {
	p := boundpred.NewUpper(subscript.Const(16), increasingIndex())
	if !Keeps(p, effect.Effect{Kind: effect.Increment, C: 3}) {
		t.Fatal("upper-bound check on an increasing-in-i index should survive an increment")
	}
	if !Keeps(p, effect.Effect{Kind: effect.Multiply, C: 2}) {
		t.Fatal("upper-bound check on an increasing-in-i index should survive a multiply")
	}
	if Keeps(p, effect.Effect{Kind: effect.Decrement, C: 3}) {
		t.Fatal("upper-bound check on an increasing-in-i index must not survive a decrement")
	}
}

func TestKeepsUpperDecreasingInSurvivesDecrementOnly(t *testing.T) {
	p := boundpred.NewUpper(subscript.Const(16), decreasingIndex())
	if !Keeps(p, effect.Effect{Kind: effect.Decrement, C: 3}) {
		t.Fatal("upper-bound check on a decreasing-in-i index should survive a decrement")
	}
	if Keeps(p, effect.Effect{Kind: effect.Increment, C: 3}) {
		t.Fatal("upper-bound check on a decreasing-in-i index must not survive an increment")
	}
}

func TestTransferAdjustsBoundOnCheckDecCell(t *testing.T) {
	// index = -2*i+0 (A=-2); bound<=index known after a Decrement(3).
	// index_after = index_before + |A|*C = index_before + 6, so the
	// equivalent fact at block entry is (bound-6) <= index_before: the
	// kept predicate must carry the adjusted bound, not the original.
	index := decreasingIndex()
	p := boundpred.NewLower(subscript.Const(10), index)
	out := Transfer([]boundpred.Predicate{p}, effect.Effect{Kind: effect.Decrement, C: 3})
	if len(out) != 1 {
		t.Fatalf("expected the predicate to survive, got %+v", out)
	}
	if out[0].Bound.B != 4 {
		t.Fatalf("expected bound adjusted from 10 to 10-(2*3)=4, got %d", out[0].Bound.B)
	}
	if !out[0].Index.Equal(index) {
		t.Fatalf("adjust must not alter the predicate's index, got %+v", out[0].Index)
	}
}

func TestTransferLeavesOtherSurvivingCellsBoundUnchanged(t *testing.T) {
	index := increasingIndex()
	p := boundpred.NewLower(subscript.Const(10), index)
	out := Transfer([]boundpred.Predicate{p}, effect.Effect{Kind: effect.Decrement, C: 3})
	if len(out) != 1 || out[0].Bound.B != 10 {
		t.Fatalf("a cell that keeps without adjustment must not rewrite the bound, got %+v", out)
	}
}

func TestTransferFiltersToSurvivors(t *testing.T) {
	surviving := boundpred.NewUpper(subscript.Const(16), identityIndex())
	killed := boundpred.NewUpper(subscript.Const(16), identityIndex())
	out := Transfer([]boundpred.Predicate{surviving, killed}, effect.Effect{Kind: effect.Decrement, C: 1})
	if len(out) != 0 {
		t.Fatalf("Transfer under Decrement should kill identity uppers, got %+v", out)
	}
	out = Transfer([]boundpred.Predicate{surviving}, effect.Effect{Kind: effect.Increment, C: 1})
	if len(out) != 1 {
		t.Fatalf("Transfer under Increment should keep identity uppers, got %+v", out)
	}
}
