package cleanup

import (
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"

	"github.com/dshills/boundcheck/internal/checkabi"
)

func TestRunFusesDuplicateChecksInOneBlock(t *testing.T) {
	m := ir.NewModule()
	fn := m.NewFunc("test", types.Void)
	b := fn.NewBlock("entry")
	idx := ir.NewAlloca(types.I64)
	load1 := ir.NewLoad(types.I64, idx)
	load2 := ir.NewLoad(types.I64, idx)
	checkUB := checkabi.Declare(m, checkabi.UpperBoundFunc)
	checkabi.Build(b, checkUB, checkabi.ConstBound(20), load1, checkabi.ConstBound(0), checkabi.ConstBound(0))
	checkabi.Build(b, checkUB, checkabi.ConstBound(10), load2, checkabi.ConstBound(0), checkabi.ConstBound(0))
	b.Term = ir.NewRet(nil)

	erased := Run(fn)
	if erased != 1 {
		t.Fatalf("Run erased %d checks, want 1", erased)
	}
	count := 0
	var survivor checkabi.Call
	for _, inst := range b.Insts {
		if c, ok := checkabi.Recognize(inst); ok {
			count++
			survivor = c
		}
	}
	if count != 1 {
		t.Fatalf("block has %d check calls after cleanup, want 1", count)
	}
	if survivor.Predicate().Bound.B != 10 {
		t.Fatalf("surviving check bound = %d, want the tighter value 10", survivor.Predicate().Bound.B)
	}
}

func TestRunLeavesDistinctIdentitiesAlone(t *testing.T) {
	m := ir.NewModule()
	fn := m.NewFunc("test", types.Void)
	b := fn.NewBlock("entry")
	a, c := ir.NewAlloca(types.I64), ir.NewAlloca(types.I64)
	loadA := ir.NewLoad(types.I64, a)
	loadC := ir.NewLoad(types.I64, c)
	checkUB := checkabi.Declare(m, checkabi.UpperBoundFunc)
	checkabi.Build(b, checkUB, checkabi.ConstBound(20), loadA, checkabi.ConstBound(0), checkabi.ConstBound(0))
	checkabi.Build(b, checkUB, checkabi.ConstBound(10), loadC, checkabi.ConstBound(0), checkabi.ConstBound(0))
	b.Term = ir.NewRet(nil)

	if erased := Run(fn); erased != 0 {
		t.Fatalf("Run erased %d checks over unrelated identities, want 0", erased)
	}
}

func TestRunLeavesLooserSecondOccurrenceFirst(t *testing.T) {
	m := ir.NewModule()
	fn := m.NewFunc("test", types.Void)
	b := fn.NewBlock("entry")
	idx := ir.NewAlloca(types.I64)
	load1 := ir.NewLoad(types.I64, idx)
	load2 := ir.NewLoad(types.I64, idx)
	checkUB := checkabi.Declare(m, checkabi.UpperBoundFunc)
	checkabi.Build(b, checkUB, checkabi.ConstBound(10), load1, checkabi.ConstBound(0), checkabi.ConstBound(0))
	checkabi.Build(b, checkUB, checkabi.ConstBound(20), load2, checkabi.ConstBound(0), checkabi.ConstBound(0))
	b.Term = ir.NewRet(nil)

	Run(fn)
	var survivor checkabi.Call
	for _, inst := range b.Insts {
		if c, ok := checkabi.Recognize(inst); ok {
			survivor = c
		}
	}
	if survivor.Predicate().Bound.B != 10 {
		t.Fatalf("a looser later occurrence must not weaken the kept bound, got %d", survivor.Predicate().Bound.B)
	}
}
