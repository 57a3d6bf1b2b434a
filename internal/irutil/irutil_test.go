package irutil

import (
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
)

func newTestBlock() (*ir.Func, *ir.Block) {
	m := ir.NewModule()
	fn := m.NewFunc("test", types.Void)
	return fn, fn.NewBlock("entry")
}

func TestIndexOfFindsAndMisses(t *testing.T) {
	_, b := newTestBlock()
	alloca := ir.NewAlloca(types.I64)
	b.Insts = append(b.Insts, alloca)
	if IndexOf(b, alloca) != 0 {
		t.Fatalf("IndexOf(present) = %d, want 0", IndexOf(b, alloca))
	}
	other := ir.NewAlloca(types.I64)
	if IndexOf(b, other) != -1 {
		t.Fatal("IndexOf(absent) should be -1")
	}
}

func TestOperandsOfLoad(t *testing.T) {
	alloca := ir.NewAlloca(types.I64)
	load := ir.NewLoad(types.I64, alloca)
	ops := Operands(load)
	if len(ops) != 1 || ops[0] != alloca {
		t.Fatalf("Operands(load) = %v, want [alloca]", ops)
	}
}

func TestOperandsOfAdd(t *testing.T) {
	alloca := ir.NewAlloca(types.I64)
	load := ir.NewLoad(types.I64, alloca)
	add := ir.NewAdd(load, constant.NewInt(types.I64, 1))
	ops := Operands(add)
	if len(ops) != 2 || ops[0] != load {
		t.Fatalf("Operands(add) = %v, want [load, 1]", ops)
	}
}

func TestOperandsOfUnrecognizedInstructionIsNil(t *testing.T) {
	alloca := ir.NewAlloca(types.I64)
	if ops := Operands(alloca); ops != nil {
		t.Fatalf("Operands(alloca) = %v, want nil", ops)
	}
}

func TestIsSingleUseDeadTrueWhenUnreferenced(t *testing.T) {
	_, b := newTestBlock()
	alloca := ir.NewAlloca(types.I64)
	load := ir.NewLoad(types.I64, alloca)
	b.Insts = append(b.Insts, load)
	b.Term = ir.NewRet(nil)
	if !IsSingleUseDead(b, load) {
		t.Fatal("an unreferenced load should be single-use-dead")
	}
}

func TestIsSingleUseDeadFalseWhenReferencedByLaterInst(t *testing.T) {
	_, b := newTestBlock()
	alloca := ir.NewAlloca(types.I64)
	load := ir.NewLoad(types.I64, alloca)
	add := ir.NewAdd(load, constant.NewInt(types.I64, 1))
	b.Insts = append(b.Insts, load, add)
	b.Term = ir.NewRet(nil)
	if IsSingleUseDead(b, load) {
		t.Fatal("a load referenced by a later add should not be single-use-dead")
	}
}

func TestIsSingleUseDeadFalseWhenReferencedByTerminator(t *testing.T) {
	_, b := newTestBlock()
	alloca := ir.NewAlloca(types.I64)
	load := ir.NewLoad(types.I64, alloca)
	b.Insts = append(b.Insts, load)
	b.Term = ir.NewRet(load)
	if IsSingleUseDead(b, load) {
		t.Fatal("a load returned by the terminator should not be single-use-dead")
	}
}

func TestIsSingleUseDeadFalseWhenAbsentFromBlock(t *testing.T) {
	_, b := newTestBlock()
	b.Term = ir.NewRet(nil)
	orphan := ir.NewAlloca(types.I64)
	if IsSingleUseDead(b, orphan) {
		t.Fatal("an instruction not in the block should not be reported single-use-dead")
	}
}

func TestEraseRecursiveRemovesChainOfDeadSupport(t *testing.T) {
	_, b := newTestBlock()
	alloca := ir.NewAlloca(types.I64)
	load := ir.NewLoad(types.I64, alloca)
	add := ir.NewAdd(load, constant.NewInt(types.I64, 1))
	b.Insts = append(b.Insts, load, add)
	b.Term = ir.NewRet(nil)

	EraseRecursive(b, add)
	if IndexOf(b, add) >= 0 {
		t.Fatal("EraseRecursive should have removed add")
	}
	if IndexOf(b, load) >= 0 {
		t.Fatal("EraseRecursive should have recursively removed the now-dead load")
	}
}

func TestEraseRecursiveStopsAtStillLiveOperand(t *testing.T) {
	_, b := newTestBlock()
	alloca := ir.NewAlloca(types.I64)
	load := ir.NewLoad(types.I64, alloca)
	add := ir.NewAdd(load, constant.NewInt(types.I64, 1))
	b.Insts = append(b.Insts, load, add)
	b.Term = ir.NewRet(load)

	EraseRecursive(b, add)
	if IndexOf(b, add) >= 0 {
		t.Fatal("EraseRecursive should have removed add")
	}
	if IndexOf(b, load) < 0 {
		t.Fatal("EraseRecursive must not remove load: it is still referenced by the terminator")
	}
}
