package effect

import (
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
)

func newTestFunc() *ir.Func {
	m := ir.NewModule()
	return m.NewFunc("test", types.Void)
}

func TestEffectOfBlockNoStoreIsUnchanged(t *testing.T) {
	fn := newTestFunc()
	v := ir.NewAlloca(types.I64)
	b := fn.NewBlock("entry")
	b.Term = ir.NewRet(nil)
	e := effectOfBlock(b, v)
	if e.Kind != Unchanged {
		t.Fatalf("block with no store = %v, want Unchanged", e.Kind)
	}
}

func TestEffectOfBlockIdentityStoreIsUnchanged(t *testing.T) {
	fn := newTestFunc()
	v := ir.NewAlloca(types.I64)
	load := ir.NewLoad(types.I64, v)
	b := fn.NewBlock("entry")
	b.Insts = append(b.Insts, load, ir.NewStore(load, v))
	b.Term = ir.NewRet(nil)
	e := effectOfBlock(b, v)
	if e.Kind != Unchanged {
		t.Fatalf("store of i<-i = %v, want Unchanged", e.Kind)
	}
}

func TestEffectOfBlockIncrement(t *testing.T) {
	fn := newTestFunc()
	v := ir.NewAlloca(types.I64)
	load := ir.NewLoad(types.I64, v)
	add := ir.NewAdd(load, constant.NewInt(types.I64, 1))
	b := fn.NewBlock("entry")
	b.Insts = append(b.Insts, load, add, ir.NewStore(add, v))
	b.Term = ir.NewRet(nil)
	e := effectOfBlock(b, v)
	if e.Kind != Increment || e.C != 1 {
		t.Fatalf("i <- i+1 = %+v, want Increment{C:1}", e)
	}
}

func TestEffectOfBlockDecrement(t *testing.T) {
	fn := newTestFunc()
	v := ir.NewAlloca(types.I64)
	load := ir.NewLoad(types.I64, v)
	sub := ir.NewSub(load, constant.NewInt(types.I64, 2))
	b := fn.NewBlock("entry")
	b.Insts = append(b.Insts, load, sub, ir.NewStore(sub, v))
	b.Term = ir.NewRet(nil)
	e := effectOfBlock(b, v)
	if e.Kind != Decrement || e.C != 2 {
		t.Fatalf("i <- i-2 = %+v, want Decrement{C:2}", e)
	}
}

func TestEffectOfBlockMultiply(t *testing.T) {
	fn := newTestFunc()
	v := ir.NewAlloca(types.I64)
	load := ir.NewLoad(types.I64, v)
	mul := ir.NewMul(load, constant.NewInt(types.I64, 3))
	b := fn.NewBlock("entry")
	b.Insts = append(b.Insts, load, mul, ir.NewStore(mul, v))
	b.Term = ir.NewRet(nil)
	e := effectOfBlock(b, v)
	if e.Kind != Multiply || e.C != 3 {
		t.Fatalf("i <- 3*i = %+v, want Multiply{C:3}", e)
	}
}

func TestEffectOfBlockUnknownChangedOnUnrelatedStore(t *testing.T) {
	fn := newTestFunc()
	v := ir.NewAlloca(types.I64)
	other := ir.NewAlloca(types.I64)
	loadOther := ir.NewLoad(types.I64, other)
	b := fn.NewBlock("entry")
	b.Insts = append(b.Insts, loadOther, ir.NewStore(loadOther, v))
	b.Term = ir.NewRet(nil)
	e := effectOfBlock(b, v)
	if e.Kind != UnknownChanged {
		t.Fatalf("store of unrelated value = %v, want UnknownChanged", e.Kind)
	}
}

func TestEffectOfBlockUsesLastStore(t *testing.T) {
	fn := newTestFunc()
	v := ir.NewAlloca(types.I64)
	load1 := ir.NewLoad(types.I64, v)
	add := ir.NewAdd(load1, constant.NewInt(types.I64, 1))
	st1 := ir.NewStore(add, v)
	load2 := ir.NewLoad(types.I64, v)
	st2 := ir.NewStore(load2, v)
	b := fn.NewBlock("entry")
	b.Insts = append(b.Insts, load1, add, st1, load2, st2)
	b.Term = ir.NewRet(nil)
	e := effectOfBlock(b, v)
	if e.Kind != Unchanged {
		t.Fatalf("effect should reflect the last store only, got %v", e.Kind)
	}
}

func TestSummarizeAndOf(t *testing.T) {
	fn := newTestFunc()
	v := ir.NewAlloca(types.I64)
	load := ir.NewLoad(types.I64, v)
	add := ir.NewAdd(load, constant.NewInt(types.I64, 1))
	b := fn.NewBlock("entry")
	b.Insts = append(b.Insts, load, add, ir.NewStore(add, v))
	b.Term = ir.NewRet(nil)

	s := Summarize(fn, []value.Value{v})
	e := s.Of(v, b)
	if e.Kind != Increment || e.C != 1 {
		t.Fatalf("Summarize+Of = %+v, want Increment{C:1}", e)
	}
}

func TestOfUnknownVariableIsUnchanged(t *testing.T) {
	fn := newTestFunc()
	v := ir.NewAlloca(types.I64)
	_ = v
	b := fn.NewBlock("entry")
	b.Term = ir.NewRet(nil)
	s := Summarize(fn, nil)
	unrecorded := ir.NewAlloca(types.I64)
	e := s.Of(unrecorded, b)
	if e.Kind != Unchanged {
		t.Fatalf("Of(unsummarized var) = %v, want Unchanged", e.Kind)
	}
}
