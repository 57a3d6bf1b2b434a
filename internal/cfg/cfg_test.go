package cfg

import (
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
)

// linearFunc builds entry -> exit, both terminated, for the trivial
// single-path shape most Graph queries degenerate to.
func linearFunc() (*ir.Func, *ir.Block, *ir.Block) {
	m := ir.NewModule()
	fn := m.NewFunc("test", types.Void)
	entry := fn.NewBlock("entry")
	exit := fn.NewBlock("exit")
	entry.Term = ir.NewBr(exit)
	exit.Term = ir.NewRet(nil)
	return fn, entry, exit
}

func TestBuildLinearCFG(t *testing.T) {
	fn, entry, exit := linearFunc()
	g := Build(fn)
	if succs := g.Succs(entry); len(succs) != 1 || succs[0] != exit {
		t.Fatalf("Succs(entry) = %v, want [exit]", succs)
	}
	if preds := g.Preds(exit); len(preds) != 1 || preds[0] != entry {
		t.Fatalf("Preds(exit) = %v, want [entry]", preds)
	}
}

func TestDominatesLinear(t *testing.T) {
	fn, entry, exit := linearFunc()
	g := Build(fn)
	if !g.Dominates(entry, exit) {
		t.Fatal("entry should dominate exit in a linear CFG")
	}
	if g.Dominates(exit, entry) {
		t.Fatal("exit should not dominate entry")
	}
	if !g.Dominates(entry, entry) {
		t.Fatal("a block always dominates itself")
	}
}

// branchingFunc builds:
//
//	entry -(cond)-> then, else
//	then -> join
//	else -> join
//	join -> ret
func branchingFunc() (fn *ir.Func, entry, then, els, join *ir.Block) {
	m := ir.NewModule()
	fn = m.NewFunc("test", types.Void)
	entry = fn.NewBlock("entry")
	then = fn.NewBlock("then")
	els = fn.NewBlock("else")
	join = fn.NewBlock("join")
	cond := ir.NewICmp(enum.IPredSLT, constant.NewInt(types.I64, 0), constant.NewInt(types.I64, 1))
	entry.Insts = append(entry.Insts, cond)
	entry.Term = ir.NewCondBr(cond, then, els)
	then.Term = ir.NewBr(join)
	els.Term = ir.NewBr(join)
	join.Term = ir.NewRet(nil)
	return
}

func TestDominatesDiamond(t *testing.T) {
	fn, entry, then, els, join := branchingFunc()
	g := Build(fn)
	if !g.Dominates(entry, join) {
		t.Fatal("entry should dominate join")
	}
	if g.Dominates(then, join) {
		t.Fatal("then alone should not dominate join (else is another path)")
	}
	if g.Dominates(els, join) {
		t.Fatal("else alone should not dominate join (then is another path)")
	}
}

func TestDominatesAll(t *testing.T) {
	fn, entry, then, els, _ := branchingFunc()
	g := Build(fn)
	if !g.DominatesAll(entry, []*ir.Block{then, els}) {
		t.Fatal("entry should dominate both then and else")
	}
}

// loopFunc builds a single natural loop:
//
//	entry -> header
//	header -(cond)-> body, exit
//	body -> header   (back edge)
func loopFunc() (fn *ir.Func, entry, header, body, exit *ir.Block) {
	m := ir.NewModule()
	fn = m.NewFunc("test", types.Void)
	entry = fn.NewBlock("entry")
	header = fn.NewBlock("header")
	body = fn.NewBlock("body")
	exit = fn.NewBlock("exit")
	entry.Term = ir.NewBr(header)
	cond := ir.NewICmp(enum.IPredSLT, constant.NewInt(types.I64, 0), constant.NewInt(types.I64, 1))
	header.Insts = append(header.Insts, cond)
	header.Term = ir.NewCondBr(cond, body, exit)
	body.Term = ir.NewBr(header)
	exit.Term = ir.NewRet(nil)
	return
}

func TestNaturalLoopsFindsBackEdge(t *testing.T) {
	fn, _, header, body, exit := loopFunc()
	g := Build(fn)
	loops := g.NaturalLoops()
	if len(loops) != 1 {
		t.Fatalf("NaturalLoops() found %d loops, want 1", len(loops))
	}
	l := loops[0]
	if l.Header != header {
		t.Fatalf("loop header = %v, want header block", l.Header)
	}
	if !l.Blocks[header] || !l.Blocks[body] {
		t.Fatal("loop should contain both header and body")
	}
	if l.Blocks[exit] {
		t.Fatal("loop should not contain the exit block")
	}
	if len(l.Exits) != 1 || l.Exits[0] != exit {
		t.Fatalf("loop exits = %v, want [exit]", l.Exits)
	}
}

func TestDominatesAllExits(t *testing.T) {
	fn, _, header, _, _ := loopFunc()
	g := Build(fn)
	l := g.NaturalLoops()[0]
	if !g.DominatesAllExits(header, l) {
		t.Fatal("loop header should dominate all loop exits")
	}
}

func TestNonDominating(t *testing.T) {
	fn, _, header, body, _ := loopFunc()
	g := Build(fn)
	l := g.NaturalLoops()[0]
	nd := l.NonDominating(g)
	if nd[header] {
		t.Fatal("header dominates the loop's only exit, should not be in ND")
	}
	if !nd[body] {
		t.Fatal("body does not dominate the loop's exit, should be in ND")
	}
}

func TestMemberBlocksIsReversePostorder(t *testing.T) {
	fn, _, header, body, _ := loopFunc()
	g := Build(fn)
	l := g.NaturalLoops()[0]
	members := g.MemberBlocks(l)
	if len(members) != 2 {
		t.Fatalf("MemberBlocks = %v, want 2 blocks", members)
	}
	if members[0] != header {
		t.Fatalf("MemberBlocks[0] = %v, want header first in RPO", members[0])
	}
	if members[1] != body {
		t.Fatalf("MemberBlocks[1] = %v, want body", members[1])
	}
}

func TestNoLoopsInAcyclicCFG(t *testing.T) {
	fn, _, _, _, _ := branchingFunc()
	g := Build(fn)
	if loops := g.NaturalLoops(); len(loops) != 0 {
		t.Fatalf("NaturalLoops() on acyclic CFG = %v, want none", loops)
	}
}
