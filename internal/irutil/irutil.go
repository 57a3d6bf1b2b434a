// Package irutil holds the small block-local instruction utilities
// shared by the single-block cleanup and Elimination
// passes: locating an instruction's position, listing its value
// operands, and the bounded worklist dead-code trim both passes run
// after erasing a check call.
package irutil

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/value"
)

// IndexOf returns inst's position in b.Insts, or -1 if absent.
func IndexOf(b *ir.Block, inst ir.Instruction) int {
	for i, x := range b.Insts {
		if x == inst {
			return i
		}
	}
	return -1
}

// Operands returns the value operands of the instruction kinds this
// pass's algebra ever produces or consumes as check arguments: calls,
// loads, the three affine arithmetic ops, and the two widening casts,
// plus the comparisons, stores and GEPs that consume those values.
// Any other instruction kind reports no operands.
func Operands(inst ir.Instruction) []value.Value {
	switch x := inst.(type) {
	case *ir.InstCall:
		return append([]value.Value{}, x.Args...)
	case *ir.InstLoad:
		return []value.Value{x.Src}
	case *ir.InstICmp:
		return []value.Value{x.X, x.Y}
	case *ir.InstStore:
		return []value.Value{x.Src, x.Dst}
	case *ir.InstGetElementPtr:
		return append([]value.Value{x.Src}, x.Indices...)
	case *ir.InstAdd:
		return []value.Value{x.X, x.Y}
	case *ir.InstSub:
		return []value.Value{x.X, x.Y}
	case *ir.InstMul:
		return []value.Value{x.X, x.Y}
	case *ir.InstSExt:
		return []value.Value{x.From}
	case *ir.InstZExt:
		return []value.Value{x.From}
	default:
		return nil
	}
}

// IsSingleUseDead reports whether inst is defined in b and nothing
// else in b — neither another instruction, through the operands
// Operands lists, nor a condbr/ret terminator — references it.
// Block-local by construction: every deletion this
// repository performs is itself block-local, so a value it considers
// erasing can never be used outside b.
func IsSingleUseDead(b *ir.Block, inst ir.Instruction) bool {
	if IndexOf(b, inst) < 0 {
		return false
	}
	val, ok := inst.(value.Value)
	if !ok {
		return false
	}
	for _, other := range b.Insts {
		if other == inst {
			continue
		}
		for _, op := range Operands(other) {
			if op == val {
				return false
			}
		}
	}
	switch t := b.Term.(type) {
	case *ir.TermCondBr:
		if t.Cond == val {
			return false
		}
	case *ir.TermRet:
		if t.X == val {
			return false
		}
	}
	return true
}

// EraseRecursive removes inst from b, then repeats for any operand
// that is itself an instruction left with no remaining uses, using an
// explicit worklist rather than unbounded recursion.
func EraseRecursive(b *ir.Block, inst ir.Instruction) {
	worklist := []ir.Instruction{inst}
	for len(worklist) > 0 {
		cur := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		i := IndexOf(b, cur)
		if i < 0 {
			continue
		}
		operands := Operands(cur)
		b.Insts = append(b.Insts[:i], b.Insts[i+1:]...)
		for _, op := range operands {
			if opInst, ok := op.(ir.Instruction); ok && IsSingleUseDead(b, opInst) {
				worklist = append(worklist, opInst)
			}
		}
	}
}
