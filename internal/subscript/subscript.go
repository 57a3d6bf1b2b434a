// Package subscript implements the canonical affine form A*(load i) + B
// that the bounds-check passes reason about, together with the symbolic
// evaluator that recovers it from arbitrary llir/llvm operands.
package subscript

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
)

// Expr is the affine term A*(load I) + B. When I is nil (or A is zero)
// the expression is a pure constant B.
type Expr struct {
	A int64
	I value.Value
	B int64
}

// Identity is the projection (A, I) that two expressions must share
// before they may be compared, added, or subsumed against each other.
type Identity struct {
	A int64
	I value.Value
}

// Const builds the canonical constant expression <B>.
func Const(b int64) Expr { return Expr{A: 0, I: nil, B: b} }

// IsConstant reports whether e carries no symbolic dependency.
func (e Expr) IsConstant() bool { return e.I == nil || e.A == 0 }

// Identity returns e's (A, I) projection, ignoring B.
func (e Expr) Identity() Identity { return Identity{A: e.A, I: e.I} }

// SameIdentity reports whether e and o share a subscript identity.
func (e Expr) SameIdentity(o Expr) bool { return e.A == o.A && e.I == o.I }

// Equal is component-wise structural equality.
func (e Expr) Equal(o Expr) bool { return e.A == o.A && e.I == o.I && e.B == o.B }

// Add returns e + o. Defined when one side is constant or both depend
// on the same variable I (their coefficients are summed); panics
// otherwise — a programmer error, never silently
// produced.
func (e Expr) Add(o Expr) Expr {
	if !(e.IsConstant() || o.IsConstant() || e.I == o.I) {
		panic(fmt.Sprintf("subscript: Add of incompatible identities %v + %v", e, o))
	}
	if e.IsConstant() && o.IsConstant() {
		return Const(e.B + o.B)
	}
	if e.IsConstant() {
		return o.AddConst(e.B)
	}
	if o.IsConstant() {
		return e.AddConst(o.B)
	}
	return Expr{A: e.A + o.A, I: e.I, B: e.B + o.B}
}

// Sub returns e - o, symmetric to Add.
func (e Expr) Sub(o Expr) Expr {
	if !(e.IsConstant() || o.IsConstant() || e.I == o.I) {
		panic(fmt.Sprintf("subscript: Sub of incompatible identities %v - %v", e, o))
	}
	if e.IsConstant() && o.IsConstant() {
		return Const(e.B - o.B)
	}
	if o.IsConstant() {
		return e.SubConst(o.B)
	}
	// e is non-constant, o either constant (handled above) or same identity.
	return Expr{A: e.A - o.A, I: e.I, B: e.B - o.B}
}

// MulConst returns e * c.
func (e Expr) MulConst(c int64) Expr {
	if e.IsConstant() {
		return Const(e.B * c)
	}
	return Expr{A: e.A * c, I: e.I, B: e.B * c}
}

// AddConst returns e + c.
func (e Expr) AddConst(c int64) Expr {
	if e.IsConstant() {
		return Const(e.B + c)
	}
	return Expr{A: e.A, I: e.I, B: e.B + c}
}

// SubConst returns e - c.
func (e Expr) SubConst(c int64) Expr {
	if e.IsConstant() {
		return Const(e.B - c)
	}
	return Expr{A: e.A, I: e.I, B: e.B - c}
}

// ConstDiff returns e.B - o.B. Only meaningful (and only called) when e
// and o share an identity; asking for the difference of unrelated
// identities is a programmer error.
func ConstDiff(e, o Expr) int64 {
	if e.A != o.A || e.I != o.I {
		panic(fmt.Sprintf("subscript: ConstDiff of unrelated identities %v, %v", e, o))
	}
	return e.B - o.B
}

// IncreasingIn reports whether e grows as its dependency grows (A > 0).
func (e Expr) IncreasingIn() bool { return !e.IsConstant() && e.A > 0 }

// DecreasingIn reports whether e shrinks as its dependency grows (A < 0).
func (e Expr) DecreasingIn() bool { return !e.IsConstant() && e.A < 0 }

func (e Expr) String() string {
	if e.IsConstant() {
		return fmt.Sprintf("<%d>", e.B)
	}
	core := "(load " + identName(e.I) + ")"
	if e.A != 1 {
		core = fmt.Sprintf("%d * %s", e.A, core)
	}
	if e.B > 0 {
		return fmt.Sprintf("<%s + %d>", core, e.B)
	}
	if e.B < 0 {
		return fmt.Sprintf("<%s - %d>", core, -e.B)
	}
	return "<" + core + ">"
}

func identName(v value.Value) string {
	if id, ok := v.(interface{ Ident() string }); ok {
		return id.Ident()
	}
	return fmt.Sprintf("%v", v)
}

// Evaluate recursively traces v back to its affine canonical form,
// recognizing a fixed set of shapes: sign/zero extension is transparent,
// a load of pointer p evaluates to <1*(load p)+0>, additive/subtractive/
// multiplicative instructions fold constants and combine compatible
// identities, and anything else becomes an opaque self-reference
// <1*(load v)+0> rather than failing the analysis.
func Evaluate(v value.Value) Expr {
	switch x := v.(type) {
	case *ir.InstSExt:
		return Evaluate(x.From)
	case *ir.InstZExt:
		return Evaluate(x.From)
	case *ir.InstTrunc:
		return Evaluate(x.From)
	case *ir.InstLoad:
		return Expr{A: 1, I: x.Src, B: 0}
	case *ir.InstAdd:
		return evalAdd(v, x.X, x.Y)
	case *ir.InstSub:
		return evalSub(v, x.X, x.Y)
	case *ir.InstMul:
		return evalMul(v, x.X, x.Y)
	case *constant.Int:
		return Const(x.X.Int64())
	default:
		return Expr{A: 1, I: v, B: 0}
	}
}

func evalAdd(self, op1, op2 value.Value) Expr {
	s1, s2 := Evaluate(op1), Evaluate(op2)
	switch {
	case s1.IsConstant():
		return s2.AddConst(s1.B)
	case s2.IsConstant():
		return s1.AddConst(s2.B)
	case s1.I != s2.I:
		return Expr{A: 1, I: self, B: 0}
	default:
		return s1.Add(s2)
	}
}

func evalSub(self, op1, op2 value.Value) Expr {
	s1, s2 := Evaluate(op1), Evaluate(op2)
	switch {
	case s1.IsConstant() && s2.IsConstant():
		return Const(s1.B - s2.B)
	case s2.IsConstant():
		return s1.SubConst(s2.B)
	case s1.I != s2.I:
		return Expr{A: 1, I: self, B: 0}
	default:
		return s1.Sub(s2)
	}
}

// Build is Evaluate's inverse: it constructs the free-standing
// load/mul/add instruction sequence that computes e, without inserting
// any of them into a block, and returns that sequence plus the final
// value. A constant expression produces no instructions: the "value"
// is an i64 constant. A pointer identity (an alloca or global) is
// re-read through a load; an opaque scalar identity (a parameter, a
// call result) is the value itself and is referenced directly. Callers
// splice the returned instructions into a block at whatever point
// dominance requires (see AppendTo/InsertBefore).
func Build(e Expr) ([]ir.Instruction, value.Value) {
	if e.IsConstant() {
		return nil, constant.NewInt(types.I64, e.B)
	}
	var insts []ir.Instruction
	var v value.Value
	if pt, ok := e.I.Type().(*types.PointerType); ok {
		load := ir.NewLoad(pt.ElemType, e.I)
		insts = append(insts, load)
		v = load
	} else {
		v = e.I
	}
	if e.A != 1 {
		mul := ir.NewMul(v, constant.NewInt(types.I64, e.A))
		insts = append(insts, mul)
		v = mul
	}
	switch {
	case e.B > 0:
		add := ir.NewAdd(v, constant.NewInt(types.I64, e.B))
		insts = append(insts, add)
		v = add
	case e.B < 0:
		sub := ir.NewSub(v, constant.NewInt(types.I64, -e.B))
		insts = append(insts, sub)
		v = sub
	}
	return insts, v
}

// AppendTo builds e and appends its instructions to the end of b's
// instruction list (i.e. immediately before b's terminator, since
// Insts and Term are stored separately), returning the resulting
// value.
func AppendTo(b *ir.Block, e Expr) value.Value {
	insts, v := Build(e)
	b.Insts = append(b.Insts, insts...)
	return v
}

// InsertBefore builds e and splices its instructions into b's
// instruction list immediately before the instruction at position idx,
// returning the resulting value and the new index of `before` (shifted
// by however many instructions were inserted).
func InsertBefore(b *ir.Block, idx int, e Expr) (value.Value, int) {
	insts, v := Build(e)
	if len(insts) == 0 {
		return v, idx
	}
	rest := append([]ir.Instruction{}, b.Insts[idx:]...)
	b.Insts = append(b.Insts[:idx], append(insts, rest...)...)
	return v, idx + len(insts)
}

// IndexOf returns the position of inst within b.Insts, or -1 if absent.
func IndexOf(b *ir.Block, inst ir.Instruction) int {
	for i, x := range b.Insts {
		if x == inst {
			return i
		}
	}
	return -1
}

func evalMul(self, op1, op2 value.Value) Expr {
	s1, s2 := Evaluate(op1), Evaluate(op2)
	switch {
	case s1.IsConstant() && s2.IsConstant():
		return Const(s1.B * s2.B)
	case s1.IsConstant():
		return s2.MulConst(s1.B)
	case s2.IsConstant():
		return s1.MulConst(s2.B)
	default:
		return Expr{A: 1, I: self, B: 0}
	}
}
