// Package checkabi owns the wire format of the two reserved runtime
// guards the upstream instrumentation stage inserts at every array
// subscript:
//
//	checkLowerBound(bound i64, index i64, file ptr, line i64)
//	checkUpperBound(bound i64, index i64, file ptr, line i64)
//
// Every component that reads, rewrites, or synthesizes a check call
// goes through this package so the ABI is specified in exactly one
// place.
package checkabi

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/dshills/boundcheck/internal/boundpred"
	"github.com/dshills/boundcheck/internal/subscript"
)

// LowerBoundFunc and UpperBoundFunc are the reserved external names the
// instrumentation collaborator calls.
const (
	LowerBoundFunc = "checkLowerBound"
	UpperBoundFunc = "checkUpperBound"
)

// Call wraps a recognized check instruction with its decoded operands.
type Call struct {
	Inst  *ir.InstCall
	Kind  boundpred.Kind
	Bound value.Value
	Index value.Value
	File  value.Value
	Line  value.Value
}

// Predicate evaluates Bound/Index as subscript expressions and builds
// the Predicate the call asserts.
func (c Call) Predicate() boundpred.Predicate {
	bound := subscript.Evaluate(c.Bound)
	index := subscript.Evaluate(c.Index)
	if c.Kind == boundpred.Lower {
		return boundpred.NewLower(bound, index)
	}
	return boundpred.NewUpper(bound, index)
}

func calleeName(c *ir.InstCall) (string, bool) {
	fn, ok := c.Callee.(*ir.Func)
	if !ok {
		return "", false
	}
	return fn.GlobalName, true
}

// Recognize reports whether inst is a call to checkLowerBound or
// checkUpperBound and, if so, returns its decoded Call.
func Recognize(inst ir.Instruction) (Call, bool) {
	call, ok := inst.(*ir.InstCall)
	if !ok {
		return Call{}, false
	}
	name, ok := calleeName(call)
	if !ok {
		return Call{}, false
	}
	var kind boundpred.Kind
	switch name {
	case LowerBoundFunc:
		kind = boundpred.Lower
	case UpperBoundFunc:
		kind = boundpred.Upper
	default:
		return Call{}, false
	}
	if len(call.Args) < 4 {
		return Call{}, false
	}
	return Call{
		Inst:  call,
		Kind:  kind,
		Bound: call.Args[0],
		Index: call.Args[1],
		File:  call.Args[2],
		Line:  call.Args[3],
	}, true
}

// RewriteBound replaces inst's bound argument (operand 0) in place with
// newBound, reusing the existing value.Value where possible (the
// caller passes an already-built constant.Int or instruction result).
func RewriteBound(c Call, newBound value.Value) {
	c.Inst.Args[0] = newBound
}

// ConstBound builds an i64 constant.Int suitable for use as a bound or
// index argument.
func ConstBound(n int64) *constant.Int {
	return constant.NewInt(types.I64, n)
}

// Build inserts a new check call at the end of block (i.e. immediately
// before its terminator, since Insts and Term are stored separately)
// and returns it.
func Build(block *ir.Block, callee *ir.Func, bound, index, file, line value.Value) *ir.InstCall {
	return block.NewCall(callee, bound, index, file, line)
}

// Declare returns the module's declaration of the named check
// function, creating it if absent. This lets collaborators and the
// loop-propagation/modification passes synthesize new calls without
// each owning its own declaration logic.
func Declare(m *ir.Module, name string) *ir.Func {
	for _, fn := range m.Funcs {
		if fn.GlobalName == name {
			return fn
		}
	}
	fn := m.NewFunc(name, types.Void,
		ir.NewParam("bound", types.I64),
		ir.NewParam("index", types.I64),
		ir.NewParam("file", types.NewPointer(types.I8)),
		ir.NewParam("line", types.I64),
	)
	return fn
}
