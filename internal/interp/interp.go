// Package interp is a small concrete interpreter for the subset of
// llir/llvm IR this pass touches — integer arithmetic, load/store,
// br/condbr/ret, and calls to checkLowerBound/checkUpperBound. Each
// alloca holds one integer; getelementptr and calls to any other callee
// are not supported. It exists so the test suite can execute a concrete
// trace through both a procedure's original and transformed IR and
// assert the two agree on every check outcome (soundness and
// conservative monotonicity).
package interp

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/value"

	"github.com/dshills/boundcheck/internal/checkabi"
)

// ValueType distinguishes the scalar kinds this interpreter models.
type ValueType int

const (
	TypeInt ValueType = iota
	TypePtr
	TypeVoid
)

// Value is a runtime value: an integer, a pointer (modeled as an
// address into Memory), or void (the result of a store or a check
// call).
type Value struct {
	Type ValueType
	Int  int64
	Addr int
}

func intVal(i int64) Value { return Value{Type: TypeInt, Int: i} }
func ptrVal(a int) Value   { return Value{Type: TypePtr, Addr: a} }
func voidVal() Value       { return Value{Type: TypeVoid} }

// CheckViolation records one failed bounds check the interpreter
// observed, mirroring the runtime stub collaborator's stderr report.
type CheckViolation struct {
	Func  string
	Kind  string // "lower" or "upper"
	Bound int64
	Index int64
}

func (v CheckViolation) String() string {
	return fmt.Sprintf("%s check failed in %s: bound=%d index=%d", v.Kind, v.Func, v.Bound, v.Index)
}

// Trace is the observable result of executing one procedure: the
// return value (if any) and every check violation encountered, in
// execution order.
type Trace struct {
	Return     *int64
	Violations []CheckViolation
}

// Interpreter executes one *ir.Func at a time against a flat integer
// memory space addressed by allocas, modeling the runtime-stub
// collaborator's check functions as an in-process violation log
// instead of a linked object file.
type Interpreter struct {
	memory []int64
}

// New returns an Interpreter with fresh memory.
func New() *Interpreter { return &Interpreter{} }

func (in *Interpreter) alloc() int {
	in.memory = append(in.memory, 0)
	return len(in.memory) - 1
}

// Run executes fn with the given integer arguments and returns its
// Trace. fn must contain only the instruction/terminator kinds this
// package recognizes; anything else is reported as a panic recovered
// into a descriptive error, since an unrecognized instruction in this
// restricted test subset is a test-authoring error, not a normal
// runtime condition.
func (in *Interpreter) Run(fn *ir.Func, args ...int64) (trace Trace, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("interp: %v", r)
		}
	}()
	env := make(map[value.Value]Value)
	for i, p := range fn.Params {
		if i < len(args) {
			env[p] = intVal(args[i])
		}
	}
	if len(fn.Blocks) == 0 {
		return Trace{}, fmt.Errorf("interp: %s has no blocks", fn.GlobalName)
	}
	block := fn.Blocks[0]
	visited := 0
	for {
		visited++
		if visited > 100000 {
			return trace, fmt.Errorf("interp: %s did not terminate within step budget", fn.GlobalName)
		}
		for _, inst := range block.Insts {
			in.exec(inst, env, &trace)
		}
		next, ret, done := in.branch(block.Term, env)
		if done {
			trace.Return = ret
			return trace, nil
		}
		block = next
	}
}

func (in *Interpreter) exec(inst ir.Instruction, env map[value.Value]Value, trace *Trace) {
	switch x := inst.(type) {
	case *ir.InstAlloca:
		env[x] = ptrVal(in.alloc())
	case *ir.InstLoad:
		p := in.eval(x.Src, env)
		env[x] = intVal(in.memory[p.Addr])
	case *ir.InstStore:
		p := in.eval(x.Dst, env)
		v := in.eval(x.Src, env)
		in.memory[p.Addr] = v.Int
	case *ir.InstAdd:
		env[x] = intVal(in.eval(x.X, env).Int + in.eval(x.Y, env).Int)
	case *ir.InstSub:
		env[x] = intVal(in.eval(x.X, env).Int - in.eval(x.Y, env).Int)
	case *ir.InstMul:
		env[x] = intVal(in.eval(x.X, env).Int * in.eval(x.Y, env).Int)
	case *ir.InstSExt:
		env[x] = in.eval(x.From, env)
	case *ir.InstZExt:
		env[x] = in.eval(x.From, env)
	case *ir.InstICmp:
		env[x] = intVal(boolInt(in.icmp(x, env)))
	case *ir.InstCall:
		in.call(x, env, trace)
	default:
		panic(fmt.Sprintf("interp: unsupported instruction %T", inst))
	}
}

func (in *Interpreter) call(call *ir.InstCall, env map[value.Value]Value, trace *Trace) {
	callee, ok := call.Callee.(*ir.Func)
	if !ok {
		panic("interp: indirect call unsupported")
	}
	if c, ok := checkabi.Recognize(call); ok {
		bound := in.eval(c.Bound, env).Int
		index := in.eval(c.Index, env).Int
		var violated bool
		var kind string
		if c.Kind.String() == "lower" {
			kind = "lower"
			violated = index < bound
		} else {
			kind = "upper"
			violated = index > bound
		}
		if violated {
			trace.Violations = append(trace.Violations, CheckViolation{
				Func: callee.GlobalName, Kind: kind, Bound: bound, Index: index,
			})
		}
		env[call] = voidVal()
		return
	}
	panic(fmt.Sprintf("interp: unsupported call to %s", callee.GlobalName))
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func (in *Interpreter) icmp(x *ir.InstICmp, env map[value.Value]Value) bool {
	a, b := in.eval(x.X, env).Int, in.eval(x.Y, env).Int
	switch x.Pred {
	case enum.IPredEQ:
		return a == b
	case enum.IPredNE:
		return a != b
	case enum.IPredSLT:
		return a < b
	case enum.IPredSLE:
		return a <= b
	case enum.IPredSGT:
		return a > b
	case enum.IPredSGE:
		return a >= b
	default:
		panic(fmt.Sprintf("interp: unsupported icmp predicate %v", x.Pred))
	}
}

func (in *Interpreter) branch(term ir.Terminator, env map[value.Value]Value) (next *ir.Block, ret *int64, done bool) {
	switch t := term.(type) {
	case *ir.TermBr:
		return t.Target.(*ir.Block), nil, false
	case *ir.TermCondBr:
		if in.eval(t.Cond, env).Int != 0 {
			return t.TargetTrue.(*ir.Block), nil, false
		}
		return t.TargetFalse.(*ir.Block), nil, false
	case *ir.TermRet:
		if t.X == nil {
			return nil, nil, true
		}
		v := in.eval(t.X, env).Int
		return nil, &v, true
	default:
		panic(fmt.Sprintf("interp: unsupported terminator %T", term))
	}
}

func (in *Interpreter) eval(v value.Value, env map[value.Value]Value) Value {
	if val, ok := env[v]; ok {
		return val
	}
	if c, ok := v.(*constant.Int); ok {
		return intVal(c.X.Int64())
	}
	panic(fmt.Sprintf("interp: unbound value %v", v))
}
