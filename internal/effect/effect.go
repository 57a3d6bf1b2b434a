// Package effect summarizes, for a single scalar used as a subscript
// index, how a basic block's stores to that scalar mutate it. The
// summarizer is a pure function of the procedure; it never mutates the
// IR.
package effect

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/value"
)

// Kind is the shape of a block's last recorded store to an index
// variable.
type Kind int

const (
	// Unchanged: no store, or a store of i <- 1*i+0.
	Unchanged Kind = iota
	// Increment: i <- i + B, B > 0.
	Increment
	// Decrement: i <- i - B, B > 0 (stored as positive magnitude).
	Decrement
	// Multiply: i <- A*i, A > 1.
	Multiply
	// UnknownChanged: any other affine shape, or a non-affine store.
	UnknownChanged
)

func (k Kind) String() string {
	switch k {
	case Unchanged:
		return "unchanged"
	case Increment:
		return "increment"
	case Decrement:
		return "decrement"
	case Multiply:
		return "multiply"
	default:
		return "unknown-changed"
	}
}

// Effect is a block's summarized mutation of one index variable: a Kind
// plus the magnitude C relevant to Increment/Decrement/Multiply (zero
// and ignored otherwise).
type Effect struct {
	Kind Kind
	C    int64
}

// Summary maps a variable (identified by its defining value.Value, the
// allocation or pointer that is loaded as the index) to its per-block
// Effect.
type Summary struct {
	byVar map[value.Value]map[*ir.Block]Effect
}

// Summarize walks fn once and records, for every variable in vars and
// every block, the Effect derived from the last store to that variable
// observed in the block.
func Summarize(fn *ir.Func, vars []value.Value) *Summary {
	s := &Summary{byVar: make(map[value.Value]map[*ir.Block]Effect)}
	for _, v := range vars {
		s.byVar[v] = summarizeVar(fn, v)
	}
	return s
}

func summarizeVar(fn *ir.Func, v value.Value) map[*ir.Block]Effect {
	out := make(map[*ir.Block]Effect, len(fn.Blocks))
	for _, b := range fn.Blocks {
		out[b] = effectOfBlock(b, v)
	}
	return out
}

// effectOfBlock derives the block's effect on v from the last store
// whose pointer operand is v.
func effectOfBlock(b *ir.Block, v value.Value) Effect {
	var last *ir.InstStore
	for _, inst := range b.Insts {
		st, ok := inst.(*ir.InstStore)
		if !ok {
			continue
		}
		if st.Dst == v {
			last = st
		}
	}
	if last == nil {
		return Effect{Kind: Unchanged}
	}
	a, bConst, ok := affineStoreShape(last.Src, v)
	if !ok {
		return Effect{Kind: UnknownChanged}
	}
	switch {
	case a == 1 && bConst == 0:
		return Effect{Kind: Unchanged}
	case a == 1 && bConst > 0:
		return Effect{Kind: Increment, C: bConst}
	case a == 1 && bConst < 0:
		return Effect{Kind: Decrement, C: -bConst}
	case a > 1 && bConst == 0:
		return Effect{Kind: Multiply, C: a}
	default:
		return Effect{Kind: UnknownChanged}
	}
}

// affineStoreShape recognizes a stored value of the form A*(load v)+B,
// restricted to the forms relevant to the Effect table: a bare load of
// v (A=1,B=0), an add/sub of (load v) and a constant, or a mul of
// (load v) and a constant. Anything else reports ok=false, which the
// caller maps to UnknownChanged.
func affineStoreShape(src value.Value, v value.Value) (a, b int64, ok bool) {
	switch x := src.(type) {
	case *ir.InstLoad:
		if x.Src == v {
			return 1, 0, true
		}
		return 0, 0, false
	case *ir.InstAdd:
		if la, lok := loadOf(x.X, v); lok {
			if c, cok := asConst(x.Y); cok {
				return la, c, true
			}
		}
		if la, lok := loadOf(x.Y, v); lok {
			if c, cok := asConst(x.X); cok {
				return la, c, true
			}
		}
		return 0, 0, false
	case *ir.InstSub:
		if la, lok := loadOf(x.X, v); lok {
			if c, cok := asConst(x.Y); cok {
				return la, -c, true
			}
		}
		return 0, 0, false
	case *ir.InstMul:
		if _, lok := loadOf(x.X, v); lok {
			if c, cok := asConst(x.Y); cok {
				return c, 0, true
			}
		}
		if _, lok := loadOf(x.Y, v); lok {
			if c, cok := asConst(x.X); cok {
				return c, 0, true
			}
		}
		return 0, 0, false
	default:
		return 0, 0, false
	}
}

func loadOf(val value.Value, v value.Value) (int64, bool) {
	if ld, ok := val.(*ir.InstLoad); ok && ld.Src == v {
		return 1, true
	}
	return 0, false
}

func asConst(val value.Value) (int64, bool) {
	if c, ok := val.(*constant.Int); ok {
		return c.X.Int64(), true
	}
	return 0, false
}

// Of returns the Effect recorded for v in block b, or Unchanged if v
// was never summarized or b is unknown to the summary.
func (s *Summary) Of(v value.Value, b *ir.Block) Effect {
	byBlock, ok := s.byVar[v]
	if !ok {
		return Effect{Kind: Unchanged}
	}
	e, ok := byBlock[b]
	if !ok {
		return Effect{Kind: Unchanged}
	}
	return e
}
