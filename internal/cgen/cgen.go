// Package cgen scans a procedure and recognizes existing
// checkLowerBound/checkUpperBound calls, building the C_GEN map
// the Modification and Elimination analyses both consume, and the list
// of variables referenced in a subscript that drives per-variable
// iteration. Variables that appear only in a bound are not listed.
package cgen

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/value"

	"github.com/dshills/boundcheck/internal/checkabi"
	"github.com/dshills/boundcheck/internal/predset"
)

// Maps is the per-variable, per-block C_GEN table plus the variable
// inventory the driver iterates over.
type Maps struct {
	// ByVar[i][b] is the set of predicates block b locally asserts
	// about index variable i.
	ByVar map[value.Value]map[*ir.Block]predset.Set
	// Vars lists every variable seen as a non-constant subscript,
	// stable-ordered by first occurrence.
	Vars []value.Value
	// Calls lists every recognized check call, in textual block order,
	// for components that need to revisit them directly.
	Calls []checkabi.Call
	// CallsByBlock indexes Calls by the block each was found in.
	CallsByBlock map[*ir.Block][]checkabi.Call
}

// Build scans fn once, recognizing check calls in every block and
// classifying each by the identity of its index operand.
func Build(fn *ir.Func) *Maps {
	m := &Maps{
		ByVar:        make(map[value.Value]map[*ir.Block]predset.Set),
		CallsByBlock: make(map[*ir.Block][]checkabi.Call),
	}
	seen := make(map[value.Value]bool)
	for _, b := range fn.Blocks {
		for _, inst := range b.Insts {
			call, ok := checkabi.Recognize(inst)
			if !ok {
				continue
			}
			m.Calls = append(m.Calls, call)
			m.CallsByBlock[b] = append(m.CallsByBlock[b], call)
			pred := call.Predicate()
			if pred.Index.IsConstant() {
				continue // constant subscripts drive no per-variable dataflow
			}
			v := pred.Index.I
			if !seen[v] {
				seen[v] = true
				m.Vars = append(m.Vars, v)
				m.ByVar[v] = make(map[*ir.Block]predset.Set)
			}
			s := m.ByVar[v][b]
			s.Add(pred)
			m.ByVar[v][b] = s
		}
	}
	return m
}

// For returns the C_GEN map for variable v, defaulting every block not
// otherwise present to Empty via the caller's own map access (Go's nil
// map read returns the zero value, which predset treats as Empty).
func (m *Maps) For(v value.Value) map[*ir.Block]predset.Set {
	return m.ByVar[v]
}

// CallsIn returns the recognized checks belonging to block b, in
// textual order.
func (m *Maps) CallsIn(b *ir.Block) []checkabi.Call {
	return m.CallsByBlock[b]
}
