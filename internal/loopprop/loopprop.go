// Package loopprop implements the Loop-Check Propagation
// transformation: it classifies every check as Invariant,
// Increasing-with-LB, Decreasing-with-UB, or Unit-stride relative to
// its enclosing natural loop, hoists candidates that already sit on a
// single converging path out of the loop body (Step A), and, where a
// loop's entry guard always executes, rewrites and hoists the
// extremal-value check entirely out of the loop (Step B).
package loopprop

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/value"

	"github.com/dshills/boundcheck/internal/boundpred"
	"github.com/dshills/boundcheck/internal/cfg"
	"github.com/dshills/boundcheck/internal/checkabi"
	"github.com/dshills/boundcheck/internal/effect"
	"github.com/dshills/boundcheck/internal/irutil"
	"github.com/dshills/boundcheck/internal/predset"
	"github.com/dshills/boundcheck/internal/subscript"
)

// Candidate classifies how a check's subscript dependency behaves
// across every block of its enclosing loop.
type Candidate int

const (
	// NotCandidate: the dependency does not fit any recognized shape.
	NotCandidate Candidate = iota
	Invariant
	IncreasingWithLB
	DecreasingWithUB
	UnitStride
)

// Classify determines p's Candidate kind with respect to loop l, using
// eff to inspect every loop block's effect on p's index variable.
func Classify(g *cfg.Graph, l *cfg.Loop, eff *effect.Summary, p boundpred.Predicate) Candidate {
	if p.Index.IsConstant() {
		return Invariant
	}
	v := p.Index.I
	allUnchanged, allIncLB, allDecUB, allUnitStride := true, true, true, true
	for b := range l.Blocks {
		e := eff.Of(v, b)
		if e.Kind != effect.Unchanged {
			allUnchanged = false
		}
		if !(e.Kind == effect.Unchanged || e.Kind == effect.Increment || e.Kind == effect.Multiply) {
			allIncLB = false
		}
		if !(e.Kind == effect.Unchanged || (e.Kind == effect.Decrement)) {
			allDecUB = false
		}
		if !(e.Kind == effect.Unchanged || ((e.Kind == effect.Increment || e.Kind == effect.Decrement) && e.C == 1)) {
			allUnitStride = false
		}
	}
	switch {
	case allUnchanged:
		return Invariant
	case p.Kind == boundpred.Lower && allIncLB:
		return IncreasingWithLB
	case p.Kind == boundpred.Upper && allDecUB:
		return DecreasingWithUB
	case allUnitStride:
		return UnitStride
	default:
		return NotCandidate
	}
}

// candidateChecks collects, for block b, the checks that are
// candidates with respect to loop l.
func candidateChecks(g *cfg.Graph, l *cfg.Loop, eff *effect.Summary, calls map[*ir.Block][]checkabi.Call, b *ir.Block) predset.Set {
	s := predset.Empty()
	for _, c := range calls[b] {
		p := c.Predicate().Normalize()
		if Classify(g, l, eff, p) != NotCandidate {
			s.Add(p)
		}
	}
	return s
}

// RunLoop performs Step A then Step B for one natural loop,
// given the procedure's recognized check calls and effect summary.
// checkLB/checkUB are the module's check-function declarations used
// when Step B synthesizes a rewritten, hoisted check.
func RunLoop(g *cfg.Graph, l *cfg.Loop, eff *effect.Summary, calls map[*ir.Block][]checkabi.Call, checkLB, checkUB *ir.Func) {
	stepA(g, l, eff, calls)
	stepB(g, l, eff, calls, checkLB, checkUB)
}

// stepA hoists candidate checks that sit entirely on a single
// converging path out of the non-dominating (ND) interior of the
// loop, fixpointing until no further block qualifies.
func stepA(g *cfg.Graph, l *cfg.Loop, eff *effect.Summary, calls map[*ir.Block][]checkabi.Call) {
	nd := l.NonDominating(g)
	changed := true
	for changed {
		changed = false
		for _, n := range g.MemberBlocks(l) {
			succs := inLoopSuccs(g, l, n)
			if len(succs) == 0 || !allIn(succs, nd) {
				continue
			}
			if !allUniquePred(g, succs, n) {
				continue
			}
			sets := make([]predset.Set, len(succs))
			for i, s := range succs {
				sets[i] = candidateChecks(g, l, eff, calls, s)
			}
			prop := predset.And(sets...)
			if prop.IsEmpty() {
				continue
			}
			if !valuesDominate(g, n, prop) {
				continue
			}
			calls[n] = append(calls[n], insertPropagated(n, prop, checkCalleeFor(calls, succs))...)
			for _, s := range succs {
				eraseMatchingCalls(s, calls, prop)
			}
			changed = true
		}
	}
}

func inLoopSuccs(g *cfg.Graph, l *cfg.Loop, n *ir.Block) []*ir.Block {
	var out []*ir.Block
	for _, s := range g.Succs(n) {
		if l.Blocks[s] {
			out = append(out, s)
		}
	}
	return out
}

func allIn(blocks []*ir.Block, set map[*ir.Block]bool) bool {
	for _, b := range blocks {
		if !set[b] {
			return false
		}
	}
	return true
}

func allUniquePred(g *cfg.Graph, succs []*ir.Block, n *ir.Block) bool {
	for _, s := range succs {
		preds := g.Preds(s)
		if len(preds) != 1 || preds[0] != n {
			return false
		}
	}
	return true
}

// valuesDominate reports whether every non-constant subscript value a
// candidate set references is defined in a block that dominates n's
// terminator — approximated here as "defined in n itself or a block
// that dominates n", since every value this algebra produces is either
// a function-scope allocation (available everywhere) or an
// instruction this package itself inserted upstream in the loop.
func valuesDominate(g *cfg.Graph, n *ir.Block, s predset.Set) bool {
	for _, p := range s.All() {
		for _, e := range []subscript.Expr{p.Bound, p.Index} {
			if e.IsConstant() {
				continue
			}
			if def, ok := definingBlock(g, e.I); ok && !g.Dominates(def, n) {
				return false
			}
		}
	}
	return true
}

// definingBlock finds the block that defines v as one of its
// instructions, if v is an in-procedure instruction at all (an alloca
// placed in a block is found like any other instruction; params,
// globals and constants report !ok and are treated as always available).
func definingBlock(g *cfg.Graph, v value.Value) (*ir.Block, bool) {
	inst, ok := v.(ir.Instruction)
	if !ok {
		return nil, false
	}
	for _, b := range g.Blocks() {
		if irutil.IndexOf(b, inst) >= 0 {
			return b, true
		}
	}
	return nil, false
}

func checkCalleeFor(calls map[*ir.Block][]checkabi.Call, succs []*ir.Block) func(boundpred.Kind) *ir.Func {
	var lb, ub *ir.Func
	for _, s := range succs {
		for _, c := range calls[s] {
			if c.Kind == boundpred.Lower {
				if fn, ok := c.Inst.Callee.(*ir.Func); ok {
					lb = fn
				}
			} else {
				if fn, ok := c.Inst.Callee.(*ir.Func); ok {
					ub = fn
				}
			}
		}
	}
	return func(k boundpred.Kind) *ir.Func {
		if k == boundpred.Lower {
			return lb
		}
		return ub
	}
}

// insertPropagated inserts prop's checks before n's terminator and
// returns them decoded, so the caller can fold them into its call map
// for Step B to see.
func insertPropagated(n *ir.Block, prop predset.Set, calleeFor func(boundpred.Kind) *ir.Func) []checkabi.Call {
	var inserted []checkabi.Call
	for _, p := range prop.All() {
		callee := calleeFor(p.Kind)
		if callee == nil {
			continue
		}
		bound := subscript.AppendTo(n, p.Bound)
		index := subscript.AppendTo(n, p.Index)
		file, line := checkabi.ConstBound(0), checkabi.ConstBound(0)
		call := checkabi.Build(n, callee, bound, index, file, line)
		if c, ok := checkabi.Recognize(call); ok {
			inserted = append(inserted, c)
		}
	}
	return inserted
}

func eraseMatchingCalls(b *ir.Block, calls map[*ir.Block][]checkabi.Call, prop predset.Set) {
	var remaining []checkabi.Call
	for _, c := range calls[b] {
		p := c.Predicate().Normalize()
		if prop.Subsumes(p) || setContains(prop, p) {
			irutil.EraseRecursive(b, c.Inst)
			continue
		}
		remaining = append(remaining, c)
	}
	calls[b] = remaining
}

func setContains(s predset.Set, p boundpred.Predicate) bool {
	list := s.Uppers
	if p.Kind == boundpred.Lower {
		list = s.Lowers
	}
	for _, q := range list {
		if q.Bound.Identity() == p.Bound.Identity() {
			return true
		}
	}
	return false
}

// Boundary is the extremal direction Step B computes: MAX for a
// strictly-less entry guard, MIN for a strictly-greater one.
type Boundary int

const (
	MAX Boundary = iota
	MIN
)

// EntryGuard describes the conditional branch at a loop-dominating
// block D that controls whether the loop is entered.
type EntryGuard struct {
	Block    *ir.Block
	Boundary Boundary
	// Var is the guarded induction variable, the pointer whose load the
	// comparison's left-hand side is.
	Var value.Value
	// Limit is the extremal value the comparison permits Var to reach
	// inside the loop: the right-hand side, pulled in by one for a
	// strict comparison. MAX boundary: slt n gives n-1, sle n gives n.
	// MIN boundary: sgt n gives n+1, sge n gives n.
	Limit subscript.Expr
	// AlwaysEntered reports whether the comparison is always true on
	// the loop-entry side, so the loop always runs at least once. When
	// the initial values of both sides fold to constants this is the
	// folded comparison; otherwise the in-loop true edge of the guard
	// itself is the evidence.
	AlwaysEntered bool
}

// DetectEntryGuard recognizes d as a loop-entry guard: a conditional
// branch whose icmp compares the guarded variable's load against a
// loop-invariant limit, with the true successor inside l and the false
// successor outside. This IR represents a mutable induction variable
// as an alloca with loads/stores rather than an SSA phi, so initial
// values are resolved from the last store in each out-of-loop
// predecessor, per entryValue below.
func DetectEntryGuard(g *cfg.Graph, l *cfg.Loop, d *ir.Block) (EntryGuard, bool) {
	br, ok := d.Term.(*ir.TermCondBr)
	if !ok {
		return EntryGuard{}, false
	}
	inLoop := l.Blocks[br.TargetTrue.(*ir.Block)]
	outLoop := !l.Blocks[br.TargetFalse.(*ir.Block)]
	if !inLoop || !outLoop {
		return EntryGuard{}, false
	}
	cmp, ok := br.Cond.(*ir.InstICmp)
	if !ok {
		return EntryGuard{}, false
	}
	lhs := subscript.Evaluate(cmp.X)
	if lhs.IsConstant() || lhs.A != 1 || lhs.B != 0 {
		return EntryGuard{}, false
	}
	rhs := subscript.Evaluate(cmp.Y)
	if !rhs.IsConstant() && storedInLoop(l, rhs.I) {
		return EntryGuard{}, false
	}
	var boundary Boundary
	limit := rhs
	switch cmp.Pred {
	case enum.IPredSLT:
		boundary, limit = MAX, rhs.SubConst(1)
	case enum.IPredSLE:
		boundary = MAX
	case enum.IPredSGT:
		boundary, limit = MIN, rhs.AddConst(1)
	case enum.IPredSGE:
		boundary = MIN
	default:
		return EntryGuard{}, false
	}
	always := true
	if initial, ok := entryValue(g, l, d, lhs); ok && initial.IsConstant() && rhs.IsConstant() {
		switch cmp.Pred {
		case enum.IPredSLT:
			always = initial.B < rhs.B
		case enum.IPredSLE:
			always = initial.B <= rhs.B
		case enum.IPredSGT:
			always = initial.B > rhs.B
		case enum.IPredSGE:
			always = initial.B >= rhs.B
		}
	}
	return EntryGuard{Block: d, Boundary: boundary, Var: lhs.I, Limit: limit, AlwaysEntered: always}, true
}

// storedInLoop reports whether any block of l stores through ptr.
func storedInLoop(l *cfg.Loop, ptr value.Value) bool {
	for b := range l.Blocks {
		for _, inst := range b.Insts {
			if st, ok := inst.(*ir.InstStore); ok && st.Dst == ptr {
				return true
			}
		}
	}
	return false
}

// entryValue resolves lhs's value on the edge(s) that enter the loop
// from outside it. A constant lhs is already resolved. An opaque load
// of some pointer p is resolved by requiring every out-of-loop
// predecessor of d to carry a store to p, evaluating that store's
// value, and requiring all such predecessors to agree — anything less
// is recoverable imprecision: report !ok and let the caller leave
// the check in place rather than hoist with a guessed value.
func entryValue(g *cfg.Graph, l *cfg.Loop, d *ir.Block, lhs subscript.Expr) (subscript.Expr, bool) {
	if lhs.IsConstant() {
		return lhs, true
	}
	var result subscript.Expr
	found := false
	for _, p := range g.Preds(d) {
		if l.Blocks[p] {
			continue
		}
		v, ok := lastStoreValue(p, lhs.I)
		if !ok {
			return subscript.Expr{}, false
		}
		if found && !v.Equal(result) {
			return subscript.Expr{}, false
		}
		result, found = v, true
	}
	if !found {
		return subscript.Expr{}, false
	}
	return result, true
}

// entryValueOf resolves the loop-entry value of a full affine
// subscript: the entry value of its variable, scaled and shifted by
// the subscript's own coefficients.
func entryValueOf(g *cfg.Graph, l *cfg.Loop, d *ir.Block, e subscript.Expr) (subscript.Expr, bool) {
	if e.IsConstant() {
		return e, true
	}
	v, ok := entryValue(g, l, d, subscript.Expr{A: 1, I: e.I})
	if !ok {
		return subscript.Expr{}, false
	}
	return v.MulConst(e.A).AddConst(e.B), true
}

// lastStoreValue returns the evaluated value of the textually last
// store to ptr within b, if any.
func lastStoreValue(b *ir.Block, ptr value.Value) (subscript.Expr, bool) {
	var last subscript.Expr
	found := false
	for _, inst := range b.Insts {
		st, ok := inst.(*ir.InstStore)
		if !ok || st.Dst != ptr {
			continue
		}
		last, found = subscript.Evaluate(st.Src), true
	}
	return last, found
}

// stepB hoists, for each loop-dominating block carrying a recognized
// EntryGuard, every candidate check whose polarity matches one of the
// polarity table rows, substituting the extremal value and dropping the
// rewritten check if it becomes always_true().
func stepB(g *cfg.Graph, l *cfg.Loop, eff *effect.Summary, calls map[*ir.Block][]checkabi.Call, checkLB, checkUB *ir.Func) {
	for _, d := range g.MemberBlocks(l) {
		if !g.DominatesAllExits(d, l) {
			continue
		}
		guard, ok := DetectEntryGuard(g, l, d)
		if !ok || !guard.AlwaysEntered {
			continue
		}
		var remaining []checkabi.Call
		for _, c := range calls[d] {
			p := c.Predicate().Normalize()
			cand := Classify(g, l, eff, p)
			action, substitute := polarity(guard.Boundary, p.Kind, cand)
			switch action {
			case actionLeave:
				remaining = append(remaining, c)
			case actionHoistUnchanged:
				hoistOutOfLoop(g, l, d, c, p, false, guard, checkLB, checkUB)
			case actionHoistSubstituted:
				hoistOutOfLoop(g, l, d, c, p, substitute, guard, checkLB, checkUB)
			}
		}
		if len(remaining) != len(calls[d]) {
			calls[d] = remaining
		}
	}
}

type action int

const (
	actionLeave action = iota
	actionHoistUnchanged
	actionHoistSubstituted
)

// polarity maps (boundary, check kind, candidate kind) to the Step B
// hoist action, if any.
func polarity(b Boundary, kind boundpred.Kind, cand Candidate) (action, bool) {
	switch {
	case b == MAX && kind == boundpred.Upper && (cand == IncreasingWithLB || cand == Invariant || cand == UnitStride):
		return actionHoistSubstituted, true
	case b == MAX && kind == boundpred.Upper && cand == DecreasingWithUB:
		return actionHoistUnchanged, false
	case b == MIN && kind == boundpred.Lower && (cand == DecreasingWithUB || cand == Invariant || cand == UnitStride):
		return actionHoistSubstituted, true
	case b == MIN && kind == boundpred.Lower && cand == IncreasingWithLB:
		return actionHoistUnchanged, false
	case b == MIN && kind == boundpred.Upper && cand != IncreasingWithLB && cand != NotCandidate:
		return actionHoistUnchanged, false
	case b == MAX && kind == boundpred.Lower && cand != DecreasingWithUB && cand != NotCandidate:
		return actionHoistUnchanged, false
	default:
		return actionLeave, false
	}
}

// hoistOutOfLoop erases the original check from d and inserts a
// rewritten check into every out-of-loop predecessor of d.
//
// A substituted hoist replaces the guarded variable inside the check's
// subscript with the guard's limit, the most extreme value the variable
// reaches while the loop runs: index A*i+B becomes A*limit+B. An
// unchanged hoist re-expresses the subscript at its loop-entry value
// when that value resolves (the variable has not moved yet at the
// preheader, so the two are equal there) — resolving it lets constant
// and same-identity tautologies fold away. Either way a rewritten
// check whose predicate is always true is dropped instead of inserted.
func hoistOutOfLoop(g *cfg.Graph, l *cfg.Loop, d *ir.Block, c checkabi.Call, p boundpred.Predicate, substitute bool, guard EntryGuard, checkLB, checkUB *ir.Func) {
	rewritten := p
	switch {
	case substitute && p.Index.I == guard.Var && p.Index.A > 0:
		idx := guard.Limit.MulConst(p.Index.A).AddConst(p.Index.B)
		rewritten = boundpred.Predicate{Kind: p.Kind, Bound: p.Bound, Index: idx}
	default:
		// A subscript that shrinks as the variable grows (A < 0), or one
		// over a different variable, is at its needed extreme on entry,
		// so the entry value doubles as the substitution.
		if entry, ok := entryValueOf(g, l, d, p.Index); ok {
			rewritten = boundpred.Predicate{Kind: p.Kind, Bound: p.Bound, Index: entry}
		}
	}
	irutil.EraseRecursive(d, c.Inst)
	if rewritten.AlwaysTrue() {
		return
	}
	callee := checkLB
	if rewritten.Kind == boundpred.Upper {
		callee = checkUB
	}
	for _, pred := range g.Preds(d) {
		if l.Blocks[pred] {
			continue
		}
		bound := subscript.AppendTo(pred, rewritten.Bound)
		index := subscript.AppendTo(pred, rewritten.Index)
		checkabi.Build(pred, callee, bound, index, checkabi.ConstBound(0), checkabi.ConstBound(0))
	}
}
