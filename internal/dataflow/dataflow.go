// Package dataflow factors the worklist skeleton shared by the
// Modification (backward) and Elimination (forward) analyses: one
// generic fixpoint driver parametrized by direction, seed, join, and a
// per-block transfer closure. The only per-pass differences are which
// set is "in" vs "out" and the identity/monotonicity table baked into
// Transfer.
package dataflow

import (
	"github.com/llir/llvm/ir"

	"github.com/dshills/boundcheck/internal/cfg"
	"github.com/dshills/boundcheck/internal/predset"
)

// Direction selects which end of a block feeds the transfer function.
type Direction int

const (
	// Forward propagates from predecessors' OUT to a block's IN, then
	// IN through Transfer and GEN's OR to the block's OUT.
	Forward Direction = iota
	// Backward propagates from successors' IN to a block's OUT, then
	// OUT through Transfer and GEN's OR to the block's IN.
	Backward
)

// Transfer computes the effect of one block on an incoming predicate
// set, independent of GEN (GEN is folded in by the engine via OR).
type Transfer func(b *ir.Block, in predset.Set) predset.Set

// Result holds the two per-block maps every fixpoint produces:
// C_IN/C_OUT keyed by block, for whichever direction ran.
type Result struct {
	In  map[*ir.Block]predset.Set
	Out map[*ir.Block]predset.Set
}

// Run executes the shared worklist fixpoint over g's blocks.
//
// Forward:  In[b]  = AND(Out[p] for p in preds(b))
//
//	Out[b] = OR(gen[b], Transfer(b, In[b]))
//
// Backward: Out[b] = AND(In[s] for s in succs(b))
//
//	In[b]  = OR(gen[b], Transfer(b, Out[b]))
func Run(g *cfg.Graph, dir Direction, gen map[*ir.Block]predset.Set, transfer Transfer) Result {
	blocks := g.Blocks()
	in := make(map[*ir.Block]predset.Set, len(blocks))
	out := make(map[*ir.Block]predset.Set, len(blocks))
	for _, b := range blocks {
		in[b] = predset.Empty()
		out[b] = predset.Empty()
	}

	order := g.ReversePostorder()
	if dir == Backward {
		order = reversed(order)
	}

	changed := true
	for changed {
		changed = false
		for _, b := range order {
			switch dir {
			case Forward:
				preds := g.Preds(b)
				newIn := mergeAnd(preds, out)
				newOut := predset.Or(gen[b], transfer(b, newIn))
				if !newIn.Equal(in[b]) {
					in[b] = newIn
					changed = true
				}
				if !newOut.Equal(out[b]) {
					out[b] = newOut
					changed = true
				}
			default: // Backward
				succs := g.Succs(b)
				newOut := mergeAnd(succs, in)
				newIn := predset.Or(gen[b], transfer(b, newOut))
				if !newOut.Equal(out[b]) {
					out[b] = newOut
					changed = true
				}
				if !newIn.Equal(in[b]) {
					in[b] = newIn
					changed = true
				}
			}
		}
	}
	return Result{In: in, Out: out}
}

func mergeAnd(blocks []*ir.Block, m map[*ir.Block]predset.Set) predset.Set {
	if len(blocks) == 0 {
		return predset.Empty()
	}
	sets := make([]predset.Set, len(blocks))
	for i, b := range blocks {
		sets[i] = m[b]
	}
	return predset.And(sets...)
}

func reversed(bs []*ir.Block) []*ir.Block {
	out := make([]*ir.Block, len(bs))
	for i, b := range bs {
		out[len(bs)-1-i] = b
	}
	return out
}
