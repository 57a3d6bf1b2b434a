// Package cfg computes, once per procedure, the control-flow
// scaffolding every dataflow pass in this repository shares: block
// indices, predecessor lists, reverse-postorder numbering, dominator
// sets, and natural loops. It is grounded on the same bitset-per-block
// pattern the godoctor example's extras/cfg reaching-definitions pass
// uses for its GEN/KILL/IN/OUT sets, applied here to llir/llvm's
// *ir.Func/*ir.Block CFG instead of a Go AST CFG.
package cfg

import (
	"github.com/bits-and-blooms/bitset"
	"github.com/llir/llvm/ir"
)

// Graph is the precomputed CFG scaffolding for one *ir.Func.
type Graph struct {
	fn      *ir.Func
	index   map[*ir.Block]int
	blocks  []*ir.Block
	preds   [][]*ir.Block
	succs   [][]*ir.Block
	rpo     []*ir.Block
	doms    []*bitset.BitSet // doms[i] = set of blocks (by index) that dominate block i
}

// Build computes the Graph for fn. fn must have at least one block.
func Build(fn *ir.Func) *Graph {
	g := &Graph{fn: fn}
	g.blocks = append(g.blocks, fn.Blocks...)
	g.index = make(map[*ir.Block]int, len(g.blocks))
	for i, b := range g.blocks {
		g.index[b] = i
	}
	g.succs = make([][]*ir.Block, len(g.blocks))
	g.preds = make([][]*ir.Block, len(g.blocks))
	for i, b := range g.blocks {
		for _, s := range b.Term.Succs() {
			g.succs[i] = append(g.succs[i], s)
			if j, ok := g.index[s]; ok {
				g.preds[j] = append(g.preds[j], b)
			}
		}
	}
	g.rpo = reversePostorder(g.blocks, g.succs, g.index)
	g.computeDominators()
	return g
}

// Blocks returns the procedure's blocks in declaration order.
func (g *Graph) Blocks() []*ir.Block { return g.blocks }

// ReversePostorder returns blocks ordered for fast forward-fixpoint
// convergence (backward fixpoints use the reverse of this order).
func (g *Graph) ReversePostorder() []*ir.Block { return g.rpo }

// Succs returns b's successors.
func (g *Graph) Succs(b *ir.Block) []*ir.Block { return g.succs[g.index[b]] }

// Preds returns b's predecessors.
func (g *Graph) Preds(b *ir.Block) []*ir.Block { return g.preds[g.index[b]] }

func reversePostorder(blocks []*ir.Block, succs [][]*ir.Block, index map[*ir.Block]int) []*ir.Block {
	if len(blocks) == 0 {
		return nil
	}
	visited := make([]bool, len(blocks))
	var post []*ir.Block
	var visit func(i int)
	visit = func(i int) {
		if visited[i] {
			return
		}
		visited[i] = true
		for _, s := range succs[i] {
			if j, ok := index[s]; ok {
				visit(j)
			}
		}
		post = append(post, blocks[i])
	}
	visit(0)
	// Any block unreachable from the entry (shouldn't occur in valid IR,
	// but dataflow must still seed it) is appended in declaration order.
	for i, b := range blocks {
		if !visited[i] {
			post = append(post, b)
		}
	}
	rpo := make([]*ir.Block, len(post))
	for i, b := range post {
		rpo[len(post)-1-i] = b
	}
	return rpo
}

// computeDominators is the classical iterative fixpoint: dom(entry) =
// {entry}; dom(b) = {b} ∪ ∩(dom(p) for p in preds(b)), iterated to a
// fixpoint in reverse-postorder.
func (g *Graph) computeDominators() {
	n := len(g.blocks)
	g.doms = make([]*bitset.BitSet, n)
	full := bitset.New(uint(n))
	for i := 0; i < n; i++ {
		full.Set(uint(i))
	}
	for i := range g.doms {
		if i == 0 {
			s := bitset.New(uint(n))
			s.Set(0)
			g.doms[0] = s
		} else {
			g.doms[i] = full.Clone()
		}
	}
	changed := true
	for changed {
		changed = false
		for _, b := range g.rpo {
			i := g.index[b]
			if i == 0 {
				continue
			}
			preds := g.preds[i]
			var newDom *bitset.BitSet
			for _, p := range preds {
				pd := g.doms[g.index[p]]
				if newDom == nil {
					newDom = pd.Clone()
				} else {
					newDom = newDom.Intersection(pd)
				}
			}
			if newDom == nil {
				newDom = bitset.New(uint(n))
			}
			newDom.Set(uint(i))
			if !newDom.Equal(g.doms[i]) {
				g.doms[i] = newDom
				changed = true
			}
		}
	}
}

// Dominates reports whether a dominates b (every path from entry to b
// passes through a).
func (g *Graph) Dominates(a, b *ir.Block) bool {
	bi, ok := g.index[b]
	if !ok {
		return false
	}
	ai, ok := g.index[a]
	if !ok {
		return false
	}
	return g.doms[bi].Test(uint(ai))
}

// DominatesAll reports whether a dominates every block in bs.
func (g *Graph) DominatesAll(a *ir.Block, bs []*ir.Block) bool {
	for _, b := range bs {
		if !g.Dominates(a, b) {
			return false
		}
	}
	return true
}

// Loop is a natural loop: its header dominates every block in the
// loop, and the loop is the set of blocks that can reach the header
// without leaving through a block the header doesn't dominate.
type Loop struct {
	Header *ir.Block
	Blocks map[*ir.Block]bool
	Exits  []*ir.Block // blocks outside the loop that a loop block branches to
}

// NaturalLoops finds every back edge (a block -> header where header
// dominates the block) and computes the corresponding natural loop.
func (g *Graph) NaturalLoops() []*Loop {
	var loops []*Loop
	for _, b := range g.blocks {
		for _, s := range g.Succs(b) {
			if g.Dominates(s, b) {
				loops = append(loops, g.buildLoop(s, b))
			}
		}
	}
	return loops
}

func (g *Graph) buildLoop(header, latch *ir.Block) *Loop {
	members := map[*ir.Block]bool{header: true}
	stack := []*ir.Block{}
	if latch != header {
		members[latch] = true
		stack = append(stack, latch)
	}
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, p := range g.Preds(b) {
			if !members[p] {
				members[p] = true
				stack = append(stack, p)
			}
		}
	}
	loop := &Loop{Header: header, Blocks: members}
	for b := range members {
		for _, s := range g.Succs(b) {
			if !members[s] {
				loop.Exits = append(loop.Exits, s)
			}
		}
	}
	return loop
}

// DominatesAllExits reports whether b dominates every exit target of
// the loop.
func (g *Graph) DominatesAllExits(b *ir.Block, l *Loop) bool {
	return g.DominatesAll(b, l.Exits)
}

// NonDominating returns the loop blocks that do not dominate every
// exit of l. Checks in these blocks only execute on some iterations,
// so hoisting from them needs the converging-path argument in loopprop.
func (l *Loop) NonDominating(g *Graph) map[*ir.Block]bool {
	nd := make(map[*ir.Block]bool)
	for b := range l.Blocks {
		if !g.DominatesAll(b, l.Exits) {
			nd[b] = true
		}
	}
	return nd
}

// MemberBlocks returns the loop's blocks in the procedure's
// reverse-postorder, for deterministic iteration.
func (g *Graph) MemberBlocks(l *Loop) []*ir.Block {
	var out []*ir.Block
	for _, b := range g.rpo {
		if l.Blocks[b] {
			out = append(out, b)
		}
	}
	return out
}
