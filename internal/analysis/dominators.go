// Package analysis implements the consumed, read-only oracles spec §4.B
// places outside the core's scope: dominance, loop structure, and alias
// analysis. AliasAnalysis is an interface (alias.go) that the passes
// consume; DominatorsTree and LoopAnalyzer are concrete types that the
// passes take directly. The implementations here are the module's own
// conservative defaults, needed to exercise and test the passes end to end.
package analysis

import "iropt/internal/ir"

// DominatorsTree answers Dominates/ImmediateDominator queries (spec §4.B).
type DominatorsTree struct {
	graph *ir.Graph
	idom  map[*ir.BasicBlock]*ir.BasicBlock
	rpo   []*ir.BasicBlock
	index map[*ir.BasicBlock]int
}

// NewDominatorsTree computes (or recomputes) dominance for g using the
// classic Cooper/Harvey/Kennedy iterative dataflow algorithm over RPO.
func NewDominatorsTree(g *ir.Graph) *DominatorsTree {
	d := &DominatorsTree{graph: g}
	d.Recompute()
	return d
}

// Recompute rebuilds the tree from the graph's current CFG. Call this
// after any pass that restructures control flow, unless that pass
// maintains the tree incrementally itself (spec §4.B).
func (d *DominatorsTree) Recompute() {
	rpo := d.graph.RPO()
	d.rpo = rpo
	d.index = make(map[*ir.BasicBlock]int, len(rpo))
	for i, b := range rpo {
		d.index[b] = i
	}

	idom := make(map[*ir.BasicBlock]*ir.BasicBlock, len(rpo))
	start := d.graph.Start()
	if start == nil {
		d.idom = idom
		return
	}
	idom[start] = start

	changed := true
	for changed {
		changed = false
		for _, b := range rpo {
			if b == start {
				continue
			}
			var newIdom *ir.BasicBlock
			for _, p := range b.Predecessors() {
				if idom[p] == nil {
					continue
				}
				if newIdom == nil {
					newIdom = p
					continue
				}
				newIdom = d.intersect(newIdom, p, idom)
			}
			if newIdom != nil && idom[b] != newIdom {
				idom[b] = newIdom
				changed = true
			}
		}
	}
	// The start block has no immediate dominator of its own.
	delete(idom, start)
	d.idom = idom
	d.writeBack()
}

func (d *DominatorsTree) writeBack() {
	// Expose idom on BasicBlock via the exported setter so other packages
	// (printer, bridge builder) can read ImmediateDominator() without
	// depending on this package.
	for b, im := range d.idom {
		ir.SetImmediateDominator(b, im)
	}
}

func (d *DominatorsTree) intersect(a, b *ir.BasicBlock, idom map[*ir.BasicBlock]*ir.BasicBlock) *ir.BasicBlock {
	for a != b {
		for d.index[a] > d.index[b] {
			a = idom[a]
		}
		for d.index[b] > d.index[a] {
			b = idom[b]
		}
	}
	return a
}

// ImmediateDominator returns b's immediate dominator, or nil for the start block.
func (d *DominatorsTree) ImmediateDominator(b *ir.BasicBlock) *ir.BasicBlock {
	return d.idom[b]
}

// Dominates reports whether a dominates b (every path from start to b
// passes through a). A block trivially dominates itself.
func (d *DominatorsTree) Dominates(a, b *ir.BasicBlock) bool {
	if a == b {
		return true
	}
	cur := d.idom[b]
	for cur != nil {
		if cur == a {
			return true
		}
		next := d.idom[cur]
		if next == cur {
			break
		}
		cur = next
	}
	return false
}

// DominatesInst reports whether producer's block dominates user's block,
// or producer's block equals user's block and producer occurs earlier in
// program order (the phi exception of invariant I1 is handled by callers,
// since a phi input is allowed to come from the corresponding predecessor
// without the usual dominance requirement).
func (d *DominatorsTree) DominatesInst(producer, user *ir.Inst) bool {
	pb, ub := producer.Block(), user.Block()
	if pb == nil || ub == nil {
		return false
	}
	if pb == ub {
		return instOrderBefore(pb, producer, user)
	}
	return d.Dominates(pb, ub)
}

func instOrderBefore(b *ir.BasicBlock, a, c *ir.Inst) bool {
	all := b.AllInsts()
	ai, ci := -1, -1
	for i, inst := range all {
		if inst == a {
			ai = i
		}
		if inst == c {
			ci = i
		}
	}
	return ai >= 0 && ci >= 0 && ai < ci
}
