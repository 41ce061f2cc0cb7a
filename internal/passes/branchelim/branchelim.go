// Package branchelim implements component D, spec §4.D: folding
// statically-resolvable IfImm terminators and pruning the dead control
// flow that folding exposes.
//
// IfImm's ComparePayload is read in one of two shapes: HasImm (one input,
// tested against Imm under CC — "IfImm tests one input against an
// immediate under a condition code", spec §3) or, after an E2/E5 collapse,
// two inputs compared directly under CC with Imm unused. Successors()[0]
// is always the true edge (spec §3).
package branchelim

import (
	"go.uber.org/zap"

	"iropt/internal/analysis"
	"iropt/internal/config"
	"iropt/internal/ir"
)

// Run executes one pass over g, folding every IfImm terminator it can
// prove and pruning the dead code that exposes. Returns whether anything
// changed (spec §6: "run_pass(...) -> bool").
func Run(g *ir.Graph, dom *analysis.DominatorsTree, opts config.Options, log *zap.Logger) bool {
	if !opts.BranchEliminationEnabled {
		return false
	}
	if log == nil {
		log = zap.NewNop()
	}

	changed := false
	for _, b := range g.RPO() {
		term := b.Terminator()
		if term == nil || term.Op() != ir.OpIfImm {
			continue
		}
		cp, _ := term.Payload().(*ir.ComparePayload)
		hadImm := cp != nil && cp.HasImm
		trueTaken, ok := evaluate(g, b, term, dom)
		if !ok {
			if hadImm && !cp.HasImm {
				changed = true // an E2/E5 collapse rewrote term in place
			}
			continue
		}
		log.Debug("branch folded", zap.Int("block", b.ID()), zap.Bool("true_taken", trueTaken))
		eliminateBranch(g, b, trueTaken)
		changed = true
	}

	if changed {
		unreachable := markUnreachableBlocks(g)
		disconnectBlocks(g, unreachable)
	}
	return changed
}

// evaluate tries E1, E6, E3, the E2/E5 collapses, then E4, and returns
// (trueEdgeTaken, ok). ok is false when an E2/E5 collapse has rewritten
// term in place, or when no rule applies — "the pass conservatively does
// nothing" (spec §4.D Failure semantics).
func evaluate(g *ir.Graph, b *ir.BasicBlock, term *ir.Inst, dom *analysis.DominatorsTree) (bool, bool) {
	cp, ok := term.Payload().(*ir.ComparePayload)
	if !ok {
		return false, false
	}

	if taken, ok := evalE1(term, cp); ok {
		return taken, true
	}
	if taken, ok := evalE6(term, cp); ok {
		return taken, true
	}
	if taken, ok := evalE3(term, cp); ok {
		return taken, true
	}
	if collapseE2(g, term, cp) {
		return false, false // rewritten in place; re-evaluated on a later RPO pass/Cleanup
	}
	if collapseE5(g, term, cp) {
		return false, false
	}
	if taken, ok := evalE4(b, term, cp, dom); ok {
		return taken, true
	}
	return false, false
}

// E1: the tested value(s) are all constants — evaluate statically.
func evalE1(term *ir.Inst, cp *ir.ComparePayload) (bool, bool) {
	if cp.HasImm {
		v := term.InputAt(0)
		if !isConst(v) {
			return false, false
		}
		return evalCC(cp.CC, constVal(v), cp.Imm), true
	}
	x, y := term.InputAt(0), term.InputAt(1)
	if !isConst(x) || !isConst(y) {
		return false, false
	}
	return evalCC(cp.CC, constVal(x), constVal(y)), true
}

// E6: two-operand compare of an operand against itself folds to a constant.
func evalE6(term *ir.Inst, cp *ir.ComparePayload) (bool, bool) {
	if cp.HasImm {
		return false, false
	}
	x, y := term.InputAt(0), term.InputAt(1)
	if x == nil || x != y {
		return false, false
	}
	return evalCC(cp.CC, 0, 0), true
}

// E3: Compare(LenArray(r), 0, cc) folds via the len>=0 invariant.
func evalE3(term *ir.Inst, cp *ir.ComparePayload) (bool, bool) {
	var lenInst *ir.Inst
	cc := cp.CC
	switch {
	case cp.HasImm && cp.Imm == 0 && isLenArray(term.InputAt(0)):
		lenInst = term.InputAt(0)
	case !cp.HasImm && isLenArray(term.InputAt(0)) && isConstZero(term.InputAt(1)):
		lenInst = term.InputAt(0)
	case !cp.HasImm && isLenArray(term.InputAt(1)) && isConstZero(term.InputAt(0)):
		lenInst = term.InputAt(1)
		cc = cc.Swap()
	default:
		return false, false
	}
	_ = lenInst
	switch cc {
	case ir.CC_LT:
		return false, true // len < 0 is always false
	case ir.CC_GE:
		return true, true // len >= 0 is always true
	default:
		return false, false
	}
}

// E2: Compare(Cmp(x,y), 0, cc_outer) collapses to a direct two-operand
// compare on (x, y). Mutates term in place; returns whether it fired.
func collapseE2(g *ir.Graph, term *ir.Inst, cp *ir.ComparePayload) bool {
	if !cp.HasImm || cp.Imm != 0 {
		return false
	}
	if cp.CC != ir.CC_EQ && cp.CC != ir.CC_NE {
		return false
	}
	inner := term.InputAt(0)
	if inner == nil || inner.Op() != ir.OpCompare {
		return false
	}
	innerPayload, ok := inner.Payload().(*ir.ComparePayload)
	if !ok || innerPayload.HasImm {
		return false
	}
	x, y := inner.InputAt(0), inner.InputAt(1)
	if x == nil || y == nil {
		return false
	}
	resultCC := innerPayload.CC
	if x.Type().IsUnsigned() {
		resultCC = ir.UnsignedOf(resultCC)
	}
	if cp.CC == ir.CC_EQ { // "Cmp result == 0" means the inner comparison was false
		resultCC = resultCC.Invert()
	}
	cp.HasImm = false
	cp.CC = resultCC
	setTwoOperandInputs(g, term, x, y)
	return true
}

// E5: AndZero(x, y) cc 0 rewrites to a bit-test compare on (x, y) directly.
func collapseE5(g *ir.Graph, term *ir.Inst, cp *ir.ComparePayload) bool {
	if !cp.HasImm || cp.Imm != 0 {
		return false
	}
	if cp.CC != ir.CC_EQ && cp.CC != ir.CC_NE {
		return false
	}
	inner := term.InputAt(0)
	if inner == nil || inner.Op() != ir.OpAndZero {
		return false
	}
	x, y := inner.InputAt(0), inner.InputAt(1)
	if x == nil || y == nil {
		return false
	}
	tst := ir.CC_TST_EQ
	if cp.CC == ir.CC_NE {
		tst = ir.CC_TST_NE
	}
	cp.HasImm = false
	cp.CC = tst
	setTwoOperandInputs(g, term, x, y)
	return true
}

// setTwoOperandInputs rewrites a terminator from its 1-input-vs-immediate
// shape to a direct 2-input compare, preserving correct user back-edges.
func setTwoOperandInputs(g *ir.Graph, term *ir.Inst, x, y *ir.Inst) {
	g.SetInput(term, 0, x)
	g.AppendInput(term, y, y.Type())
}

// E4: a dominating IfImm over the same operands with a known outcome on
// this path implies this branch's outcome. This is a small implication
// table, not an exhaustive one — unhandled (cc_d, cc) pairs are left for
// the conservative default (spec §4.D: "the pass conservatively does
// nothing").
func evalE4(b *ir.BasicBlock, term *ir.Inst, cp *ir.ComparePayload, dom *analysis.DominatorsTree) (bool, bool) {
	if cp.HasImm {
		return false, false
	}
	x, y := term.InputAt(0), term.InputAt(1)
	if x == nil || y == nil {
		return false, false
	}

	for cur := dom.ImmediateDominator(b); cur != nil; cur = dom.ImmediateDominator(cur) {
		dterm := cur.Terminator()
		if dterm == nil || dterm.Op() != ir.OpIfImm || dterm == term {
			continue
		}
		dcp, ok := dterm.Payload().(*ir.ComparePayload)
		if !ok || dcp.HasImm {
			continue
		}
		dx, dy := dterm.InputAt(0), dterm.InputAt(1)
		sameOrder := dx == x && dy == y
		swapped := dx == y && dy == x
		if !sameOrder && !swapped {
			continue
		}
		ccD := dcp.CC
		if swapped {
			ccD = ccD.Swap()
		}

		// Which edge of cur's branch lies on the path to b?
		outcome, known := pathOutcome(cur, b, dom)
		if !known {
			continue
		}
		if !outcome {
			ccD = ccD.Invert()
		}
		if taken, ok := implies(ccD, cp.CC); ok {
			return taken, true
		}
	}
	return false, false
}

// pathOutcome reports which edge of cur (true=succ[0], false=succ[1]) the
// block b is reached through, when cur has exactly the two IfImm successors
// and one of them (transitively, via dominance) is the sole way to reach b.
func pathOutcome(cur, b *ir.BasicBlock, dom *analysis.DominatorsTree) (bool, bool) {
	succs := cur.Successors()
	if len(succs) != 2 {
		return false, false
	}
	trueDominates := dom.Dominates(succs[0], b)
	falseDominates := dom.Dominates(succs[1], b)
	if trueDominates == falseDominates {
		return false, false
	}
	return trueDominates, true
}

// implies derives this branch's outcome from a dominating condition known
// to be ccD-true, for same/opposite relational pairs on identical operands.
func implies(ccD, cc ir.ConditionCode) (bool, bool) {
	if ccD == cc {
		return true, true
	}
	if ccD == cc.Invert() {
		return false, true
	}
	switch {
	case ccD == ir.CC_LT && cc == ir.CC_GE:
		return false, true
	case ccD == ir.CC_GE && cc == ir.CC_LT:
		return false, true
	case ccD == ir.CC_GT && cc == ir.CC_LE:
		return false, true
	case ccD == ir.CC_LE && cc == ir.CC_GT:
		return false, true
	}
	return false, false
}

func evalCC(cc ir.ConditionCode, a, b int64) bool {
	switch cc {
	case ir.CC_EQ, ir.CC_TST_EQ:
		return a == b
	case ir.CC_NE, ir.CC_TST_NE:
		return a != b
	case ir.CC_LT, ir.CC_B:
		return a < b
	case ir.CC_LE, ir.CC_BE:
		return a <= b
	case ir.CC_GT, ir.CC_A:
		return a > b
	case ir.CC_GE, ir.CC_AE:
		return a >= b
	}
	return false
}

func isConst(i *ir.Inst) bool { return i != nil && i.Op() == ir.OpConstant }
func isConstZero(i *ir.Inst) bool { return isConst(i) && constVal(i) == 0 }
func isLenArray(i *ir.Inst) bool  { return i != nil && i.Op() == ir.OpLenArray }

func constVal(i *ir.Inst) int64 {
	if p, ok := i.Payload().(*ir.ConstantPayload); ok {
		return p.Value
	}
	return 0
}

// eliminateBranch disconnects the dead edge of an IfImm block and replaces
// its terminator with an unconditional Goto to the surviving successor
// (spec §4.D: "eliminate_branch(if_block, dead_successor) disconnects the
// edge").
func eliminateBranch(g *ir.Graph, b *ir.BasicBlock, trueTaken bool) {
	succs := b.Successors()
	deadIdx := 1
	if trueTaken {
		deadIdx = 0
	}
	dead := succs[deadIdx]

	predIdx := dead.PredIndex(b)
	g.RemoveEdge(b, dead)
	if predIdx >= 0 {
		for _, phi := range dead.Phis() {
			if predIdx < phi.NumInputs() {
				g.RemoveInputAt(phi, predIdx)
			}
		}
	}

	term := b.Terminator()
	pc := term.PC()
	g.Erase(term)
	g.Append(b, g.NewInst(ir.OpGoto, ir.TypeVoid, nil, pc))
}

// markUnreachableBlocks returns every block no longer reachable from
// start, excluding OSR-entry blocks (spec §4.D: "OSR-entry blocks are
// never eliminated even when proven dead, to preserve deopt targets").
func markUnreachableBlocks(g *ir.Graph) []*ir.BasicBlock {
	reached := map[*ir.BasicBlock]bool{}
	var stack []*ir.BasicBlock
	if start := g.Start(); start != nil {
		stack = append(stack, start)
	}
	for len(stack) > 0 {
		n := len(stack) - 1
		b := stack[n]
		stack = stack[:n]
		if reached[b] {
			continue
		}
		reached[b] = true
		stack = append(stack, b.Successors()...)
	}

	var unreachable []*ir.BasicBlock
	for _, b := range g.Blocks() {
		if reached[b] || b.Flags().Has(ir.BlockOSREntry) {
			continue
		}
		unreachable = append(unreachable, b)
	}
	return unreachable
}

// disconnectBlocks deletes every block in unreachable in a single batch:
// first severing all their outgoing edges (dropping the corresponding phi
// input in each surviving successor), then erasing their instructions and
// removing the blocks themselves (spec §4.D: "disconnect_blocks deletes
// instructions and blocks in a single batch, rewriting phis in the
// surviving successor to drop the input corresponding to the removed
// predecessor").
func disconnectBlocks(g *ir.Graph, unreachable []*ir.BasicBlock) {
	if len(unreachable) == 0 {
		return
	}
	dead := map[*ir.BasicBlock]bool{}
	for _, b := range unreachable {
		dead[b] = true
	}

	for _, b := range unreachable {
		for _, s := range append([]*ir.BasicBlock{}, b.Successors()...) {
			predIdx := s.PredIndex(b)
			g.RemoveEdge(b, s)
			if predIdx >= 0 && !dead[s] {
				for _, phi := range s.Phis() {
					if predIdx < phi.NumInputs() {
						g.RemoveInputAt(phi, predIdx)
					}
				}
			}
		}
	}

	for _, b := range unreachable {
		g.EraseDeadBlock(b)
	}
	g.InvalidateRPO()
}
