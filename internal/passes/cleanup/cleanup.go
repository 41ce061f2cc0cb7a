// Package cleanup implements the "Cleanup" stage of Inlining's callee
// mini-pipeline (spec §4.F: "Cleanup → Peepholes → ObjectTypeCheckElimination
// → (on success) BranchElimination → Cleanup"). It is plain dead-code
// elimination: erase every instruction with no users and no observable
// effect, to a fixpoint, generalizing the DCE sweep internal/passes/lse
// already performs over its own eliminated loads/stores.
package cleanup

import "iropt/internal/ir"

// Run erases dead instructions in g until no further progress is made.
// Returns whether anything changed.
func Run(g *ir.Graph) bool {
	changed := false
	for {
		progressed := false
		for _, b := range g.Blocks() {
			insts := b.AllInsts()
			for i := len(insts) - 1; i >= 0; i-- {
				inst := insts[i]
				if inst.Block() == nil || inst.HasUsers() {
					continue
				}
				if !inst.IsPure() {
					continue
				}
				g.Erase(inst)
				progressed = true
			}
		}
		if !progressed {
			break
		}
		changed = true
	}
	return changed
}
