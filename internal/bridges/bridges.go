// Package bridges implements component C from spec §4.C:
// SaveStateBridgesBuilder, which repairs reference liveness across
// SaveStates after a pass moves, clones, or rewires a use (invariant I3).
package bridges

import (
	"iropt/internal/analysis"
	"iropt/internal/ir"
)

// Builder is spec §4.C's SaveStateBridgesBuilder. Every operation is a
// no-op when graph.BytecodeMode is set (spec §4.C: "no-ops in the
// 'bytecode optimizer' mode... where bridges are unused").
type Builder struct {
	graph *ir.Graph
	dom   *analysis.DominatorsTree
}

// New builds a Builder over graph, using dom for FixBlock's stale-bridge
// cleanup (dominance of a bridge's producer over the SaveState it's
// attached to). Callers that restructure the CFG between FixBlock calls
// must recompute dom first (analysis.DominatorsTree.Recompute).
func New(graph *ir.Graph, dom *analysis.DominatorsTree) *Builder {
	return &Builder{graph: graph, dom: dom}
}

// AddBridge walks predecessor paths from target's block back toward
// source, and at every SaveState found on those paths appends source as a
// bridge input if it isn't already a data-flow input (spec §4.C).
// Idempotent and cycle-safe via a generation-indexed marker.
func (b *Builder) AddBridge(source, target *ir.Inst) {
	if b.graph.BytecodeMode || source == nil || target == nil {
		return
	}
	marker := b.graph.NewMarkerHolder()
	srcBlock := source.Block()
	b.walk(target.Block(), source, srcBlock, marker)
}

func (b *Builder) walk(block *ir.BasicBlock, source *ir.Inst, stopAt *ir.BasicBlock, marker *ir.MarkerHolder) {
	if block == nil || marker.IsSetBlock(block) {
		return
	}
	marker.SetBlock(block)

	// In source's own block only the SaveStates after source lie on a path.
	after := block != stopAt || source.Op() == ir.OpPhi
	for _, inst := range block.AllInsts() {
		if inst == source {
			after = true
		}
		if !after || inst.Op() != ir.OpSaveState {
			continue
		}
		b.appendIfMissing(inst, source)
	}
	for _, phi := range block.Phis() {
		if phi.Op() == ir.OpSaveState {
			b.appendIfMissing(phi, source)
		}
	}

	if block == stopAt {
		return
	}
	if block.Flags().Has(ir.BlockStart) {
		return
	}
	for _, p := range block.Predecessors() {
		b.walk(p, source, stopAt, marker)
	}
}

func (b *Builder) appendIfMissing(saveState, source *ir.Inst) {
	for _, in := range saveState.Inputs() {
		if in.Value == source {
			return
		}
	}
	p, ok := saveState.Payload().(*ir.SaveStatePayload)
	if !ok {
		return
	}
	b.graph.AppendInput(saveState, source, source.Type())
	p.VRegs = append(p.VRegs, 0)
	p.BridgeCount++
}

// FixInstUsage invokes AddBridge(inst, user) for every user of inst. A phi
// user is handled specially: liveness is only required on the predecessor
// path the phi's input actually flows from, so the walk starts at that
// predecessor's terminator rather than at the phi's own block (spec §4.C:
// "in which case it recurses into the corresponding predecessor block").
func (b *Builder) FixInstUsage(inst *ir.Inst) {
	if b.graph.BytecodeMode {
		return
	}
	for _, u := range inst.Users() {
		user := u.User
		if user.Op() == ir.OpPhi {
			preds := user.Block().Predecessors()
			if u.Index < 0 || u.Index >= len(preds) {
				continue
			}
			pred := preds[u.Index]
			if term := pred.Terminator(); term != nil {
				b.AddBridge(inst, term)
			}
			continue
		}
		b.AddBridge(inst, user)
	}
}

// FixBlock applies FixInstUsage to every reference-producing instruction
// in block whose value is live out of it (approximated here as "has at
// least one user outside block", since a full liveness analysis is out of
// scope — spec §4.B places it among the consumed analyses), then drops
// from each SaveState in block the bridge inputs whose producer no longer
// dominates that SaveState (stale-bridge cleanup after motion).
func (b *Builder) FixBlock(block *ir.BasicBlock) {
	if b.graph.BytecodeMode {
		return
	}
	for _, inst := range block.AllInsts() {
		if !inst.Type().IsReference() {
			continue
		}
		if !liveOutOfBlock(inst, block) {
			continue
		}
		b.FixInstUsage(inst)
	}

	for _, inst := range block.AllInsts() {
		if inst.Op() != ir.OpSaveState {
			continue
		}
		b.dropStaleBridges(inst)
	}
}

func liveOutOfBlock(inst *ir.Inst, block *ir.BasicBlock) bool {
	for _, u := range inst.Users() {
		if u.User.Block() != block {
			return true
		}
		if u.User.Op() == ir.OpPhi {
			// A phi "use" logically belongs to the predecessor edge, which
			// is outside this block even though the phi itself lives here.
			return true
		}
	}
	return false
}

func (b *Builder) dropStaleBridges(saveState *ir.Inst) {
	p, ok := saveState.Payload().(*ir.SaveStatePayload)
	if !ok || p.BridgeCount == 0 {
		return
	}
	inputs := saveState.Inputs()
	n := len(inputs)
	bridgeStart := n - p.BridgeCount
	if bridgeStart < 0 {
		bridgeStart = 0
	}
	survivors := make([]*ir.Inst, 0, p.BridgeCount)
	for i := bridgeStart; i < n; i++ {
		producer := inputs[i].Value
		if producer != nil && b.dom.DominatesInst(producer, saveState) {
			survivors = append(survivors, producer)
		}
	}
	dropped := p.BridgeCount - len(survivors)
	if dropped <= 0 {
		return
	}
	b.graph.TrimInputs(saveState, bridgeStart)
	for _, producer := range survivors {
		b.graph.AppendInput(saveState, producer, producer.Type())
	}
	p.BridgeCount = len(survivors)
	if len(p.VRegs) >= dropped {
		p.VRegs = p.VRegs[:len(p.VRegs)-dropped]
	}
}
