package ir

import "fmt"

// MethodDescriptor identifies the procedure a Graph represents (spec §3:
// "a method descriptor"). The core treats it as an opaque handle into the
// runtime interface (spec §6); only Name/IsExternal are consumed directly
// by the passes (admissibility checks, event labels).
type MethodDescriptor struct {
	Name       string
	Class      string
	External   bool
	ArgsCount  int
	RegsCount  int
	CodeSize   int
	Final      bool
	ClassFinal bool
}

// Graph is the procedure-level IR owner (spec §3). It owns every Inst and
// BasicBlock via a simple bump arena (stable pointers; Go's GC frees the
// backing storage once the Graph itself is collected — there is no manual
// free, matching "effectively unbounded within a procedure" from §7).
type Graph struct {
	Method MethodDescriptor
	Arch   string

	// BytecodeMode disables SaveStateBridgesBuilder and LSE/Inlining's
	// hoisting-through-bridges behavior (spec §4.C, §9: exposed as a
	// Graph-level flag rather than a pass option).
	BytecodeMode bool

	blocks []*BasicBlock
	start  *BasicBlock
	end    *BasicBlock

	instArena  []*Inst
	nextInstID int

	blockArena  []*BasicBlock
	nextBlockID int

	constants map[constKey]*Inst
	nullPtr   *Inst

	markerEpoch  uint64
	nextMarkerID int

	rpoCache []*BasicBlock
	rpoValid bool
}

type constKey struct {
	typ Type
	val int64
}

// NewGraph creates an empty graph for the given method. Callers add blocks
// with NewBlock and wire Start/End via SetStart/SetEnd.
func NewGraph(method MethodDescriptor, arch string) *Graph {
	return &Graph{
		Method:    method,
		Arch:      arch,
		constants: make(map[constKey]*Inst),
	}
}

func (g *Graph) Blocks() []*BasicBlock { return g.blocks }
func (g *Graph) Start() *BasicBlock    { return g.start }
func (g *Graph) End() *BasicBlock      { return g.end }

// NewBlock allocates a fresh, empty, unattached BasicBlock and adds it to
// the graph's block list (in the order created; callers that care about
// RPO order should call Graph.RPO after wiring edges).
func (g *Graph) NewBlock(label string) *BasicBlock {
	b := &BasicBlock{id: g.nextBlockID, label: label, rpoIndex: -1}
	g.nextBlockID++
	g.blockArena = append(g.blockArena, b)
	g.blocks = append(g.blocks, b)
	g.rpoValid = false
	return b
}

// SetStart designates b as the graph's unique start block (invariant: no
// predecessors).
func (g *Graph) SetStart(b *BasicBlock) {
	requireBlock(len(b.preds) == 0, ErrMalformedLoopHeader, b, "start block %d has predecessors", b.id)
	b.SetFlag(BlockStart)
	g.start = b
}

// SetEnd designates b as the graph's unique end block.
func (g *Graph) SetEnd(b *BasicBlock) {
	b.SetFlag(BlockEnd)
	g.end = b
}

// RemoveBlock detaches b from the graph's block list. Callers must have
// already disconnected all its edges and erased its instructions.
func (g *Graph) RemoveBlock(b *BasicBlock) {
	requireBlock(len(b.preds) == 0, ErrMalformedLoopHeader, b, "removing block %d with live predecessors", b.id)
	for idx, blk := range g.blocks {
		if blk == b {
			g.blocks = append(g.blocks[:idx], g.blocks[idx+1:]...)
			break
		}
	}
	g.rpoValid = false
}

// AddEdge wires an ordered successor edge from 'from' to 'to'. successors[0]
// is the true edge of a terminator if applicable (spec §3).
func (g *Graph) AddEdge(from, to *BasicBlock) {
	from.succs = append(from.succs, to)
	to.preds = append(to.preds, from)
	g.rpoValid = false
}

// RemoveEdge removes one from->to edge (the first occurrence on each side).
func (g *Graph) RemoveEdge(from, to *BasicBlock) {
	from.succs = removeOneBlock(from.succs, to)
	to.preds = removeOneBlock(to.preds, from)
	g.rpoValid = false
}

func removeOneBlock(list []*BasicBlock, target *BasicBlock) []*BasicBlock {
	for i, b := range list {
		if b == target {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

// SwapSuccessors swaps a block's two successors (used by branch inversion).
func (g *Graph) SwapSuccessors(b *BasicBlock) {
	require(len(b.succs) == 2, ErrBlockNotTerminated, "SwapSuccessors requires exactly two successors, block %d has %d", b.id, len(b.succs))
	b.succs[0], b.succs[1] = b.succs[1], b.succs[0]
}

// newInst allocates a fresh, unattached Inst with the given inputs. Users
// are registered as a side effect. The instruction is NOT yet live until
// inserted into a block via Append/Prepend/InsertAfter.
func (g *Graph) newInst(op Opcode, typ Type, payload Payload, pc uint32, inputs []Input) *Inst {
	inst := &Inst{id: g.nextInstID, op: op, typ: typ, payload: payload, pc: pc}
	g.nextInstID++
	g.instArena = append(g.instArena, inst)
	inst.inputs = make([]Input, len(inputs))
	copy(inst.inputs, inputs)
	for idx, in := range inst.inputs {
		if in.Value != nil {
			in.Value.users = append(in.Value.users, &Use{User: inst, Producer: in.Value, Index: idx})
		}
	}
	return inst
}

// NewInst is the public arena constructor: build an opcode's Inst without
// attaching it to any block yet (used when assembling a subgraph before
// splicing, e.g. by Inlining's callee construction).
func (g *Graph) NewInst(op Opcode, typ Type, payload Payload, pc uint32, inputs ...Input) *Inst {
	return g.newInst(op, typ, payload, pc, inputs)
}

// Const returns the (interned) constant instruction for (typ, val),
// creating it on first use (invariant I5).
func (g *Graph) Const(typ Type, val int64) *Inst {
	key := constKey{typ: typ, val: val}
	if c, ok := g.constants[key]; ok {
		return c
	}
	c := g.newInst(OpConstant, typ, &ConstantPayload{Value: val}, 0, nil)
	g.constants[key] = c
	return c
}

// NullPtr returns the graph's unique null-pointer instruction, creating it
// on first use (invariant I5).
func (g *Graph) NullPtr() *Inst {
	if g.nullPtr == nil {
		g.nullPtr = g.newInst(OpNullPtr, TypeReference, nil, 0, nil)
	}
	return g.nullPtr
}

// InternConstant folds src (a Constant or NullPtr belonging to a *different*
// graph, e.g. a callee being spliced in) into this graph's constant pool,
// replacing src's users with the interned instruction and returning it.
// Used by Inlining splicing (spec §4.F: "intern into the caller's constant
// pool (replacing users when an equal constant already exists)").
func (g *Graph) InternConstant(src *Inst) *Inst {
	var interned *Inst
	switch p := src.payload.(type) {
	case *ConstantPayload:
		interned = g.Const(src.typ, p.Value)
	default:
		if src.op == OpNullPtr {
			interned = g.NullPtr()
		} else {
			return src
		}
	}
	if interned != src {
		g.ReplaceUsers(src, interned)
	}
	return interned
}

func insertSlice(list []*Inst, idx int, inst *Inst) []*Inst {
	list = append(list, nil)
	copy(list[idx+1:], list[idx:])
	list[idx] = inst
	return list
}

// Append adds inst as the last non-phi instruction of b. If inst is a
// terminator, b must not already have one.
func (g *Graph) Append(b *BasicBlock, inst *Inst) {
	requireInst(inst.block == nil, ErrInstHasOtherOwner, inst, "inst %d already belongs to block %d", inst.id, inst.block0ID())
	if term := b.Terminator(); term != nil {
		requireBlock(!inst.IsTerminator(), ErrBlockNotTerminated, b, "block %d already terminated by %d", b.id, term.id)
	}
	inst.block = b
	b.insts = append(b.insts, inst)
}

// Prepend adds inst as the first non-phi instruction of b.
func (g *Graph) Prepend(b *BasicBlock, inst *Inst) {
	requireInst(inst.block == nil, ErrInstHasOtherOwner, inst, "inst %d already belongs to block %d", inst.id, inst.block0ID())
	inst.block = b
	b.insts = insertSlice(b.insts, 0, inst)
}

// InsertAfter inserts inst immediately after 'after' in after's block.
func (g *Graph) InsertAfter(after, inst *Inst) {
	requireInst(inst.block == nil, ErrInstHasOtherOwner, inst, "inst %d already belongs to block %d", inst.id, inst.block0ID())
	b := after.block
	requireInst(b != nil, ErrInstHasOtherOwner, after, "InsertAfter requires 'after' (%d) to be live", after.id)
	for idx, cur := range b.insts {
		if cur == after {
			inst.block = b
			b.insts = insertSlice(b.insts, idx+1, inst)
			return
		}
	}
	panic(&ContractViolation{Code: ErrInstHasOtherOwner, Message: fmt.Sprintf("inst %d not found in its own block %d", after.id, b.id)})
}

// InsertBefore inserts inst immediately before 'before' in before's block.
func (g *Graph) InsertBefore(before, inst *Inst) {
	requireInst(inst.block == nil, ErrInstHasOtherOwner, inst, "inst %d already belongs to block %d", inst.id, inst.block0ID())
	b := before.block
	requireInst(b != nil, ErrInstHasOtherOwner, before, "InsertBefore requires 'before' (%d) to be live", before.id)
	for idx, cur := range b.insts {
		if cur == before {
			inst.block = b
			b.insts = insertSlice(b.insts, idx, inst)
			return
		}
	}
	panic(&ContractViolation{Code: ErrInstHasOtherOwner, Message: fmt.Sprintf("inst %d not found in its own block %d", before.id, b.id)})
}

// AppendPhi adds a Phi to the end of b's phi list. The phi's inputs must
// already be sized to len(b.preds), positionally aligned.
func (g *Graph) AppendPhi(b *BasicBlock, phi *Inst) {
	requireInst(phi.op == OpPhi, ErrInstHasOtherOwner, phi, "AppendPhi called with non-phi inst %d", phi.id)
	requireInst(phi.block == nil, ErrInstHasOtherOwner, phi, "phi %d already belongs to block %d", phi.id, phi.block0ID())
	phi.block = b
	b.phis = append(b.phis, phi)
}

// NewPhi builds a Phi instruction for block b. inputs must have one entry
// per predecessor of b, in the same order as b.Predecessors().
func (g *Graph) NewPhi(b *BasicBlock, typ Type, inputs []Input) *Inst {
	require(len(inputs) == len(b.preds), ErrMalformedLoopHeader, "phi for block %d needs %d inputs, got %d", b.id, len(b.preds), len(inputs))
	phi := g.newInst(OpPhi, typ, &PhiPayload{}, 0, inputs)
	g.AppendPhi(b, phi)
	return phi
}

// Erase removes inst from its block and from the live set. inst must have
// no remaining users (spec §4.A: "erasing an instruction with remaining
// users is a contract violation").
func (g *Graph) Erase(inst *Inst) {
	requireInst(!inst.HasUsers(), ErrEraseWithUsers, inst, "erasing inst %d with %d remaining users", inst.id, len(inst.users))
	b := inst.block
	requireInst(b != nil, ErrEraseWithUsers, inst, "erasing inst %d that is not live", inst.id)

	// Detach from producers' user lists.
	for idx, in := range inst.inputs {
		if in.Value != nil {
			in.Value.users = removeUse(in.Value.users, inst, idx)
		}
	}

	if inst.op == OpPhi {
		b.phis = removeInst(b.phis, inst)
	} else {
		b.insts = removeInst(b.insts, inst)
	}
	inst.block = nil
}

func removeUse(list []*Use, user *Inst, index int) []*Use {
	for i, u := range list {
		if u.User == user && u.Index == index {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func removeInst(list []*Inst, target *Inst) []*Inst {
	for i, inst := range list {
		if inst == target {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

// SetInput rewrites inst's input at index k to producer, maintaining both
// sides' user lists. producer may be nil to clear a slot (rare; mostly
// used internally by ReplaceUsers / splicing).
func (g *Graph) SetInput(inst *Inst, k int, producer *Inst) {
	require(k >= 0 && k < len(inst.inputs), ErrInputNotDominating, "SetInput: index %d out of range for inst %d with %d inputs", k, inst.id, len(inst.inputs))
	old := inst.inputs[k].Value
	if old == producer {
		return
	}
	if old != nil {
		old.users = removeUse(old.users, inst, k)
	}
	inst.inputs[k].Value = producer
	if producer != nil {
		producer.users = append(producer.users, &Use{User: inst, Producer: producer, Index: k})
	}
}

// AppendInput appends a new input (used when growing a SaveState with a
// bridge, or a Phi/Call with an extra argument).
func (g *Graph) AppendInput(inst *Inst, producer *Inst, typ Type) int {
	idx := len(inst.inputs)
	inst.inputs = append(inst.inputs, Input{Value: producer, Type: typ})
	if producer != nil {
		producer.users = append(producer.users, &Use{User: inst, Producer: producer, Index: idx})
	}
	return idx
}

// TrimInputs shrinks inst's input list to newLen, detaching the removed
// inputs' user back-edges. Used by SaveStateBridgesBuilder to drop bridge
// inputs that no longer dominate their SaveState after motion.
func (g *Graph) TrimInputs(inst *Inst, newLen int) {
	require(newLen >= 0 && newLen <= len(inst.inputs), ErrInputNotDominating, "TrimInputs: newLen %d out of range for inst %d with %d inputs", newLen, inst.id, len(inst.inputs))
	for k := newLen; k < len(inst.inputs); k++ {
		if producer := inst.inputs[k].Value; producer != nil {
			producer.users = removeUse(producer.users, inst, k)
		}
	}
	inst.inputs = inst.inputs[:newLen]
}

// RemoveInputAt removes inst's input at index k, shifting later inputs
// down by one and re-indexing their Use back-edges to match. Used when
// dropping a phi's input for a predecessor edge that no longer exists
// (spec §4.D: "rewriting phis in the surviving successor to drop the
// input corresponding to the removed predecessor").
func (g *Graph) RemoveInputAt(inst *Inst, k int) {
	require(k >= 0 && k < len(inst.inputs), ErrInputNotDominating, "RemoveInputAt: index %d out of range for inst %d with %d inputs", k, inst.id, len(inst.inputs))
	if v := inst.inputs[k].Value; v != nil {
		v.users = removeUse(v.users, inst, k)
	}
	inst.inputs = append(inst.inputs[:k:k], inst.inputs[k+1:]...)
	for idx := k; idx < len(inst.inputs); idx++ {
		producer := inst.inputs[idx].Value
		if producer == nil {
			continue
		}
		for _, u := range producer.users {
			if u.User == inst && u.Index == idx+1 {
				u.Index = idx
				break
			}
		}
	}
}

// ReplaceUsers rewrites every use of old to use replacement instead,
// preserving each use's input index (spec §4.A). old keeps its own input
// list; callers typically Erase(old) afterward once it has no users left.
func (g *Graph) ReplaceUsers(old, replacement *Inst) {
	if old == replacement {
		return
	}
	users := old.users
	old.users = nil
	for _, u := range users {
		u.User.inputs[u.Index].Value = replacement
		u.Producer = replacement
		replacement.users = append(replacement.users, u)
	}
}

// block0ID is a defensive helper for error messages when inst.block may be nil.
func (i *Inst) block0ID() int {
	if i.block == nil {
		return -1
	}
	return i.block.id
}

// SplitBlock splits b immediately after 'after' (which may be nil to split
// before the first instruction), producing a new continuation block that
// inherits b's successors and loop membership; no block flag is copied to
// it. b keeps its predecessors and gains a single successor: the
// continuation.
func (g *Graph) SplitBlock(b *BasicBlock, after *Inst) *BasicBlock {
	cont := g.NewBlock(fmt.Sprintf("%s.cont", b.label))
	cont.loop = b.loop

	var tailInsts []*Inst
	if after == nil {
		tailInsts = b.insts
		b.insts = nil
	} else {
		idx := -1
		for i, inst := range b.insts {
			if inst == after {
				idx = i
				break
			}
		}
		requireBlock(idx >= 0, ErrInstHasOtherOwner, b, "split point not found in block %d", b.id)
		tailInsts = append([]*Inst{}, b.insts[idx+1:]...)
		b.insts = b.insts[:idx+1]
	}

	for _, inst := range tailInsts {
		inst.block = cont
	}
	cont.insts = tailInsts

	// Re-parent b's successors to cont.
	oldSuccs := b.succs
	b.succs = nil
	for _, s := range oldSuccs {
		for pi, p := range s.preds {
			if p == b {
				s.preds[pi] = cont
				break
			}
		}
		cont.succs = append(cont.succs, s)
	}
	g.AddEdge(b, cont)
	g.rpoValid = false
	return cont
}

// RPO returns the graph's blocks in reverse post-order, recomputing the
// cache if any CFG-mutating operation has happened since the last call.
func (g *Graph) RPO() []*BasicBlock {
	if g.rpoValid {
		return g.rpoCache
	}
	g.rpoCache = computeRPO(g)
	for idx, b := range g.rpoCache {
		b.rpoIndex = idx
	}
	g.rpoValid = true
	return g.rpoCache
}

// InvalidateRPO forces the next RPO() call to recompute, used by passes
// that mutate the CFG through means the Graph helpers above don't cover
// (e.g. bulk phi surgery during disconnect_blocks).
func (g *Graph) InvalidateRPO() { g.rpoValid = false }

func computeRPO(g *Graph) []*BasicBlock {
	if g.start == nil {
		return nil
	}
	visited := make(map[*BasicBlock]bool, len(g.blocks))
	var post []*BasicBlock
	var visit func(b *BasicBlock)
	visit = func(b *BasicBlock) {
		if visited[b] {
			return
		}
		visited[b] = true
		for _, s := range b.succs {
			visit(s)
		}
		post = append(post, b)
	}
	visit(g.start)
	// reverse
	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}

// CloneInst creates an unattached copy of inst: same opcode, type, and
// payload (shallow-copied), with fresh inputs pointing at the same
// producers as the original (spec §4.A: "clone"). Used by polymorphic
// inlining, which clones a call once per dispatched receiver class.
func (g *Graph) CloneInst(inst *Inst) *Inst {
	clone := g.newInst(inst.op, inst.typ, clonePayload(inst.payload), inst.pc, inst.inputs)
	clone.flags = inst.flags
	return clone
}

func clonePayload(p Payload) Payload {
	switch v := p.(type) {
	case *ConstantPayload:
		cp := *v
		return &cp
	case *ParameterPayload:
		cp := *v
		return &cp
	case *PhiPayload:
		cp := *v
		return &cp
	case *SaveStatePayload:
		cp := *v
		cp.VRegs = append([]int{}, v.VRegs...)
		return &cp
	case *CallPayload:
		cp := *v
		return &cp
	case *MemoryPayload:
		cp := *v
		return &cp
	case *CheckPayload:
		cp := *v
		return &cp
	case *ComparePayload:
		cp := *v
		return &cp
	case *BranchPayload:
		cp := *v
		return &cp
	case *CastPayload:
		cp := *v
		return &cp
	case *CompareClassPayload:
		cp := *v
		return &cp
	case *GetInstanceClassPayload:
		cp := *v
		return &cp
	default:
		return nil
	}
}

// AdoptBlock re-parents a *BasicBlock (and every Inst it owns, phis
// included) from another Graph into g, renumbering ids so they stay unique
// against g's own arena (spec §5: "the child's id-counter is seeded from
// the parent and written back after splicing to guarantee uniqueness").
// Used by Inlining when splicing a callee's blocks into the caller; the
// source Graph is left with a dangling entry in its own block list, which
// is fine since it is discarded after splicing.
func (g *Graph) AdoptBlock(b *BasicBlock) {
	b.id = g.nextBlockID
	g.nextBlockID++
	g.blockArena = append(g.blockArena, b)
	g.blocks = append(g.blocks, b)
	b.rpoIndex = -1
	for _, inst := range b.AllInsts() {
		g.adoptInst(inst)
	}
	g.rpoValid = false
}

func (g *Graph) adoptInst(inst *Inst) {
	inst.id = g.nextInstID
	g.nextInstID++
	g.instArena = append(g.instArena, inst)
}

// EraseDeadBlock removes all of b's instructions (which must have no
// remaining users; callers erase in reverse program order so trailing
// instructions lose their users first) and then removes b from the graph.
func (g *Graph) EraseDeadBlock(b *BasicBlock) {
	for i := len(b.insts) - 1; i >= 0; i-- {
		if !b.insts[i].HasUsers() {
			g.Erase(b.insts[i])
		}
	}
	for i := len(b.phis) - 1; i >= 0; i-- {
		if !b.phis[i].HasUsers() {
			g.Erase(b.phis[i])
		}
	}
	for _, s := range append([]*BasicBlock{}, b.succs...) {
		g.RemoveEdge(b, s)
	}
	g.RemoveBlock(b)
}
