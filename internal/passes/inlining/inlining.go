// Package inlining implements component F, spec §4.F: the largest of the
// three optimizer passes. It resolves a call's concrete target (direct,
// devirtualized via CHA, or via the inline-cache oracle), checks
// admissibility against the process-wide Options, builds the callee's IR
// through a CalleeProvider and runs a small mini-pipeline over it, splices
// the callee's control flow and data flow into the caller, and finalizes
// the call site — converting it to an inlined-frame marker when the callee
// transitively performs runtime calls, or erasing it outright otherwise.
//
// The spec places the IR builder itself (turning bytecode into a Graph)
// out of this module's scope (spec §1); CalleeProvider is the seam a real
// compilation driver plugs a builder into. StaticProvider, a fixed map, is
// the default used by tests and by cmd/iropt's fixture-driven CLI.
package inlining

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"iropt/internal/analysis"
	"iropt/internal/config"
	"iropt/internal/events"
	"iropt/internal/ir"
	"iropt/internal/passes/branchelim"
	"iropt/internal/passes/cleanup"
	"iropt/internal/runtime"
)

// CalleeProvider supplies a callee's already-built IR graph for a resolved
// method. Implementations must return a fresh graph per call (Inlining
// mutates it destructively while splicing).
type CalleeProvider interface {
	BuildGraph(m runtime.MethodRef) (*ir.Graph, bool)
}

// StaticProvider is a CalleeProvider backed by a fixed map of pre-built
// graphs, used by tests and by the textual-IR-fixture-driven CLI.
type StaticProvider map[runtime.MethodRef]*ir.Graph

func (p StaticProvider) BuildGraph(m runtime.MethodRef) (*ir.Graph, bool) {
	g, ok := p[m]
	return g, ok
}

type state struct {
	g       *ir.Graph
	dom     *analysis.DominatorsTree
	loops   *analysis.LoopAnalyzer
	rt      runtime.Interface
	callees CalleeProvider
	opts    config.Options
	sink    events.Sink
	log     *zap.Logger

	totalInlinedInsts int
	totalInlinedVRegs int
}

// Run executes Inlining over g through a FIFO work queue seeded with g's
// blocks in RPO. After a call is inlined, its continuation block and the
// spliced callee blocks are appended to the end of the queue, so they are
// scanned after every block already queued; spliced blocks are queued for
// further (recursive) inlining only below inlining.max_depth
// (spec §6: "run_pass(...) -> bool"; §8 B1: depth = max_depth still inlines
// the current call, it just does not recurse further).
func Run(g *ir.Graph, dom *analysis.DominatorsTree, loops *analysis.LoopAnalyzer, rt runtime.Interface, callees CalleeProvider, opts config.Options, sink events.Sink, log *zap.Logger) bool {
	if log == nil {
		log = zap.NewNop()
	}
	if sink == nil {
		sink = events.Discard{}
	}
	st := &state{g: g, dom: dom, loops: loops, rt: rt, callees: callees, opts: opts, sink: sink, log: log}

	type work struct {
		b     *ir.BasicBlock
		depth int
	}
	var queue []work
	for _, b := range g.RPO() {
		queue = append(queue, work{b, 0})
	}

	changed := false
	for len(queue) > 0 {
		w := queue[0]
		queue = queue[1:]
		if w.b == nil {
			continue
		}
		call := findCallSite(w.b)
		if call == nil {
			continue
		}
		next, spliced, ok := st.inlineCallSite(w.b, call)
		if !ok {
			continue
		}
		changed = true
		queue = append(queue, work{next, w.depth})
		if w.depth < opts.InliningMaxDepth {
			for _, cb := range spliced {
				queue = append(queue, work{cb, w.depth + 1})
			}
		}
	}
	g.InvalidateRPO()
	return changed
}

func findCallSite(b *ir.BasicBlock) *ir.Inst {
	for _, inst := range b.Insts() {
		if inst.Op().IsCall() && !inst.Flags().Has(ir.FlagInlined) {
			return inst
		}
	}
	return nil
}

// resolvedTarget is the outcome of spec §4.F's four-step target resolution.
type resolvedTarget struct {
	method  runtime.MethodRef
	kind    string // "direct" | "cha" | "pic-mono" | "pic-poly"
	classes []string
}

func toRuntimeRef(m ir.MethodRef) runtime.MethodRef {
	return runtime.MethodRef{Class: m.Class, Method: m.Method}
}

func (st *state) callerRef() runtime.MethodRef {
	return runtime.MethodRef{Class: st.g.Method.Class, Method: st.g.Method.Name}
}

// resolveTarget implements spec §4.F's "Target resolution" steps 1-4.
func (st *state) resolveTarget(call *ir.Inst) (resolvedTarget, events.Kind, bool) {
	cp, ok := call.Payload().(*ir.CallPayload)
	if !ok {
		return resolvedTarget{}, events.KindUnsuitable, false
	}
	declared := toRuntimeRef(cp.Method)

	switch call.Op() {
	case ir.OpCallStatic, ir.OpCallResolvedStatic, ir.OpCallResolvedVirtual:
		// Step 1: already concrete.
		return resolvedTarget{method: declared, kind: "direct"}, 0, true

	case ir.OpCallVirtual:
		if st.opts.InliningNoVirtual {
			return resolvedTarget{}, events.KindNoInline, false
		}
		declClass := cp.Method.Class

		// Step 2: final class/method resolves directly through the vtable.
		if st.rt.MethodIsFinal(declared) || st.rt.ClassIsFinal(declClass) {
			if resolved, found := st.rt.ResolveVirtual(declClass, declared); found {
				return resolvedTarget{method: resolved, kind: "direct"}, 0, true
			}
		}

		// Step 3: CHA single-implementation, guarded by a deopt check.
		if !st.opts.InliningNoCHA {
			if single, has := st.rt.CHAIsSingleImplementation(declared); has {
				return resolvedTarget{method: single, kind: "cha", classes: []string{declClass}}, 0, true
			}
		}

		// Step 4: consult the inline-cache oracle.
		if !st.opts.InliningNoPIC {
			ic := st.rt.InlineCacheClasses(declared, int(call.PC()))
			switch ic.Kind {
			case runtime.ICMonomorphic:
				if len(ic.Receivers) >= 1 {
					if resolved, found := st.rt.ResolveVirtual(ic.Receivers[0], declared); found {
						return resolvedTarget{method: resolved, kind: "pic-mono", classes: ic.Receivers[:1]}, 0, true
					}
				}
			case runtime.ICPolymorphic:
				if len(ic.Receivers) > 0 {
					return resolvedTarget{method: declared, kind: "pic-poly", classes: ic.Receivers}, 0, true
				}
			case runtime.ICMegamorphic:
				return resolvedTarget{}, events.KindFailMegamorphic, false
			}
		}
		return resolvedTarget{}, events.KindUnsuitable, false

	default:
		return resolvedTarget{}, events.KindUnsuitable, false
	}
}

// admissible implements spec §4.F's "Admissibility" rejection list (minus
// the simple_only/runtime-calls check, which needs the built callee graph
// and lives in buildCalleeGraph instead).
func (st *state) admissible(m runtime.MethodRef) (bool, events.Kind) {
	qualifiedName := m.Class + "." + m.Method
	if st.opts.IsBlacklisted(qualifiedName) {
		return false, events.KindNoInline
	}
	if strings.Contains(m.Method, "noinline") {
		return false, events.KindNoInline
	}
	size := st.rt.MethodCodeSize(m)
	if size >= st.opts.InliningMaxSize {
		return false, events.KindLimit
	}
	if st.totalInlinedInsts+size > st.opts.InliningMaxInsts && size > st.opts.InliningSmallMethodInsts {
		return false, events.KindLimit
	}
	if st.totalInlinedVRegs+st.rt.MethodRegistersCount(m) > st.opts.MaxVRegs {
		return false, events.KindLimit
	}
	if st.rt.IsMethodExternal(m) && !st.opts.InliningExternalMethods {
		return false, events.KindSkipExternal
	}
	if st.rt.IsMethodAbstract(m) || !st.rt.IsMethodCanBeInlined(m) {
		return false, events.KindUnsuitable
	}
	return true, 0
}

// buildCalleeGraph implements spec §4.F's "Graph construction": fetch the
// callee graph, run the mini-pipeline, and reject on an infinite loop,
// always-throw body, or (in simple_only mode) disallowed runtime calls.
func (st *state) buildCalleeGraph(m runtime.MethodRef) (*ir.Graph, bool, events.Kind) {
	cg, ok := st.callees.BuildGraph(m)
	if !ok {
		return nil, false, events.KindUnsuitable
	}

	cleanup.Run(cg)
	cdom := analysis.NewDominatorsTree(cg)
	branchelim.Run(cg, cdom, st.opts, st.log)
	cleanup.Run(cg)

	if hasInfiniteLoop(cg) {
		return nil, false, events.KindInfLoop
	}
	if st.opts.InliningSkipAlwaysThrow && alwaysThrows(cg) {
		return nil, false, events.KindUnsuitable
	}
	if st.opts.InliningSimpleOnly && calleeHasRuntimeCalls(cg.Blocks()) {
		return nil, false, events.KindUnsuitable
	}
	if st.rt.IsMethodExternal(m) && !calleeOnlyNullChecksRuntime(cg.Blocks()) {
		// spec §4.F "External/AOT": an external callee may be inlined only
		// if its only runtime-visible operations are NullChecks.
		return nil, false, events.KindSkipExternal
	}
	return cg, true, 0
}

func hasInfiniteLoop(g *ir.Graph) bool {
	dom := analysis.NewDominatorsTree(g)
	loops := analysis.NewLoopAnalyzer(g, dom)
	for _, b := range g.Blocks() {
		l := loops.LoopFor(b)
		if l == nil || l.IsRoot {
			continue
		}
		exits := false
		for blk := range l.Blocks {
			for _, s := range blk.Successors() {
				if !l.Blocks[s] {
					exits = true
					break
				}
			}
			if exits {
				break
			}
		}
		if !exits {
			return true
		}
	}
	return false
}

func alwaysThrows(g *ir.Graph) bool {
	end := g.End()
	if end == nil {
		return false
	}
	preds := end.Predecessors()
	if len(preds) == 0 {
		return false
	}
	for _, p := range preds {
		term := p.Terminator()
		if term == nil || (term.Op() != ir.OpThrow && term.Op() != ir.OpDeoptimize) {
			return false
		}
	}
	return true
}

func calleeHasRuntimeCalls(blocks []*ir.BasicBlock) bool {
	for _, b := range blocks {
		for _, inst := range b.AllInsts() {
			if inst.Op().IsCall() && !inst.Flags().Has(ir.FlagInlined) {
				return true
			}
		}
	}
	return false
}

func calleeOnlyNullChecksRuntime(blocks []*ir.BasicBlock) bool {
	for _, b := range blocks {
		for _, inst := range b.AllInsts() {
			if inst.Op().IsCall() && !inst.Flags().Has(ir.FlagInlined) {
				return false
			}
			if inst.Op() == ir.OpBoundsCheck || inst.Op() == ir.OpNegativeCheck {
				return false
			}
		}
	}
	return true
}

func calleeRequiresBarrier(blocks []*ir.BasicBlock) bool {
	for _, b := range blocks {
		for _, inst := range b.AllInsts() {
			if inst.Op() == ir.OpMonitorExit {
				return true
			}
		}
	}
	return false
}

// inlineCallSite drives one call site through resolution, admissibility,
// callee construction, splicing, and finalization.
func (st *state) inlineCallSite(callBB *ir.BasicBlock, call *ir.Inst) (next *ir.BasicBlock, spliced []*ir.BasicBlock, ok bool) {
	cp, ok0 := call.Payload().(*ir.CallPayload)
	if !ok0 {
		return nil, nil, false
	}

	target, skipKind, resolved := st.resolveTarget(call)
	if !resolved {
		st.record(skipKind, cp.Method, runtime.MethodRef{}, call)
		return nil, nil, false
	}

	if target.kind == "pic-poly" {
		return st.inlinePolymorphic(callBB, call, cp, target.method, target.classes)
	}

	// Intrinsics bypass body construction entirely (spec §4.F "Intrinsics").
	if id := st.rt.GetIntrinsicID(target.method); id != 0 {
		if target.kind == "cha" {
			insertCHAGuard(st.g, call, target.classes[0])
			st.rt.CHAAddDependency(target.method, st.callerRef())
		}
		st.replaceWithIntrinsic(call, target.method, id)
		st.record(events.KindSuccess, cp.Method, target.method, call)
		return callBB, nil, true
	}

	if ok2, reason := st.admissible(target.method); !ok2 {
		st.record(reason, cp.Method, target.method, call)
		return nil, nil, false
	}

	calleeGraph, ok3, reason3 := st.buildCalleeGraph(target.method)
	if !ok3 {
		st.record(reason3, cp.Method, target.method, call)
		return nil, nil, false
	}

	if target.kind == "cha" {
		insertCHAGuard(st.g, call, target.classes[0])
		st.rt.CHAAddDependency(target.method, st.callerRef())
	}

	res := st.splice(callBB, call, calleeGraph)
	if st.rt.IsMethodExternal(target.method) {
		dropProvableNonNullChecks(st.g, call, res.splicedBlocks)
	}
	st.finalizeCallSite(call, res)

	st.totalInlinedInsts += st.rt.MethodCodeSize(target.method)
	st.totalInlinedVRegs += st.rt.MethodRegistersCount(target.method)

	kind := events.KindSuccess
	switch target.kind {
	case "cha":
		kind = events.KindDevirtualized
	case "pic-mono":
		kind = events.KindVirtualMonomorphicSuccess
	}
	st.record(kind, cp.Method, target.method, call)

	return res.contBB, res.splicedBlocks, true
}

func (st *state) replaceWithIntrinsic(call *ir.Inst, target runtime.MethodRef, id int) {
	g := st.g
	intr := g.NewInst(ir.OpIntrinsic, call.Type(), &ir.CallPayload{
		Method:      ir.MethodRef{Class: target.Class, Method: target.Method},
		IntrinsicID: id,
	}, call.PC(), call.Inputs()...)
	g.InsertBefore(call, intr)
	if call.HasUsers() {
		g.ReplaceUsers(call, intr)
	}
	ss := call.SaveStateInput()
	if !call.HasUsers() {
		g.Erase(call)
		if ss != nil && !ss.HasUsers() {
			g.Erase(ss)
		}
	}
}

// insertCHAGuard emits "an IsMustDeoptimize test against a DeoptimizeIf"
// ahead of call (spec §4.F step 3). DeoptimizeIf/IsMustDeoptimize are
// Check-family instructions in this IR (non-branching inline guards, like
// NullCheck/BoundsCheck), so no new control flow is needed.
func insertCHAGuard(g *ir.Graph, call *ir.Inst, guardClass string) {
	this := call.InputAt(0)
	if this == nil {
		return
	}
	getClass := g.NewInst(ir.OpGetInstanceClass, ir.TypeAny, &ir.GetInstanceClassPayload{}, call.PC(), ir.Input{Value: this, Type: ir.TypeReference})
	g.InsertBefore(call, getClass)
	cmp := g.NewInst(ir.OpCompareClass, ir.TypeBool, &ir.CompareClassPayload{Class: guardClass}, call.PC(), ir.Input{Value: getClass, Type: ir.TypeAny})
	g.InsertBefore(call, cmp)
	mustDeopt := g.NewInst(ir.OpIsMustDeoptimize, ir.TypeBool, &ir.CheckPayload{Reason: ir.DeoptInlineIC}, call.PC(), ir.Input{Value: cmp, Type: ir.TypeBool})
	mustDeopt.SetFlag(ir.FlagCHAGuard)
	g.InsertBefore(call, mustDeopt)

	deoptInputs := []ir.Input{{Value: mustDeopt, Type: ir.TypeBool}}
	if ss := call.SaveStateInput(); ss != nil {
		deoptInputs = append(deoptInputs, ir.Input{Value: ss, Type: ir.TypeReference})
	}
	deoptIf := g.NewInst(ir.OpDeoptimizeIf, ir.TypeVoid, &ir.CheckPayload{Reason: ir.DeoptInlineIC}, call.PC(), deoptInputs...)
	deoptIf.SetFlag(ir.FlagCHAGuard)
	g.InsertBefore(call, deoptIf)
}

// dropProvableNonNullChecks implements spec §4.F "External/AOT": drop
// NullChecks in the spliced body that guard a parameter the call site
// already proved non-null (because the corresponding argument is itself a
// NullCheck's result).
func dropProvableNonNullChecks(g *ir.Graph, call *ir.Inst, spliced []*ir.BasicBlock) {
	provenNonNull := map[*ir.Inst]bool{}
	for _, in := range call.Inputs() {
		if in.Value != nil && in.Value.Op() == ir.OpNullCheck {
			provenNonNull[in.Value] = true
		}
	}
	if len(provenNonNull) == 0 {
		return
	}
	for _, b := range spliced {
		for _, inst := range append([]*ir.Inst{}, b.AllInsts()...) {
			if inst.Op() != ir.OpNullCheck {
				continue
			}
			target := inst.InputAt(0)
			if target == nil || !provenNonNull[target] {
				continue
			}
			g.ReplaceUsers(inst, target)
			if !inst.HasUsers() {
				g.Erase(inst)
			}
		}
	}
}

type spliceResult struct {
	contBB        *ir.BasicBlock
	splicedBlocks []*ir.BasicBlock
	returnBlocks  []*ir.BasicBlock
	mergedReturn  *ir.Inst
}

// splice implements spec §4.F's "Splicing (control-flow)" and "Splicing
// (data-flow)" in one pass over a single callee graph being inlined at call.
func (st *state) splice(callBB *ir.BasicBlock, call *ir.Inst, callee *ir.Graph) spliceResult {
	g := st.g
	contBB := g.SplitBlock(callBB, call)
	g.RemoveEdge(callBB, contBB)

	calleeStart := callee.Start()
	calleeEnd := callee.End()

	// End is a bookkeeping marker (spec §3), not necessarily a distinct
	// sentinel every exit path edges into — a single-block callee has
	// Start == End with its Return/ReturnVoid terminator carrying no
	// successors at all. Only skip End when it really is an empty,
	// unreachable sentinel; otherwise adopt it like any other block and
	// find exits by scanning terminators directly.
	var spliced []*ir.BasicBlock
	for _, b := range callee.Blocks() {
		if b == calleeEnd && len(b.AllInsts()) == 0 && len(b.Predecessors()) == 0 {
			continue
		}
		b.ClearFlag(ir.BlockStart)
		b.ClearFlag(ir.BlockEnd)
		g.AdoptBlock(b)
		spliced = append(spliced, b)
	}
	g.AddEdge(callBB, calleeStart)

	// Substitute Parameters/intern constants before reading any return
	// value below: a Return's own input is itself rewired by this step, so
	// reading it first would hand back the stale callee-local Parameter
	// (which spliceDataFlow's own dead-code sweep then erases out from
	// under the later merge).
	st.spliceDataFlow(call, spliced)

	var normalVals []*ir.Inst
	var returnBlocks []*ir.BasicBlock
	for _, p := range spliced {
		term := p.Terminator()
		if term == nil {
			continue
		}
		switch term.Op() {
		case ir.OpThrow, ir.OpDeoptimize:
			if !st.opts.InliningSkipThrowBlocks {
				returnBlocks = append(returnBlocks, p)
			}
		case ir.OpReturn:
			val := term.InputAt(0)
			for _, s := range append([]*ir.BasicBlock{}, p.Successors()...) {
				g.RemoveEdge(p, s)
			}
			g.AddEdge(p, contBB)
			g.Erase(term)
			normalVals = append(normalVals, val)
			returnBlocks = append(returnBlocks, p)
		case ir.OpReturnVoid:
			for _, s := range append([]*ir.BasicBlock{}, p.Successors()...) {
				g.RemoveEdge(p, s)
			}
			g.AddEdge(p, contBB)
			g.Erase(term)
			returnBlocks = append(returnBlocks, p)
		}
	}

	// A callee whose exits all converged on a distinct End block (rather
	// than Start == End) leaves that block orphaned once every incoming
	// edge above was redirected to contBB; drop it rather than leaving a
	// dead block in the caller's block list.
	if calleeEnd != calleeStart && len(calleeEnd.Predecessors()) == 0 && len(calleeEnd.AllInsts()) == 0 {
		for _, b := range spliced {
			if b == calleeEnd {
				g.RemoveBlock(b)
				break
			}
		}
	}

	var merged *ir.Inst
	if call.Type() != ir.TypeVoid && len(normalVals) > 0 {
		if len(normalVals) == 1 {
			merged = normalVals[0]
		} else {
			inputs := make([]ir.Input, len(normalVals))
			for i, v := range normalVals {
				inputs[i] = ir.Input{Value: v, Type: call.Type()}
			}
			merged = g.NewPhi(contBB, call.Type(), inputs)
		}
	}

	return spliceResult{contBB: contBB, splicedBlocks: spliced, returnBlocks: returnBlocks, mergedReturn: merged}
}

// spliceDataFlow implements spec §4.F's "Splicing (data-flow)": replace
// callee Parameters with the matching call argument, and intern callee
// Constants/NullPtr into the caller's constant pool. A call's ordinary
// (non-SaveState) inputs are positionally aligned with the callee's
// Parameter indices.
func (st *state) spliceDataFlow(call *ir.Inst, spliced []*ir.BasicBlock) {
	g := st.g
	ss := call.SaveStateInput()
	var args []ir.Input
	for _, in := range call.Inputs() {
		if ss != nil && in.Value == ss {
			continue
		}
		args = append(args, in)
	}

	var allInsts []*ir.Inst
	for _, b := range spliced {
		allInsts = append(allInsts, b.AllInsts()...)
	}

	for _, inst := range allInsts {
		if inst.Op() != ir.OpParameter {
			continue
		}
		pp, ok := inst.Payload().(*ir.ParameterPayload)
		if !ok {
			continue
		}
		idx := pp.Index
		if idx < 0 || idx >= len(args) {
			continue
		}
		g.ReplaceUsers(inst, args[idx].Value)
	}
	for _, inst := range allInsts {
		if inst.Op() == ir.OpConstant || inst.Op() == ir.OpNullPtr {
			g.InternConstant(inst)
		}
	}
	for _, inst := range allInsts {
		if inst.Block() == nil || inst.HasUsers() {
			continue
		}
		if inst.Op() == ir.OpParameter || inst.Op() == ir.OpConstant || inst.Op() == ir.OpNullPtr {
			g.Erase(inst)
		}
	}
}

// finalizeCallSite implements spec §4.F's "Call-site finalization".
func (st *state) finalizeCallSite(call *ir.Inst, res spliceResult) {
	g := st.g
	transitive := calleeHasRuntimeCalls(res.splicedBlocks)

	if transitive {
		if cp, ok := call.Payload().(*ir.CallPayload); ok {
			cp.Inlined = true
		}
		call.SetFlag(ir.FlagInlined)
		if res.mergedReturn != nil {
			g.ReplaceUsers(call, res.mergedReturn)
		}
		ss := call.SaveStateInput()
		barrier := calleeRequiresBarrier(res.splicedBlocks)
		for _, rb := range res.returnBlocks {
			var inputs []ir.Input
			if ss != nil {
				inputs = []ir.Input{{Value: ss, Type: ir.TypeReference}}
			}
			ri := g.NewInst(ir.OpReturnInlined, ir.TypeVoid, nil, call.PC(), inputs...)
			if barrier {
				ri.SetFlag(ir.FlagBarrierRequired)
			}
			// OpReturnInlined is itself a terminator opcode (spec §3): a
			// normal-return exit block lost its Return/ReturnVoid terminator
			// in splice's exit scan and falls through to contBB implicitly,
			// so ri simply takes the now-empty terminator slot. A
			// throw/deopt exit block keeps its own real terminator, so ri
			// is inserted ahead of it as a non-terminating frame marker.
			if term := rb.Terminator(); term != nil {
				g.InsertBefore(term, ri)
			} else {
				g.Append(rb, ri)
			}
		}
		return
	}

	if res.mergedReturn != nil {
		g.ReplaceUsers(call, res.mergedReturn)
	}
	if !call.HasUsers() {
		ss := call.SaveStateInput()
		g.Erase(call)
		if ss != nil && !ss.HasUsers() {
			g.Erase(ss)
		}
	}
}

// inlinePolymorphic implements spec §4.F's "Polymorphic inlining": a
// compare-class dispatch ladder over at most Options.InliningPolymorphicLimit
// receiver classes (4 when unset), each guarding a cloned,
// independently-spliced call.
func (st *state) inlinePolymorphic(callBB *ir.BasicBlock, call *ir.Inst, cp *ir.CallPayload, baseMethod runtime.MethodRef, allClasses []string) (*ir.BasicBlock, []*ir.BasicBlock, bool) {
	limit := st.opts.InliningPolymorphicLimit
	if limit <= 0 {
		limit = 4
	}
	classes := allClasses
	fullCoverage := true
	if len(classes) > limit {
		classes = classes[:limit]
		fullCoverage = false
	}

	type candidateTarget struct {
		class string
		m     runtime.MethodRef
		graph *ir.Graph
	}
	var cands []candidateTarget
	for _, cls := range classes {
		m, found := st.rt.ResolveVirtual(cls, baseMethod)
		if !found {
			fullCoverage = false
			continue
		}
		if ok, reason := st.admissible(m); !ok {
			st.record(reason, cp.Method, m, call)
			fullCoverage = false
			continue
		}
		cg, ok3, reason3 := st.buildCalleeGraph(m)
		if !ok3 {
			st.record(reason3, cp.Method, m, call)
			fullCoverage = false
			continue
		}
		cands = append(cands, candidateTarget{cls, m, cg})
	}
	if len(cands) == 0 {
		return nil, nil, false
	}

	g := st.g
	contBB := g.SplitBlock(callBB, call)
	g.RemoveEdge(callBB, contBB)

	getClass := g.NewInst(ir.OpGetInstanceClass, ir.TypeAny, &ir.GetInstanceClassPayload{}, call.PC(), ir.Input{Value: call.InputAt(0), Type: ir.TypeReference})
	g.Append(callBB, getClass)

	typ := call.Type()
	var joinInputs []ir.Input
	var splicedAll []*ir.BasicBlock

	feedJoin := func(pred *ir.BasicBlock, val *ir.Inst) {
		g.AddEdge(pred, contBB)
		if typ == ir.TypeVoid {
			return
		}
		v := val
		if v == nil {
			if typ.IsReference() {
				v = g.NullPtr()
			} else {
				v = g.Const(typ, 0)
			}
		}
		joinInputs = append(joinInputs, ir.Input{Value: v, Type: typ})
	}

	testBB := callBB
	for idx, c := range cands {
		cmp := g.NewInst(ir.OpCompareClass, ir.TypeBool, &ir.CompareClassPayload{Class: c.class}, call.PC(), ir.Input{Value: getClass, Type: ir.TypeAny})
		g.Append(testBB, cmp)
		branch := g.NewInst(ir.OpIf, ir.TypeVoid, &ir.BranchPayload{}, call.PC(), ir.Input{Value: cmp, Type: ir.TypeBool})
		branch.SetFlag(ir.FlagPICGuard)
		g.Append(testBB, branch)

		bodyBB := g.NewBlock(fmt.Sprintf("%s.pic%d", callBB.Label(), idx))
		g.AddEdge(testBB, bodyBB) // true edge (succ[0])

		cloneCall := g.CloneInst(call)
		g.Append(bodyBB, cloneCall)

		res := st.splice(bodyBB, cloneCall, c.graph)
		if st.rt.IsMethodExternal(c.m) {
			dropProvableNonNullChecks(g, cloneCall, res.splicedBlocks)
		}
		st.finalizeCallSite(cloneCall, res)
		splicedAll = append(splicedAll, bodyBB)
		splicedAll = append(splicedAll, res.splicedBlocks...)

		feedJoin(res.contBB, res.mergedReturn)

		isLast := idx == len(cands)-1
		if !isLast {
			nextTest := g.NewBlock(fmt.Sprintf("%s.pictest%d", callBB.Label(), idx+1))
			g.AddEdge(testBB, nextTest) // false edge
			testBB = nextTest
			continue
		}

		if fullCoverage {
			// Spec S6: "final failure edge is DeoptimizeIf (no residual
			// virtual call)" — the full IC set was inlined, so a guard
			// failure here can only mean a deopt-worthy surprise.
			falseBB := g.NewBlock(fmt.Sprintf("%s.picfail", callBB.Label()))
			g.AddEdge(testBB, falseBB)
			ss := call.SaveStateInput()
			deoptInputs := []ir.Input{{Value: g.Const(ir.TypeBool, 1), Type: ir.TypeBool}}
			if ss != nil {
				deoptInputs = append(deoptInputs, ir.Input{Value: ss, Type: ir.TypeReference})
			}
			deoptIf := g.NewInst(ir.OpDeoptimizeIf, ir.TypeVoid, &ir.CheckPayload{Reason: ir.DeoptInlineIC}, call.PC(), deoptInputs...)
			deoptIf.SetFlag(ir.FlagPICGuard)
			g.Append(falseBB, deoptIf)
			g.Append(falseBB, g.NewInst(ir.OpGoto, ir.TypeVoid, nil, call.PC()))
			feedJoin(falseBB, nil)
		} else {
			// Some IC receivers were skipped (limit or rejection): fall
			// back to a residual virtual call for them.
			residualBB := g.NewBlock(fmt.Sprintf("%s.picresidual", callBB.Label()))
			g.AddEdge(testBB, residualBB)
			residualCall := g.CloneInst(call)
			residualCall.ClearFlag(ir.FlagCHAGuard)
			g.Append(residualBB, residualCall)
			g.Append(residualBB, g.NewInst(ir.OpGoto, ir.TypeVoid, nil, call.PC()))
			var rv *ir.Inst
			if typ != ir.TypeVoid {
				rv = residualCall
			}
			feedJoin(residualBB, rv)
		}
	}

	if typ != ir.TypeVoid {
		var merged *ir.Inst
		if len(joinInputs) == 1 {
			merged = joinInputs[0].Value
		} else {
			merged = g.NewPhi(contBB, typ, joinInputs)
		}
		g.ReplaceUsers(call, merged)
	}
	if !call.HasUsers() {
		ss := call.SaveStateInput()
		g.Erase(call)
		if ss != nil && !ss.HasUsers() {
			g.Erase(ss)
		}
	}

	st.record(events.KindVirtualPolymorphicSuccess, cp.Method, baseMethod, call)
	return contBB, splicedAll, true
}

func (st *state) record(kind events.Kind, declared ir.MethodRef, resolved runtime.MethodRef, call *ir.Inst) {
	callee := declared.Class + "." + declared.Method
	if resolved.Method != "" {
		callee = resolved.Class + "." + resolved.Method
	}
	st.sink.Record(events.Event{
		Kind:         kind,
		Pass:         "inlining",
		CallerMethod: st.g.Method.Class + "." + st.g.Method.Name,
		CalleeMethod: callee,
		PC:           int(call.PC()),
	})
}
