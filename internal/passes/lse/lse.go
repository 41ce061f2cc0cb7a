// Package lse implements component E, spec §4.E: Load-Store Elimination.
// The pass walks the graph once in RPO, maintaining a per-block heap model
// (one entry per live memory slot, keyed by its representative producing
// instruction) and folding redundant loads/stores as it goes; loop headers
// additionally seed phi-candidates from their pre-header so that a value
// loaded once before a loop can replace every MUST_ALIAS load repeated
// inside it.
package lse

import (
	"go.uber.org/zap"

	"iropt/internal/analysis"
	"iropt/internal/bridges"
	"iropt/internal/config"
	"iropt/internal/ir"
)

// heapEntry mirrors spec §4.E's HeapValue{origin, val, read, local}.
type heapEntry struct {
	origin *ir.Inst
	val    *ir.Inst
	read   bool
	local  bool
}

type candidate struct {
	key                 *ir.Inst
	preHeaderVal        *ir.Inst
	loads               []*ir.Inst
	mustStores          []*ir.Inst
	aliasedInInnerLoop  bool
}

type state struct {
	g       *ir.Graph
	dom     *analysis.DominatorsTree
	loops   *analysis.LoopAnalyzer
	aa      analysis.AliasAnalysis
	bridge  *bridges.Builder
	opts    config.Options
	log     *zap.Logger

	exitHeap map[*ir.BasicBlock]map[*ir.Inst]*heapEntry
	lastInLoop map[*ir.Loop]*ir.BasicBlock
	candidates map[*ir.Loop]map[*ir.Inst]*candidate

	elimLoads  map[*ir.Inst]*heapEntry // load -> replacement entry (chases to a value)
	deadStores map[*ir.Inst]bool
}

// Run executes one LSE pass over g. aa and loops are the consumed
// collaborators (spec §4.B); br is used for reference-liveness repair
// after any motion (spec §4.C). Returns whether anything changed.
func Run(g *ir.Graph, dom *analysis.DominatorsTree, loops *analysis.LoopAnalyzer, aa analysis.AliasAnalysis, br *bridges.Builder, opts config.Options, log *zap.Logger) bool {
	if !opts.LSEEnabled {
		return false
	}
	if log == nil {
		log = zap.NewNop()
	}
	st := &state{
		g: g, dom: dom, loops: loops, aa: aa, bridge: br, opts: opts, log: log,
		exitHeap:   map[*ir.BasicBlock]map[*ir.Inst]*heapEntry{},
		lastInLoop: map[*ir.Loop]*ir.BasicBlock{},
		candidates: map[*ir.Loop]map[*ir.Inst]*candidate{},
		elimLoads:  map[*ir.Inst]*heapEntry{},
		deadStores: map[*ir.Inst]bool{},
	}

	rpo := g.RPO()
	for _, b := range rpo {
		if l := b.Loop(); l != nil && !l.IsRoot {
			st.lastInLoop[l] = b
		}
	}

	for _, b := range rpo {
		st.processBlock(b)
		for l, last := range st.lastInLoop {
			if last == b {
				st.finalizeLoopCandidates(l)
			}
		}
	}

	changed := len(st.elimLoads) > 0 || len(st.deadStores) > 0
	st.finalize()
	return changed
}

func (st *state) processBlock(b *ir.BasicBlock) {
	heap := st.joinPredecessors(b)
	aaCalls := 0
	access := map[*ir.Inst]int{}

	for _, inst := range b.Insts() {
		switch {
		case inst.Op().IsMemory():
			if inst.Op().IsStore() {
				st.visitStore(b, heap, inst, &aaCalls, access)
			} else {
				st.visitLoad(b, heap, inst, &aaCalls, access)
			}
		case inst.HeapInvalidating():
			for k := range heap {
				delete(heap, k)
			}
			st.invalidateEnclosingCandidates(b)
		case inst.HeapReading():
			for _, e := range heap {
				e.read = true
			}
		}
	}
	st.exitHeap[b] = heap
}

func (st *state) invalidateEnclosingCandidates(b *ir.BasicBlock) {
	for l := b.Loop(); l != nil && !l.IsRoot; l = l.Outer {
		delete(st.candidates, l)
	}
}

// joinPredecessors computes the entry heap for b (spec §4.E "Per-block
// join" and "Loop headers").
func (st *state) joinPredecessors(b *ir.BasicBlock) map[*ir.Inst]*heapEntry {
	if b.Flags().Has(ir.BlockLoopHeader) {
		return st.seedLoopHeader(b)
	}

	preds := b.Predecessors()
	if len(preds) == 0 {
		return map[*ir.Inst]*heapEntry{}
	}
	if len(preds) == 1 {
		return copyHeap(st.exitHeap[preds[0]])
	}

	result := map[*ir.Inst]*heapEntry{}
	base := st.exitHeap[preds[0]]
	catchEntry := b.Flags().Has(ir.BlockCatchBegin) || b.Flags().Has(ir.BlockCatch)

outer:
	for key, e0 := range base {
		vals := make([]*ir.Inst, len(preds))
		vals[0] = e0.val
		readAny, localAll := e0.read, e0.local
		for i := 1; i < len(preds); i++ {
			// Each predecessor's heap is keyed by its own representative
			// instruction, which is never literally the same Inst as key
			// (different blocks, different Load/Store nodes) — the
			// correspondence has to be found by aliasing, not map lookup.
			match := findAliasedEntry(st.aa, key, st.exitHeap[preds[i]])
			if match == nil {
				continue outer
			}
			vals[i] = match.val
			readAny = readAny || match.read
			localAll = localAll && match.local
		}
		allSame := true
		for _, v := range vals[1:] {
			if v != vals[0] {
				allSame = false
				break
			}
		}
		if allSame {
			result[key] = &heapEntry{origin: key, val: vals[0], read: readAny, local: localAll}
			continue
		}
		if catchEntry {
			continue // spec: abandon phi synthesis at a catch entry
		}
		typ := vals[0].Type()
		inputs := make([]ir.Input, len(preds))
		for i, v := range vals {
			inputs[i] = ir.Input{Value: v, Type: typ}
		}
		phi := st.g.NewPhi(b, typ, inputs)
		phi.Payload().(*ir.PhiPayload).Local = true
		result[key] = &heapEntry{origin: key, val: phi, read: false, local: true}
	}
	return result
}

func (st *state) seedLoopHeader(b *ir.BasicBlock) map[*ir.Inst]*heapEntry {
	loop := b.Loop()
	if loop == nil || loop.ExcludedFromLSEHoisting() || loop.PreHeader == nil {
		return map[*ir.Inst]*heapEntry{}
	}
	preHeap := st.exitHeap[loop.PreHeader]
	cands := map[*ir.Inst]*candidate{}
	for key, e := range preHeap {
		cands[key] = &candidate{key: key, preHeaderVal: e.val}
	}
	st.candidates[loop] = cands
	return copyHeap(preHeap)
}

// findAliasedEntry finds the entry in heap whose origin MUST_ALIAS key,
// i.e. the same abstract memory location as recorded by a different
// (block-local) representative instruction.
func findAliasedEntry(aa analysis.AliasAnalysis, key *ir.Inst, heap map[*ir.Inst]*heapEntry) *heapEntry {
	if e, ok := heap[key]; ok {
		return e
	}
	for _, e := range heap {
		if aa.Alias(key, e.origin) == analysis.MustAlias {
			return e
		}
	}
	return nil
}

func copyHeap(h map[*ir.Inst]*heapEntry) map[*ir.Inst]*heapEntry {
	out := make(map[*ir.Inst]*heapEntry, len(h))
	for k, v := range h {
		cp := *v
		out[k] = &cp
	}
	return out
}

func (st *state) visitLoad(b *ir.BasicBlock, heap map[*ir.Inst]*heapEntry, inst *ir.Inst, aaCalls *int, access map[*ir.Inst]int) {
	if inst.HeapInvalidating() {
		// A volatile load is itself a heap barrier (spec §4.E): it clears
		// the whole model rather than merely failing to be eliminated.
		st.invalidate(b, heap)
		return
	}
	if base := memoryBase(inst); base != nil {
		access[base]++
		if access[base] > st.opts.LSEAccessLimit {
			st.invalidate(b, heap)
			return
		}
	}
	for key, e := range heap {
		*aaCalls++
		if *aaCalls > st.opts.LSEAliasCallsLimit {
			st.invalidate(b, heap)
			return
		}
		if st.aa.Alias(inst, key) == analysis.MustAlias {
			if inst.Eliminable() {
				st.elimLoads[inst] = e
				st.recordEvidence(inst, b, true)
				return
			}
			break
		}
	}
	heap[inst] = &heapEntry{origin: inst, val: inst, read: true, local: false}
	st.recordEvidence(inst, b, true)
}

func (st *state) visitStore(b *ir.BasicBlock, heap map[*ir.Inst]*heapEntry, inst *ir.Inst, aaCalls *int, access map[*ir.Inst]int) {
	if base := memoryBase(inst); base != nil {
		access[base]++
		if access[base] > st.opts.LSEAccessLimit {
			st.invalidate(b, heap)
			return
		}
	}
	v := storeValue(inst)

	var matched *heapEntry
	for key, e := range heap {
		*aaCalls++
		if *aaCalls > st.opts.LSEAliasCallsLimit {
			st.invalidate(b, heap)
			return
		}
		if st.aa.Alias(inst, key) == analysis.MustAlias {
			matched = e
			break
		}
	}
	if matched != nil && matched.val == v && inst.Eliminable() {
		st.deadStores[inst] = true
		st.recordEvidence(inst, b, false)
		return
	}

	var shadow *ir.Inst
	for key, e := range heap {
		r := st.aa.Alias(inst, key)
		if r != analysis.MustAlias && r != analysis.MayAlias {
			continue
		}
		if r == analysis.MustAlias && !e.read && e.origin.Op().IsStore() && e.origin.Eliminable() {
			shadow = e.origin
		}
		delete(heap, key)
	}
	heap[inst] = &heapEntry{origin: inst, val: v, read: false, local: false}
	if shadow != nil && shadow != inst {
		st.deadStores[shadow] = true
	}
	if inst.HeapReading() {
		// A volatile store is also a read barrier: every live entry
		// (including the one just written) must be treated as observed.
		for _, e := range heap {
			e.read = true
		}
	}
	st.recordEvidence(inst, b, false)
}

func (st *state) invalidate(b *ir.BasicBlock, heap map[*ir.Inst]*heapEntry) {
	for k := range heap {
		delete(heap, k)
	}
	st.invalidateEnclosingCandidates(b)
}

// recordEvidence appends inst to every enclosing loop's aliasing
// candidate, per spec §4.E "each aliased access... is appended to the
// candidate's evidence list".
func (st *state) recordEvidence(inst *ir.Inst, b *ir.BasicBlock, isLoad bool) {
	for l := b.Loop(); l != nil && !l.IsRoot; l = l.Outer {
		cands, ok := st.candidates[l]
		if !ok {
			continue
		}
		for _, c := range cands {
			r := st.aa.Alias(inst, c.key)
			if r == analysis.NoAlias {
				continue
			}
			inInner := b.Loop() != l
			if isLoad {
				if !inInner {
					c.loads = append(c.loads, inst)
				}
				continue
			}
			if inInner {
				if r != analysis.NoAlias {
					c.aliasedInInnerLoop = true
				}
				continue
			}
			if r == analysis.MustAlias {
				c.mustStores = append(c.mustStores, inst)
			} else {
				c.aliasedInInnerLoop = true // a same-loop MAY_ALIAS store is conservatively treated like disqualifying evidence
			}
		}
	}
}

// finalizeLoopCandidates resolves spec §4.E's "Loop headers" rule once
// every block of loop has been processed.
func (st *state) finalizeLoopCandidates(loop *ir.Loop) {
	cands, ok := st.candidates[loop]
	if !ok {
		return
	}
	for _, c := range cands {
		if len(c.loads) == 0 || c.aliasedInInnerLoop {
			continue
		}
		if len(c.mustStores) > 0 {
			backVal := storeValue(c.mustStores[len(c.mustStores)-1])
			preds := loop.Header.Predecessors()
			inputs := make([]ir.Input, len(preds))
			typ := c.preHeaderVal.Type()
			for i, p := range preds {
				v := c.preHeaderVal
				if p != loop.PreHeader {
					v = backVal
				}
				inputs[i] = ir.Input{Value: v, Type: typ}
			}
			phi := st.g.NewPhi(loop.Header, typ, inputs)
			phi.Payload().(*ir.PhiPayload).Local = true
			for _, ld := range c.loads {
				st.elimLoads[ld] = &heapEntry{val: phi}
			}
		} else {
			for _, ld := range c.loads {
				st.elimLoads[ld] = &heapEntry{val: c.preHeaderVal}
			}
		}
	}
	delete(st.candidates, loop)
}

// finalize applies every recorded decision (spec §4.E "Finalization"):
// resolve transitive chains, insert casts where types diverge, replace
// users, repair bridges, and recursively erase newly-dead instructions.
func (st *state) finalize() {
	resolved := map[*ir.Inst]*ir.Inst{}
	var resolve func(*ir.Inst) *ir.Inst
	resolve = func(inst *ir.Inst) *ir.Inst {
		if v, ok := resolved[inst]; ok {
			return v
		}
		e, ok := st.elimLoads[inst]
		if !ok {
			resolved[inst] = inst
			return inst
		}
		v := e.val
		if v != inst {
			v = resolve(v)
		}
		resolved[inst] = v
		return v
	}

	for ld := range st.elimLoads {
		final := resolve(ld)
		if final == ld {
			continue
		}
		if final.Type() != ld.Type() {
			cast := st.g.NewInst(ir.OpCast, ld.Type(), &ir.CastPayload{FromType: final.Type()}, ld.PC(), ir.Input{Value: final, Type: final.Type()})
			st.g.InsertBefore(ld, cast)
			final = cast
		}
		st.g.ReplaceUsers(ld, final)
		if ld.Type().IsReference() {
			st.bridge.FixInstUsage(final)
		}
	}

	for _, b := range st.g.Blocks() {
		insts := b.AllInsts()
		for i := len(insts) - 1; i >= 0; i-- {
			inst := insts[i]
			if inst.Block() == nil {
				continue
			}
			_, isLoad := st.elimLoads[inst]
			if isLoad || st.deadStores[inst] {
				st.eraseRecursive(inst, true)
			}
		}
	}
}

// eraseRecursive erases inst and, transitively, any producer that becomes
// dead as a result. force bypasses the side-effect guard for the initial
// target (a load/store this pass explicitly decided to eliminate); producers
// visited afterward are only pruned when they have no remaining observable
// effect of their own.
func (st *state) eraseRecursive(inst *ir.Inst, force bool) {
	if inst.Block() == nil || inst.HasUsers() {
		return
	}
	if !force && hasObservableSideEffect(inst) {
		return
	}
	var producers []*ir.Inst
	for _, in := range inst.Inputs() {
		if in.Value != nil {
			producers = append(producers, in.Value)
		}
	}
	st.g.Erase(inst)
	for _, p := range producers {
		st.eraseRecursive(p, false)
	}
}

func hasObservableSideEffect(inst *ir.Inst) bool {
	switch {
	case inst.Op().IsStore(), inst.Op().IsCall(), inst.Op().IsCheck(), inst.IsTerminator():
		return true
	}
	switch inst.Op() {
	case ir.OpSaveState, ir.OpPhi, ir.OpParameter, ir.OpConstant, ir.OpNullPtr:
		return true
	}
	return false
}

func memoryBase(inst *ir.Inst) *ir.Inst {
	switch inst.Op() {
	case ir.OpLoadObject, ir.OpStoreObject,
		ir.OpLoadArray, ir.OpStoreArray,
		ir.OpLoadArrayI, ir.OpStoreArrayI,
		ir.OpLoadArrayPair, ir.OpStoreArrayPair,
		ir.OpLoadArrayPairI, ir.OpStoreArrayPairI:
		return inst.InputAt(0)
	}
	return nil
}

// storeValue returns the value operand of a store (spec §3: stores carry
// their base/index followed by the stored value as trailing inputs).
func storeValue(inst *ir.Inst) *ir.Inst {
	n := inst.NumInputs()
	if n == 0 {
		return nil
	}
	return inst.InputAt(n - 1)
}
