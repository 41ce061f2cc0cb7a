package ir

// HeapInvalidating reports whether inst may write an unknown heap location,
// forcing LSE to clear its entire heap model (spec §4.E: "volatile load,
// non-inlined call, init-class, resolve-field, monitor-enter, any generic
// heap-invalidator flag").
func (i *Inst) HeapInvalidating() bool {
	switch {
	case i.op.IsCall() && !i.flags.Has(FlagInlined):
		return true
	case i.op == OpInitClass, i.op == OpResolveField, i.op == OpMonitorEnter:
		return true
	}
	if mp, ok := i.payload.(*MemoryPayload); ok && mp.Volatile && !i.op.IsStore() {
		return true // volatile load
	}
	return false
}

// HeapReading reports whether inst may observe (leak) the current heap
// model without invalidating it, forcing every live entry's read flag on
// (spec §4.E: "throw-capable, reference-returning intrinsic, volatile
// store, monitor-exit").
func (i *Inst) HeapReading() bool {
	switch {
	case i.op.IsCheck():
		return true
	case i.op == OpIntrinsic && i.typ.IsReference():
		return true
	case i.op == OpMonitorExit:
		return true
	}
	if mp, ok := i.payload.(*MemoryPayload); ok && mp.Volatile && i.op.IsStore() {
		return true
	}
	return false
}

// Eliminable reports whether a memory instruction is a candidate for LSE
// at all (spec §4.E: "not eliminable if it is a barrier... or lives in an
// irreducible loop, OSR loop, or try-catch loop"). Loop-membership checks
// are the caller's responsibility via Loop.ExcludedFromLSEHoisting; this
// method covers only the instruction-local barrier check.
func (i *Inst) Eliminable() bool {
	if !i.op.IsMemory() {
		return false
	}
	mp, ok := i.payload.(*MemoryPayload)
	if !ok {
		return true
	}
	return !mp.Volatile
}

// IsPure reports whether inst can be safely erased once it has no users: no
// store, call, check, terminator, or definitional instruction whose very
// presence (rather than its result) is part of the program (spec §4.A's
// erase contract). Used by the Cleanup pass; LSE's own finalization keeps a private,
// force-bypassable variant of the same check (internal/passes/lse).
func (i *Inst) IsPure() bool {
	switch {
	case i.op.IsStore(), i.op.IsCall(), i.op.IsCheck(), i.IsTerminator():
		return false
	}
	switch i.op {
	case OpSaveState, OpPhi, OpParameter, OpConstant, OpNullPtr:
		return false
	}
	return true
}
