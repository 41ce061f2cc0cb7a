package ir

// This file defines the opcode-specific Payload implementations. Each
// payload type mirrors one of the instruction categories described in
// spec §3 (Call family, Memory, Check, SaveState, Phi, Compare/IfImm/If).

// ConstantPayload carries a constant value. The Graph interns constants so
// that equal (Type, Value) pairs share one Inst (invariant I5).
type ConstantPayload struct {
	Value int64 // integer/bool/reference-null payload; float bits via math.Float64bits when Type is Float*
}

func (*ConstantPayload) isPayload() {}

// ParameterPayload marks a formal parameter and its ordinal index.
type ParameterPayload struct {
	Index int
}

func (*ParameterPayload) isPayload() {}

// PhiPayload holds one input per predecessor, positionally aligned with
// the owning block's Predecessors slice.
type PhiPayload struct {
	// Local marks a phi synthesized by LSE's join/loop-header handling
	// rather than one produced by the original SSA construction.
	Local bool
}

func (*PhiPayload) isPayload() {}

// SaveStatePayload's inputs ARE the live vreg set (plus bridges appended
// by SaveStateBridgesBuilder); VRegs records, for each input at the same
// index, which virtual register it reconstructs (0 for a bridge-only
// input with no vreg slot).
type SaveStatePayload struct {
	VRegs []int
	// BridgeCount is the number of trailing inputs that are bridges
	// (added by SaveStateBridgesBuilder) rather than original vreg inputs.
	BridgeCount int
}

func (*SaveStatePayload) isPayload() {}

// MethodRef identifies a callee for the call family and for CHA/PIC
// resolution (spec §6's runtime interface operates in terms of this).
type MethodRef struct {
	Class  string
	Method string
	// ID is an opaque identifier a RuntimeInterface implementation may use
	// as its own lookup key; the core never interprets it.
	ID int64
}

// CallPayload is shared by the call family (spec §3: "A Call carries a
// method descriptor, an 'inlined' flag, and a SaveState input").
type CallPayload struct {
	Method MethodRef
	// Inlined mirrors Inst.Flags().Has(FlagInlined); kept here too so
	// printers/tests can read it off the payload without flag bit lookup.
	Inlined bool
	// IntrinsicID is set when Op == OpIntrinsic.
	IntrinsicID int
}

func (*CallPayload) isPayload() {}

// MemoryPayload is shared by the Memory family (Load/Store Object/Array/
// Static/...). Volatile mirrors FlagVolatile for convenience.
type MemoryPayload struct {
	Class     MemoryClass
	FieldID   int64 // object field id, static field id, or array-element-type tag
	Volatile  bool
	ArrayKind Type // element type for array ops
}

func (*MemoryPayload) isPayload() {}

// CheckPayload is shared by NullCheck/BoundsCheck/NegativeCheck/
// DeoptimizeIf/IsMustDeoptimize.
type CheckPayload struct {
	Reason DeoptReason
}

func (*CheckPayload) isPayload() {}

// DeoptReason enumerates why a DeoptimizeIf/Deoptimize was inserted.
type DeoptReason int

const (
	DeoptNone DeoptReason = iota
	DeoptNullCheck
	DeoptBoundsCheck
	DeoptNegativeCheck
	DeoptInlineIC  // CHA/PIC guard failure (spec S5: "reason INLINE_IC")
	DeoptGeneric
)

func (r DeoptReason) String() string {
	switch r {
	case DeoptNullCheck:
		return "NULL_CHECK"
	case DeoptBoundsCheck:
		return "BOUNDS_CHECK"
	case DeoptNegativeCheck:
		return "NEGATIVE_CHECK"
	case DeoptInlineIC:
		return "INLINE_IC"
	case DeoptGeneric:
		return "GENERIC"
	default:
		return "NONE"
	}
}

// ComparePayload backs Compare/IfImm/If's condition-code primitives.
type ComparePayload struct {
	CC ConditionCode
	// Imm is the immediate compared against for IfImm; unused for If/Compare.
	Imm  int64
	HasImm bool
}

func (*ComparePayload) isPayload() {}

// BranchPayload marks an If terminator; If tests another Inst's boolean
// result, so no compare data is duplicated here. IfImm carries its own
// ComparePayload instead.
type BranchPayload struct{}

func (*BranchPayload) isPayload() {}

// CastPayload records the pre-cast type, used by LSE finalization when a
// replacement's type differs from the eliminated instruction's type.
type CastPayload struct {
	FromType Type
}

func (*CastPayload) isPayload() {}

// CompareClassPayload backs the CompareClass guard used in devirtualization
// and polymorphic inline-cache dispatch ladders.
type CompareClassPayload struct {
	Class string
}

func (*CompareClassPayload) isPayload() {}

// GetInstanceClassPayload has no extra data beyond its Reference input.
type GetInstanceClassPayload struct{}

func (*GetInstanceClassPayload) isPayload() {}
