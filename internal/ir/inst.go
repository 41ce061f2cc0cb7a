package ir

// Inst is a single SSA node: a tagged-variant instruction. The header
// fields below are common to every opcode; opcode-specific data lives in
// Payload (see payload.go). Producers hold outgoing Input edges; each Inst
// also maintains an intrusive Users list of back-edges — a cyclic
// ownership pattern at the logical level, but single-owner at the memory
// level since the Graph's arena is the only thing that ever frees an Inst.
type Inst struct {
	id      int
	op      Opcode
	typ     Type
	block   *BasicBlock
	pc      uint32
	inputs  []Input
	users   []*Use
	flags   InstFlags
	payload Payload

	markers markerSet
}

// Input pairs a producer Inst with the type annotation under which it is
// consumed (spec §3: "each input pairs a producer Inst with a type
// annotation").
type Input struct {
	Value *Inst
	Type  Type
}

// Use is a back-edge: User consumes Producer's result at input index Index.
type Use struct {
	User     *Inst
	Producer *Inst
	Index    int
}

// InstFlags holds small boolean properties that don't warrant a dedicated
// payload field, matching the BasicBlock flag set in spirit.
type InstFlags uint32

const (
	FlagVolatile InstFlags = 1 << iota
	FlagInlined             // a Call marked as an inlined-frame marker (invariant I4)
	FlagBarrierRequired      // ReturnInlined requires a memory barrier on exit
	FlagCHAGuard            // a DeoptimizeIf/IsMustDeoptimize inserted as a CHA guard
	FlagPICGuard            // a CompareClass inserted by polymorphic inlining
	FlagEliminable          // memory inst eligible for LSE (not a barrier, not in an excluded loop)
)

func (f InstFlags) Has(bit InstFlags) bool { return f&bit != 0 }

// Payload carries opcode-specific data. One concrete type exists per
// logical instruction family (matching the design note "one struct per
// opcode with opcode-specific payload"); Inst.payload is the tagged union.
type Payload interface {
	isPayload()
}

// GetID returns the instruction's unique, monotonically assigned id.
func (i *Inst) GetID() int { return i.id }

// Op returns the instruction's opcode.
func (i *Inst) Op() Opcode { return i.op }

// Type returns the instruction's result type.
func (i *Inst) Type() Type { return i.typ }

// Block returns the instruction's owning block, or nil if erased/unattached.
func (i *Inst) Block() *BasicBlock { return i.block }

// PC returns the instruction's source location.
func (i *Inst) PC() uint32 { return i.pc }

// Flags returns the instruction's flag bits.
func (i *Inst) Flags() InstFlags { return i.flags }

// SetFlag ORs bit into the instruction's flags.
func (i *Inst) SetFlag(bit InstFlags) { i.flags |= bit }

// ClearFlag clears bit from the instruction's flags.
func (i *Inst) ClearFlag(bit InstFlags) { i.flags &^= bit }

// Payload returns the opcode-specific payload, or nil if this opcode
// carries no extra state.
func (i *Inst) Payload() Payload { return i.payload }

// Inputs returns the instruction's ordered input list. Callers must not
// mutate the returned slice; use Graph.SetInput / Graph.ReplaceUsers.
func (i *Inst) Inputs() []Input { return i.inputs }

// InputAt returns the producer at input index k, or nil if out of range.
func (i *Inst) InputAt(k int) *Inst {
	if k < 0 || k >= len(i.inputs) {
		return nil
	}
	return i.inputs[k].Value
}

// NumInputs returns the number of inputs.
func (i *Inst) NumInputs() int { return len(i.inputs) }

// Users returns the instruction's user back-edges.
func (i *Inst) Users() []*Use { return i.users }

// HasUsers reports whether any other instruction consumes this value.
func (i *Inst) HasUsers() bool { return len(i.users) > 0 }

// IsTerminator reports whether this instruction ends its block.
func (i *Inst) IsTerminator() bool { return i.op.IsTerminator() }

// SaveStateInput returns the SaveState input of an instruction that
// requires one (Call/Check family), or nil.
func (i *Inst) SaveStateInput() *Inst {
	for _, in := range i.inputs {
		if in.Value != nil && in.Value.op == OpSaveState {
			return in.Value
		}
	}
	return nil
}

// String renders the printer's one-line form: "%id:Type = Op(%a, %b)"
// followed by any payload text and flags; ":Type" is left out for
// untyped and void results.
func (i *Inst) String() string { return formatInst(i) }
