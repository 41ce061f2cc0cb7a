package ir

// BasicBlock is an ordered sequence of phis followed by an ordered
// sequence of non-phi instructions, terminated by exactly one terminator
// when non-empty (spec §3).
type BasicBlock struct {
	id    int
	label string

	phis  []*Inst
	insts []*Inst // non-phi instructions, last one (if any) is the terminator

	preds []*BasicBlock
	succs []*BasicBlock // ordered; succs[0] is the true edge for a terminator, when applicable

	loop *Loop
	idom *BasicBlock // immediate dominator, maintained by analysis.DominatorsTree

	flags BlockFlags

	rpoIndex int // -1 if not currently valid; maintained by Graph.RPO()

	markers markerSet
}

// BlockFlags mirrors spec §3's block flag set.
type BlockFlags uint32

const (
	BlockTryBegin BlockFlags = 1 << iota
	BlockTryEnd
	BlockCatchBegin
	BlockCatch
	BlockLoopHeader
	BlockOSREntry
	BlockStart
	BlockEnd
)

func (f BlockFlags) Has(bit BlockFlags) bool { return f&bit != 0 }

func (b *BasicBlock) ID() int      { return b.id }
func (b *BasicBlock) Label() string { return b.label }

func (b *BasicBlock) Flags() BlockFlags      { return b.flags }
func (b *BasicBlock) SetFlag(bit BlockFlags) { b.flags |= bit }
func (b *BasicBlock) ClearFlag(bit BlockFlags) { b.flags &^= bit }

func (b *BasicBlock) Phis() []*Inst  { return b.phis }
func (b *BasicBlock) Insts() []*Inst { return b.insts }

// AllInsts returns phis followed by non-phi instructions, in program order.
func (b *BasicBlock) AllInsts() []*Inst {
	out := make([]*Inst, 0, len(b.phis)+len(b.insts))
	out = append(out, b.phis...)
	out = append(out, b.insts...)
	return out
}

func (b *BasicBlock) Predecessors() []*BasicBlock { return b.preds }
func (b *BasicBlock) Successors() []*BasicBlock   { return b.succs }

func (b *BasicBlock) PredIndex(p *BasicBlock) int {
	for i, pp := range b.preds {
		if pp == p {
			return i
		}
	}
	return -1
}

func (b *BasicBlock) SuccIndex(s *BasicBlock) int {
	for i, ss := range b.succs {
		if ss == s {
			return i
		}
	}
	return -1
}

// Terminator returns the block's terminator instruction, or nil if the
// block is empty or not yet terminated.
func (b *BasicBlock) Terminator() *Inst {
	if len(b.insts) == 0 {
		return nil
	}
	last := b.insts[len(b.insts)-1]
	if last.IsTerminator() {
		return last
	}
	return nil
}

// Loop returns the innermost loop containing this block (the root loop if
// the block is outside every natural loop).
func (b *BasicBlock) Loop() *Loop { return b.loop }

// SetLoop records the innermost loop containing b. Exposed so
// analysis.LoopAnalyzer can publish its result without internal/ir
// depending on internal/analysis.
func SetLoop(b *BasicBlock, l *Loop) { b.loop = l }

// ImmediateDominator returns the block's immediate dominator as last
// computed by analysis.DominatorsTree.Recompute, or nil for the start block.
func (b *BasicBlock) ImmediateDominator() *BasicBlock { return b.idom }

// SetImmediateDominator records b's immediate dominator. It exists so that
// an external analysis package (analysis.DominatorsTree) can publish its
// result onto the block without this package depending on it back.
func SetImmediateDominator(b *BasicBlock, idom *BasicBlock) { b.idom = idom }

// RPOIndex returns the block's last-computed reverse-post-order position,
// or -1 if RPO has not been computed since the last CFG edit.
func (b *BasicBlock) RPOIndex() int { return b.rpoIndex }

func (b *BasicBlock) String() string { return formatBlockHeader(b) }

// Loop describes a natural loop (spec §3).
type Loop struct {
	Header    *BasicBlock
	PreHeader *BasicBlock
	BackEdges []*BasicBlock
	Blocks    map[*BasicBlock]bool
	Inner     []*Loop
	Outer     *Loop

	Irreducible bool
	IsOSR       bool
	IsTryCatch  bool
	IsRoot      bool
}

// Contains reports whether blk is a member of this loop.
func (l *Loop) Contains(blk *BasicBlock) bool {
	if l == nil {
		return false
	}
	return l.Blocks[blk]
}

// IsInnerOf reports whether this loop is nested (directly or transitively)
// inside other.
func (l *Loop) IsInnerOf(other *Loop) bool {
	for cur := l.Outer; cur != nil; cur = cur.Outer {
		if cur == other {
			return true
		}
	}
	return false
}

// ExcludedFromLSEHoisting reports whether this loop is one LSE must never
// hoist loads out of or form loop-header phis within (spec §4.E).
func (l *Loop) ExcludedFromLSEHoisting() bool {
	return l == nil || l.Irreducible || l.IsOSR
}
