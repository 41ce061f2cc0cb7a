package irtext

import (
	"fmt"

	"iropt/internal/ir"
	"iropt/internal/runtime"
)

// BuildFile builds every method in f into a *ir.Graph, keyed the same way
// inlining.StaticProvider is (runtime.MethodRef), so a parsed fixture file
// can be handed to a CalleeProvider directly: cmd/iropt does exactly that.
func BuildFile(f *File) (map[runtime.MethodRef]*ir.Graph, error) {
	out := make(map[runtime.MethodRef]*ir.Graph, len(f.Methods))
	for _, m := range f.Methods {
		g, err := buildMethod(m)
		if err != nil {
			return nil, fmt.Errorf("method %s.%s: %w", m.Class, m.Name, err)
		}
		out[runtime.MethodRef{Class: m.Class, Method: m.Name}] = g
	}
	return out, nil
}

// pendingPhi is a Phi instruction whose inputs couldn't be resolved when it
// was created, because the owning block's Predecessors() order isn't final
// until every block's terminator has wired its edges. Deferring phi-input
// resolution this way is a simplified form of the teacher's SSA-construction
// bookkeeping (kanso/internal/ir/builder.go's incompletePhis map) — our
// textual values are explicitly named, so only the phi/predecessor-edge
// ordering step needs deferring, not full variable-stack renaming.
type pendingPhi struct {
	inst  *ir.Inst
	block *ir.BasicBlock
	typ   ir.Type
	attrs []*Attr
	label string
}

type builder struct {
	g       *ir.Graph
	blocks  map[string]*ir.BasicBlock
	values  map[string]*ir.Inst
	pending []pendingPhi
}

func buildMethod(m *Method) (*ir.Graph, error) {
	desc := ir.MethodDescriptor{Name: m.Name, Class: m.Class}
	for _, a := range m.Attrs {
		switch a.Key {
		case "regs":
			n, err := a.Value.asInt()
			if err != nil {
				return nil, fmt.Errorf("attr regs: %w", err)
			}
			desc.RegsCount = n
		case "size":
			n, err := a.Value.asInt()
			if err != nil {
				return nil, fmt.Errorf("attr size: %w", err)
			}
			desc.CodeSize = n
		case "args":
			n, err := a.Value.asInt()
			if err != nil {
				return nil, fmt.Errorf("attr args: %w", err)
			}
			desc.ArgsCount = n
		case "external":
			desc.External = a.Value.asBool()
		case "final":
			desc.Final = a.Value.asBool()
		case "classfinal":
			desc.ClassFinal = a.Value.asBool()
		default:
			return nil, fmt.Errorf("unknown method attribute %q", a.Key)
		}
	}

	g := ir.NewGraph(desc, "arm64")
	bb := &builder{g: g, blocks: map[string]*ir.BasicBlock{}, values: map[string]*ir.Inst{}}

	for _, bdecl := range m.Blocks {
		if _, dup := bb.blocks[bdecl.Label]; dup {
			return nil, fmt.Errorf("duplicate block %q", bdecl.Label)
		}
		bb.blocks[bdecl.Label] = g.NewBlock(bdecl.Label)
	}
	for _, bdecl := range m.Blocks {
		blk := bb.blocks[bdecl.Label]
		for _, flag := range bdecl.Flags {
			if err := applyBlockFlag(g, blk, flag); err != nil {
				return nil, fmt.Errorf("block %q: %w", bdecl.Label, err)
			}
		}
	}

	// Phis first (spec §3: a block is phis then instructions), so any
	// regular instruction anywhere may reference a phi's result by name.
	for _, bdecl := range m.Blocks {
		blk := bb.blocks[bdecl.Label]
		for _, inst := range bdecl.Insts {
			if inst.Op != "Phi" {
				continue
			}
			if inst.Dest == nil {
				return nil, fmt.Errorf("block %q: Phi needs a %%dest", bdecl.Label)
			}
			typ, err := typeByName(derefOr(inst.Dest.Type, "Any"))
			if err != nil {
				return nil, err
			}
			phi := g.NewInst(ir.OpPhi, typ, &ir.PhiPayload{}, 0)
			g.AppendPhi(blk, phi)
			bb.values[inst.Dest.Name] = phi
			bb.pending = append(bb.pending, pendingPhi{inst: phi, block: blk, typ: typ, attrs: inst.Attrs, label: bdecl.Label})
		}
	}

	for _, bdecl := range m.Blocks {
		blk := bb.blocks[bdecl.Label]
		for _, inst := range bdecl.Insts {
			if inst.Op == "Phi" {
				continue
			}
			if err := bb.buildInst(blk, inst); err != nil {
				return nil, fmt.Errorf("block %q: %w", bdecl.Label, err)
			}
		}
	}

	if err := bb.resolvePhis(); err != nil {
		return nil, err
	}
	return g, nil
}

func applyBlockFlag(g *ir.Graph, b *ir.BasicBlock, flag string) error {
	switch flag {
	case "start":
		g.SetStart(b)
	case "end":
		g.SetEnd(b)
	case "loop-header":
		b.SetFlag(ir.BlockLoopHeader)
	case "osr-entry":
		b.SetFlag(ir.BlockOSREntry)
	case "try-begin":
		b.SetFlag(ir.BlockTryBegin)
	case "try-end":
		b.SetFlag(ir.BlockTryEnd)
	case "catch-begin":
		b.SetFlag(ir.BlockCatchBegin)
	case "catch":
		b.SetFlag(ir.BlockCatch)
	default:
		return fmt.Errorf("unknown block flag %q", flag)
	}
	return nil
}

func (bb *builder) resolvePhis() error {
	for _, p := range bb.pending {
		preds := p.block.Predecessors()
		inputs := make([]*ir.Inst, len(preds))
		for i, pred := range preds {
			key := "in_" + pred.Label()
			val, err := attrRef(p.attrs, key)
			if err != nil {
				return fmt.Errorf("block %q: phi: %w", p.label, err)
			}
			v, ok := bb.values[val]
			if !ok {
				return fmt.Errorf("block %q: phi: undefined value %%%s", p.label, val)
			}
			inputs[i] = v
		}
		for _, v := range inputs {
			bb.g.AppendInput(p.inst, v, p.typ)
		}
	}
	return nil
}

func (bb *builder) ref(name string) (*ir.Inst, error) {
	v, ok := bb.values[name]
	if !ok {
		return nil, fmt.Errorf("undefined value %%%s", name)
	}
	return v, nil
}

func (bb *builder) refs(names []string) ([]*ir.Inst, error) {
	out := make([]*ir.Inst, len(names))
	for i, n := range names {
		v, err := bb.ref(n)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}
