package ir

import (
	"fmt"
	"strings"
)

// Print renders a full textual dump of the graph: one line per block
// header, one line per phi/instruction, mirroring the shape of the
// teacher's ir.Print (block label, then indented instructions).
func Print(g *Graph) string {
	var sb strings.Builder
	for _, b := range g.blocks {
		sb.WriteString(formatBlockHeader(b))
		sb.WriteString("\n")
		for _, phi := range b.phis {
			sb.WriteString("    ")
			sb.WriteString(formatInst(phi))
			sb.WriteString("\n")
		}
		for _, inst := range b.insts {
			sb.WriteString("    ")
			sb.WriteString(formatInst(inst))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func formatBlockHeader(b *BasicBlock) string {
	var flags []string
	if b.flags.Has(BlockStart) {
		flags = append(flags, "start")
	}
	if b.flags.Has(BlockEnd) {
		flags = append(flags, "end")
	}
	if b.flags.Has(BlockLoopHeader) {
		flags = append(flags, "loop-header")
	}
	if b.flags.Has(BlockOSREntry) {
		flags = append(flags, "osr-entry")
	}
	if b.flags.Has(BlockTryBegin) {
		flags = append(flags, "try-begin")
	}
	if b.flags.Has(BlockCatch) {
		flags = append(flags, "catch")
	}
	tag := ""
	if len(flags) > 0 {
		tag = " [" + strings.Join(flags, ",") + "]"
	}
	preds := make([]string, len(b.preds))
	for i, p := range b.preds {
		preds[i] = fmt.Sprintf("bb%d", p.id)
	}
	succs := make([]string, len(b.succs))
	for i, s := range b.succs {
		succs[i] = fmt.Sprintf("bb%d", s.id)
	}
	return fmt.Sprintf("bb%d%s: preds=[%s] succs=[%s]", b.id, tag, strings.Join(preds, ","), strings.Join(succs, ","))
}

func formatInst(i *Inst) string {
	var result string
	if rt := i.typ; rt != TypeVoid && rt != TypeNoType {
		result = fmt.Sprintf("%%%d:%s = ", i.id, rt)
	} else {
		result = fmt.Sprintf("%%%d = ", i.id)
	}

	args := make([]string, 0, len(i.inputs))
	for _, in := range i.inputs {
		if in.Value == nil {
			args = append(args, "<nil>")
			continue
		}
		args = append(args, fmt.Sprintf("%%%d", in.Value.id))
	}

	extra := formatPayload(i)
	line := fmt.Sprintf("%s%s(%s)", result, i.op, strings.Join(args, ", "))
	if extra != "" {
		line += " " + extra
	}
	if i.flags != 0 {
		line += " " + formatInstFlags(i.flags)
	}
	return line
}

func formatInstFlags(f InstFlags) string {
	var tags []string
	if f.Has(FlagVolatile) {
		tags = append(tags, "volatile")
	}
	if f.Has(FlagInlined) {
		tags = append(tags, "inlined")
	}
	if f.Has(FlagBarrierRequired) {
		tags = append(tags, "barrier")
	}
	if f.Has(FlagCHAGuard) {
		tags = append(tags, "cha-guard")
	}
	if f.Has(FlagPICGuard) {
		tags = append(tags, "pic-guard")
	}
	return "{" + strings.Join(tags, ",") + "}"
}

func formatPayload(i *Inst) string {
	switch p := i.payload.(type) {
	case *ConstantPayload:
		return fmt.Sprintf("#%d", p.Value)
	case *ParameterPayload:
		return fmt.Sprintf("arg%d", p.Index)
	case *CallPayload:
		return fmt.Sprintf("%s.%s", p.Method.Class, p.Method.Method)
	case *MemoryPayload:
		return fmt.Sprintf("field=%d", p.FieldID)
	case *CheckPayload:
		return p.Reason.String()
	case *ComparePayload:
		if p.HasImm {
			return fmt.Sprintf("cc=%s imm=%d", p.CC, p.Imm)
		}
		return fmt.Sprintf("cc=%s", p.CC)
	case *CompareClassPayload:
		return p.Class
	case *SaveStatePayload:
		return fmt.Sprintf("vregs=%v bridges=%d", p.VRegs, p.BridgeCount)
	case *CastPayload:
		return fmt.Sprintf("from=%s", p.FromType)
	default:
		return ""
	}
}
