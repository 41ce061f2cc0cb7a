package irtext

import (
	"fmt"

	"iropt/internal/ir"
)

var typeNames = map[string]ir.Type{
	"Void": ir.TypeVoid, "Bool": ir.TypeBool,
	"Int8": ir.TypeInt8, "Int16": ir.TypeInt16, "Int32": ir.TypeInt32, "Int64": ir.TypeInt64,
	"UInt8": ir.TypeUInt8, "UInt16": ir.TypeUInt16, "UInt32": ir.TypeUInt32, "UInt64": ir.TypeUInt64,
	"Float32": ir.TypeFloat32, "Float64": ir.TypeFloat64,
	"Reference": ir.TypeReference, "Any": ir.TypeAny, "Pointer": ir.TypePointer,
}

func typeByName(s string) (ir.Type, error) {
	t, ok := typeNames[s]
	if !ok {
		return ir.TypeNoType, fmt.Errorf("unknown type %q", s)
	}
	return t, nil
}

var ccNames = map[string]ir.ConditionCode{
	"EQ": ir.CC_EQ, "NE": ir.CC_NE, "LT": ir.CC_LT, "LE": ir.CC_LE, "GT": ir.CC_GT, "GE": ir.CC_GE,
	"B": ir.CC_B, "BE": ir.CC_BE, "A": ir.CC_A, "AE": ir.CC_AE,
	"TST_EQ": ir.CC_TST_EQ, "TST_NE": ir.CC_TST_NE,
}

func ccByName(s string) (ir.ConditionCode, error) {
	cc, ok := ccNames[s]
	if !ok {
		return 0, fmt.Errorf("unknown condition code %q", s)
	}
	return cc, nil
}

var reasonNames = map[string]ir.DeoptReason{
	"NONE": ir.DeoptNone, "NULL_CHECK": ir.DeoptNullCheck, "BOUNDS_CHECK": ir.DeoptBoundsCheck,
	"NEGATIVE_CHECK": ir.DeoptNegativeCheck, "INLINE_IC": ir.DeoptInlineIC, "GENERIC": ir.DeoptGeneric,
}

func reasonByName(s string) ir.DeoptReason {
	if r, ok := reasonNames[s]; ok {
		return r
	}
	return ir.DeoptGeneric
}

func findAttr(attrs []*Attr, key string) (*AttrValue, bool) {
	for _, a := range attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return nil, false
}

func attrRef(attrs []*Attr, key string) (string, error) {
	v, ok := findAttr(attrs, key)
	if !ok {
		return "", fmt.Errorf("missing attribute %q", key)
	}
	if v.Ref == nil {
		return "", fmt.Errorf("attribute %q must be a %%value reference", key)
	}
	return *v.Ref, nil
}

func attrInt(attrs []*Attr, key string, def int64) (int64, error) {
	v, ok := findAttr(attrs, key)
	if !ok {
		return def, nil
	}
	return v.asInt()
}

func attrWord(attrs []*Attr, key, def string) string {
	v, ok := findAttr(attrs, key)
	if !ok || v.Word == nil {
		return def
	}
	return *v.Word
}

func attrBool(attrs []*Attr, key string, def bool) bool {
	v, ok := findAttr(attrs, key)
	if !ok {
		return def
	}
	return v.asBool()
}

func attrIntList(attrs []*Attr, key string) []int {
	v, ok := findAttr(attrs, key)
	if !ok {
		return nil
	}
	return v.List
}

func (v *AttrValue) asInt() (int64, error) {
	switch {
	case v.Num != nil:
		return int64(*v.Num), nil
	case v.Word != nil:
		return 0, fmt.Errorf("expected an integer, got %q", *v.Word)
	default:
		return 0, fmt.Errorf("expected an integer attribute")
	}
}

func (v *AttrValue) asBool() bool {
	switch {
	case v.Word != nil:
		return *v.Word == "true"
	case v.Num != nil:
		return *v.Num != 0
	default:
		return false
	}
}

// bind registers decl's %dest (if any) against inst in the values table.
func (bb *builder) bind(decl *Instruction, inst *ir.Inst) {
	if decl.Dest != nil {
		bb.values[decl.Dest.Name] = inst
	}
}

func (bb *builder) target(label string) (*ir.BasicBlock, error) {
	b, ok := bb.blocks[label]
	if !ok {
		return nil, fmt.Errorf("undefined block %q", label)
	}
	return b, nil
}

func one(args []string, what string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%s needs exactly one argument, got %d", what, len(args))
	}
	return args[0], nil
}

// buildInst builds every non-Phi instruction kind the assembly supports.
// Constant/NullPtr are interned graph-level values (ir.Graph.Const/NullPtr
// never Append them to a block — invariant I5), so they're never appended
// here either; every other opcode is appended to b in textual order.
func (bb *builder) buildInst(b *ir.BasicBlock, decl *Instruction) error {
	g := bb.g
	destType := ir.TypeAny
	if decl.Dest != nil && decl.Dest.Type != nil {
		t, err := typeByName(*decl.Dest.Type)
		if err != nil {
			return err
		}
		destType = t
	}

	switch decl.Op {
	case "Parameter":
		idx, err := attrInt(decl.Attrs, "arg", 0)
		if err != nil {
			return err
		}
		inst := g.NewInst(ir.OpParameter, destType, &ir.ParameterPayload{Index: int(idx)}, 0)
		g.Append(b, inst)
		bb.bind(decl, inst)
		return nil

	case "Constant":
		val, err := attrInt(decl.Attrs, "value", 0)
		if err != nil {
			return err
		}
		bb.bind(decl, g.Const(destType, val))
		return nil

	case "NullPtr":
		bb.bind(decl, g.NullPtr())
		return nil

	case "SaveState":
		vals, err := bb.refs(decl.Args)
		if err != nil {
			return err
		}
		bridges, err := attrInt(decl.Attrs, "bridges", 0)
		if err != nil {
			return err
		}
		inputs := make([]ir.Input, len(vals))
		for i, v := range vals {
			inputs[i] = ir.Input{Value: v, Type: v.Type()}
		}
		payload := &ir.SaveStatePayload{VRegs: attrIntList(decl.Attrs, "vregs"), BridgeCount: int(bridges)}
		inst := g.NewInst(ir.OpSaveState, ir.TypeVoid, payload, 0, inputs...)
		g.Append(b, inst)
		bb.bind(decl, inst)
		return nil

	case "Return":
		ref, err := one(decl.Args, "Return")
		if err != nil {
			return err
		}
		v, err := bb.ref(ref)
		if err != nil {
			return err
		}
		inst := g.NewInst(ir.OpReturn, ir.TypeVoid, nil, 0, ir.Input{Value: v, Type: v.Type()})
		g.Append(b, inst)
		return nil

	case "ReturnVoid":
		g.Append(b, g.NewInst(ir.OpReturnVoid, ir.TypeVoid, nil, 0))
		return nil

	case "Throw":
		var inputs []ir.Input
		if len(decl.Args) == 1 {
			v, err := bb.ref(decl.Args[0])
			if err != nil {
				return err
			}
			inputs = []ir.Input{{Value: v, Type: v.Type()}}
		}
		g.Append(b, g.NewInst(ir.OpThrow, ir.TypeVoid, nil, 0, inputs...))
		return nil

	case "Deoptimize":
		g.Append(b, g.NewInst(ir.OpDeoptimize, ir.TypeVoid, nil, 0))
		return nil

	case "Goto":
		to, err := one(decl.Targets, "Goto")
		if err != nil {
			return err
		}
		target, err := bb.target(to)
		if err != nil {
			return err
		}
		g.AddEdge(b, target)
		return nil

	case "If":
		condName, err := one(decl.Args, "If")
		if err != nil {
			return err
		}
		cond, err := bb.ref(condName)
		if err != nil {
			return err
		}
		if len(decl.Targets) != 2 {
			return fmt.Errorf("If needs exactly two targets (true,false)")
		}
		tb, err := bb.target(decl.Targets[0])
		if err != nil {
			return err
		}
		fb, err := bb.target(decl.Targets[1])
		if err != nil {
			return err
		}
		inst := g.NewInst(ir.OpIf, ir.TypeVoid, &ir.BranchPayload{}, 0, ir.Input{Value: cond, Type: cond.Type()})
		g.Append(b, inst)
		g.AddEdge(b, tb)
		g.AddEdge(b, fb)
		return nil

	case "IfImm":
		valName, err := one(decl.Args, "IfImm")
		if err != nil {
			return err
		}
		val, err := bb.ref(valName)
		if err != nil {
			return err
		}
		if len(decl.Targets) != 2 {
			return fmt.Errorf("IfImm needs exactly two targets (true,false)")
		}
		tb, err := bb.target(decl.Targets[0])
		if err != nil {
			return err
		}
		fb, err := bb.target(decl.Targets[1])
		if err != nil {
			return err
		}
		cc, err := ccByName(attrWord(decl.Attrs, "cc", "EQ"))
		if err != nil {
			return err
		}
		imm, err := attrInt(decl.Attrs, "imm", 0)
		if err != nil {
			return err
		}
		payload := &ir.ComparePayload{CC: cc, Imm: imm, HasImm: true}
		inst := g.NewInst(ir.OpIfImm, ir.TypeVoid, payload, 0, ir.Input{Value: val, Type: val.Type()})
		g.Append(b, inst)
		g.AddEdge(b, tb)
		g.AddEdge(b, fb)
		return nil

	case "Compare":
		if len(decl.Args) != 2 {
			return fmt.Errorf("Compare needs exactly two arguments")
		}
		lhs, err := bb.ref(decl.Args[0])
		if err != nil {
			return err
		}
		rhs, err := bb.ref(decl.Args[1])
		if err != nil {
			return err
		}
		cc, err := ccByName(attrWord(decl.Attrs, "cc", "EQ"))
		if err != nil {
			return err
		}
		inst := g.NewInst(ir.OpCompare, destType, &ir.ComparePayload{CC: cc}, 0,
			ir.Input{Value: lhs, Type: lhs.Type()}, ir.Input{Value: rhs, Type: rhs.Type()})
		g.Append(b, inst)
		bb.bind(decl, inst)
		return nil

	case "DeoptimizeIf", "IsMustDeoptimize", "NullCheck", "BoundsCheck", "NegativeCheck":
		return bb.buildCheck(b, decl, destType)

	case "CallStatic", "CallResolvedStatic", "CallVirtual", "CallResolvedVirtual", "Intrinsic":
		return bb.buildCall(b, decl, destType)

	case "LoadObject", "StoreObject", "LoadStatic", "StoreStatic":
		return bb.buildMemory(b, decl, destType)

	case "GetInstanceClass":
		ref, err := one(decl.Args, "GetInstanceClass")
		if err != nil {
			return err
		}
		v, err := bb.ref(ref)
		if err != nil {
			return err
		}
		inst := g.NewInst(ir.OpGetInstanceClass, destType, &ir.GetInstanceClassPayload{}, 0, ir.Input{Value: v, Type: v.Type()})
		g.Append(b, inst)
		bb.bind(decl, inst)
		return nil

	case "CompareClass":
		ref, err := one(decl.Args, "CompareClass")
		if err != nil {
			return err
		}
		v, err := bb.ref(ref)
		if err != nil {
			return err
		}
		class := attrWord(decl.Attrs, "class", "")
		inst := g.NewInst(ir.OpCompareClass, ir.TypeBool, &ir.CompareClassPayload{Class: class}, 0, ir.Input{Value: v, Type: v.Type()})
		g.Append(b, inst)
		bb.bind(decl, inst)
		return nil

	case "Cast":
		ref, err := one(decl.Args, "Cast")
		if err != nil {
			return err
		}
		v, err := bb.ref(ref)
		if err != nil {
			return err
		}
		from, err := typeByName(attrWord(decl.Attrs, "from", "Any"))
		if err != nil {
			return err
		}
		inst := g.NewInst(ir.OpCast, destType, &ir.CastPayload{FromType: from}, 0, ir.Input{Value: v, Type: v.Type()})
		g.Append(b, inst)
		bb.bind(decl, inst)
		return nil

	case "InitClass":
		g.Append(b, g.NewInst(ir.OpInitClass, ir.TypeVoid, nil, 0))
		return nil

	case "MonitorEnter", "MonitorExit":
		ref, err := one(decl.Args, decl.Op)
		if err != nil {
			return err
		}
		v, err := bb.ref(ref)
		if err != nil {
			return err
		}
		op := ir.OpMonitorEnter
		if decl.Op == "MonitorExit" {
			op = ir.OpMonitorExit
		}
		g.Append(b, g.NewInst(op, ir.TypeVoid, nil, 0, ir.Input{Value: v, Type: v.Type()}))
		return nil

	default:
		return fmt.Errorf("unknown instruction %q", decl.Op)
	}
}

func (bb *builder) buildCheck(b *ir.BasicBlock, decl *Instruction, destType ir.Type) error {
	g := bb.g
	vals, err := bb.refs(decl.Args)
	if err != nil {
		return err
	}
	inputs := make([]ir.Input, len(vals))
	for i, v := range vals {
		inputs[i] = ir.Input{Value: v, Type: v.Type()}
	}
	reason := reasonByName(attrWord(decl.Attrs, "reason", "GENERIC"))
	payload := &ir.CheckPayload{Reason: reason}

	var op ir.Opcode
	typ := destType
	switch decl.Op {
	case "DeoptimizeIf":
		op, typ = ir.OpDeoptimizeIf, ir.TypeVoid
	case "IsMustDeoptimize":
		op, typ = ir.OpIsMustDeoptimize, ir.TypeBool
	case "NullCheck":
		op = ir.OpNullCheck
	case "BoundsCheck":
		op = ir.OpBoundsCheck
	case "NegativeCheck":
		op = ir.OpNegativeCheck
	}
	inst := g.NewInst(op, typ, payload, 0, inputs...)
	g.Append(b, inst)
	bb.bind(decl, inst)
	return nil
}

func (bb *builder) buildCall(b *ir.BasicBlock, decl *Instruction, destType ir.Type) error {
	g := bb.g
	vals, err := bb.refs(decl.Args)
	if err != nil {
		return err
	}
	inputs := make([]ir.Input, len(vals))
	for i, v := range vals {
		inputs[i] = ir.Input{Value: v, Type: v.Type()}
	}
	if ssName, ok := findAttr(decl.Attrs, "savestate"); ok && ssName.Ref != nil {
		ss, err := bb.ref(*ssName.Ref)
		if err != nil {
			return err
		}
		inputs = append(inputs, ir.Input{Value: ss, Type: ss.Type()})
	}

	class := attrWord(decl.Attrs, "class", "")
	method := attrWord(decl.Attrs, "method", "")
	intrinsicID, err := attrInt(decl.Attrs, "id", 0)
	if err != nil {
		return err
	}
	payload := &ir.CallPayload{Method: ir.MethodRef{Class: class, Method: method}, IntrinsicID: int(intrinsicID)}

	var op ir.Opcode
	switch decl.Op {
	case "CallStatic":
		op = ir.OpCallStatic
	case "CallResolvedStatic":
		op = ir.OpCallResolvedStatic
	case "CallVirtual":
		op = ir.OpCallVirtual
	case "CallResolvedVirtual":
		op = ir.OpCallResolvedVirtual
	case "Intrinsic":
		op = ir.OpIntrinsic
	}
	typ := destType
	if decl.Dest == nil {
		typ = ir.TypeVoid
	}
	inst := g.NewInst(op, typ, payload, 0, inputs...)
	g.Append(b, inst)
	bb.bind(decl, inst)
	return nil
}

func (bb *builder) buildMemory(b *ir.BasicBlock, decl *Instruction, destType ir.Type) error {
	g := bb.g
	vals, err := bb.refs(decl.Args)
	if err != nil {
		return err
	}
	inputs := make([]ir.Input, len(vals))
	for i, v := range vals {
		inputs[i] = ir.Input{Value: v, Type: v.Type()}
	}
	fieldID, err := attrInt(decl.Attrs, "field", 0)
	if err != nil {
		return err
	}
	volatile := attrBool(decl.Attrs, "volatile", false)

	var op ir.Opcode
	var class ir.MemoryClass
	typ := destType
	switch decl.Op {
	case "LoadObject":
		op, class = ir.OpLoadObject, ir.ClassObject
	case "StoreObject":
		op, class, typ = ir.OpStoreObject, ir.ClassObject, ir.TypeVoid
	case "LoadStatic":
		op, class = ir.OpLoadStatic, ir.ClassStatic
	case "StoreStatic":
		op, class, typ = ir.OpStoreStatic, ir.ClassStatic, ir.TypeVoid
	}
	payload := &ir.MemoryPayload{Class: class, FieldID: fieldID, Volatile: volatile}
	inst := g.NewInst(op, typ, payload, 0, inputs...)
	g.Append(b, inst)
	bb.bind(decl, inst)
	return nil
}
