package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// linearGraph builds: start -> bb1 -> end, with a single Return in bb1.
func linearGraph(t *testing.T) (*Graph, *BasicBlock) {
	t.Helper()
	g := NewGraph(MethodDescriptor{Name: "m"}, "arm64")
	start := g.NewBlock("start")
	bb1 := g.NewBlock("bb1")
	end := g.NewBlock("end")
	g.SetStart(start)
	g.SetEnd(end)
	g.AddEdge(start, bb1)
	g.AddEdge(bb1, end)
	c := g.Const(TypeInt32, 7)
	g.Append(bb1, c)
	ret := g.NewInst(OpReturn, TypeVoid, nil, 0, Input{Value: c, Type: TypeInt32})
	g.Append(bb1, ret)
	return g, bb1
}

func TestConstantsAreInterned(t *testing.T) {
	g, _ := linearGraph(t)
	a := g.Const(TypeInt32, 42)
	b := g.Const(TypeInt32, 42)
	assert.Same(t, a, b)

	c := g.Const(TypeInt64, 42)
	assert.NotSame(t, a, c, "different type must not share a constant")
}

func TestNullPtrIsUnique(t *testing.T) {
	g, _ := linearGraph(t)
	assert.Same(t, g.NullPtr(), g.NullPtr())
}

func TestPrependMaintainsUserLists(t *testing.T) {
	g, bb1 := linearGraph(t)
	c := g.Const(TypeInt32, 1)
	add := g.NewInst(OpCompare, TypeBool, &ComparePayload{CC: CC_EQ}, 0, Input{Value: c, Type: TypeInt32}, Input{Value: c, Type: TypeInt32})
	g.Prepend(bb1, add)

	require.Len(t, c.Users(), 2)
	assert.Equal(t, add, c.Users()[0].User)
}

func TestEraseRequiresNoUsers(t *testing.T) {
	g, bb1 := linearGraph(t)
	c := g.Const(TypeInt32, 9)
	g.Prepend(bb1, c)
	user := g.NewInst(OpCompare, TypeBool, &ComparePayload{CC: CC_EQ}, 0, Input{Value: c, Type: TypeInt32}, Input{Value: c, Type: TypeInt32})
	g.Prepend(bb1, user)

	assert.Panics(t, func() { g.Erase(c) })

	g.Erase(user)
	assert.NotPanics(t, func() { g.Erase(c) })
}

func TestReplaceUsersPreservesInputIndex(t *testing.T) {
	g, bb1 := linearGraph(t)
	a := g.Const(TypeInt32, 1)
	b := g.Const(TypeInt32, 2)
	cmp := g.NewInst(OpCompare, TypeBool, &ComparePayload{CC: CC_LT}, 0, Input{Value: a, Type: TypeInt32}, Input{Value: b, Type: TypeInt32})
	g.Prepend(bb1, cmp)

	repl := g.Const(TypeInt32, 99)
	g.ReplaceUsers(a, repl)

	assert.Equal(t, repl, cmp.InputAt(0))
	assert.Equal(t, b, cmp.InputAt(1))
	assert.Empty(t, a.Users())
}

func TestSplitBlockPreservesSuccessorsAndLoop(t *testing.T) {
	g, bb1 := linearGraph(t)
	loop := &Loop{Header: bb1, Blocks: map[*BasicBlock]bool{bb1: true}}
	bb1.loop = loop

	term := bb1.Terminator()
	require.NotNil(t, term)
	firstInst := bb1.insts[0]

	cont := g.SplitBlock(bb1, firstInst)

	assert.Equal(t, loop, cont.loop)
	assert.Equal(t, []*BasicBlock{cont}, bb1.Successors())
	assert.Contains(t, cont.Successors(), g.end)
	assert.Equal(t, term, cont.Terminator())
	assert.Len(t, bb1.insts, 1)
}

func TestNewPhiRequiresOneInputPerPredecessor(t *testing.T) {
	g := NewGraph(MethodDescriptor{Name: "m"}, "arm64")
	start := g.NewBlock("start")
	p1 := g.NewBlock("p1")
	p2 := g.NewBlock("p2")
	merge := g.NewBlock("merge")
	g.SetStart(start)
	g.AddEdge(start, p1)
	g.AddEdge(start, p2)
	g.AddEdge(p1, merge)
	g.AddEdge(p2, merge)

	a := g.Const(TypeInt32, 1)
	b := g.Const(TypeInt32, 2)
	phi := g.NewPhi(merge, TypeInt32, []Input{{Value: a, Type: TypeInt32}, {Value: b, Type: TypeInt32}})
	assert.Equal(t, merge, phi.Block())
	assert.Panics(t, func() {
		g.NewPhi(merge, TypeInt32, []Input{{Value: a, Type: TypeInt32}})
	})
}

func TestMarkerHolderIsolatesEpochs(t *testing.T) {
	g, bb1 := linearGraph(t)
	m1 := g.NewMarkerHolder()
	m2 := g.NewMarkerHolder()

	inst := bb1.insts[0]
	m1.SetInst(inst)
	assert.True(t, m1.IsSetInst(inst))
	assert.False(t, m2.IsSetInst(inst))
}

func TestRPOOrdersStartFirst(t *testing.T) {
	g, bb1 := linearGraph(t)
	order := g.RPO()
	require.NotEmpty(t, order)
	assert.Equal(t, g.start, order[0])
	assert.Equal(t, bb1, order[1])
}
