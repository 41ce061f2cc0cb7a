package bridges

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iropt/internal/analysis"
	"iropt/internal/ir"
)

func buildGraph(t *testing.T) (*ir.Graph, *ir.BasicBlock, *ir.BasicBlock, *ir.Inst) {
	t.Helper()
	g := ir.NewGraph(ir.MethodDescriptor{Name: "m"}, "arm64")
	start := g.NewBlock("start")
	mid := g.NewBlock("mid")
	end := g.NewBlock("end")
	g.SetStart(start)
	g.SetEnd(end)
	g.AddEdge(start, mid)
	g.AddEdge(mid, end)

	ref := g.NewInst(ir.OpParameter, ir.TypeReference, &ir.ParameterPayload{Index: 0}, 0)
	g.Append(start, ref)
	ret := g.NewInst(ir.OpReturnVoid, ir.TypeVoid, nil, 0)
	g.Append(start, ret)
	return g, start, mid, ref
}

func TestAddBridgeAppendsMissingInput(t *testing.T) {
	g, start, mid, ref := buildGraph(t)
	ss := g.NewInst(ir.OpSaveState, ir.TypeVoid, &ir.SaveStatePayload{}, 0)
	g.Append(mid, ss)

	dom := analysis.NewDominatorsTree(g)
	b := New(g, dom)
	b.AddBridge(ref, ss)

	found := false
	for _, in := range ss.Inputs() {
		if in.Value == ref {
			found = true
		}
	}
	assert.True(t, found)
	p := ss.Payload().(*ir.SaveStatePayload)
	assert.Equal(t, 1, p.BridgeCount)
	_ = start
}

func TestAddBridgeIsIdempotent(t *testing.T) {
	g, _, mid, ref := buildGraph(t)
	ss := g.NewInst(ir.OpSaveState, ir.TypeVoid, &ir.SaveStatePayload{}, 0)
	g.Append(mid, ss)

	dom := analysis.NewDominatorsTree(g)
	b := New(g, dom)
	b.AddBridge(ref, ss)
	b.AddBridge(ref, ss)

	assert.Len(t, ss.Inputs(), 1)
	p := ss.Payload().(*ir.SaveStatePayload)
	assert.Equal(t, 1, p.BridgeCount)
}

func TestBuilderIsNoopInBytecodeMode(t *testing.T) {
	g, _, mid, ref := buildGraph(t)
	g.BytecodeMode = true
	ss := g.NewInst(ir.OpSaveState, ir.TypeVoid, &ir.SaveStatePayload{}, 0)
	g.Append(mid, ss)

	dom := analysis.NewDominatorsTree(g)
	b := New(g, dom)
	b.AddBridge(ref, ss)

	assert.Empty(t, ss.Inputs())
}

func TestFixInstUsageRecursesThroughPhiPredecessor(t *testing.T) {
	g := ir.NewGraph(ir.MethodDescriptor{Name: "m"}, "arm64")
	start := g.NewBlock("start")
	p1 := g.NewBlock("p1")
	p2 := g.NewBlock("p2")
	merge := g.NewBlock("merge")
	g.SetStart(start)
	g.AddEdge(start, p1)
	g.AddEdge(start, p2)
	g.AddEdge(p1, merge)
	g.AddEdge(p2, merge)

	ref := g.NewInst(ir.OpParameter, ir.TypeReference, &ir.ParameterPayload{Index: 0}, 0)
	g.Append(start, ref)
	ss1 := g.NewInst(ir.OpSaveState, ir.TypeVoid, &ir.SaveStatePayload{}, 0)
	g.Append(p1, ss1)
	term1 := g.NewInst(ir.OpGoto, ir.TypeVoid, nil, 0)
	g.Append(p1, term1)
	term2 := g.NewInst(ir.OpGoto, ir.TypeVoid, nil, 0)
	g.Append(p2, term2)

	phi := g.NewPhi(merge, ir.TypeReference, []ir.Input{{Value: ref, Type: ir.TypeReference}, {Value: ref, Type: ir.TypeReference}})

	dom := analysis.NewDominatorsTree(g)
	b := New(g, dom)
	b.FixInstUsage(ref)

	p := ss1.Payload().(*ir.SaveStatePayload)
	assert.Equal(t, 1, p.BridgeCount)
	_ = phi
}

func TestFixBlockKeepsDominatingBridges(t *testing.T) {
	g, _, mid, ref := buildGraph(t)
	ss := g.NewInst(ir.OpSaveState, ir.TypeVoid, &ir.SaveStatePayload{}, 0)
	g.Append(mid, ss)

	dom := analysis.NewDominatorsTree(g)
	b := New(g, dom)
	b.AddBridge(ref, ss)
	require.Equal(t, 1, ss.Payload().(*ir.SaveStatePayload).BridgeCount)

	// ref's block (start) still dominates ss's block (mid), so FixBlock
	// must not drop the bridge.
	b.FixBlock(mid)
	assert.Equal(t, 1, ss.Payload().(*ir.SaveStatePayload).BridgeCount)
}
