package errors

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iropt/internal/ir"
)

func buildSmallGraph(t *testing.T) (*ir.Graph, *ir.Inst, *ir.BasicBlock) {
	t.Helper()
	g := ir.NewGraph(ir.MethodDescriptor{Name: "bad", Class: "C"}, "arm64")
	start := g.NewBlock("start")
	g.SetStart(start)
	g.SetEnd(start)

	p := g.NewInst(ir.OpParameter, ir.TypeInt32, &ir.ParameterPayload{Index: 0}, 0)
	g.Append(start, p)
	g.Append(start, g.NewInst(ir.OpReturnVoid, ir.TypeVoid, nil, 0))
	return g, p, start
}

func TestFormatPointsAtOffendingInstLine(t *testing.T) {
	g, p, _ := buildSmallGraph(t)
	r := NewReporter(g)

	v := &ir.ContractViolation{Code: ir.ErrInstHasOtherOwner, Message: "inst already belongs to a block", Inst: p}
	out := r.Format(v)

	assert.Contains(t, out, "error["+ir.ErrInstHasOtherOwner+"]")
	assert.Contains(t, out, "inst already belongs to a block")
	assert.Contains(t, out, "C.bad")
	assert.Contains(t, out, p.String())
}

func TestFormatPointsAtOffendingBlockLine(t *testing.T) {
	g, _, start := buildSmallGraph(t)
	r := NewReporter(g)

	v := &ir.ContractViolation{Code: ir.ErrMalformedLoopHeader, Message: "start block has predecessors", Block: start}
	out := r.Format(v)

	assert.Contains(t, out, "error["+ir.ErrMalformedLoopHeader+"]")
	assert.Contains(t, out, "bb0")
}

func TestFormatFallsBackWhenNothingToLocate(t *testing.T) {
	g, _, _ := buildSmallGraph(t)
	r := NewReporter(g)

	out := r.Format(&ir.ContractViolation{Code: ir.ErrDuplicateConstant, Message: "graph-level invariant broken"})
	assert.Contains(t, out, "graph")
	assert.NotContains(t, out, "bb")
}

func TestReporterSurvivesPanicRecovery(t *testing.T) {
	g, _, start := buildSmallGraph(t)

	var caught *ir.ContractViolation
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				v, ok := rec.(*ir.ContractViolation)
				require.True(t, ok, "expected a *ir.ContractViolation panic, got %T", rec)
				caught = v
			}
		}()
		other := g.NewBlock("other")
		g.AddEdge(other, start)
		g.SetStart(start) // start now has a predecessor: must panic
	}()

	require.NotNil(t, caught)
	out := NewReporter(g).Format(caught)
	assert.Contains(t, out, "error[")
	assert.True(t, strings.Contains(out, "bb0") || strings.Contains(out, "predecessors"))
}
