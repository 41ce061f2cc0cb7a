package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestCollectorRecordsInOrder(t *testing.T) {
	c := NewCollector()
	c.Record(Event{Kind: KindSuccess, Pass: "inlining", CalleeMethod: "C.f"})
	c.Record(Event{Kind: KindLimit, Pass: "inlining", CalleeMethod: "C.g"})

	assert.Len(t, c.Events, 2)
	assert.Equal(t, KindSuccess, c.Events[0].Kind)
	assert.Equal(t, KindLimit, c.Events[1].Kind)
}

func TestCollectorCountKind(t *testing.T) {
	c := NewCollector()
	c.Record(Event{Kind: KindSuccess})
	c.Record(Event{Kind: KindSuccess})
	c.Record(Event{Kind: KindNoInline})

	assert.Equal(t, 2, c.CountKind(KindSuccess))
	assert.Equal(t, 1, c.CountKind(KindNoInline))
	assert.Equal(t, 0, c.CountKind(KindLimit))
}

func TestDiscardIsANoop(t *testing.T) {
	var s Sink = Discard{}
	assert.NotPanics(t, func() { s.Record(Event{Kind: KindSuccess}) })
}

func TestKindStringCoversEveryDecision(t *testing.T) {
	kinds := []Kind{
		KindSuccess, KindDevirtualized, KindSkipExternal, KindUnsuitable,
		KindLimit, KindInfLoop, KindNoInline, KindFailMegamorphic,
		KindLostSingleImpl, KindVirtualMonomorphicSuccess,
		KindVirtualPolymorphicSuccess, KindBudgetExceeded,
		KindIrreducibleLoop, KindBarrier,
	}
	for _, k := range kinds {
		assert.NotEqual(t, "UNKNOWN", k.String())
	}
	assert.Equal(t, "UNKNOWN", KindUnknown.String())
}

func TestZapSinkRecordsWithoutPanicking(t *testing.T) {
	logger := zaptest.NewLogger(t)
	s := NewZapSink(logger)
	assert.NotPanics(t, func() {
		s.Record(Event{Kind: KindDevirtualized, Pass: "inlining", CallerMethod: "A.m", CalleeMethod: "B.m", PC: 12})
	})
}

func TestNewZapSinkNilLoggerDefaultsToNop(t *testing.T) {
	s := NewZapSink(nil)
	assert.NotPanics(t, func() { s.Record(Event{Kind: KindSuccess}) })
}
