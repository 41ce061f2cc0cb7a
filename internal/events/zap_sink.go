package events

import "go.uber.org/zap"

// ZapSink is the default production Sink: it mirrors every event into a
// structured zap log line at Info, in addition to whatever in-memory
// recording a caller layers on top (see Collector for tests).
type ZapSink struct {
	log *zap.Logger
}

func NewZapSink(log *zap.Logger) *ZapSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &ZapSink{log: log}
}

func (s *ZapSink) Record(e Event) {
	s.log.Info("decision",
		zap.String("pass", e.Pass),
		zap.String("kind", e.Kind.String()),
		zap.String("caller", e.CallerMethod),
		zap.String("callee", e.CalleeMethod),
		zap.Int("pc", e.PC),
		zap.String("detail", e.Detail),
	)
}

var _ Sink = (*ZapSink)(nil)
