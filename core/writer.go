package core

// Writer delivers output to the optional sink of an Environment. Every
// operation is a no-op when no sink is attached.
type Writer struct {
	sink Sink
}

// NewWriter wraps sink, which may be nil.
func NewWriter(sink Sink) *Writer { return &Writer{sink: sink} }

// Sink returns the wrapped sink, or nil.
func (w *Writer) Sink() Sink { return w.sink }

// MergeResult forwards r into the sink including reasoning, usage and source
// annotations. It returns immediately; the returned channel closes when the
// merge is complete.
func (w *Writer) MergeResult(r Mergeable) <-chan struct{} {
	if w.sink == nil || r == nil {
		done := make(chan struct{})
		close(done)

		return done
	}

	return r.MergeInto(w.sink, MergeOptions{
		SendReasoning: true,
		SendUsage:     true,
		SendSources:   true,
	})
}

// Reasoning emits a reasoning annotation when v is a string. Other values are
// ignored.
func (w *Writer) Reasoning(v any) {
	text, ok := v.(string)
	if !ok || w.sink == nil {
		return
	}

	_ = w.sink.Write(StreamPart{Type: PartReasoning, Text: text})
}
