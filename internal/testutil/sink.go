package testutil

import (
	"strings"
	"sync"

	"github.com/hupe1980/agentflow/core"
)

// RecordingSink is a core.Sink that keeps every written part.
type RecordingSink struct {
	mu    sync.Mutex
	parts []core.StreamPart
	// Err, when set, is returned by every Write after recording the part.
	Err error
}

// NewRecordingSink creates an empty RecordingSink.
func NewRecordingSink() *RecordingSink { return &RecordingSink{} }

// Write implements core.Sink.
func (s *RecordingSink) Write(part core.StreamPart) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.parts = append(s.parts, part)

	return s.Err
}

// Parts returns a copy of the recorded parts.
func (s *RecordingSink) Parts() []core.StreamPart {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]core.StreamPart(nil), s.parts...)
}

// OfType returns the recorded parts of type t.
func (s *RecordingSink) OfType(t core.PartType) []core.StreamPart {
	var out []core.StreamPart

	for _, p := range s.Parts() {
		if p.Type == t {
			out = append(out, p)
		}
	}

	return out
}

// Text concatenates the recorded text deltas.
func (s *RecordingSink) Text() string {
	var sb strings.Builder
	for _, p := range s.OfType(core.PartTextDelta) {
		sb.WriteString(p.Text)
	}

	return sb.String()
}

var _ core.Sink = (*RecordingSink)(nil)
