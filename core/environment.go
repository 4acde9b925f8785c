package core

// Environment is the caller supplied input of one top-level run. It is shared
// by reference across the whole context tree and must be treated as read-only
// once the RunContext has been created.
type Environment struct {
	// Sink receives streamed output. Optional.
	Sink Sink
	// History is the prior conversation. Optional.
	History []Message
	// Memory backs agent tool memory. Optional.
	Memory MemoryStore
	// Values holds arbitrary caller data, e.g. for derived system prompts.
	Values map[string]any
}

// Value returns the caller value stored under key.
func (e *Environment) Value(key string) (any, bool) {
	if e == nil || e.Values == nil {
		return nil, false
	}

	v, ok := e.Values[key]

	return v, ok
}
