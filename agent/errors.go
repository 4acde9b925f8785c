package agent

import "errors"

// Configuration errors. They indicate a programming mistake in how agents are
// wired together and are returned before any model call is made.
var (
	ErrMissingAsTool       = errors.New("agent: asTool is required to use an agent as a tool")
	ErrMissingDescription  = errors.New("agent: description is required to use an agent as a tool")
	ErrMissingOutputSchema = errors.New("agent: output schema is required for object generation")
)
