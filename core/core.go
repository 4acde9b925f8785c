package core

import "github.com/google/uuid"

// NewID returns a random identifier suitable for messages and tool calls.
func NewID() string { return uuid.NewString() }
