// Package memory contains MemoryStore implementations. The store contract
// resides in the core package; depend on core.MemoryStore in your code and
// select an implementation (the in-memory store below, or memory/sqlite for
// durable storage) at wiring time.
package memory
