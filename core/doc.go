// Package core provides the foundational domain types and execution contexts
// used by agentflow. It defines:
//
//   - Messages (role tagged conversation turns, tool calls and tool results)
//   - Environment (the immutable, caller supplied inputs of one top-level run)
//   - RunContext / StepContext (an arena backed tree of execution nodes)
//   - Writer and Sink (delivery of streamed output to an optional client sink)
//   - MemoryStore (key addressed persistence of message sequences)
//
// Every node of a context tree shares one Environment and one Writer. Only step
// nodes carry scratch data, and a step never observes the data of its siblings.
package core
