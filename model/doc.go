// Package model defines the provider-agnostic abstractions and concrete
// helpers for interacting with language models inside agentflow.
//
// Core goals:
//   - Unify streaming and non-streaming generation behind a single interface
//   - Normalize tool calling (ToolDefinition, ToolChoice, core.ToolCall)
//   - Request JSON output that follows a schema (ResponseFormat)
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (see the openai and anthropic subpackages) implement Model so the
// generation loop and the engine remain decoupled from vendor SDKs.
package model
