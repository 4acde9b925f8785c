// Package telemetry resolves per-call tracing settings and records
// OpenTelemetry spans around generation calls and tool executions.
//
// Telemetry is controlled at two levels. The engine carries a Policy given
// explicitly at construction time; a disabled engine policy turns tracing off
// for every agent. Each agent may carry its own Policy whose settings the
// engine settings are merged over (see Resolve).
package telemetry
