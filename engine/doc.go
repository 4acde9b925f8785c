// Package engine implements the orchestration layer of agentflow.
//
// The Engine runs an agent.Agent against a core.ExecutionContext using one of
// three strategies:
//
//   - StreamChat streams the root agent of a run over the run history and
//     merges the result into the run's output writer.
//   - GenerateText runs a caller supplied prompt through the multi-step tool
//     loop without streaming.
//   - GenerateObject produces one value matching the agent's output schema.
//
// # Tool Resolution
//
// GetTools flattens an agent's tool map into a tool.Set. Plain tools pass
// through. Factories and nested agents are each bound to a fresh child step
// of the calling context, so every branch of the call tree has isolated
// scratch data while sharing the run's environment and writer.
//
// A nested agent becomes a tool through CreateLLMTool. On every call it loads
// the agent's memory (keyed by name, else description), builds the prompt from
// the call arguments, picks the object strategy when the agent has no tools of
// its own and declares an output schema, and the text strategy otherwise,
// then saves the updated memory. Failures inside the call are returned to the
// calling model as a ToolResponse with Success false.
//
// # Errors
//
// Configuration errors (agent.ErrMissingAsTool, agent.ErrMissingDescription,
// agent.ErrMissingOutputSchema) are returned synchronously before any model
// call. Errors of the root stream are reported through the stream itself.
//
// # Usage
//
//	eng := engine.New(func(o *engine.Options) {
//	    o.Logger = logger
//	    o.Telemetry = telemetry.Enabled(true)
//	})
//
//	rc := core.NewRunContext(&core.Environment{Sink: sink, History: history})
//	result, err := eng.StreamChat(ctx, root, rc.Step())
//	if err != nil {
//	    return err
//	}
//	if err := result.ConsumeStream(); err != nil {
//	    return err
//	}
package engine
