package engine

import (
	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/generate"
	"github.com/hupe1980/agentflow/logging"
)

// StepFinishCallback observes every finished step of a chat run together with
// the context node the run executes in.
type StepFinishCallback func(step generate.Step, ec core.ExecutionContext)

// ChatFinishCallback observes the completion of a chat run.
type ChatFinishCallback func(event generate.FinishEvent, ec core.ExecutionContext)

// ChainStepFinish combines callbacks into one, called in order. Nil entries
// are skipped.
func ChainStepFinish(callbacks ...StepFinishCallback) StepFinishCallback {
	return func(step generate.Step, ec core.ExecutionContext) {
		for _, cb := range callbacks {
			if cb != nil {
				cb(step, ec)
			}
		}
	}
}

// ChainChatFinish combines callbacks into one, called in order. Nil entries
// are skipped.
func ChainChatFinish(callbacks ...ChatFinishCallback) ChatFinishCallback {
	return func(event generate.FinishEvent, ec core.ExecutionContext) {
		for _, cb := range callbacks {
			if cb != nil {
				cb(event, ec)
			}
		}
	}
}

// LoggingStepFinish returns a callback that logs each finished step.
//
// Example:
//
//	o.OnChatStepFinish = engine.ChainStepFinish(
//	    engine.LoggingStepFinish(logger),
//	    persistStep,
//	)
func LoggingStepFinish(logger logging.Logger) StepFinishCallback {
	logger = logging.OrNoOp(logger)

	return func(step generate.Step, _ core.ExecutionContext) {
		logger.Info(
			"engine.chat.step_finish",
			"step_type", string(step.StepType),
			"tool_calls", len(step.ToolCalls),
			"finish_reason", step.FinishReason,
			"total_tokens", step.Usage.TotalTokens,
		)
	}
}
