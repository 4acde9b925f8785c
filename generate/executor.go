package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/logging"
	"github.com/hupe1980/agentflow/telemetry"
	"github.com/hupe1980/agentflow/tool"
)

// NoSuchToolError is returned for a tool call naming a tool outside the set.
type NoSuchToolError struct {
	ToolName       string
	AvailableTools []string
}

func (e *NoSuchToolError) Error() string {
	return fmt.Sprintf("tool %s not found (available: %s)", e.ToolName, strings.Join(e.AvailableTools, ", "))
}

// PanicError wraps a value recovered from a panicking tool.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic recovered: %v", e.Value) }

// ToolExecutor runs the tool calls of one model turn.
//
// Implementations must return exactly one result per call, in call order,
// and must never panic.
type ToolExecutor interface {
	Execute(ctx context.Context, tools tool.Set, calls []core.ToolCall) []core.ToolResult
}

// ExecutorConfig configures the parallel executor.
type ExecutorConfig struct {
	// MaxParallel bounds concurrent tool calls. Values below one mean no
	// limit beyond the number of calls.
	MaxParallel int
	Logger      logging.Logger
	Telemetry   *telemetry.Settings
	Tracer      trace.Tracer
}

type parallelExecutor struct {
	cfg    ExecutorConfig
	logger logging.Logger
}

// NewParallelExecutor creates the default ToolExecutor. Sibling calls run in
// their own goroutines.
func NewParallelExecutor(cfg ExecutorConfig) ToolExecutor {
	return &parallelExecutor{cfg: cfg, logger: logging.OrNoOp(cfg.Logger)}
}

func (e *parallelExecutor) Execute(ctx context.Context, tools tool.Set, calls []core.ToolCall) []core.ToolResult {
	n := len(calls)
	if n == 0 {
		return nil
	}

	results := make([]core.ToolResult, n)

	if n == 1 {
		results[0] = e.executeOne(ctx, tools, calls[0])
		return results
	}

	maxPar := e.cfg.MaxParallel
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}

	var wg sync.WaitGroup

	sem := make(chan struct{}, maxPar)
	batchStart := time.Now()

	for i := range calls {
		wg.Add(1)
		sem <- struct{}{}

		go func(idx int, tc core.ToolCall) {
			defer wg.Done()
			defer func() { <-sem }()

			// Each goroutine owns its slot.
			results[idx] = e.executeOne(ctx, tools, tc)
		}(i, calls[i])
	}

	wg.Wait()

	e.logger.Debug(
		"generate.tools.batch.complete",
		"count", n,
		"parallelism", maxPar,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)

	return results
}

func (e *parallelExecutor) executeOne(ctx context.Context, tools tool.Set, tc core.ToolCall) core.ToolResult {
	ctx, span := telemetry.StartSpan(ctx, e.cfg.Tracer, e.cfg.Telemetry, "ai.toolCall",
		attribute.String("ai.toolCall.name", tc.Name),
		attribute.String("ai.toolCall.id", tc.ID),
	)
	span.RecordInput("ai.toolCall.args", tc.Arguments)

	start := time.Now()

	var (
		result any
		err    error
	)

	if ctx.Err() != nil {
		err = ctx.Err()
	} else {
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = &PanicError{Value: r, Stack: debug.Stack()}
					e.logger.Error("generate.tool.panic", "tool", tc.Name, "recover", r)
				}
			}()

			result, err = executeTool(ctx, tools, tc)
		}()
	}

	e.logger.Info(
		"generate.tool.executed",
		"tool", tc.Name,
		"tool_call_id", tc.ID,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err != nil,
	)

	if err != nil {
		span.End(err)
		return core.ToolResult{CallID: tc.ID, Name: tc.Name, Result: err.Error(), IsError: true}
	}

	if out, mErr := json.Marshal(result); mErr == nil {
		span.RecordOutput("ai.toolCall.result", string(out))
	}

	span.End(nil)

	return core.ToolResult{CallID: tc.ID, Name: tc.Name, Result: result}
}

func executeTool(ctx context.Context, tools tool.Set, tc core.ToolCall) (any, error) {
	impl, ok := tools[tc.Name]
	if !ok {
		return nil, &NoSuchToolError{ToolName: tc.Name, AvailableTools: tools.Names()}
	}

	args, err := tc.DecodeArguments()
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal args: %w", err)
	}

	return impl.Execute(ctx, args)
}
