package generate

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/logging"
	"github.com/hupe1980/agentflow/telemetry"
)

// StreamResult is the handle of a running stream. The producer runs to
// completion independently of readers; every part is kept so that each
// reader sees the full stream from the first part.
type StreamResult struct {
	logger logging.Logger

	mu     sync.Mutex
	parts  []core.StreamPart
	notify chan struct{}
	steps  []Step
	err    error
	done   chan struct{}

	mergeMu sync.Mutex
	merges  []<-chan struct{}
}

// StreamText starts a streaming generation and returns immediately.
func StreamText(ctx context.Context, p Params) *StreamResult {
	r := &StreamResult{
		logger: logging.OrNoOp(p.Logger),
		notify: make(chan struct{}),
		done:   make(chan struct{}),
	}

	go r.produce(ctx, p)

	return r
}

func (r *StreamResult) produce(ctx context.Context, p Params) {
	var (
		steps []Step
		err   error
	)

	defer func() {
		if rec := recover(); rec != nil {
			err = &PanicError{Value: rec}
			r.logger.Error("generate.stream.panic", "recover", rec)
			r.append(core.StreamPart{Type: core.PartError, Error: err.Error()})
		}

		r.finish(steps, err)
	}()

	if p.Model == nil {
		err = errors.New("generate: model is required")
		r.append(core.StreamPart{Type: core.PartError, Error: err.Error()})

		return
	}

	ctx, span := telemetry.StartSpan(ctx, p.Tracer, p.Telemetry, "ai.streamText", modelAttrs(p.Model)...)
	recordPrompt(span, p.System, p.Messages)

	emit := applyTransforms(r.append, p.Transforms)

	steps, err = runSteps(ctx, &p, true, emit)
	if err != nil {
		emit(core.StreamPart{Type: core.PartError, Error: err.Error()})
		span.End(err)

		return
	}

	ev := newFinishEvent(steps)
	usage := ev.Usage
	emit(core.StreamPart{Type: core.PartFinish, FinishReason: ev.FinishReason, Usage: &usage})

	span.RecordOutput("ai.response.text", ev.Text)
	span.RecordUsage(ev.Usage)
	span.SetAttributes(attribute.String("ai.response.finishReason", ev.FinishReason))
	span.End(nil)

	if p.OnFinish != nil {
		p.OnFinish(ev)
	}
}

func (r *StreamResult) append(part core.StreamPart) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.parts = append(r.parts, part)
	close(r.notify)
	r.notify = make(chan struct{})
}

func (r *StreamResult) finish(steps []Step, err error) {
	r.mu.Lock()
	r.steps = steps
	r.err = err
	r.mu.Unlock()

	close(r.done)
}

// next returns part i, or ok=false once the stream is complete and i is past
// the end. wait is non-nil when the caller must wait for more parts.
func (r *StreamResult) next(i int) (part core.StreamPart, ok bool, wait <-chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i < len(r.parts) {
		return r.parts[i], true, nil
	}

	select {
	case <-r.done:
		return core.StreamPart{}, false, nil
	default:
		return core.StreamPart{}, false, r.notify
	}
}

// replay calls fn for every part in order until the stream completes, fn
// returns false or ctx is done.
func (r *StreamResult) replay(ctx context.Context, fn func(core.StreamPart) bool) {
	for i := 0; ; {
		part, ok, wait := r.next(i)

		switch {
		case ok:
			if !fn(part) {
				return
			}
			i++
		case wait != nil:
			select {
			case <-ctx.Done():
				return
			case <-wait:
			case <-r.done:
			}
		default:
			return
		}
	}
}

// FullStream returns a channel carrying every part of the stream. The
// channel closes when the stream completes or ctx is done.
func (r *StreamResult) FullStream(ctx context.Context) <-chan core.StreamPart {
	out := make(chan core.StreamPart)

	go func() {
		defer close(out)

		r.replay(ctx, func(p core.StreamPart) bool {
			select {
			case out <- p:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()

	return out
}

// TextStream returns a channel carrying the text deltas of the stream.
func (r *StreamResult) TextStream(ctx context.Context) <-chan string {
	out := make(chan string)

	go func() {
		defer close(out)

		r.replay(ctx, func(p core.StreamPart) bool {
			if p.Type != core.PartTextDelta {
				return true
			}

			select {
			case out <- p.Text:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()

	return out
}

// MergeInto implements core.Mergeable. Parts are written to sink from a
// separate goroutine; a write error stops the merge.
func (r *StreamResult) MergeInto(sink core.Sink, opts core.MergeOptions) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)

		r.replay(context.Background(), func(p core.StreamPart) bool {
			switch p.Type {
			case core.PartReasoning:
				if !opts.SendReasoning {
					return true
				}
			case core.PartSource:
				if !opts.SendSources {
					return true
				}
			}

			if !opts.SendUsage {
				p.Usage = nil
			}

			if err := sink.Write(p); err != nil {
				r.logger.Warn("generate.merge.write_failed", "part", string(p.Type), "error", err.Error())
				return false
			}

			return true
		})
	}()

	r.mergeMu.Lock()
	r.merges = append(r.merges, done)
	r.mergeMu.Unlock()

	return done
}

// Merged returns a channel that closes once the stream has completed and
// every merge started so far has delivered its last part to its sink.
func (r *StreamResult) Merged() <-chan struct{} {
	r.mergeMu.Lock()
	merges := append([]<-chan struct{}{r.done}, r.merges...)
	r.mergeMu.Unlock()

	out := make(chan struct{})

	go func() {
		defer close(out)

		for _, ch := range merges {
			<-ch
		}
	}()

	return out
}

// Done is closed once the stream has completed.
func (r *StreamResult) Done() <-chan struct{} { return r.done }

// ConsumeStream blocks until the stream has completed and returns its error.
func (r *StreamResult) ConsumeStream() error {
	<-r.done
	return r.Err()
}

// Err waits for completion and returns the stream error, if any.
func (r *StreamResult) Err() error {
	<-r.done

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.err
}

// Steps waits for completion and returns the completed steps.
func (r *StreamResult) Steps() []Step {
	<-r.done

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.steps
}

// Text waits for completion and returns the text of the last step.
func (r *StreamResult) Text() string {
	return newFinishEvent(r.Steps()).Text
}

// Usage waits for completion and returns the usage summed over all steps.
func (r *StreamResult) Usage() core.Usage {
	return newFinishEvent(r.Steps()).Usage
}

// Parts waits for completion and returns a copy of every recorded part.
func (r *StreamResult) Parts() []core.StreamPart {
	<-r.done

	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]core.StreamPart(nil), r.parts...)
}

var _ core.Mergeable = (*StreamResult)(nil)
