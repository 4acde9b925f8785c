package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/internal/util"
	"github.com/hupe1980/agentflow/logging"
	"github.com/hupe1980/agentflow/model"
	"github.com/hupe1980/agentflow/telemetry"
)

// ErrNoObjectGenerated is returned when the model output is not a value
// matching the requested schema.
var ErrNoObjectGenerated = errors.New("no object generated")

// ObjectParams configure a structured object generation.
type ObjectParams struct {
	Model    model.Model
	System   string
	Messages []core.Message
	// Schema is the JSON schema of the requested value.
	Schema            map[string]any
	SchemaName        string
	SchemaDescription string

	Logger    logging.Logger
	Telemetry *telemetry.Settings
	Tracer    trace.Tracer
}

// ObjectResult is the outcome of GenerateObject.
type ObjectResult struct {
	// Object is the decoded value, a map[string]any for object schemas.
	Object any
	// Raw is the JSON text returned by the model.
	Raw          string
	FinishReason string
	Usage        core.Usage
}

// Decode unmarshals the raw JSON into v.
func (r *ObjectResult) Decode(v any) error {
	return json.Unmarshal([]byte(r.Raw), v)
}

// GenerateObject asks the model for one JSON value matching the schema and
// validates the result.
func GenerateObject(ctx context.Context, p ObjectParams) (*ObjectResult, error) {
	if p.Model == nil {
		return nil, errors.New("generate: model is required")
	}

	logger := logging.OrNoOp(p.Logger)

	name := p.SchemaName
	if name == "" {
		name = "object"
	}

	ctx, span := telemetry.StartSpan(ctx, p.Tracer, p.Telemetry, "ai.generateObject",
		append(modelAttrs(p.Model), attribute.String("ai.schema.name", name))...,
	)
	recordPrompt(span, p.System, p.Messages)

	req := model.Request{
		System:   p.System,
		Messages: core.CloneMessages(p.Messages),
		ResponseFormat: &model.ResponseFormat{
			Name:        name,
			Description: p.SchemaDescription,
			Schema:      p.Schema,
		},
	}

	resp, err := callModel(ctx, p.Model, req, false, func(core.StreamPart) {})
	if err != nil {
		span.End(err)
		return nil, err
	}

	raw := stripCodeFence(resp.Text)

	obj, err := parseObject(raw, p.Schema)
	if err != nil {
		logger.Warn("generate.object.invalid", "schema", name, "error", err.Error())
		span.End(err)

		return nil, err
	}

	res := &ObjectResult{Object: obj, Raw: raw, FinishReason: resp.FinishReason}
	if resp.Usage != nil {
		res.Usage = *resp.Usage
	}

	span.RecordOutput("ai.response.object", raw)
	span.RecordUsage(res.Usage)
	span.End(nil)

	return res, nil
}

func parseObject(raw string, schema map[string]any) (any, error) {
	var obj any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, fmt.Errorf("%w: could not parse response: %v", ErrNoObjectGenerated, err)
	}

	if t, _ := schema["type"].(string); t == "object" || (t == "" && schema["properties"] != nil) {
		m, ok := obj.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: expected a JSON object, got %T", ErrNoObjectGenerated, obj)
		}

		if err := util.ValidateParameters(m, schema); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoObjectGenerated, err)
		}
	}

	return obj, nil
}

// stripCodeFence removes a surrounding markdown code fence some models put
// around JSON output.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}

	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
