package util

import (
	"fmt"
	"math"
	"slices"
	"strconv"
)

// ValidationError reports the first argument that does not satisfy a schema.
// Field is a dotted path for nested values, e.g. "tasks.0.agent".
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidateParameters checks params against an object schema: required
// fields, declared property types, enums and numeric minimum/maximum. Nested objects and array items
// are checked when their schema is declared. Unknown properties and nil
// values are accepted. A nil schema accepts everything.
func ValidateParameters(params map[string]any, schema map[string]any) error {
	if schema == nil {
		return nil
	}

	return validateObject("", params, schema)
}

func validateObject(path string, obj map[string]any, schema map[string]any) error {
	for _, name := range RequiredFields(schema) {
		if _, ok := obj[name]; !ok {
			return &ValidationError{Field: join(path, name), Message: "required field is missing"}
		}
	}

	props, _ := schema["properties"].(map[string]any)

	for name, value := range obj {
		prop, ok := props[name].(map[string]any)
		if !ok {
			continue
		}

		if err := validateValue(join(path, name), value, prop); err != nil {
			return err
		}
	}

	return nil
}

func validateValue(path string, value any, schema map[string]any) error {
	if value == nil {
		return nil
	}

	typ, _ := schema["type"].(string)
	if !matchesType(value, typ) {
		return &ValidationError{
			Field:   path,
			Value:   value,
			Message: fmt.Sprintf("expected type %s, got %T", typ, value),
		}
	}

	if enum, ok := schema["enum"].([]any); ok && isScalar(value) && !slices.Contains(enum, value) {
		return &ValidationError{Field: path, Value: value, Message: fmt.Sprintf("value not in %v", enum)}
	}

	if err := checkBounds(path, value, schema); err != nil {
		return err
	}

	switch v := value.(type) {
	case map[string]any:
		if _, declared := schema["properties"]; declared {
			return validateObject(path, v, schema)
		}
	case []any:
		items, ok := schema["items"].(map[string]any)
		if !ok {
			return nil
		}

		for i, item := range v {
			if err := validateValue(join(path, strconv.Itoa(i)), item, items); err != nil {
				return err
			}
		}
	}

	return nil
}

func matchesType(value any, typ string) bool {
	switch typ {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "integer":
		switch v := value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64:
			return v == math.Trunc(v)
		case float32:
			return float64(v) == math.Trunc(float64(v))
		}

		return false
	case "number":
		switch value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			return true
		}

		return false
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}

func checkBounds(path string, value any, schema map[string]any) error {
	n, ok := toFloat(value)
	if !ok {
		return nil
	}

	if lo, ok := toFloat(schema["minimum"]); ok && n < lo {
		return &ValidationError{Field: path, Value: value, Message: fmt.Sprintf("must be >= %v", schema["minimum"])}
	}

	if hi, ok := toFloat(schema["maximum"]); ok && n > hi {
		return &ValidationError{Field: path, Value: value, Message: fmt.Sprintf("must be <= %v", schema["maximum"])}
	}

	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func isScalar(value any) bool {
	switch value.(type) {
	case map[string]any, []any:
		return false
	}

	return true
}

func join(path, name string) string {
	if path == "" {
		return name
	}

	return path + "." + name
}
