package util

import (
	"maps"
	"reflect"
	"strings"
)

// CreateSchema reflects a JSON schema from a struct value or pointer.
//
// Field names follow the json tag. A `description` tag becomes the property
// description and a comma separated `enum` tag becomes an enum. Nested
// structs and slices are described recursively. Fields that are neither
// pointers nor tagged omitempty are required. Anything that is not a struct
// yields an empty object schema.
func CreateSchema(v any) map[string]any {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if t == nil || t.Kind() != reflect.Struct {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}

	return objectSchema(t, map[reflect.Type]bool{})
}

func objectSchema(t reflect.Type, seen map[reflect.Type]bool) map[string]any {
	props := map[string]any{}
	required := []string{}

	// recursive types are cut off as untyped objects
	seen[t] = true
	defer delete(seen, t)

	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}

		name, opts := jsonName(f)
		if name == "-" {
			continue
		}

		prop := typeSchema(f.Type, seen)

		if d := f.Tag.Get("description"); d != "" {
			prop["description"] = d
		}

		if e := f.Tag.Get("enum"); e != "" {
			values := strings.Split(e, ",")
			enum := make([]any, len(values))

			for j, s := range values {
				enum[j] = strings.TrimSpace(s)
			}

			prop["enum"] = enum
		}

		props[name] = prop

		if f.Type.Kind() != reflect.Pointer && !strings.Contains(opts, "omitempty") {
			required = append(required, name)
		}
	}

	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}

	return schema
}

func typeSchema(t reflect.Type, seen map[reflect.Type]bool) map[string]any {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.Struct:
		if seen[t] {
			return map[string]any{"type": "object"}
		}

		return objectSchema(t, seen)
	case reflect.Slice, reflect.Array:
		return map[string]any{"type": "array", "items": typeSchema(t.Elem(), seen)}
	default:
		return map[string]any{"type": jsonType(t.Kind())}
	}
}

func jsonName(f reflect.StructField) (string, string) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "-", ""
	}

	name, opts, _ := strings.Cut(tag, ",")
	if name == "" {
		name = f.Name
	}

	return name, opts
}

func jsonType(k reflect.Kind) string {
	switch k {
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Map, reflect.Interface:
		return "object"
	default:
		return "string"
	}
}

// RequiredFields returns the "required" list of schema. Both []string (Go
// literals) and []any (decoded JSON) shapes are accepted.
func RequiredFields(schema map[string]any) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))

		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}

		return out
	default:
		return nil
	}
}

// CopySchema returns a copy of schema whose top-level map and "properties"
// map can be modified without affecting the original.
func CopySchema(schema map[string]any) map[string]any {
	out := maps.Clone(schema)
	if out == nil {
		out = map[string]any{}
	}

	props := map[string]any{}
	if orig, ok := schema["properties"].(map[string]any); ok {
		maps.Copy(props, orig)
	}

	out["properties"] = props

	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}

	return out
}
