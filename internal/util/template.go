package util

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

var promptFuncs = template.FuncMap{
	"default": func(fallback, v any) any {
		if v == nil || v == "" {
			return fallback
		}

		return v
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"trim":  strings.TrimSpace,
	"join": func(sep string, items any) string {
		switch v := items.(type) {
		case []string:
			return strings.Join(v, sep)
		case []any:
			parts := make([]string, len(v))
			for i, item := range v {
				parts[i] = fmt.Sprint(item)
			}

			return strings.Join(parts, sep)
		default:
			return fmt.Sprint(items)
		}
	},
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
}

// Template is a parsed prompt template. Text without "{{" is kept verbatim
// and never parsed.
type Template struct {
	text string
	tmpl *template.Template
}

// ParseTemplate parses text with the prompt helpers default, upper, lower,
// trim, join and json.
func ParseTemplate(text string) (*Template, error) {
	if !strings.Contains(text, "{{") {
		return &Template{text: text}, nil
	}

	tmpl, err := template.New("prompt").Funcs(promptFuncs).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}

	return &Template{text: text, tmpl: tmpl}, nil
}

// Render executes the template against values.
func (t *Template) Render(values map[string]any) (string, error) {
	if t.tmpl == nil {
		return t.text, nil
	}

	var sb strings.Builder
	if err := t.tmpl.Execute(&sb, values); err != nil {
		return "", fmt.Errorf("render prompt template: %w", err)
	}

	return sb.String(), nil
}

// RenderTemplate parses and renders text in one call.
func RenderTemplate(text string, values map[string]any) (string, error) {
	t, err := ParseTemplate(text)
	if err != nil {
		return "", err
	}

	return t.Render(values)
}
