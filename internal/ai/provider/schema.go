package provider

import (
	"sort"
	"strings"
)

// Keywords the Gemini responseSchema (an OpenAPI subset) rejects.
var geminiUnsupported = []string{
	"$schema", "$id", "$ref", "definitions", "$defs", "title", "default", "examples",
	"additionalProperties", "patternProperties", "minimum", "maximum",
	"minLength", "maxLength", "format", "const",
}

// Keywords OpenAI strict structured output rejects.
var openAIUnsupported = []string{
	"$schema", "$id", "title", "default", "examples", "minLength", "maxLength",
	"minimum", "maximum", "format", "patternProperties",
}

// PruneSchema returns a deep copy of schema without the given keywords at any
// depth. Property names are never pruned.
func PruneSchema(schema map[string]any, drop []string) map[string]any {
	skip := make(map[string]struct{}, len(drop))
	for _, k := range drop {
		skip[k] = struct{}{}
	}
	out, _ := pruneValue(schema, skip, false).(map[string]any)
	return out
}

func pruneValue(v any, skip map[string]struct{}, isProperties bool) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			if !isProperties {
				if _, drop := skip[k]; drop {
					continue
				}
			}
			out[k] = pruneValue(inner, skip, !isProperties && k == "properties")
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = pruneValue(inner, skip, false)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// GeminiSchema prunes schema and upper-cases type names the way the
// generateContent API documents them.
func GeminiSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	out := PruneSchema(schema, geminiUnsupported)
	upperTypes(out, false)
	return out
}

func upperTypes(v any, isProperties bool) {
	switch t := v.(type) {
	case map[string]any:
		for k, inner := range t {
			if !isProperties && k == "type" {
				if s, ok := inner.(string); ok {
					t[k] = strings.ToUpper(s)
					continue
				}
			}
			upperTypes(inner, !isProperties && k == "properties")
		}
	case []any:
		for _, inner := range t {
			upperTypes(inner, false)
		}
	}
}

// StrictSchema adapts schema to OpenAI strict mode: every object gets
// additionalProperties=false and lists all of its properties as required;
// properties that were optional become nullable.
func StrictSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	out := PruneSchema(schema, openAIUnsupported)
	makeStrict(out)
	return out
}

func makeStrict(node map[string]any) {
	if props, ok := node["properties"].(map[string]any); ok {
		required := map[string]bool{}
		switch r := node["required"].(type) {
		case []any:
			for _, name := range r {
				if s, ok := name.(string); ok {
					required[s] = true
				}
			}
		case []string:
			for _, s := range r {
				required[s] = true
			}
		}

		names := make([]string, 0, len(props))
		for name, p := range props {
			names = append(names, name)
			child, ok := p.(map[string]any)
			if !ok {
				continue
			}
			makeStrict(child)
			if !required[name] {
				makeNullable(child)
			}
		}
		sort.Strings(names)
		all := make([]any, len(names))
		for i, n := range names {
			all[i] = n
		}
		node["required"] = all
		node["additionalProperties"] = false
	}
	if items, ok := node["items"].(map[string]any); ok {
		makeStrict(items)
	}
}

func makeNullable(node map[string]any) {
	switch t := node["type"].(type) {
	case string:
		if t != "null" {
			node["type"] = []any{t, "null"}
		}
	case []any:
		for _, v := range t {
			if v == "null" {
				return
			}
		}
		node["type"] = append(t, "null")
	}
}
