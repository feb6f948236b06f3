package normalizer

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

var feedbackSchema = mustCompileSchema(Schema())

// Schema returns a fresh copy of the feedback JSON Schema. Callers may mutate
// it, e.g. to prune keywords a provider does not accept.
func Schema() map[string]any {
	stringList := func() map[string]any {
		return map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		}
	}
	return map[string]any{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"title":   "Feedback",
		"type":    "object",
		"properties": map[string]any{
			KeyStrengths:    stringList(),
			KeyImprovements: stringList(),
			KeySuggestions:  stringList(),
			KeySummary:      map[string]any{"type": "string"},
			KeyScore: map[string]any{
				"type":    "number",
				"minimum": 0,
				"maximum": 100,
			},
			KeyCriteriaScores: map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"criterion": map[string]any{"type": "string", "minLength": 1},
						"score":     map[string]any{"type": "number", "minimum": 0},
						"max_score": map[string]any{"type": "number", "minimum": 0},
						"comment":   map[string]any{"type": "string"},
					},
					"required":             []any{"criterion", "score"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []any{KeyStrengths, KeyImprovements, KeySuggestions, KeySummary, KeyScore},
		"additionalProperties": false,
	}
}

func mustCompileSchema(doc map[string]any) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc))
	if err != nil {
		panic(fmt.Sprintf("normalizer: invalid feedback schema: %v", err))
	}
	return schema
}
