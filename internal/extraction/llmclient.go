package extraction

import "context"

// LLMClient is the external collaborator C3 delegates structured extraction
// to. schema is a JSON Schema object describing the expected output shape;
// implementations are expected to use their provider's structured-output /
// JSON-mode facility rather than hoping the model emits valid JSON.
type LLMClient interface {
	GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error)
}

// candidateSchema is the JSON Schema passed to the LLM for structured
// extraction output: a list of candidate memories.
func candidateSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"memories": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"memory_type": map[string]any{
							"type": "string",
							"enum": []string{"preference", "personal_fact", "technical_context", "decision", "correction"},
						},
						"content":         map[string]any{"type": "string"},
						"base_confidence": map[string]any{"type": "number"},
						"is_explicit":     map[string]any{"type": "boolean"},
						"is_correction":   map[string]any{"type": "boolean"},
						"supersedes":      map[string]any{"type": "string"},
						"metadata":        map[string]any{"type": "object"},
					},
					"required": []string{"memory_type", "content", "base_confidence"},
				},
			},
		},
		"required": []string{"memories"},
	}
}
