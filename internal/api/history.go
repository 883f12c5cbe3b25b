package api

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/valperai/valper-gateway/internal/llm"
)

const historySchemaURL = "valper://schemas/conversation_history.json"

const historySchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "array",
  "maxItems": 200,
  "items": {
    "type": "object",
    "required": ["role", "content"],
    "properties": {
      "role": {"enum": ["user", "assistant"]},
      "content": {"type": "string", "minLength": 1}
    }
  }
}`

var historySchema = mustCompileHistorySchema()

func mustCompileHistorySchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(historySchemaURL, strings.NewReader(historySchemaJSON)); err != nil {
		panic(fmt.Sprintf("add history schema: %v", err))
	}
	schema, err := compiler.Compile(historySchemaURL)
	if err != nil {
		panic(fmt.Sprintf("compile history schema: %v", err))
	}
	return schema
}

// parseHistory decodes the conversation_history form field. An empty field
// is an empty history.
func parseHistory(raw string) (llm.History, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var payload any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("conversation_history is not valid JSON: %w", err)
	}
	if err := historySchema.Validate(payload); err != nil {
		return nil, fmt.Errorf("conversation_history: %w", err)
	}

	var history llm.History
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		return nil, fmt.Errorf("conversation_history: %w", err)
	}
	return history, history.Validate()
}
