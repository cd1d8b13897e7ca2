package agent

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var toolSchemaCache sync.Map

// compileToolSchema compiles (and caches) a tool's Parameters() JSONSchema,
// mirroring pkg/pluginsdk/validation.go's compileSchema for plugin configs.
func compileToolSchema(schema json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schema)
	if cached, ok := toolSchemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiled, err := jsonschema.CompileString("tool.parameters.json", key)
	if err != nil {
		return nil, err
	}
	toolSchemaCache.Store(key, compiled)
	return compiled, nil
}

// validateToolArguments checks a tool call's Arguments against the tool's
// Parameters() JSONSchema before dispatch, returning a *ValidationError
// describing the mismatch. A tool that declares no schema is not validated
// beyond basic JSON well-formedness; a schema the tool author wrote that
// itself fails to compile is not treated as the caller's fault, so dispatch
// proceeds rather than rejecting every call to that tool.
func validateToolArguments(tool Tool, arguments string) *ValidationError {
	schema := tool.Parameters()
	if len(schema) == 0 {
		return nil
	}

	var input any
	if arguments == "" {
		input = map[string]any{}
	} else if err := json.Unmarshal([]byte(arguments), &input); err != nil {
		return &ValidationError{
			Field:   "arguments",
			Message: fmt.Sprintf("arguments are not valid JSON: %v", err),
		}
	}

	compiled, err := compileToolSchema(schema)
	if err != nil {
		return nil
	}

	if err := compiled.Validate(input); err != nil {
		return &ValidationError{
			Field:   "arguments",
			Message: "arguments do not match tool parameters schema",
			Issues:  []string{err.Error()},
		}
	}
	return nil
}
