package tools

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidationError is a tool-argument validation failure: a Validation-class
// error per spec.md §7, surfaced to the model as a tool response so it can
// correct and retry rather than treated as a terminal engine error.
type ValidationError struct {
	Tool    Ident
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Message)
}

// Validate checks args against spec's PayloadSchema, when one is present.
// Tools with no schema accept any arguments; they are not parsed.
func Validate(spec Spec, args json.RawMessage) error {
	if len(spec.PayloadSchema) == 0 {
		return nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(string(spec.Name)+".json", bytes.NewReader(spec.PayloadSchema)); err != nil {
		return fmt.Errorf("compile schema for %s: %w", spec.Name, err)
	}
	schema, err := compiler.Compile(string(spec.Name) + ".json")
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", spec.Name, err)
	}
	var doc any
	if err := json.Unmarshal(args, &doc); err != nil {
		return &ValidationError{Tool: spec.Name, Message: "arguments are not valid JSON: " + err.Error()}
	}
	if err := schema.Validate(doc); err != nil {
		return &ValidationError{Tool: spec.Name, Message: err.Error()}
	}
	return nil
}
