// Package schema reflects JSON Schemas from Go types and validates documents
// against them.
package schema

import (
	"encoding/json"
	"fmt"

	reflector "github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonschema"

	"supplyintel/internal/domain"
)

// Schema is a compiled JSON Schema. It implements domain.JSONSchema.
type Schema struct {
	raw      json.RawMessage
	compiled *jsonschema.Schema
}

// For reflects a schema from v's Go type. Field requirements come from
// `jsonschema:"required"` tags; unknown properties are allowed.
func For(v any) (*Schema, error) {
	data, err := Reflect(v)
	if err != nil {
		return nil, err
	}
	return Compile(data)
}

// Must is For for package-level schemas of known-good types.
func Must(v any) *Schema {
	s, err := For(v)
	if err != nil {
		panic(err)
	}
	return s
}

// Reflect returns the inlined schema document for v without $schema or $id.
func Reflect(v any) (json.RawMessage, error) {
	r := &reflector.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
		AllowAdditionalProperties:  true,
	}
	data, err := json.Marshal(r.Reflect(v))
	if err != nil {
		return nil, fmt.Errorf("marshal reflected schema: %w", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode reflected schema: %w", err)
	}
	delete(m, "$schema")
	delete(m, "$id")
	return json.Marshal(m)
}

// Compile compiles a raw JSON Schema document.
func Compile(raw []byte) (*Schema, error) {
	compiled, err := jsonschema.NewCompiler().Compile(raw)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Schema{raw: append(json.RawMessage(nil), raw...), compiled: compiled}, nil
}

// Raw returns the schema document.
func (s *Schema) Raw() json.RawMessage { return s.raw }

// Validate checks doc against the schema. Failures wrap domain.ErrParse.
func (s *Schema) Validate(doc json.RawMessage) error {
	var data any
	if err := json.Unmarshal(doc, &data); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrParse, err)
	}
	result := s.compiled.Validate(data)
	if !result.IsValid() {
		return fmt.Errorf("%w: schema validation: %s", domain.ErrParse, result.Error())
	}
	return nil
}
