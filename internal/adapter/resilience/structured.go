package resilience

import "supplyintel/internal/domain"

// structuredAccept extracts a JSON document from text and validates it.
// On success the returned bytes are the compact document.
func structuredAccept(schema domain.JSONSchema) func(string) ([]byte, error) {
	return func(text string) ([]byte, error) {
		res := ExtractJSON(text)
		if !res.OK() {
			return nil, res.Err
		}
		if schema != nil {
			if err := schema.Validate(res.JSON); err != nil {
				return nil, err
			}
		}
		return res.JSON, nil
	}
}

// schemaInstruction is appended to the system context for structured calls.
func schemaInstruction(schema domain.JSONSchema) string {
	if schema == nil {
		return "Respond with a single JSON object and nothing else."
	}
	return "Respond with a single JSON object and nothing else. It must conform to this JSON Schema:\n" + string(schema.Raw())
}
