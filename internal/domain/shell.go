package domain

import (
	"context"
	"encoding/json"
)

// ResponseSource says where a resilient call's response came from.
type ResponseSource string

const (
	SourceProvider ResponseSource = "provider"
	SourceCache    ResponseSource = "cache"
	SourceStale    ResponseSource = "stale"
	SourceFallback ResponseSource = "fallback"
)

// Degraded reports whether the response is a stale copy or a template.
func (s ResponseSource) Degraded() bool {
	return s == SourceStale || s == SourceFallback
}

// Completion is a text response from a resilient completion call.
type Completion struct {
	Text   string         `json:"text"`
	Source ResponseSource `json:"source"`
	Reason string         `json:"reason,omitempty"`
}

// Degraded reports whether the text is a stale copy or a template.
func (c Completion) Degraded() bool { return c.Source.Degraded() }

// JSONSchema validates structured completion output.
type JSONSchema interface {
	Raw() json.RawMessage
	Validate(doc json.RawMessage) error
}

// StructuredRequest describes a schema-validated completion.
type StructuredRequest struct {
	Prompt        string
	SystemContext string
	Options       GenerationOptions
	Schema        JSONSchema
	// Fallback is marshaled and returned when no valid document is obtained.
	Fallback any
}

// StructuredResult is a validated JSON document, or the marshaled fallback.
type StructuredResult struct {
	JSON     json.RawMessage `json:"json"`
	Source   ResponseSource  `json:"source"`
	Reason   string          `json:"reason,omitempty"`
	Attempts int             `json:"attempts"`
}

// Degraded reports whether JSON is a stale copy or the fallback.
func (r StructuredResult) Degraded() bool { return r.Source.Degraded() }

// ResilientCompleter is a completion provider wrapped with caching, retries
// and a circuit breaker. It degrades instead of failing; the error is
// reserved for invalid input.
type ResilientCompleter interface {
	Name() string
	Generate(ctx context.Context, prompt, systemContext string, opts GenerationOptions) (Completion, error)
	GenerateStructured(ctx context.Context, req StructuredRequest) (StructuredResult, error)
}

// ResilientSearcher is a search provider wrapped the same way. A degraded
// response has no results and Degraded set.
type ResilientSearcher interface {
	Name() string
	Search(ctx context.Context, query string, opts SearchOptions) (*SearchResponse, error)
}
