package resilience

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"supplyintel/internal/domain"
)

// ExtractResult is the outcome of pulling a JSON document out of model text.
// Exactly one of JSON and Err is set.
type ExtractResult struct {
	JSON json.RawMessage
	Err  error
}

// OK reports whether extraction produced a document.
func (r ExtractResult) OK() bool { return r.Err == nil && len(r.JSON) > 0 }

// maxExtractCandidates caps how many opening brackets are tried.
const maxExtractCandidates = 32

var (
	fencePattern         = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// ExtractJSON finds the first JSON object or array in text. It accepts
// fenced code blocks, a bare document, or a document embedded in prose.
func ExtractJSON(text string) ExtractResult {
	cleaned := strings.TrimSpace(text)
	if m := fencePattern.FindStringSubmatch(cleaned); len(m) == 2 {
		cleaned = strings.TrimSpace(m[1])
	}
	if cleaned == "" {
		return ExtractResult{Err: fmt.Errorf("%w: empty response", domain.ErrParse)}
	}

	// Prose may carry brackets of its own ("[Analysis] {...}"), so a failed
	// candidate moves the search to the next opening bracket.
	var firstErr error
	for offset, tries := 0, 0; tries < maxExtractCandidates; tries++ {
		idx := strings.IndexAny(cleaned[offset:], "{[")
		if idx == -1 {
			break
		}
		start := offset + idx
		res := extractAt(cleaned[start:])
		if res.OK() {
			return res
		}
		if firstErr == nil {
			firstErr = res.Err
		}
		offset = start + 1
	}
	if firstErr == nil {
		firstErr = fmt.Errorf("%w: no JSON start ({ or [) found", domain.ErrParse)
	}
	return ExtractResult{Err: firstErr}
}

// extractAt parses the document starting at candidate[0].
func extractAt(candidate string) ExtractResult {
	// A decoder reads one value and ignores trailing prose.
	var raw json.RawMessage
	if err := json.NewDecoder(strings.NewReader(candidate)).Decode(&raw); err == nil {
		return ExtractResult{JSON: compact(raw)}
	}

	balanced, ok := balancedSpan(candidate)
	if !ok {
		return ExtractResult{Err: fmt.Errorf("%w: unbalanced JSON", domain.ErrParse)}
	}
	repaired := trailingCommaPattern.ReplaceAllString(balanced, "$1")
	if json.Valid([]byte(repaired)) {
		return ExtractResult{JSON: compact(json.RawMessage(repaired))}
	}
	return ExtractResult{Err: fmt.Errorf("%w: invalid JSON", domain.ErrParse)}
}

// balancedSpan returns the prefix of s up to the bracket closing s[0],
// skipping brackets inside string literals.
func balancedSpan(s string) (string, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}

func compact(raw json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}
