package resilience

import (
	"fmt"
	"strings"
	"unicode"

	"supplyintel/internal/domain"
)

// QualityGate rejects completions that are too short, too long, templated,
// or degenerate before they are cached or returned.
type QualityGate struct {
	MinLength int
	MaxLength int
	// MaxWordShare is the largest share of all words a single word may take
	// once the text has at least RepetitionMinWords words.
	MaxWordShare       float64
	RepetitionMinWords int
}

// DefaultQualityGate returns the gate used for completion responses.
func DefaultQualityGate() QualityGate {
	return QualityGate{
		MinLength:          10,
		MaxLength:          50000,
		MaxWordShare:       0.30,
		RepetitionMinWords: 20,
	}
}

// placeholderMarkers are matched case-insensitively; TODO only in upper case.
var placeholderMarkers = []string{"[insert", "lorem ipsum", "{{", "<placeholder>"}

// Check returns nil when text passes, or an error wrapping domain.ErrQualityRejected.
func (g QualityGate) Check(text string) error {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < g.MinLength {
		return fmt.Errorf("%w: response too short (%d chars)", domain.ErrQualityRejected, len(trimmed))
	}
	if g.MaxLength > 0 && len(trimmed) > g.MaxLength {
		return fmt.Errorf("%w: response too long (%d chars)", domain.ErrQualityRejected, len(trimmed))
	}

	lower := strings.ToLower(trimmed)
	for _, m := range placeholderMarkers {
		if strings.Contains(lower, m) {
			return fmt.Errorf("%w: placeholder marker %q", domain.ErrQualityRejected, m)
		}
	}
	if strings.Contains(trimmed, "TODO") {
		return fmt.Errorf("%w: placeholder marker %q", domain.ErrQualityRejected, "TODO")
	}

	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) >= g.RepetitionMinWords && g.MaxWordShare > 0 {
		counts := make(map[string]int, len(words))
		for _, w := range words {
			counts[w]++
		}
		limit := g.MaxWordShare * float64(len(words))
		for w, n := range counts {
			if float64(n) > limit {
				return fmt.Errorf("%w: word %q repeated %d of %d times", domain.ErrQualityRejected, w, n, len(words))
			}
		}
	}
	return nil
}
