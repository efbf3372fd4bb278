package agent

import (
	"regexp"
	"strings"
)

// Intelligence categories.
const (
	CategoryLogistics    = "logistics"
	CategorySupplier     = "supplier"
	CategoryGeopolitical = "geopolitical"
	CategoryWeather      = "weather"
	CategoryDemand       = "demand"
	CategoryGeneral      = "general"
)

// Severity levels shared by risks, recommendations, and intelligence items.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

type categoryRule struct {
	category string
	pattern  *regexp.Regexp
}

func wordsPattern(words ...string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(words, "|") + `)\b`)
}

// categoryRules are evaluated in order; the first match wins.
var categoryRules = []categoryRule{
	{CategoryLogistics, wordsPattern("ports?", "shipping", "shipments?", "logistics", "freight", "containers?", "vessels?")},
	{CategorySupplier, wordsPattern("suppliers?", "manufacturers?", "manufacturing", "factory", "factories")},
	{CategoryGeopolitical, wordsPattern("tariffs?", "sanctions?", "trade war", "embargo(?:es)?", "export controls?")},
	{CategoryWeather, wordsPattern("weather", "hurricanes?", "floods?", "flooding", "typhoons?", "storms?", "drought")},
	{CategoryDemand, wordsPattern("demand", "shortages?")},
}

// escalationPattern marks text that is critical regardless of score. It is a
// plain keyword match, so phrases like "critical infrastructure" escalate too.
var escalationPattern = wordsPattern("critical", "severe", "crisis")

// ClassifyCategory assigns a category from keywords in text.
func ClassifyCategory(text string) string {
	for _, r := range categoryRules {
		if r.pattern.MatchString(text) {
			return r.category
		}
	}
	return CategoryGeneral
}

// ClassifySeverity escalates on crisis keywords and otherwise derives the
// severity from the relevance score.
func ClassifySeverity(text string, score float64) string {
	if escalationPattern.MatchString(text) {
		return SeverityCritical
	}
	switch {
	case score >= 0.8:
		return SeverityHigh
	case score >= 0.5:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
