package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"supplyintel/internal/domain"
)

// PromptBuilder renders an AgentRequest into prompt text. Sections always
// appear in the same order: history, domain state, prior agent findings,
// preferences, query, parameters. Empty sections are omitted.
type PromptBuilder struct {
	HistoryTurns   int
	DigestMaxChars int
}

// DefaultPromptBuilder keeps the last 5 turns and 500-character digests.
func DefaultPromptBuilder() PromptBuilder {
	return PromptBuilder{HistoryTurns: 5, DigestMaxChars: 500}
}

// Build renders req followed by the role-specific instruction.
func (p PromptBuilder) Build(req domain.AgentRequest, instruction string) string {
	var sb strings.Builder

	if turns := req.Context.RecentHistory(p.historyTurns()); len(turns) > 0 {
		sb.WriteString("## Conversation history\n")
		for _, t := range turns {
			fmt.Fprintf(&sb, "%s: %s\n", t.Role, strings.TrimSpace(t.Content))
		}
		sb.WriteString("\n")
	}

	if len(req.Context.DomainState) > 0 {
		sb.WriteString("## Current supply chain state\n")
		writeSortedMap(&sb, req.Context.DomainState)
		sb.WriteString("\n")
	}

	if len(req.Context.PreviousOutputs) > 0 {
		sb.WriteString("## Findings from other agents\n")
		for _, o := range req.Context.PreviousOutputs {
			fmt.Fprintf(&sb, "- [%s] %s\n", o.Role, truncateRunes(Digest(o), p.digestMaxChars()))
		}
		sb.WriteString("\n")
	}

	if len(req.Context.Preferences) > 0 {
		sb.WriteString("## User preferences\n")
		writeSortedMap(&sb, req.Context.Preferences)
		sb.WriteString("\n")
	}

	sb.WriteString("## Query\n")
	sb.WriteString(strings.TrimSpace(req.Query))
	sb.WriteString("\n")

	if len(req.Parameters) > 0 {
		// encoding/json sorts map keys.
		if b, err := json.Marshal(req.Parameters); err == nil {
			sb.WriteString("\n## Parameters\n")
			sb.Write(b)
			sb.WriteString("\n")
		}
	}

	if instruction != "" {
		sb.WriteString("\n")
		sb.WriteString(instruction)
		sb.WriteString("\n")
	}
	return sb.String()
}

// Digest summarizes an output for another agent's prompt.
func Digest(o domain.AgentOutput) string {
	if !o.Success {
		return "failed: " + o.Error
	}
	parts := make([]string, 0, 2)
	if o.Data != nil {
		parts = append(parts, o.Data.Summary())
	}
	if o.Reasoning != "" {
		parts = append(parts, o.Reasoning)
	}
	return strings.Join(parts, ". ")
}

func (p PromptBuilder) historyTurns() int {
	if p.HistoryTurns <= 0 {
		return 5
	}
	return p.HistoryTurns
}

func (p PromptBuilder) digestMaxChars() int {
	if p.DigestMaxChars <= 0 {
		return 500
	}
	return p.DigestMaxChars
}

func writeSortedMap(sb *strings.Builder, m map[string]any) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(sb, "- %s: %s\n", k, renderValue(m[k]))
	}
}

func renderValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// truncateRunes cuts s to at most n runes, marking the cut with "...".
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
