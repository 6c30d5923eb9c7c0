// Package extraction converts raw conversational turns into candidate
// memories.
//
// The reference implementation is a cheap syntactic pass: every turn yields an
// interaction record, and a small set of cue phrases ("remember:", "note:",
// ...) yields higher-importance fact records. It is deliberately a replaceable
// policy — a smarter extractor (for example an LLM-based one) can be dropped
// in by implementing the same Policy interface and output contract.
package extraction

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Candidate memory types emitted by the reference policy.
const (
	TypeInteraction = "interaction"
	TypeFact        = "fact"
)

// Reference policy constants, observed from production behavior.
const (
	// MaxInteractionLength bounds the stored prefix of a conversational turn.
	MaxInteractionLength = 500

	// MinFactLength is the shortest captured cue text worth keeping.
	MinFactLength = 10

	// InteractionImportance is the default importance of an interaction record.
	InteractionImportance = 0.5

	// FactImportance is the importance of a cue-matched fact.
	FactImportance = 0.7
)

// Candidate is one proposed memory produced by a Policy.
//
// Candidates are handed to the batch store path, which vectorizes,
// fingerprints, and upserts each one independently.
type Candidate struct {
	// Content is the candidate text, already bounded by the policy.
	Content string

	// MemoryType tags the candidate ("interaction", "fact", ...).
	MemoryType string

	// Importance is the initial importance in [0, 1].
	Importance float64

	// Tags are free-form labels attached by the policy.
	Tags []string
}

// Policy turns a raw conversational turn into zero or more candidate
// memories. Implementations must be pure: no storage or network access.
type Policy interface {
	Extract(text, role string) []Candidate
}

// cuePatterns capture the text following a cue phrase up to the end of the
// line. Case-insensitive.
var cuePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)remember:\s*(.+)`),
	regexp.MustCompile(`(?i)note:\s*(.+)`),
	regexp.MustCompile(`(?i)important:\s*(.+)`),
	regexp.MustCompile(`(?i)always:\s*(.+)`),
	regexp.MustCompile(`(?i)never:\s*(.+)`),
	regexp.MustCompile(`(?i)usually:\s*(.+)`),
}

// RegexPolicy is the reference extraction policy.
type RegexPolicy struct{}

// NewRegexPolicy creates the reference cue-pattern policy.
func NewRegexPolicy() *RegexPolicy {
	return &RegexPolicy{}
}

// Extract emits one interaction candidate for the turn plus one fact
// candidate per cue-pattern match whose captured text is long enough.
//
// Oversized content is truncated, not rejected; empty or whitespace-only
// input yields no candidates.
func (p *RegexPolicy) Extract(text, role string) []Candidate {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	interaction := truncate(trimmed, MaxInteractionLength)

	candidates := []Candidate{{
		Content:    interaction,
		MemoryType: TypeInteraction,
		Importance: InteractionImportance,
		Tags:       []string{"role:" + role},
	}}

	for _, pattern := range cuePatterns {
		for _, match := range pattern.FindAllStringSubmatch(trimmed, -1) {
			fact := strings.TrimSpace(match[1])
			if utf8.RuneCountInString(fact) < MinFactLength {
				continue
			}
			fact = truncate(fact, MaxInteractionLength)
			candidates = append(candidates, Candidate{
				Content:    fact,
				MemoryType: TypeFact,
				Importance: FactImportance,
				Tags:       []string{"role:" + role},
			})
		}
	}

	return candidates
}

// truncate bounds s to limit characters, cutting on a rune boundary so stored
// content is always valid UTF-8.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	count := 0
	for i := range s {
		if count == limit {
			return s[:i]
		}
		count++
	}
	return s
}
