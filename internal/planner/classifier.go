// Package planner classifies queries, routes them, and fuses hybrid
// retrieval channels into ranked span results.
package planner

import (
	"regexp"
	"strings"
)

// Intent families, in precedence order.
const (
	IntentConceptual     = "conceptual"
	IntentImplementation = "implementation"
	IntentDebug          = "debug"
	IntentLocate         = "locate"
	IntentGeneral        = "general"
)

// QueryIntent is the classification result.
type QueryIntent struct {
	IntentType  string  `json:"intent_type"`
	NeedsCode   bool    `json:"needs_code"`
	Confidence  float64 `json:"confidence"`
	MaxFiles    int     `json:"max_files"`
	MaxChunks   int     `json:"max_chunks"`
	TokenBudget int     `json:"token_budget"`
	Reason      string  `json:"reason"`
}

// Pattern families are empirical; the analytics store logs intent
// distribution so these can be tuned without code changes.
var (
	conceptualPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bhow\s+(does|do|is|are)\b.*\b(work|works|working|structured|organized)\b`),
		regexp.MustCompile(`(?i)\bwhat\s+(is|are)\s+the\s+(purpose|architecture|design|difference)\b`),
		regexp.MustCompile(`(?i)\bexplain\b|\boverview\b|\bconcept(ually)?\b`),
		regexp.MustCompile(`(?i)^why\b`),
	}
	implementationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(implement|add|create|write|refactor|extend|modify|support)\b`),
		regexp.MustCompile(`(?i)\bhow\s+(do|can|should)\s+i\b`),
	}
	debugPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(error|bug|fix|crash|panic|traceback|exception|fail(s|ed|ing)?|broken)\b`),
		regexp.MustCompile(`(?i)\bwhy\s+(is|does|do).*(fail|break|crash|slow|wrong)\b`),
	}
	locatePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(where|which file|locate|find|list all|search for)\b`),
		regexp.MustCompile(`(?i)\bdefined\b|\bdeclaration\b`),
	}
)

// Budget defaults per intent, clamped by the caller's remaining context.
var intentBudgets = map[string]struct {
	maxFiles, maxChunks, tokenBudget int
}{
	IntentConceptual:     {0, 0, 2000},
	IntentImplementation: {8, 20, 8000},
	IntentDebug:          {10, 25, 10000},
	IntentLocate:         {5, 10, 4000},
	IntentGeneral:        {6, 15, 6000},
}

// Classify buckets a query into an intent family. contextRemaining bounds
// the token budget; zero means unbounded.
func Classify(query string, contextRemaining int) *QueryIntent {
	intent := &QueryIntent{IntentType: IntentGeneral, NeedsCode: true, Confidence: 0.5,
		Reason: "no pattern matched"}

	switch {
	case matchAny(conceptualPatterns, query):
		intent.IntentType = IntentConceptual
		intent.NeedsCode = false
		intent.Confidence = 0.85
		intent.Reason = "conceptual pattern"
	case matchAny(implementationPatterns, query):
		intent.IntentType = IntentImplementation
		intent.Confidence = 0.75
		intent.Reason = "implementation pattern"
	case matchAny(debugPatterns, query):
		intent.IntentType = IntentDebug
		intent.Confidence = 0.8
		intent.Reason = "debug pattern"
	case matchAny(locatePatterns, query):
		intent.IntentType = IntentLocate
		intent.Confidence = 0.75
		intent.Reason = "locate pattern"
	}

	b := intentBudgets[intent.IntentType]
	intent.MaxFiles = b.maxFiles
	intent.MaxChunks = b.maxChunks
	intent.TokenBudget = b.tokenBudget
	if contextRemaining > 0 && intent.TokenBudget > contextRemaining {
		intent.TokenBudget = contextRemaining
	}
	return intent
}

func matchAny(patterns []*regexp.Regexp, query string) bool {
	for _, p := range patterns {
		if p.MatchString(query) {
			return true
		}
	}
	return false
}

// fileRefPattern matches explicit path-like tokens with an extension.
var fileRefPattern = regexp.MustCompile(
	`(?:^|[\s"'` + "`" + `])((?:[\w.-]+/)*[\w.-]+\.(?:go|py|ts|tsx|js|jsx|md|json|yaml|yml|toml|txt|sql|sh))\b`)

// FileReferences extracts explicit file paths mentioned in a query.
func FileReferences(query string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range fileRefPattern.FindAllStringSubmatch(query, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// queryTerms tokenizes a query for entity detection.
var termPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]{2,}`)

var queryStopWords = map[string]bool{
	"the": true, "and": true, "for": true, "how": true, "does": true,
	"what": true, "where": true, "which": true, "with": true, "from": true,
	"this": true, "that": true, "are": true, "was": true, "can": true,
	"file": true, "code": true, "work": true, "works": true,
}

func queryTerms(query string) []string {
	var out []string
	for _, t := range termPattern.FindAllString(query, -1) {
		if !queryStopWords[strings.ToLower(t)] {
			out = append(out, t)
		}
	}
	return out
}
