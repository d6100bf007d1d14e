package enrich

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode"

	"github.com/llmc-dev/llmc/internal/catalog"
	llmcerrors "github.com/llmc-dev/llmc/internal/errors"
)

// Payload is the fixed enrichment JSON schema. Unknown keys are rejected
// at the edge.
type Payload struct {
	Summary    string   `json:"summary"`
	KeyTopics  []string `json:"key_topics"`
	Complexity string   `json:"complexity"`
}

var allowedComplexity = map[string]catalog.Complexity{
	"low":     catalog.ComplexityLow,
	"medium":  catalog.ComplexityMedium,
	"high":    catalog.ComplexityHigh,
	"unknown": catalog.ComplexityUnknown,
}

// lineRefPattern finds "line 42" / "lines 3-7" style references.
var lineRefPattern = regexp.MustCompile(`(?i)\blines?\s+(\d+)(?:\s*[-–]\s*(\d+))?`)

// ParsePayload validates raw model output against the schema. startLine
// and endLine bound any line references in the summary.
func ParsePayload(raw json.RawMessage, startLine, endLine int) (*Payload, error) {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()

	p := &Payload{}
	if err := dec.Decode(p); err != nil {
		return nil, llmcerrors.New(llmcerrors.CodeBackendParse, "enrichment JSON invalid", err)
	}
	if strings.TrimSpace(p.Summary) == "" {
		return nil, llmcerrors.New(llmcerrors.CodeBackendParse, "summary must be non-empty", nil)
	}
	if p.KeyTopics == nil {
		p.KeyTopics = []string{}
	}
	if _, ok := allowedComplexity[p.Complexity]; !ok {
		return nil, llmcerrors.Newf(llmcerrors.CodeBackendParse,
			"complexity %q not in allowed set", p.Complexity)
	}

	for _, m := range lineRefPattern.FindAllStringSubmatch(p.Summary, -1) {
		lo := atoiSafe(m[1])
		hi := lo
		if m[2] != "" {
			hi = atoiSafe(m[2])
		}
		if lo < startLine || hi > endLine {
			return nil, llmcerrors.Newf(llmcerrors.CodeBackendParse,
				"summary references lines %d-%d outside span %d-%d", lo, hi, startLine, endLine)
		}
	}
	return p, nil
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}

// Quality classification thresholds.
const minRealSummaryLen = 20

var placeholderPattern = regexp.MustCompile(
	`(?i)^\s*(TODO|TBD|N/?A|placeholder|no summary|unknown|\.{3,})\s*\.?\s*$|lorem ipsum`)

// ClassifyQuality grades a validated payload deterministically: short or
// template-looking summaries are placeholders; summaries that are mostly
// non-letter noise are fake.
func ClassifyQuality(p *Payload) catalog.Quality {
	summary := strings.TrimSpace(p.Summary)
	if placeholderPattern.MatchString(summary) {
		return catalog.QualityPlaceholder
	}
	if len(summary) < minRealSummaryLen {
		return catalog.QualityPlaceholder
	}

	letters, total := 0, 0
	for _, r := range summary {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if total == 0 || float64(letters)/float64(total) < 0.5 {
		return catalog.QualityFake
	}
	return catalog.QualityReal
}

// ComplexityOf maps the payload string to the catalog enum.
func ComplexityOf(p *Payload) catalog.Complexity {
	return allowedComplexity[p.Complexity]
}
