package splitter

import (
	"context"
	"regexp"
	"strings"
)

// MarkdownSplitter splits markdown by headings into doc-section spans.
// Sections above the size ceiling spill over into additional spans on
// paragraph boundaries. Each span's symbol is the hierarchical section
// path ("Guide > Install > Linux").
type MarkdownSplitter struct{}

// NewMarkdownSplitter creates a markdown splitter.
func NewMarkdownSplitter() *MarkdownSplitter { return &MarkdownSplitter{} }

var headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*$`)

type mdSection struct {
	path      string
	startLine int // 1-indexed, heading line included
	endLine   int
}

// Split returns the doc-section partition of a markdown file.
func (s *MarkdownSplitter) Split(ctx context.Context, file *FileInput) ([]*Span, error) {
	lines := splitLines(string(file.Content))
	if len(lines) == 0 {
		return []*Span{wholeFileSpan(file, lines, false)}, nil
	}

	sections := parseSections(lines)

	var spans []*Span
	for _, sec := range sections {
		spans = append(spans, chunkSection(file, lines, sec)...)
	}
	return spans, nil
}

// parseSections walks the heading structure maintaining the title stack.
// A preamble before the first heading becomes a section with an empty path.
func parseSections(lines []string) []mdSection {
	var sections []mdSection
	var stack []string // titles by level, stack[i] = level i+1 title
	current := mdSection{path: "", startLine: 1}
	inFence := false

	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		m := headingPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		level := len(m[1])
		title := m[2]

		if i+1 > current.startLine {
			current.endLine = i
			sections = append(sections, current)
		}

		if level <= len(stack) {
			stack = stack[:level-1]
		}
		for len(stack) < level-1 {
			stack = append(stack, "")
		}
		stack = append(stack, title)

		current = mdSection{path: strings.Join(stack, " > "), startLine: i + 1}
	}
	current.endLine = len(lines)
	if current.endLine >= current.startLine {
		sections = append(sections, current)
	}
	return sections
}

// chunkSection emits one span per section, spilling over on paragraph
// boundaries when the section exceeds the char ceiling.
func chunkSection(file *FileInput, lines []string, sec mdSection) []*Span {
	text := strings.Join(lines[sec.startLine-1:sec.endLine], "\n")
	if len(text) <= MaxDocChunkChars {
		return []*Span{docSpan(file, sec.path, sec.startLine, sec.endLine, text)}
	}

	var spans []*Span
	chunkStart := sec.startLine
	chunkSize := 0
	lastBlank := -1

	for i := sec.startLine; i <= sec.endLine; i++ {
		line := lines[i-1]
		if strings.TrimSpace(line) == "" {
			lastBlank = i
		}
		chunkSize += len(line) + 1
		if chunkSize > MaxDocChunkChars && lastBlank > chunkStart {
			body := strings.Join(lines[chunkStart-1:lastBlank], "\n")
			spans = append(spans, docSpan(file, sec.path, chunkStart, lastBlank, body))
			chunkStart = lastBlank + 1
			chunkSize = 0
			for j := chunkStart; j <= i; j++ {
				chunkSize += len(lines[j-1]) + 1
			}
			lastBlank = -1
		}
	}
	if chunkStart <= sec.endLine {
		body := strings.Join(lines[chunkStart-1:sec.endLine], "\n")
		spans = append(spans, docSpan(file, sec.path, chunkStart, sec.endLine, body))
	}
	return spans
}

func docSpan(file *FileInput, path string, start, end int, text string) *Span {
	return &Span{
		SpanHash:  HashSpan("markdown", path, KindDocSection, text),
		FilePath:  file.Path,
		Symbol:    path,
		Kind:      KindDocSection,
		StartLine: start,
		EndLine:   end,
		Text:      text,
	}
}
