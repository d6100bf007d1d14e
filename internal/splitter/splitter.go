package splitter

import (
	"context"
)

// FileSplitter dispatches files to the code or markdown splitter by
// detected language and guarantees the partition invariant either way.
type FileSplitter struct {
	registry *LanguageRegistry
	code     *CodeSplitter
	markdown *MarkdownSplitter
}

// New creates a FileSplitter over the default language registry.
func New() *FileSplitter {
	return &FileSplitter{
		registry: DefaultRegistry(),
		code:     NewCodeSplitter(),
		markdown: NewMarkdownSplitter(),
	}
}

// Close releases parser resources.
func (s *FileSplitter) Close() {
	s.code.Close()
}

// DetectLanguage exposes extension-based language detection.
func (s *FileSplitter) DetectLanguage(path string) string {
	return s.registry.DetectLanguage(path)
}

// Split returns the ordered span partition for a file. The language is
// detected from the path when file.Language is empty.
func (s *FileSplitter) Split(ctx context.Context, file *FileInput) ([]*Span, error) {
	if file.Language == "" {
		file.Language = s.registry.DetectLanguage(file.Path)
	}
	if file.Language == "markdown" {
		return s.markdown.Split(ctx, file)
	}
	return s.code.Split(ctx, file)
}
