package splitter

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

// CodeSplitter splits source files into symbol spans using tree-sitter.
// Gaps between symbols become block spans so the output is always a full
// partition of the file.
type CodeSplitter struct {
	registry *LanguageRegistry

	mu     sync.Mutex
	parser *sitter.Parser
}

// NewCodeSplitter creates a code splitter over the default registry.
func NewCodeSplitter() *CodeSplitter {
	return &CodeSplitter{
		registry: DefaultRegistry(),
		parser:   sitter.NewParser(),
	}
}

// Close releases parser resources.
func (s *CodeSplitter) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.parser != nil {
		s.parser.Close()
		s.parser = nil
	}
}

// Split parses the file and returns its span partition.
// Unsupported languages and parse failures fall back to a whole-file span;
// the fallback for a parse failure is marked ParseDegraded.
func (s *CodeSplitter) Split(ctx context.Context, file *FileInput) ([]*Span, error) {
	lines := splitLines(string(file.Content))

	cfg, ok := s.registry.Get(file.Language)
	if !ok {
		return []*Span{wholeFileSpan(file, lines, false)}, nil
	}
	grammar, ok := s.registry.Grammar(file.Language)
	if !ok {
		return []*Span{wholeFileSpan(file, lines, false)}, nil
	}

	s.mu.Lock()
	s.parser.SetLanguage(grammar)
	tree, err := s.parser.ParseCtx(ctx, nil, file.Content)
	s.mu.Unlock()
	if err != nil || tree == nil {
		return []*Span{wholeFileSpan(file, lines, true)}, nil
	}
	defer tree.Close()

	root := tree.RootNode()
	imports := s.extractImports(root, file.Content, cfg)

	type symbolRange struct {
		start, end int
		kind       SpanKind
		symbol     string
	}
	var symbols []symbolRange

	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := root.NamedChild(i)
		target := unwrap(node, cfg)
		kind, isSymbol := classify(target, cfg)
		if !isSymbol {
			continue
		}
		symbols = append(symbols, symbolRange{
			// The wrapper's range is used so decorators and export
			// keywords stay inside the symbol span.
			start:  int(node.StartPoint().Row) + 1,
			end:    int(node.EndPoint().Row) + 1,
			kind:   kind,
			symbol: declaredName(target, file.Content, cfg),
		})
	}
	sort.Slice(symbols, func(i, j int) bool { return symbols[i].start < symbols[j].start })

	var spans []*Span
	cursor := 1
	for _, sym := range symbols {
		if sym.start < cursor {
			continue // nested or overlapping node already covered
		}
		if sym.start > cursor {
			spans = append(spans, makeSpan(file, lines, cursor, sym.start-1, KindBlock, "", imports))
		}
		spans = append(spans, makeSpan(file, lines, sym.start, sym.end, sym.kind, sym.symbol, imports))
		cursor = sym.end + 1
	}
	if cursor <= len(lines) {
		spans = append(spans, makeSpan(file, lines, cursor, len(lines), KindBlock, "", imports))
	}
	if len(spans) == 0 {
		spans = append(spans, wholeFileSpan(file, lines, false))
	}
	return spans, nil
}

// unwrap descends through wrapper nodes (decorated_definition,
// export_statement) to the declaration they carry.
func unwrap(node *sitter.Node, cfg *LanguageConfig) *sitter.Node {
	for _, w := range cfg.WrapperTypes {
		if node.Type() != w {
			continue
		}
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			if _, ok := classify(child, cfg); ok {
				return child
			}
		}
	}
	return node
}

func classify(node *sitter.Node, cfg *LanguageConfig) (SpanKind, bool) {
	t := node.Type()
	for _, ft := range cfg.FunctionTypes {
		if t == ft {
			return KindFunction, true
		}
	}
	for _, ct := range cfg.ClassTypes {
		if t == ct {
			return KindClass, true
		}
	}
	for _, mt := range cfg.MethodTypes {
		if t == mt {
			return KindMethod, true
		}
	}
	return "", false
}

// declaredName extracts the declared identifier from a symbol node.
func declaredName(node *sitter.Node, source []byte, cfg *LanguageConfig) string {
	if name := node.ChildByFieldName("name"); name != nil {
		return name.Content(source)
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		for _, nt := range cfg.NameFieldTypes {
			if child.Type() == nt {
				return child.Content(source)
			}
		}
	}
	return ""
}

var importRefPattern = regexp.MustCompile(`["']([^"']+)["']|^\s*(?:import|from)\s+([\w.]+)`)

// extractImports collects import targets from top-level import statements.
func (s *CodeSplitter) extractImports(root *sitter.Node, source []byte, cfg *LanguageConfig) []string {
	var imports []string
	seen := make(map[string]bool)
	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := root.NamedChild(i)
		isImport := false
		for _, it := range cfg.ImportTypes {
			if node.Type() == it {
				isImport = true
				break
			}
		}
		if !isImport {
			continue
		}
		for _, line := range strings.Split(node.Content(source), "\n") {
			m := importRefPattern.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			ref := m[1]
			if ref == "" {
				ref = m[2]
			}
			if ref != "" && !seen[ref] {
				seen[ref] = true
				imports = append(imports, ref)
			}
		}
	}
	return imports
}

func makeSpan(file *FileInput, lines []string, start, end int, kind SpanKind, symbol string, imports []string) *Span {
	text := strings.Join(lines[start-1:end], "\n")
	return &Span{
		SpanHash:  HashSpan(file.Language, symbol, kind, text),
		FilePath:  file.Path,
		Symbol:    symbol,
		Kind:      kind,
		StartLine: start,
		EndLine:   end,
		Text:      text,
		Imports:   imports,
	}
}

func wholeFileSpan(file *FileInput, lines []string, degraded bool) *Span {
	end := len(lines)
	if end == 0 {
		end = 1
		lines = []string{""}
	}
	text := strings.Join(lines, "\n")
	return &Span{
		SpanHash:      HashSpan(file.Language, "", KindBlock, text),
		FilePath:      file.Path,
		Kind:          KindBlock,
		StartLine:     1,
		EndLine:       end,
		Text:          text,
		ParseDegraded: degraded,
	}
}

// splitLines splits content into lines without the trailing empty element
// a final newline would otherwise produce.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
