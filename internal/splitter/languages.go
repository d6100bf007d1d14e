package splitter

import (
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// LanguageConfig describes how to split one language.
type LanguageConfig struct {
	Name       string
	Extensions []string

	// Node types that open a span of the given kind at file top level.
	FunctionTypes []string
	ClassTypes    []string
	MethodTypes   []string

	// Node types whose text contributes to the file import list.
	ImportTypes []string

	// WrapperTypes are unwrapped before classification (e.g. Python
	// decorated_definition, JS export_statement).
	WrapperTypes []string

	// NameFieldTypes are node types that carry the declared name.
	NameFieldTypes []string
}

// LanguageRegistry maps languages and extensions to configs and grammars.
type LanguageRegistry struct {
	mu        sync.RWMutex
	configs   map[string]*LanguageConfig
	extToLang map[string]string
	grammars  map[string]*sitter.Language
}

var defaultRegistry = NewLanguageRegistry()

// DefaultRegistry returns the shared registry with built-in languages.
func DefaultRegistry() *LanguageRegistry { return defaultRegistry }

// NewLanguageRegistry creates a registry with the built-in languages.
func NewLanguageRegistry() *LanguageRegistry {
	r := &LanguageRegistry{
		configs:   make(map[string]*LanguageConfig),
		extToLang: make(map[string]string),
		grammars:  make(map[string]*sitter.Language),
	}
	r.registerPython()
	r.registerTypeScript()
	r.registerJavaScript()
	r.registerGo()
	return r
}

// DetectLanguage returns the language name for a file path, or "" when the
// extension is unknown.
func (r *LanguageRegistry) DetectLanguage(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".md" || ext == ".markdown" || ext == ".mdx" {
		return "markdown"
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.extToLang[ext]
}

// Get returns the config for a language name.
func (r *LanguageRegistry) Get(name string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.configs[name]
	return c, ok
}

// Grammar returns the tree-sitter language for a language name.
func (r *LanguageRegistry) Grammar(name string) (*sitter.Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.grammars[name]
	return g, ok
}

func (r *LanguageRegistry) register(cfg *LanguageConfig, grammar *sitter.Language) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.Name] = cfg
	r.grammars[cfg.Name] = grammar
	for _, ext := range cfg.Extensions {
		r.extToLang[ext] = cfg.Name
	}
}

func (r *LanguageRegistry) registerPython() {
	r.register(&LanguageConfig{
		Name:           "python",
		Extensions:     []string{".py", ".pyi"},
		FunctionTypes:  []string{"function_definition"},
		ClassTypes:     []string{"class_definition"},
		ImportTypes:    []string{"import_statement", "import_from_statement"},
		WrapperTypes:   []string{"decorated_definition"},
		NameFieldTypes: []string{"identifier"},
	}, python.GetLanguage())
}

func (r *LanguageRegistry) registerTypeScript() {
	cfg := &LanguageConfig{
		Name:           "typescript",
		Extensions:     []string{".ts"},
		FunctionTypes:  []string{"function_declaration", "generator_function_declaration"},
		ClassTypes:     []string{"class_declaration", "abstract_class_declaration", "interface_declaration", "enum_declaration"},
		MethodTypes:    []string{"method_definition"},
		ImportTypes:    []string{"import_statement"},
		WrapperTypes:   []string{"export_statement"},
		NameFieldTypes: []string{"identifier", "type_identifier", "property_identifier"},
	}
	r.register(cfg, typescript.GetLanguage())

	tsxCfg := *cfg
	tsxCfg.Name = "tsx"
	tsxCfg.Extensions = []string{".tsx"}
	r.register(&tsxCfg, tsx.GetLanguage())
}

func (r *LanguageRegistry) registerJavaScript() {
	r.register(&LanguageConfig{
		Name:           "javascript",
		Extensions:     []string{".js", ".jsx", ".mjs", ".cjs"},
		FunctionTypes:  []string{"function_declaration", "generator_function_declaration"},
		ClassTypes:     []string{"class_declaration"},
		MethodTypes:    []string{"method_definition"},
		ImportTypes:    []string{"import_statement"},
		WrapperTypes:   []string{"export_statement"},
		NameFieldTypes: []string{"identifier", "property_identifier"},
	}, javascript.GetLanguage())
}

func (r *LanguageRegistry) registerGo() {
	r.register(&LanguageConfig{
		Name:           "go",
		Extensions:     []string{".go"},
		FunctionTypes:  []string{"function_declaration"},
		MethodTypes:    []string{"method_declaration"},
		ClassTypes:     []string{"type_declaration"},
		ImportTypes:    []string{"import_declaration"},
		NameFieldTypes: []string{"identifier", "type_identifier", "field_identifier"},
	}, golang.GetLanguage())
}
