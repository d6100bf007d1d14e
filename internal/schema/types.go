// Package schema derives entities and relations from span partitions.
// The output feeds the graph store; unresolved references are kept with
// reduced confidence and pruned below a configurable threshold.
package schema

import (
	"path/filepath"
	"strings"
)

// Entity kinds.
const (
	EntityFunction   = "function"
	EntityClass      = "class"
	EntityModule     = "module"
	EntityTable      = "table"
	EntityDocSection = "doc-section"
)

// Relation types.
const (
	RelCalls   = "calls"
	RelUses    = "uses"
	RelExtends = "extends"
	RelReads   = "reads"
	RelWrites  = "writes"
	RelImports = "imports"
)

// Entity is a graph node. ID is "kind:qualified_name" and is the canonical
// key.
type Entity struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Name     string `json:"name"`
	FilePath string `json:"file_path,omitempty"`
	SpanHash string `json:"span_hash,omitempty"`
	// Props are agent-written annotations merged with last-writer-wins
	// semantics; extraction never populates them.
	Props map[string]string `json:"props,omitempty"`
}

// Relation is a directed, typed edge between entities.
type Relation struct {
	Src        string  `json:"src"`
	Dst        string  `json:"dst"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// Extraction is the result of one batch run.
type Extraction struct {
	Entities  []Entity
	Relations []Relation
}

// ModulePath converts a repo-relative file path into a dotted module path:
// "pkg/util/io.py" becomes "pkg.util.io".
func ModulePath(path string) string {
	p := strings.TrimSuffix(path, filepath.Ext(path))
	return strings.ReplaceAll(filepath.ToSlash(p), "/", ".")
}

// EntityID builds the canonical "kind:qualified_name" id.
func EntityID(kind, qualifiedName string) string {
	return kind + ":" + qualifiedName
}
