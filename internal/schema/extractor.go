package schema

import (
	"context"
	"sort"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/llmc-dev/llmc/internal/splitter"
)

// Confidence levels assigned during reference resolution.
const (
	confSameFile   = 1.0
	confCrossFile  = 0.8
	confAmbiguous  = 0.5
	confUnresolved = 0.4
)

// FileSpans pairs a file with its current span partition. Content is
// reconstructed from the partition, so callers do not need to re-read disk.
type FileSpans struct {
	Path     string
	Language string
	Spans    []*splitter.Span
}

// rawRef is an unresolved reference collected during the parse walk.
type rawRef struct {
	srcID   string
	name    string
	relType string
}

// Extractor turns span batches into entities and relations.
type Extractor struct {
	registry *splitter.LanguageRegistry
	prune    float64

	mu     sync.Mutex
	parser *sitter.Parser
}

// NewExtractor creates an extractor. Relations with confidence below
// pruneConfidence are dropped from the output.
func NewExtractor(pruneConfidence float64) *Extractor {
	return &Extractor{
		registry: splitter.DefaultRegistry(),
		prune:    pruneConfidence,
		parser:   sitter.NewParser(),
	}
}

// Close releases parser resources.
func (e *Extractor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.parser != nil {
		e.parser.Close()
		e.parser = nil
	}
}

// Extract processes a batch of files. Resolution is batch-wide: a call to a
// name defined in another file of the batch resolves cross-file. Languages
// without a grammar yield only module and doc-section entities.
func (e *Extractor) Extract(ctx context.Context, files []*FileSpans) (*Extraction, error) {
	var entities []Entity
	var refs []rawRef

	for _, f := range files {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		ents, fileRefs := e.extractFile(ctx, f)
		entities = append(entities, ents...)
		refs = append(refs, fileRefs...)
	}

	relations, stubs := e.resolve(entities, refs)
	entities = append(entities, stubs...)

	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
	sort.Slice(relations, func(i, j int) bool {
		if relations[i].Src != relations[j].Src {
			return relations[i].Src < relations[j].Src
		}
		if relations[i].Dst != relations[j].Dst {
			return relations[i].Dst < relations[j].Dst
		}
		return relations[i].Type < relations[j].Type
	})
	return &Extraction{Entities: dedupeEntities(entities), Relations: relations}, nil
}

// extractFile emits the module entity, symbol entities, and raw references
// for one file.
func (e *Extractor) extractFile(ctx context.Context, f *FileSpans) ([]Entity, []rawRef) {
	module := ModulePath(f.Path)
	moduleID := EntityID(EntityModule, module)
	entities := []Entity{{
		ID: moduleID, Kind: EntityModule, Name: module, FilePath: f.Path,
	}}
	var refs []rawRef

	seenImports := make(map[string]bool)
	for _, sp := range f.Spans {
		switch sp.Kind {
		case splitter.KindDocSection:
			name := f.Path
			if sp.Symbol != "" {
				name = f.Path + "#" + sp.Symbol
			}
			entities = append(entities, Entity{
				ID: EntityID(EntityDocSection, name), Kind: EntityDocSection,
				Name: name, FilePath: f.Path, SpanHash: sp.SpanHash,
			})
		case splitter.KindFunction, splitter.KindMethod:
			entities = append(entities, Entity{
				ID: EntityID(EntityFunction, module+"."+sp.Symbol), Kind: EntityFunction,
				Name: sp.Symbol, FilePath: f.Path, SpanHash: sp.SpanHash,
			})
		case splitter.KindClass:
			entities = append(entities, Entity{
				ID: EntityID(EntityClass, module+"."+sp.Symbol), Kind: EntityClass,
				Name: sp.Symbol, FilePath: f.Path, SpanHash: sp.SpanHash,
			})
		}
		for _, imp := range sp.Imports {
			if !seenImports[imp] {
				seenImports[imp] = true
				refs = append(refs, rawRef{srcID: moduleID, name: imp, relType: RelImports})
			}
		}
	}

	refs = append(refs, e.parseRefs(ctx, f, module)...)
	return entities, refs
}

// parseRefs re-parses the file to collect call, extends, and read/write
// references, attributed to the symbol span enclosing each site.
func (e *Extractor) parseRefs(ctx context.Context, f *FileSpans, module string) []rawRef {
	grammar, ok := e.registry.Grammar(f.Language)
	if !ok {
		return nil
	}

	content := reassemble(f.Spans)
	e.mu.Lock()
	if e.parser == nil {
		e.mu.Unlock()
		return nil
	}
	e.parser.SetLanguage(grammar)
	tree, err := e.parser.ParseCtx(ctx, nil, content)
	e.mu.Unlock()
	if err != nil || tree == nil {
		return nil
	}
	defer tree.Close()

	owners := spanOwners(f.Spans, module)
	var refs []rawRef
	walk(tree.RootNode(), func(n *sitter.Node) {
		line := int(n.StartPoint().Row) + 1
		srcID := ownerAt(owners, line)
		if srcID == "" {
			srcID = EntityID(EntityModule, module)
		}

		switch n.Type() {
		case "call", "call_expression":
			if name := calleeName(n, content); name != "" {
				refs = append(refs, rawRef{srcID: srcID, name: name, relType: RelCalls})
			}
		case "class_definition", "class_declaration":
			for _, sup := range superclassNames(n, content) {
				classID := srcID
				if name := n.ChildByFieldName("name"); name != nil {
					classID = EntityID(EntityClass, module+"."+name.Content(content))
				}
				refs = append(refs, rawRef{srcID: classID, name: sup, relType: RelExtends})
			}
		case "assignment", "assignment_expression", "augmented_assignment":
			if left := n.ChildByFieldName("left"); left != nil && left.Type() == "identifier" {
				refs = append(refs, rawRef{srcID: srcID, name: left.Content(content), relType: RelWrites})
			}
			if right := n.ChildByFieldName("right"); right != nil {
				for _, id := range identifiers(right, content) {
					refs = append(refs, rawRef{srcID: srcID, name: id, relType: RelReads})
				}
			}
		}
	})
	return refs
}

// resolve matches raw references against the batch's entity names. Same-file
// definitions win; a unique cross-file match resolves with lower confidence;
// names defined in several files fan out with ambiguous confidence. Names
// with no definition become external stub entities so no edge dangles.
func (e *Extractor) resolve(entities []Entity, refs []rawRef) ([]Relation, []Entity) {
	byName := make(map[string][]Entity)
	byID := make(map[string]Entity, len(entities))
	for _, ent := range entities {
		if ent.Kind == EntityFunction || ent.Kind == EntityClass {
			byName[ent.Name] = append(byName[ent.Name], ent)
		}
		byID[ent.ID] = ent
	}

	stubIDs := make(map[string]Entity)
	var relations []Relation
	seen := make(map[string]bool)

	add := func(src, dst, relType string, conf float64) {
		if conf < e.prune || src == dst {
			return
		}
		key := src + "\x00" + dst + "\x00" + relType
		if seen[key] {
			return
		}
		seen[key] = true
		relations = append(relations, Relation{Src: src, Dst: dst, Type: relType, Confidence: conf})
	}

	for _, r := range refs {
		if r.relType == RelImports {
			dstID := EntityID(EntityModule, r.name)
			conf := confUnresolved
			if _, ok := byID[dstID]; ok {
				conf = confSameFile
			} else {
				stubIDs[dstID] = Entity{ID: dstID, Kind: EntityModule, Name: r.name}
			}
			add(r.srcID, dstID, RelImports, conf)
			continue
		}

		srcFile := byID[r.srcID].FilePath
		matches := byName[r.name]
		switch {
		case len(matches) == 0:
			// Reads/writes of unknown names are locals, not edges.
			if r.relType == RelReads || r.relType == RelWrites {
				continue
			}
			kind := EntityFunction
			if r.relType == RelExtends {
				kind = EntityClass
			}
			dstID := EntityID(kind, r.name)
			stubIDs[dstID] = Entity{ID: dstID, Kind: kind, Name: r.name}
			add(r.srcID, dstID, r.relType, confUnresolved)
		case len(matches) == 1:
			conf := confCrossFile
			if matches[0].FilePath == srcFile {
				conf = confSameFile
			}
			add(r.srcID, matches[0].ID, r.relType, conf)
		default:
			resolved := false
			for _, m := range matches {
				if m.FilePath == srcFile {
					add(r.srcID, m.ID, r.relType, confSameFile)
					resolved = true
					break
				}
			}
			if !resolved {
				for _, m := range matches {
					add(r.srcID, m.ID, r.relType, confAmbiguous)
				}
			}
		}
	}

	stubs := make([]Entity, 0, len(stubIDs))
	for _, s := range stubIDs {
		stubs = append(stubs, s)
	}
	return relations, stubs
}

type ownerRange struct {
	start, end int
	id         string
}

// spanOwners maps line ranges to the entity id of the enclosing symbol.
func spanOwners(spans []*splitter.Span, module string) []ownerRange {
	var owners []ownerRange
	for _, sp := range spans {
		var id string
		switch sp.Kind {
		case splitter.KindFunction, splitter.KindMethod:
			id = EntityID(EntityFunction, module+"."+sp.Symbol)
		case splitter.KindClass:
			id = EntityID(EntityClass, module+"."+sp.Symbol)
		default:
			continue
		}
		owners = append(owners, ownerRange{start: sp.StartLine, end: sp.EndLine, id: id})
	}
	return owners
}

func ownerAt(owners []ownerRange, line int) string {
	for _, o := range owners {
		if line >= o.start && line <= o.end {
			return o.id
		}
	}
	return ""
}

// calleeName extracts the called name; attribute and member calls keep only
// the final component ("obj.save" yields "save").
func calleeName(call *sitter.Node, source []byte) string {
	fn := call.ChildByFieldName("function")
	if fn == nil {
		return ""
	}
	switch fn.Type() {
	case "identifier":
		return fn.Content(source)
	case "attribute", "member_expression":
		if attr := fn.ChildByFieldName("attribute"); attr != nil {
			return attr.Content(source)
		}
		if prop := fn.ChildByFieldName("property"); prop != nil {
			return prop.Content(source)
		}
	}
	return ""
}

// superclassNames lists base-class identifiers from a class declaration.
func superclassNames(class *sitter.Node, source []byte) []string {
	var names []string
	if supers := class.ChildByFieldName("superclasses"); supers != nil {
		for i := 0; i < int(supers.NamedChildCount()); i++ {
			c := supers.NamedChild(i)
			if c.Type() == "identifier" {
				names = append(names, c.Content(source))
			}
		}
		return names
	}
	for i := 0; i < int(class.NamedChildCount()); i++ {
		c := class.NamedChild(i)
		if c.Type() != "class_heritage" {
			continue
		}
		walk(c, func(n *sitter.Node) {
			if n.Type() == "identifier" {
				names = append(names, n.Content(source))
			}
		})
	}
	return names
}

// identifiers collects plain identifier leaves under a node.
func identifiers(node *sitter.Node, source []byte) []string {
	var out []string
	walk(node, func(n *sitter.Node) {
		if n.Type() == "identifier" && n.NamedChildCount() == 0 {
			out = append(out, n.Content(source))
		}
	})
	return out
}

func walk(node *sitter.Node, visit func(*sitter.Node)) {
	visit(node)
	for i := 0; i < int(node.NamedChildCount()); i++ {
		walk(node.NamedChild(i), visit)
	}
}

// reassemble rebuilds file content from its span partition.
func reassemble(spans []*splitter.Span) []byte {
	ordered := make([]*splitter.Span, len(spans))
	copy(ordered, spans)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].StartLine < ordered[j].StartLine })

	parts := make([]string, len(ordered))
	for i, sp := range ordered {
		parts[i] = sp.Text
	}
	return []byte(strings.Join(parts, "\n"))
}

func dedupeEntities(entities []Entity) []Entity {
	out := entities[:0]
	var prev string
	for _, e := range entities {
		if e.ID == prev {
			continue
		}
		prev = e.ID
		out = append(out, e)
	}
	return out
}
