package planner

// Retrieval strategies.
const (
	StrategyDirectRead    = "direct_read"
	StrategyKnowledgeOnly = "knowledge_only"
	StrategyRAGSearch     = "rag_search"
	StrategyHybrid        = "hybrid"
)

// RAGLimits bounds what a retrieval run may pull.
type RAGLimits struct {
	MaxFiles    int `json:"max_files"`
	MaxChunks   int `json:"max_chunks"`
	TokenBudget int `json:"token_budget"`
}

// RouteDecision is the strategy selection for one query.
type RouteDecision struct {
	Strategy      string    `json:"strategy"`
	UseRAG        bool      `json:"use_rag"`
	UseFilesystem bool      `json:"use_filesystem"`
	FallbackToRAG bool      `json:"fallback_to_rag"`
	FileRefs      []string  `json:"file_refs,omitempty"`
	RAGLimits     RAGLimits `json:"rag_limits"`
	Reason        string    `json:"reason"`
}

// RouteQuery maps a classified query to a strategy. Explicit file
// references win over everything: the caller already knows what to read,
// so retrieval is only a fallback if the file is missing.
func RouteQuery(query string, intent *QueryIntent) *RouteDecision {
	d := &RouteDecision{
		RAGLimits: RAGLimits{
			MaxFiles:    intent.MaxFiles,
			MaxChunks:   intent.MaxChunks,
			TokenBudget: intent.TokenBudget,
		},
	}

	if refs := FileReferences(query); len(refs) > 0 {
		d.Strategy = StrategyDirectRead
		d.UseFilesystem = true
		d.FallbackToRAG = true
		d.FileRefs = refs
		d.Reason = "query names explicit files"
		return d
	}

	switch intent.IntentType {
	case IntentConceptual:
		d.Strategy = StrategyKnowledgeOnly
		d.Reason = "conceptual question, no code retrieval"
	case IntentLocate:
		d.Strategy = StrategyRAGSearch
		d.UseRAG = true
		d.Reason = "discovery query routed to retrieval"
	default:
		d.Strategy = StrategyHybrid
		d.UseRAG = true
		d.UseFilesystem = true
		d.Reason = "code-bearing query, hybrid retrieval"
	}
	return d
}
