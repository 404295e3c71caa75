// Package models defines the data types shared across the ingestion and
// retrieval pipelines: repositories, code chunks, search results, citations
// and the agent's state record.
package models

import "time"

// Repository describes one indexed codebase. It is immutable once created;
// re-ingestion replaces it wholesale rather than mutating it in place.
type Repository struct {
	ID          string         `json:"id"`
	Origin      string         `json:"origin"` // source URL or absolute local path
	CommitHash  string         `json:"commit_hash,omitempty"`
	IndexedAt   time.Time      `json:"indexed_at"`
	LangCounts  map[string]int `json:"lang_counts,omitempty"`
}

// ChunkingMethod records which chunking strategy produced a CodeChunk.
type ChunkingMethod string

const (
	ChunkingMethodAST  ChunkingMethod = "ast"
	ChunkingMethodSize ChunkingMethod = "size"
)

// MergeRecord marks a chunk produced by merging two adjacent undersized
// chunks, preserving the symbol names of both originals.
type MergeRecord struct {
	Merged          bool     `json:"merged"`
	OriginalSymbols []string `json:"original_symbols,omitempty"`
}

// CodeChunk is the atomic retrieval unit: a contiguous, citable slice of one
// source file plus the metadata the chunker captured about it.
type CodeChunk struct {
	ID         string `json:"id"` // <repo>:<filename>:<startLine>:<endLine>
	RepoID     string `json:"repo_id"`
	FilePath   string `json:"file_path"` // repo-relative
	Language   string `json:"language"`
	StartLine  int    `json:"start_line"` // 1-indexed, inclusive
	EndLine    int    `json:"end_line"`
	SymbolName string `json:"symbol_name,omitempty"`
	Text       string `json:"text"`

	Method     ChunkingMethod `json:"chunking_method"`
	Imports    []string       `json:"imports,omitempty"`    // capped at 10
	Parameters []string       `json:"parameters,omitempty"` // capped at 5
	ReturnType string         `json:"return_type,omitempty"`
	HasContext bool           `json:"has_context"`
	Merge      MergeRecord    `json:"merge,omitempty"`
}

// SearchResult is a transient, scored view of a CodeChunk returned by the
// retriever. It is not persisted; the agent loop accumulates these across
// its retrieval iterations.
type SearchResult struct {
	ChunkID      string   `json:"chunk_id"`
	Text         string   `json:"text"`
	FilePath     string   `json:"file_path"`
	StartLine    int      `json:"start_line"`
	EndLine      int      `json:"end_line"`
	SymbolName   string   `json:"symbol_name,omitempty"`
	Sources      []string `json:"sources"` // subset of {"vector","lexical"}
	VectorScore  float64  `json:"vector_score,omitempty"`
	LexicalScore float64  `json:"lexical_score,omitempty"`
	Combined     float64  `json:"combined_score"`
	QuerySources []string `json:"query_sources,omitempty"`

	// Truncation bookkeeping, set by the context packer. Not persisted.
	Truncated           bool `json:"truncated,omitempty"`
	OriginalTokenCount  int  `json:"original_token_count,omitempty"`
	TruncatedTokenCount int  `json:"truncated_token_count,omitempty"`
}

// Citation is a reference to a line span in a source file, optionally
// hydrated with the actual source text.
type Citation struct {
	FilePath    string `json:"file_path"`
	StartLine   int    `json:"start_line"`
	EndLine     int    `json:"end_line"`
	TextSnippet string `json:"text_snippet,omitempty"`
}

// Plan is the planner's output: a reasoning trail plus the queries it wants
// the retriever to run first.
type Plan struct {
	Reasoning     string   `json:"reasoning"`
	SearchQueries []string `json:"search_queries"`
	ExpectedFiles []string `json:"expected_files"`
}

// Verification is the verifier's judgment on a draft answer.
type Verification struct {
	IsGrounded         bool     `json:"is_grounded"`
	UnsupportedClaims  []string `json:"unsupported_claims"`
	MissingInformation []string `json:"missing_information"`
	FollowUpQueries    []string `json:"follow_up_queries"`
}

// AgentState is the fixed-schema record threaded through the agent loop.
type AgentState struct {
	Question string
	RepoID   string

	Plan *Plan

	RetrievedChunks    []SearchResult
	RetrievalIteration int

	DraftAnswer string

	Verification *Verification

	FinalAnswer string
	Citations   []Citation

	// ReasoningTrace is append-only; it is the loop's observability contract.
	ReasoningTrace []string
}

// Trace appends one observability line to the reasoning trace.
func (s *AgentState) Trace(line string) {
	s.ReasoningTrace = append(s.ReasoningTrace, line)
}
