// Package agent drives the Plan -> Retrieve -> Synthesize -> Verify ->
// Finalize loop that answers a question about an indexed repository. Each
// stage is a function from state to state; the loop is a small driver
// dispatching on the verifier's transition.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/reposearch/codeask/internal/ai"
	"github.com/reposearch/codeask/internal/citation"
	"github.com/reposearch/codeask/internal/config"
	"github.com/reposearch/codeask/internal/jsonextract"
	"github.com/reposearch/codeask/internal/store"
	"github.com/reposearch/codeask/pkg/models"
)

// NoRelevantCodeAnswer is emitted when retrieval finds nothing at all.
const NoRelevantCodeAnswer = "No relevant code was found to answer this question."

// synthesisErrorAnswer is the draft recorded when the oracle call for the
// synthesizer fails outright.
const synthesisErrorAnswer = "Error generating answer"

const oracleTimeout = 120 * time.Second

const (
	plannerTemperature     = 0.0
	synthesizerTemperature = 0.0
	verifierTemperature    = 0.0
	summaryTemperature     = 0.3
)

// ExecutionError wraps any unrecovered loop failure; callers surface it as
// a 500-equivalent.
type ExecutionError struct {
	Stage string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("agent %s stage: %v", e.Stage, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// SearchEngine is the retriever capability the loop depends on.
type SearchEngine interface {
	Search(ctx context.Context, query, repoID string, k int) ([]models.SearchResult, error)
}

// QueryStrategist expands base queries into variations and proposes
// gap-filling rewrites from what retrieval already found.
type QueryStrategist interface {
	GenerateVariations(ctx context.Context, question string, numVariations int) []string
	RewriteForGaps(ctx context.Context, originalQueries []string, retrieved []models.SearchResult, question string, maxNewQueries int) []string
}

// ContextPacker fits accumulated chunks into the synthesizer's token budget.
type ContextPacker interface {
	Pack(chunks []models.SearchResult, question string) []models.SearchResult
}

// FinalizerConfig selects the finalizer's output form: the structured
// Summary/Detailed Explanation/Code Examples/References document, or the
// plain draft-plus-references form.
type FinalizerConfig struct {
	Structured bool
}

// Loop wires the stages together. All collaborators are interfaces so the
// loop can be tested with hand-written fakes.
type Loop struct {
	Oracle     ai.Oracle
	Retriever  SearchEngine
	Strategist QueryStrategist
	Packer     ContextPacker
	Store      store.CorpusStore
	Files      citation.FileOpener

	AgentCfg     config.AgentSpecification
	RetrievalCfg config.RetrievalSpecification
	Finalizer    FinalizerConfig
}

// Answer runs the full loop for question against repoID. The returned
// state always carries the reasoning trace, even on error. Cancellation
// aborts the in-flight stage and finalizes with whatever has been
// produced so far.
func (l *Loop) Answer(ctx context.Context, question, repoID string) (*models.AgentState, error) {
	state := &models.AgentState{Question: question, RepoID: repoID}

	if l.Store != nil {
		_, ok, err := l.Store.GetRepo(ctx, repoID)
		if err != nil {
			return state, &ExecutionError{Stage: "lookup", Err: err}
		}
		if !ok {
			return state, fmt.Errorf("%w: %s", store.ErrRepositoryNotFound, repoID)
		}
	}

	l.plan(ctx, state)

	for {
		if ctx.Err() != nil {
			state.Trace("Cancelled; finalizing with partial results")
			break
		}

		if err := l.retrieve(ctx, state); err != nil {
			if ctx.Err() != nil {
				state.Trace("Cancelled; finalizing with partial results")
				break
			}
			return state, &ExecutionError{Stage: "retrieve", Err: err}
		}

		stop := l.synthesize(ctx, state)
		if stop {
			return state, nil
		}

		l.verify(ctx, state)

		if !l.shouldRetrieveMore(state) {
			break
		}
	}

	l.finalize(ctx, state)
	return state, nil
}

// plan asks the oracle for search queries and expected files; any failure
// falls back to searching for the question verbatim.
func (l *Loop) plan(ctx context.Context, state *models.AgentState) {
	fallback := &models.Plan{
		Reasoning:     "Using fallback plan due to parsing error",
		SearchQueries: []string{state.Question},
		ExpectedFiles: []string{},
	}

	plan := fallback
	response, err := l.invoke(ctx, plannerPrompt(state.Question), plannerTemperature)
	if err != nil {
		log.Warn().Err(err).Msg("planner oracle failed, using fallback plan")
	} else {
		var parsed models.Plan
		if jsonextract.Object(response, &parsed) {
			if len(parsed.SearchQueries) == 0 {
				parsed.SearchQueries = []string{state.Question}
			}
			if parsed.Reasoning == "" {
				parsed.Reasoning = "Direct search for question keywords"
			}
			if parsed.ExpectedFiles == nil {
				parsed.ExpectedFiles = []string{}
			}
			plan = &parsed
		}
	}

	state.Plan = plan
	state.RetrievalIteration = 0
	state.Trace("Plan: " + plan.Reasoning)
}

// retrieve runs one multi-query retrieval pass: variations of the base
// queries, adaptive rewrites on follow-up iterations, and a cross-query
// rerank before merging into the accumulated chunk set.
func (l *Loop) retrieve(ctx context.Context, state *models.AgentState) error {
	iteration := state.RetrievalIteration + 1
	baseQueries := l.queriesForIteration(state, iteration)

	var allQueries []string
	for _, base := range baseQueries {
		allQueries = append(allQueries, l.Strategist.GenerateVariations(ctx, base, l.AgentCfg.QueryVariations)...)
	}

	if iteration > 1 && len(state.RetrievedChunks) > 0 {
		rewritten := l.Strategist.RewriteForGaps(ctx, baseQueries, state.RetrievedChunks, state.Question, 3)
		allQueries = append(allQueries, rewritten...)
	}

	uniqueQueries := dedupeQueries(allQueries)

	newChunks, err := l.multiQueryRetrieve(ctx, uniqueQueries, state)
	if err != nil {
		return err
	}

	combined := append(state.RetrievedChunks, newChunks...)
	if len(combined) > l.RetrievalCfg.MaxCitations {
		combined = combined[:l.RetrievalCfg.MaxCitations]
	}

	state.RetrievedChunks = combined
	state.RetrievalIteration = iteration
	state.Trace(fmt.Sprintf("Iteration %d: Used %d query variations, retrieved %d new chunks (%d total)",
		iteration, len(uniqueQueries), len(newChunks), len(combined)))
	return nil
}

func (l *Loop) queriesForIteration(state *models.AgentState, iteration int) []string {
	if iteration == 1 {
		return state.Plan.SearchQueries
	}
	if state.Verification != nil && len(state.Verification.FollowUpQueries) > 0 {
		return state.Verification.FollowUpQueries
	}
	return []string{state.Question}
}

// multiQueryRetrieve searches each query, accumulates hits keyed by chunk
// id, and reranks across queries: chunks hit by several variants, or
// sharing vocabulary with the original question, rise.
func (l *Loop) multiQueryRetrieve(ctx context.Context, queries []string, state *models.AgentState) ([]models.SearchResult, error) {
	existing := map[string]bool{}
	for _, c := range state.RetrievedChunks {
		existing[c.ChunkID] = true
	}

	resultsByID := map[string]*models.SearchResult{}
	var order []string

	for _, query := range queries {
		chunks, err := l.Retriever.Search(ctx, query, state.RepoID, l.RetrievalCfg.MaxChunksPerQuery)
		if err != nil {
			return nil, fmt.Errorf("search %q: %w", query, err)
		}
		for _, chunk := range chunks {
			if existing[chunk.ChunkID] {
				continue
			}
			if found, ok := resultsByID[chunk.ChunkID]; ok {
				found.QuerySources = append(found.QuerySources, query)
				found.Combined += 0.2
				continue
			}
			c := chunk
			c.QuerySources = []string{query}
			resultsByID[c.ChunkID] = &c
			order = append(order, c.ChunkID)
		}
	}

	results := make([]*models.SearchResult, 0, len(order))
	for _, id := range order {
		results = append(results, resultsByID[id])
	}

	if len(queries) > 1 && len(results) > 0 {
		questionWords := longWordSet(state.Question)
		for _, r := range results {
			if hits := len(r.QuerySources); hits > 1 {
				r.Combined += float64(hits-1) * 0.3
			}
			if len(questionWords) > 0 {
				r.Combined += float64(sharedWords(questionWords, r.Text)) * 0.1
			}
		}
		insertionSortByScore(results)
		if limit := l.RetrievalCfg.MaxCitations * 2; len(results) > limit {
			results = results[:limit]
		}
	}

	out := make([]models.SearchResult, len(results))
	for i, r := range results {
		out[i] = *r
	}
	return out, nil
}

// synthesize drafts an answer over the packed chunk set and extracts its
// citations. Returns true when the pipeline should stop immediately
// because there is nothing to answer from.
func (l *Loop) synthesize(ctx context.Context, state *models.AgentState) bool {
	if len(state.RetrievedChunks) == 0 {
		state.DraftAnswer = NoRelevantCodeAnswer
		state.FinalAnswer = NoRelevantCodeAnswer
		state.Citations = nil
		state.Trace("No chunks retrieved; stopping")
		return true
	}

	packed := l.Packer.Pack(state.RetrievedChunks, state.Question)
	if len(packed) < len(state.RetrievedChunks) {
		truncated := 0
		for _, c := range packed {
			if c.Truncated {
				truncated++
			}
		}
		state.Trace(fmt.Sprintf("Context optimization: %d/%d chunks selected, %d truncated to fit context window",
			len(packed), len(state.RetrievedChunks), truncated))
	} else {
		state.Trace(fmt.Sprintf("Context optimization: All %d chunks fit within context window", len(packed)))
	}

	draft, err := l.invoke(ctx, synthesizerPrompt(state.Question, packed), synthesizerTemperature)
	if err != nil {
		log.Warn().Err(err).Msg("synthesizer oracle failed")
		draft = synthesisErrorAnswer
	}

	state.DraftAnswer = draft
	state.Citations = citation.ExtractWithFallback(draft, state.RetrievedChunks)
	state.Trace(fmt.Sprintf("Generated answer with %d citations", len(state.Citations)))
	return false
}

// verify asks the oracle whether the draft is grounded. Oracle or parse
// failure fails open, so a flaky verifier can never spin the loop forever.
func (l *Loop) verify(ctx context.Context, state *models.AgentState) {
	verification := &models.Verification{
		IsGrounded:         true,
		UnsupportedClaims:  []string{},
		MissingInformation: []string{},
		FollowUpQueries:    []string{},
	}

	response, err := l.invoke(ctx, verifierPrompt(state.Question, state.DraftAnswer, state.RetrievedChunks), verifierTemperature)
	if err != nil {
		log.Warn().Err(err).Msg("verifier oracle failed, accepting draft")
	} else {
		var parsed struct {
			IsGrounded         *bool    `json:"is_grounded"`
			UnsupportedClaims  []string `json:"unsupported_claims"`
			MissingInformation []string `json:"missing_information"`
			FollowUpQueries    []string `json:"follow_up_queries"`
		}
		if jsonextract.Object(response, &parsed) {
			if parsed.IsGrounded != nil {
				verification.IsGrounded = *parsed.IsGrounded
			}
			if parsed.UnsupportedClaims != nil {
				verification.UnsupportedClaims = parsed.UnsupportedClaims
			}
			if parsed.MissingInformation != nil {
				verification.MissingInformation = parsed.MissingInformation
			}
			if parsed.FollowUpQueries != nil {
				verification.FollowUpQueries = parsed.FollowUpQueries
			}
		}
	}

	state.Verification = verification
	state.Trace(fmt.Sprintf("Verification: grounded=%t, unsupported_claims=%d",
		verification.IsGrounded, len(verification.UnsupportedClaims)))
}

// shouldRetrieveMore is the loop's transition function after verify.
func (l *Loop) shouldRetrieveMore(state *models.AgentState) bool {
	v := state.Verification
	if v == nil || v.IsGrounded {
		return false
	}
	if state.RetrievalIteration >= l.AgentCfg.MaxRetrievalIterations {
		return false
	}
	return len(v.FollowUpQueries) > 0
}

// finalize hydrates citations with source snippets and renders the final
// document, structured or plain depending on configuration.
func (l *Loop) finalize(ctx context.Context, state *models.AgentState) {
	state.Citations = citation.Hydrate(state.Citations, l.Files)

	if l.Finalizer.Structured {
		state.FinalAnswer = l.structuredAnswer(ctx, state)
	} else {
		state.FinalAnswer = state.DraftAnswer + citation.References(state.Citations)
	}

	state.Trace("Finalized answer with enhanced citations")
}

// structuredAnswer renders the Summary / Detailed Explanation / Code
// Examples / References document from the draft and hydrated citations.
func (l *Loop) structuredAnswer(ctx context.Context, state *models.AgentState) string {
	summary := l.summarize(ctx, state.DraftAnswer)

	var b strings.Builder
	b.WriteString("## Summary\n\n")
	b.WriteString(summary)
	b.WriteString("\n\n## Detailed Explanation\n\n")
	b.WriteString(state.DraftAnswer)

	examples := codeExamples(state.Citations)
	if examples != "" {
		b.WriteString("\n\n## Code Examples\n")
		b.WriteString(examples)
	}

	if refs := citation.References(state.Citations); refs != "" {
		b.WriteString(refs)
	}
	return b.String()
}

func (l *Loop) summarize(ctx context.Context, draft string) string {
	response, err := l.invoke(ctx, summaryPrompt(draft), summaryTemperature)
	if err == nil {
		if s := strings.TrimSpace(response); s != "" {
			return s
		}
	}
	return leadingSentences(draft, 2)
}

func codeExamples(citations []models.Citation) string {
	var b strings.Builder
	count := 0
	for _, c := range citations {
		if c.TextSnippet == "" || c.TextSnippet == citation.UnavailableSnippet {
			continue
		}
		fmt.Fprintf(&b, "\n**%s:%d-%d**\n```\n%s\n```\n", c.FilePath, c.StartLine, c.EndLine, c.TextSnippet)
		count++
		if count >= 3 {
			break
		}
	}
	return b.String()
}

func (l *Loop) invoke(ctx context.Context, prompt string, temperature float32) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, oracleTimeout)
	defer cancel()
	return l.Oracle.Invoke(ctx, prompt, temperature)
}

// leadingSentences returns the first n sentences of text, used as the
// summary fallback when the oracle cannot produce one.
func leadingSentences(text string, n int) string {
	var out strings.Builder
	count := 0
	for i, r := range text {
		out.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			count++
			if count >= n {
				return strings.TrimSpace(text[:i+1])
			}
		}
	}
	return strings.TrimSpace(text)
}

func dedupeQueries(queries []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, q := range queries {
		key := strings.ToLower(strings.TrimSpace(q))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
	}
	return out
}

func longWordSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(s)) {
		if len(w) > 3 {
			out[w] = true
		}
	}
	return out
}

func sharedWords(words map[string]bool, text string) int {
	count := 0
	for w := range longWordSet(text) {
		if words[w] {
			count++
		}
	}
	return count
}

func insertionSortByScore(results []*models.SearchResult) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Combined > results[j-1].Combined; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}
