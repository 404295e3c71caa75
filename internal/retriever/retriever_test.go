package retriever

import (
	"context"
	"testing"

	"github.com/reposearch/codeask/internal/ai"
	"github.com/reposearch/codeask/internal/config"
	"github.com/reposearch/codeask/pkg/models"
)

type fakeStore struct {
	vector  []models.SearchResult
	lexical map[string][]models.SearchResult
}

func (f *fakeStore) SaveRepo(ctx context.Context, repo models.Repository) error { return nil }
func (f *fakeStore) GetRepo(ctx context.Context, id string) (models.Repository, bool, error) {
	return models.Repository{}, false, nil
}
func (f *fakeStore) ListRepos(ctx context.Context) ([]models.Repository, error) { return nil, nil }
func (f *fakeStore) DeleteRepo(ctx context.Context, id string) error           { return nil }
func (f *fakeStore) SaveChunks(ctx context.Context, chunks []models.CodeChunk) error { return nil }
func (f *fakeStore) GetChunk(ctx context.Context, id string) (models.CodeChunk, bool, error) {
	return models.CodeChunk{}, false, nil
}
func (f *fakeStore) SaveEmbeddings(ctx context.Context, repoID string, embeddings map[string][]float32) error {
	return nil
}
func (f *fakeStore) ReplaceRepo(ctx context.Context, repo models.Repository, chunks []models.CodeChunk, embeddings map[string][]float32) error {
	return nil
}

func (f *fakeStore) LexicalSearch(ctx context.Context, repoID, term string, limit int) ([]models.SearchResult, error) {
	return f.lexical[term], nil
}

func (f *fakeStore) VectorSearch(ctx context.Context, repoID string, embedding []float32, limit int) ([]models.SearchResult, error) {
	return f.vector, nil
}

func testCfg() config.RetrievalSpecification {
	return config.RetrievalSpecification{
		MaxChunksPerQuery:   12,
		MaxCitations:        15,
		VectorWeight:        0.7,
		LexicalWeight:       0.3,
		RankBoostFactor:     0.3,
		OverlapThreshold:    0.5,
		MultiTermMatchBoost: 0.15,
		TestFilePenalty:     -0.2,
		DocFilePenalty:      -0.15,
		PathDepthBoost:      0.05,
	}
}

func TestExtractKeywords_FiltersStopWordsAndShortTokens(t *testing.T) {
	kws := ExtractKeywords("how does the auth middleware work", false)
	for _, stop := range []string{"how", "does", "the"} {
		for _, kw := range kws {
			if kw == stop {
				t.Errorf("expected stop word %q filtered out, got %v", stop, kws)
			}
		}
	}
	var sawAuth, sawMiddleware bool
	for _, kw := range kws {
		if kw == "auth" {
			sawAuth = true
		}
		if kw == "middleware" {
			sawMiddleware = true
		}
	}
	if !sawAuth || !sawMiddleware {
		t.Errorf("expected auth and middleware in %v", kws)
	}
}

func TestExtractKeywords_SplitsCamelCase(t *testing.T) {
	kws := ExtractKeywords("what does getUserData return", false)
	var sawGet, sawUser, sawData bool
	for _, kw := range kws {
		switch kw {
		case "get":
			sawGet = true
		case "user":
			sawUser = true
		case "data":
			sawData = true
		}
	}
	if !sawGet || !sawUser || !sawData {
		t.Errorf("expected camelCase split into get/user/data, got %v", kws)
	}
}

func TestExtractKeywords_SplitsAcronymRuns(t *testing.T) {
	kws := ExtractKeywords("why does HTTPServerError appear", false)
	found := map[string]bool{}
	for _, kw := range kws {
		found[kw] = true
	}
	for _, want := range []string{"http", "server", "error"} {
		if !found[want] {
			t.Errorf("expected %q among keywords, got %v", want, kws)
		}
	}
}

func TestSplitCamelWord(t *testing.T) {
	cases := map[string][]string{
		"HTTPServerError": {"HTTP", "Server", "Error"},
		"getUserData":     {"get", "User", "Data"},
		"XMLHttpRequest":  {"XML", "Http", "Request"},
	}
	for word, want := range cases {
		got := splitCamelWord(word)
		if len(got) != len(want) {
			t.Errorf("splitCamelWord(%q) = %v, want %v", word, got, want)
			continue
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("splitCamelWord(%q)[%d] = %q, want %q", word, i, got[i], want[i])
			}
		}
	}
}

func TestExpandQueryTerms_KnownSynonyms(t *testing.T) {
	expanded := ExpandQueryTerms([]string{"auth"})
	found := map[string]bool{}
	for _, e := range expanded {
		found[e] = true
	}
	for _, want := range []string{"authentication", "login", "token"} {
		if !found[want] {
			t.Errorf("expected %q in expansion of auth, got %v", want, expanded)
		}
	}
}

func TestMergeAndRerank_BoostsChunkFoundInBothSources(t *testing.T) {
	vector := []models.SearchResult{
		{ChunkID: "a", FilePath: "pkg/a.go", Text: "func Auth() {}", VectorScore: 0.9, StartLine: 1, EndLine: 5},
		{ChunkID: "b", FilePath: "pkg/b.go", Text: "func Other() {}", VectorScore: 0.8, StartLine: 1, EndLine: 5},
	}
	lexical := []models.SearchResult{
		{ChunkID: "a", FilePath: "pkg/a.go", Text: "func Auth() {}", LexicalScore: 5, StartLine: 1, EndLine: 5},
	}

	results := mergeAndRerank(vector, lexical, 10, []string{"auth"}, "how does auth work", testCfg())
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ChunkID != "a" {
		t.Errorf("expected chunk found in both sources to rank first, got %s", results[0].ChunkID)
	}
	if len(results[0].Sources) != 2 {
		t.Errorf("expected chunk a to carry both sources, got %v", results[0].Sources)
	}
}

func TestDeduplicateByFileSpan_DropsOverlapping(t *testing.T) {
	results := []*models.SearchResult{
		{ChunkID: "a", FilePath: "f.go", StartLine: 1, EndLine: 10, Combined: 1.0},
		{ChunkID: "b", FilePath: "f.go", StartLine: 2, EndLine: 9, Combined: 0.9},
		{ChunkID: "c", FilePath: "f.go", StartLine: 20, EndLine: 30, Combined: 0.8},
	}
	deduped := deduplicateByFileSpan(results, 10, 0.5)
	if len(deduped) != 2 {
		t.Fatalf("expected overlapping chunk b dropped, got %d results", len(deduped))
	}
	if deduped[0].ChunkID != "a" || deduped[1].ChunkID != "c" {
		t.Errorf("unexpected survivors: %+v", deduped)
	}
}

func TestRetriever_Search_FusesVectorAndLexical(t *testing.T) {
	fs := &fakeStore{
		vector: []models.SearchResult{
			{ChunkID: "a", FilePath: "pkg/auth.go", Text: "func Login() {}", VectorScore: 0.9, StartLine: 1, EndLine: 5},
		},
		lexical: map[string][]models.SearchResult{
			"login": {{ChunkID: "a", FilePath: "pkg/auth.go", Text: "func Login() {}", LexicalScore: 4, StartLine: 1, EndLine: 5}},
		},
	}
	r := New(fs, ai.NewStubClient(4), testCfg())
	results, err := r.Search(context.Background(), "how does login work", "repo1", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}
}
