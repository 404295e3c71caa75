package packer

import (
	"fmt"
	"strings"
	"testing"

	"github.com/reposearch/codeask/internal/chunker"
	"github.com/reposearch/codeask/internal/config"
	"github.com/reposearch/codeask/pkg/models"
)

func testCfg(window int) config.ContextSpecification {
	return config.ContextSpecification{
		WindowSize:                    window,
		ReservePromptTokens:           0,
		ReserveResponseTokens:         0,
		MinChunkTokensAfterTruncation: 20,
	}
}

func TestPack_AllChunksFitUnchanged(t *testing.T) {
	p := New(testCfg(8192))
	chunks := []models.SearchResult{
		{ChunkID: "a", Text: "func A() {}", Combined: 0.5},
		{ChunkID: "b", Text: "func B() {}", Combined: 0.9},
	}
	packed := p.Pack(chunks, "what does A do")
	if len(packed) != 2 {
		t.Fatalf("expected both chunks kept, got %d", len(packed))
	}
	for _, c := range packed {
		if c.Truncated {
			t.Errorf("chunk %s should not be truncated", c.ChunkID)
		}
	}
}

func TestPack_OrdersByPriority(t *testing.T) {
	p := New(testCfg(8192))
	chunks := []models.SearchResult{
		{ChunkID: "low", Text: "x := 1", Combined: 0.1},
		{ChunkID: "high", Text: "y := 2", Combined: 0.9, Sources: []string{"vector", "lexical"}},
	}
	packed := p.Pack(chunks, "")
	if packed[0].ChunkID != "high" {
		t.Errorf("expected high-priority chunk first, got %s", packed[0].ChunkID)
	}
}

func TestPack_BudgetNeverExceeded(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 400; i++ {
		fmt.Fprintf(&b, "line number %d with some padding words here\n", i)
	}
	big := b.String()

	cfg := testCfg(200)
	p := New(cfg)
	chunks := []models.SearchResult{
		{ChunkID: "big1", Text: big, Combined: 0.9},
		{ChunkID: "big2", Text: big, Combined: 0.8},
	}
	packed := p.Pack(chunks, "where is line handled")

	budget := cfg.WindowSize - cfg.ReservePromptTokens - cfg.ReserveResponseTokens
	total := 0
	for _, c := range packed {
		total += chunker.CountTokens(c.Text)
	}
	if total > budget {
		t.Errorf("packed %d tokens, budget %d", total, budget)
	}
}

func TestTruncateIntelligently_KeepsImportantLinesAndMarker(t *testing.T) {
	lines := make([]string, 120)
	for i := range lines {
		lines[i] = fmt.Sprintf("filler line with enough words to cost tokens %d", i)
	}
	lines[0] = "def handle_request(arg):"
	lines[49] = "    return validate_token(arg)"
	lines[99] = "class TokenValidator:"
	chunk := models.SearchResult{ChunkID: "c", Text: strings.Join(lines, "\n"), Combined: 1.0}

	truncated, ok := truncateIntelligently(chunk, 200, "how is the token validated")
	if !ok {
		t.Fatal("expected a truncated chunk")
	}
	if !truncated.Truncated {
		t.Error("expected Truncated flag set")
	}
	for _, want := range []string{"def handle_request", "return validate_token", "class TokenValidator"} {
		if !strings.Contains(truncated.Text, want) {
			t.Errorf("expected truncated text to keep %q", want)
		}
	}
	if !strings.Contains(truncated.Text, TruncationMarker) {
		t.Error("expected truncation marker appended")
	}
	if got := chunker.CountTokens(truncated.Text); got > 200 {
		t.Errorf("truncated chunk is %d tokens, budget 200", got)
	}
	if truncated.OriginalTokenCount <= truncated.TruncatedTokenCount {
		t.Errorf("expected original count %d > truncated count %d",
			truncated.OriginalTokenCount, truncated.TruncatedTokenCount)
	}
}

func TestTruncateIntelligently_SmallChunkReturnedAsIs(t *testing.T) {
	chunk := models.SearchResult{ChunkID: "s", Text: "short"}
	out, ok := truncateIntelligently(chunk, 100, "")
	if !ok {
		t.Fatal("expected chunk kept")
	}
	if out.Truncated {
		t.Error("small chunk should not be marked truncated")
	}
}

func TestIdentifyImportantLines_AlwaysIncludesFirstAndLast(t *testing.T) {
	lines := []string{"plain", "plain", "plain"}
	important := identifyImportantLines(lines, "")
	found := map[int]bool{}
	for _, i := range important {
		found[i] = true
	}
	if !found[0] || !found[2] {
		t.Errorf("expected first and last line marked important, got %v", important)
	}
}

func TestPriorityScore_KeyFileAndSymbolBoosts(t *testing.T) {
	base := priorityScore(models.SearchResult{FilePath: "internal/util/helpers.go", Text: "x"}, "")
	key := priorityScore(models.SearchResult{FilePath: "cmd/app/main.go", Text: "x"}, "")
	if key <= base {
		t.Errorf("expected key file boost: key=%f base=%f", key, base)
	}

	plain := priorityScore(models.SearchResult{Text: "x"}, "")
	symboled := priorityScore(models.SearchResult{Text: "x", SymbolName: "Handler"}, "")
	if symboled <= plain {
		t.Errorf("expected symbol boost: symboled=%f plain=%f", symboled, plain)
	}
}

func TestPriorityScore_TestFilePenaltyForImplementationQuestions(t *testing.T) {
	impl := priorityScore(models.SearchResult{FilePath: "pkg/auth/auth.go", Text: "x"}, "how does auth work")
	test := priorityScore(models.SearchResult{FilePath: "pkg/auth/auth_test.go", Text: "x"}, "how does auth work")
	if test >= impl {
		t.Errorf("expected test file penalized: test=%f impl=%f", test, impl)
	}
}

func TestEstimatePromptTokens_IncludesOverhead(t *testing.T) {
	chunks := []models.SearchResult{{Text: "some chunk text"}}
	got := EstimatePromptTokens("question", chunks)
	if got <= promptTemplateOverhead {
		t.Errorf("expected estimate above template overhead, got %d", got)
	}
}
