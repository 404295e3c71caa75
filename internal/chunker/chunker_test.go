package chunker

import (
	"context"
	"strings"
	"testing"

	"github.com/reposearch/codeask/pkg/models"
)

func testConfig() Config {
	return Config{
		ChunkSize:       1200,
		ChunkOverlap:    200,
		MinChunkTokens:  50,
		MaxContextLines: 10,
	}
}

func TestChunk_PythonAST_SplitsFunctions(t *testing.T) {
	src := `"""Module docstring."""
import os


# compute the thing
def compute(a, b):
    return a + b


class Widget:
    def render(self):
        return "ok"
`
	chunks := Chunk(context.Background(), "repo1", "widget.py", "python", []byte(src), testConfig())
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}

	var sawCompute, sawWidget bool
	for _, c := range chunks {
		if c.SymbolName == "compute" {
			sawCompute = true
			if !strings.Contains(c.Text, "compute the thing") {
				t.Errorf("expected leading comment captured, got %q", c.Text)
			}
		}
		if c.SymbolName == "Widget" {
			sawWidget = true
		}
		if c.StartLine < 1 || c.EndLine < c.StartLine {
			t.Errorf("invalid line range [%d,%d]", c.StartLine, c.EndLine)
		}
	}
	if !sawCompute || !sawWidget {
		t.Errorf("expected compute and Widget chunks, got %+v", chunks)
	}
}

func TestChunk_ASTNonOverlap(t *testing.T) {
	src := `def a():
    return 1


def b():
    return 2
`
	chunks := Chunk(context.Background(), "repo1", "f.py", "python", []byte(src), testConfig())
	var astChunks []models.CodeChunk
	for _, c := range chunks {
		if c.Method == models.ChunkingMethodAST {
			astChunks = append(astChunks, c)
		}
	}
	for i := 0; i < len(astChunks); i++ {
		for j := i + 1; j < len(astChunks); j++ {
			if astChunks[i].StartLine <= astChunks[j].EndLine && astChunks[j].StartLine <= astChunks[i].EndLine {
				t.Errorf("AST chunks overlap: %+v and %+v", astChunks[i], astChunks[j])
			}
		}
	}
}

func TestChunk_SizeStrategy_CoversWholeFile(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 500; i++ {
		b.WriteString("this is a plain line of unstructured config text\n")
	}
	cfg := Config{ChunkSize: 50, ChunkOverlap: 10, MinChunkTokens: 5, MaxContextLines: 10}
	chunks := Chunk(context.Background(), "repo1", "data.txt", "text", []byte(b.String()), cfg)
	if len(chunks) == 0 {
		t.Fatal("expected chunks")
	}

	totalLines := strings.Count(b.String(), "\n")
	covered := make([]bool, totalLines+2)
	for _, c := range chunks {
		if c.Method != models.ChunkingMethodSize {
			t.Errorf("expected size-based chunking for unrecognized language, got %s", c.Method)
		}
		for l := c.StartLine; l <= c.EndLine && l < len(covered); l++ {
			covered[l] = true
		}
	}
	for l := 1; l < len(covered)-1; l++ {
		if !covered[l] {
			t.Errorf("line %d not covered by any chunk", l)
		}
	}
}

func TestChunk_LineRangeValidity(t *testing.T) {
	src := `def a():
    return 1
`
	chunks := Chunk(context.Background(), "repo1", "f.py", "python", []byte(src), testConfig())
	lineCount := strings.Count(src, "\n") + 1
	for _, c := range chunks {
		if c.StartLine < 1 || c.EndLine < c.StartLine || c.EndLine > lineCount {
			t.Errorf("chunk %q has invalid range [%d,%d] for %d-line file", c.ID, c.StartLine, c.EndLine, lineCount)
		}
	}
}

func TestMergeSmallChunks(t *testing.T) {
	cfg := Config{ChunkSize: 1200, ChunkOverlap: 200, MinChunkTokens: 50}
	small := models.CodeChunk{ID: "a", StartLine: 1, EndLine: 2, Text: "x", SymbolName: "a"}
	next := models.CodeChunk{ID: "b", StartLine: 3, EndLine: 4, Text: "y", SymbolName: "b"}

	merged := mergeSmallChunks([]models.CodeChunk{small, next}, cfg)
	if len(merged) != 1 {
		t.Fatalf("expected merge into 1 chunk, got %d", len(merged))
	}
	if !merged[0].Merge.Merged {
		t.Error("expected Merge.Merged=true")
	}
	if merged[0].StartLine != 1 || merged[0].EndLine != 4 {
		t.Errorf("expected union span [1,4], got [%d,%d]", merged[0].StartLine, merged[0].EndLine)
	}
}

func TestChunkID_Format(t *testing.T) {
	id := chunkID("repo1", "pkg/widget.py", 5, 10)
	if id != "repo1:widget.py:5:10" {
		t.Errorf("unexpected chunk id: %s", id)
	}
}
