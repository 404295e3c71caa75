package agent

import (
	"fmt"
	"strings"

	"github.com/reposearch/codeask/pkg/models"
)

func plannerPrompt(question string) string {
	return fmt.Sprintf(`You are a code analyst planning how to answer a question about a codebase.

Question: %s

Your task is to create a search plan. Output a JSON object with:
- "reasoning": Brief explanation of your approach
- "search_queries": List of 2-4 specific search queries to find relevant code
- "expected_files": List of file patterns you expect to find (e.g., "auth.py", "middleware")

Make queries specific and diverse. Good examples:
- "authentication middleware setup"
- "request validation logic"
- "database connection initialization"
- "user login endpoint implementation"

Bad examples (too vague):
- "authentication"
- "code"
- "function"

Output ONLY valid JSON, no other text:
{
  "reasoning": "your reasoning here",
  "search_queries": ["query1", "query2", "query3"],
  "expected_files": ["file1.py", "file2.js"]
}`, question)
}

func synthesizerPrompt(question string, chunks []models.SearchResult) string {
	var chunksText strings.Builder
	for i, chunk := range chunks {
		fmt.Fprintf(&chunksText, "\n--- Chunk %d: %s:%d-%d", i+1, chunk.FilePath, chunk.StartLine, chunk.EndLine)
		if chunk.SymbolName != "" {
			fmt.Fprintf(&chunksText, " (Symbol: %s)", chunk.SymbolName)
		}
		fmt.Fprintf(&chunksText, " ---\n%s\n", chunk.Text)
	}

	return fmt.Sprintf(`Answer the question using ONLY the provided code chunks below.

Question: %s

Retrieved Code:
%s

CRITICAL RULES:
1. Cite EVERY claim with [file_path:start_line-end_line] format
2. Only make claims supported by the retrieved code
3. If information is not in the chunks, say "Not found in retrieved code"
4. Be specific about file paths and line numbers
5. Do not make assumptions about code you haven't seen
6. You MUST include citations for every code snippet or claim you make

Example citation formats:
- [src/auth/middleware.py:45-67] (preferred)
- [src/auth/middleware.py:45] (single line)
- Always cite immediately after mentioning code or making a claim

IMPORTANT: If you reference code from the chunks above, you MUST cite it using the exact file path and line numbers shown in the chunk headers (e.g., "Chunk 1: file_path:start_line-end_line").

Answer:`, question, chunksText.String())
}

func verifierPrompt(question, draftAnswer string, chunks []models.SearchResult) string {
	summaries := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		preview := chunk.Text
		if len(preview) > 200 {
			preview = preview[:200]
		}
		summaries = append(summaries, fmt.Sprintf("- %s:%d-%d: %s...", chunk.FilePath, chunk.StartLine, chunk.EndLine, preview))
	}

	return fmt.Sprintf(`Verify if the answer is fully supported by the retrieved code chunks.

Question: %s

Answer to verify:
%s

Retrieved Code Chunks:
%s

For each claim in the answer:
1. Is it supported by a code chunk?
2. Does the citation match actual content?
3. Are there unsupported claims or hallucinations?

Output ONLY valid JSON:
{
  "is_grounded": true or false,
  "unsupported_claims": ["claim1", "claim2"],
  "missing_information": ["what additional info would help answer better"],
  "follow_up_queries": ["specific query 1", "specific query 2"]
}

If the answer is well-supported, set is_grounded to true and leave the lists empty.
If there are gaps, provide specific follow-up queries to fill them.

Output ONLY valid JSON, no other text:`, question, draftAnswer, strings.Join(summaries, "\n"))
}

func summaryPrompt(draftAnswer string) string {
	return fmt.Sprintf(`Summarize the following answer about a codebase in 1-2 sentences.
Keep any file names mentioned; drop citations and code snippets.

Answer:
%s

Summary:`, draftAnswer)
}
