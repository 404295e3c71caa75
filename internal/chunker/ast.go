package chunker

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	tstypescript "github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/reposearch/codeask/pkg/models"
)

// languageGrammar pairs a tree-sitter grammar with the node types that mark
// a top-level definition worth its own chunk, and the children tree-sitter
// exposes for that definition's parameter list and return type.
type languageGrammar struct {
	Language        *sitter.Language
	DefinitionTypes map[string]bool
	ParamNodeTypes  map[string]bool
	ReturnNodeTypes map[string]bool
	importPattern   *regexp.Regexp
	commentPrefixes []string
}

var astLanguages = map[string]languageGrammar{
	"python": {
		Language: python.GetLanguage(),
		DefinitionTypes: map[string]bool{
			"function_definition": true,
			"class_definition":    true,
		},
		ParamNodeTypes:  map[string]bool{"parameters": true},
		ReturnNodeTypes: map[string]bool{"type": true, "return_type": true},
		importPattern:   regexp.MustCompile(`^(?:from\s+[\w.]+\s+)?import\s+.+$`),
		commentPrefixes: []string{"#", `"""`, "'''"},
	},
	"javascript": {
		Language: javascript.GetLanguage(),
		DefinitionTypes: map[string]bool{
			"function_declaration": true,
			"class_declaration":    true,
			"method_declaration":   true,
		},
		ParamNodeTypes:  map[string]bool{"formal_parameters": true},
		ReturnNodeTypes: map[string]bool{"type_annotation": true},
		importPattern:   regexp.MustCompile(`^import\s+.+$`),
		commentPrefixes: []string{"//", "/*"},
	},
	"typescript": {
		Language: tstypescript.GetLanguage(),
		DefinitionTypes: map[string]bool{
			"function_declaration": true,
			"class_declaration":    true,
			"method_declaration":   true,
		},
		ParamNodeTypes:  map[string]bool{"formal_parameters": true},
		ReturnNodeTypes: map[string]bool{"type_annotation": true},
		importPattern:   regexp.MustCompile(`^import\s+.+$`),
		commentPrefixes: []string{"//", "/*"},
	},
	"java": {
		Language: java.GetLanguage(),
		DefinitionTypes: map[string]bool{
			"class_declaration":  true,
			"method_declaration": true,
		},
		ParamNodeTypes:  map[string]bool{"formal_parameters": true},
		ReturnNodeTypes: map[string]bool{"type": true},
		importPattern:   regexp.MustCompile(`^import\s+[\w.]+;$`),
		commentPrefixes: []string{"//", "/*"},
	},
	"go": {
		Language: golang.GetLanguage(),
		DefinitionTypes: map[string]bool{
			"function_declaration": true,
			"method_declaration":   true,
			"type_declaration":     true,
		},
		ParamNodeTypes:  map[string]bool{"parameter_list": true},
		ReturnNodeTypes: map[string]bool{"type_identifier": true},
		importPattern:   regexp.MustCompile(`^import\s+.+$`),
		commentPrefixes: []string{"//", "/*"},
	},
}

type definition struct {
	startLine, endLine int
	symbol             string
	parameters         []string
	returnType         string
}

// chunkAST parses content with the grammar registered for language and turns
// each top-level function/class/method node into one CodeChunk, with a
// preceding-comment/docstring lookback prepended when it fits.
func chunkAST(ctx context.Context, repoID, filePath, language string, grammar languageGrammar, content []byte, cfg Config) ([]models.CodeChunk, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(grammar.Language)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	imports := extractImports(string(content), grammar.importPattern)
	lines := strings.Split(string(content), "\n")

	var defs []definition
	root := tree.RootNode()
	for i := 0; i < int(root.ChildCount()); i++ {
		child := root.Child(i)
		if !grammar.DefinitionTypes[child.Type()] {
			continue
		}
		startLine := int(child.StartPoint().Row) + 1
		endLine := int(child.EndPoint().Row) + 1
		if child.EndPoint().Column == 0 && endLine > startLine {
			endLine--
		}
		defs = append(defs, definition{
			startLine:  startLine,
			endLine:    endLine,
			symbol:     extractSymbolName(child, content),
			parameters: extractParameters(child, content, grammar),
			returnType: extractReturnType(child, content, grammar),
		})
	}

	var chunks []models.CodeChunk
	for _, d := range defs {
		if d.startLine < 1 || d.endLine > len(lines) || d.startLine > d.endLine {
			continue
		}
		code := strings.Join(lines[d.startLine-1:d.endLine], "\n")
		context := extractContext(lines, d.startLine, grammar.commentPrefixes, cfg.MaxContextLines)

		text := code
		hasContext := context != ""
		if hasContext {
			text = context + "\n" + code
		}

		// A chunk that ballooned past 1.5x the target size is dropped back
		// to bare code once, and skipped outright if it is still too big;
		// oversized definitions are left for size-based gap filling.
		if CountTokens(text) > int(float64(cfg.ChunkSize)*1.5) {
			text = code
			hasContext = false
			if CountTokens(text) > int(float64(cfg.ChunkSize)*1.5) {
				continue
			}
		}

		chunks = append(chunks, models.CodeChunk{
			ID:         chunkID(repoID, filePath, d.startLine, d.endLine),
			RepoID:     repoID,
			FilePath:   filePath,
			Language:   language,
			StartLine:  d.startLine,
			EndLine:    d.endLine,
			SymbolName: d.symbol,
			Text:       text,
			Method:     models.ChunkingMethodAST,
			Imports:    capStrings(imports, 10),
			Parameters: capStrings(d.parameters, 5),
			ReturnType: d.returnType,
			HasContext: hasContext,
		})
	}

	return chunks, nil
}

func extractSymbolName(node *sitter.Node, content []byte) string {
	if n := node.ChildByFieldName("name"); n != nil {
		return string(content[n.StartByte():n.EndByte()])
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == "identifier" || child.Type() == "name" || child.Type() == "type_identifier" {
			return string(content[child.StartByte():child.EndByte()])
		}
	}
	return ""
}

func extractParameters(node *sitter.Node, content []byte, grammar languageGrammar) []string {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if grammar.ParamNodeTypes[child.Type()] {
			raw := string(content[child.StartByte():child.EndByte()])
			raw = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(raw), "("), ")")
			var params []string
			for _, p := range strings.Split(raw, ",") {
				p = strings.TrimSpace(p)
				if p != "" {
					params = append(params, p)
				}
			}
			return params
		}
	}
	return nil
}

func extractReturnType(node *sitter.Node, content []byte, grammar languageGrammar) string {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if grammar.ReturnNodeTypes[child.Type()] {
			return string(content[child.StartByte():child.EndByte()])
		}
	}
	return ""
}

// extractContext looks back from startLine (1-indexed) for comment and
// docstring lines: collect contiguous comment/docstring lines (and blank
// lines between them), and stop once real code is reached.
func extractContext(lines []string, startLine int, prefixes []string, maxLinesBack int) string {
	var collected []string
	lookbackStart := startLine - maxLinesBack - 1
	if lookbackStart < 0 {
		lookbackStart = 0
	}

	for i := lookbackStart; i < startLine-1; i++ {
		if i < 0 || i >= len(lines) {
			continue
		}
		line := strings.TrimSpace(lines[i])
		switch {
		case hasAnyPrefix(line, prefixes):
			collected = append(collected, lines[i])
		case line == "" && len(collected) > 0:
			collected = append(collected, lines[i])
		case line != "":
			if strings.Contains(line, `"""`) || strings.Contains(line, "'''") {
				collected = append(collected, lines[i])
			} else {
				// real code: any comment run collected so far belongs to it,
				// not to the definition at startLine.
				collected = nil
			}
		}
	}

	return strings.Join(collected, "\n")
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func extractImports(content string, pattern *regexp.Regexp) []string {
	var imports []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if pattern.MatchString(trimmed) {
			imports = append(imports, trimmed)
		}
	}
	return imports
}

func capStrings(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// chunkID builds the chunk identifier <repo>:<filename>:<startLine>:<endLine>,
// using the file's basename rather than its full repo-relative path.
func chunkID(repoID, filePath string, start, end int) string {
	return fmt.Sprintf("%s:%s:%d:%d", repoID, filepath.Base(filePath), start, end)
}
