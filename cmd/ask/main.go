// Command ask answers a natural-language question about an indexed
// repository by driving the agent loop directly from the terminal.
package main

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/reposearch/codeask/internal/agent"
	"github.com/reposearch/codeask/internal/ai"
	"github.com/reposearch/codeask/internal/citation"
	"github.com/reposearch/codeask/internal/config"
	"github.com/reposearch/codeask/internal/indexer"
	"github.com/reposearch/codeask/internal/packer"
	"github.com/reposearch/codeask/internal/retriever"
	"github.com/reposearch/codeask/internal/store"
	"github.com/reposearch/codeask/internal/strategist"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("codeask-ask", pflag.ExitOnError)
	fs.String("question", "", "Question to ask about the repository")
	fs.String("repo-id", "", "Repository id (defaults to the id derived from --repo-root)")
	fs.Bool("structured", true, "Emit the structured Summary/Explanation/Examples/References document")
	fs.Bool("trace", false, "Print the reasoning trace after the answer")

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	question, _ := fs.GetString("question")
	if strings.TrimSpace(question) == "" {
		if args := fs.Args(); len(args) > 0 {
			question = strings.Join(args, " ")
		}
	}
	if strings.TrimSpace(question) == "" {
		log.Fatal("a question is required (--question or positional args)")
	}

	repoID, _ := fs.GetString("repo-id")
	if repoID == "" {
		abs, err := filepath.Abs(cfg.RepoRoot)
		if err != nil {
			log.Fatalf("resolve repo root: %v", err)
		}
		repoID = indexer.RepoID(abs)
	}
	structured, _ := fs.GetBool("structured")
	showTrace, _ := fs.GetBool("trace")

	client, err := ai.NewClient(&ai.ClientConfig{
		APIKey:       cfg.APIKey,
		EmbedModel:   cfg.EmbedModel,
		SummaryModel: cfg.SummaryModel,
		Dim:          cfg.Dim,
		ProjectID:    cfg.ProjectID,
		Location:     cfg.Location,
		Provider:     ai.Provider(strings.ToLower(cfg.Provider)),
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()

	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	loop := &agent.Loop{
		Oracle:       client,
		Retriever:    retriever.New(st, client, cfg.Retrieval),
		Strategist:   strategist.New(client),
		Packer:       packer.New(cfg.Context),
		Store:        st,
		Files:        citation.DirOpener{Root: cfg.RepoRoot},
		AgentCfg:     cfg.Agent,
		RetrievalCfg: cfg.Retrieval,
		Finalizer:    agent.FinalizerConfig{Structured: structured},
	}

	state, err := loop.Answer(ctx, question, repoID)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(state.FinalAnswer)

	if showTrace {
		fmt.Println("\n--- reasoning trace ---")
		for _, line := range state.ReasoningTrace {
			fmt.Println("  " + line)
		}
	}
}
