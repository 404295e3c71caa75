package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/reposearch/codeask/internal/ai"
	"github.com/reposearch/codeask/internal/chunker"
	"github.com/reposearch/codeask/internal/config"
	"github.com/reposearch/codeask/internal/indexer"
	"github.com/reposearch/codeask/internal/store"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("codeask-indexer", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	repo := cfg.RepoRoot
	origin := cfg.RepoURL
	if cfg.RepoURL != "" {
		var err error
		repo, err = cloneToTemp(cfg.RepoURL, cfg.GitRef, cfg.GithubToken)
		if err != nil {
			log.Fatalf("clone failed: %v", err)
		}
		defer func() {
			if err := os.RemoveAll(repo); err != nil {
				log.Printf("Failed to remove temp directory %s: %v", repo, err)
			}
		}()
	} else {
		abs, err := filepath.Abs(repo)
		if err != nil {
			log.Fatalf("resolve repo root: %v", err)
		}
		repo, origin = abs, abs
	}

	client, err := ai.NewClient(clientConfig(cfg))
	if err != nil {
		log.Fatal(err)
	}
	if client.Dim() == 0 {
		log.Fatal("embedding dimension must be set")
	}

	ctx := context.Background()

	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	if err := st.Migrate(ctx, client.Dim()); err != nil {
		log.Fatal(err)
	}

	ix := indexer.New(st, repo, origin, client, chunker.Config{
		ChunkSize:       cfg.Chunking.ChunkSize,
		ChunkOverlap:    cfg.Chunking.ChunkOverlap,
		MinChunkTokens:  cfg.Chunking.MinChunkTokens,
		MaxContextLines: cfg.Chunking.MaxContextLines,
	})
	ix.CommitHash = cfg.GitRef

	meta, err := ix.Run(ctx)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("indexed %s as repo %s", origin, meta.ID)
}

func clientConfig(cfg config.Specification) *ai.ClientConfig {
	provider := ai.Provider(strings.ToLower(cfg.Provider))
	log.Printf("using provider: %s", provider)
	return &ai.ClientConfig{
		APIKey:       cfg.APIKey,
		EmbedModel:   cfg.EmbedModel,
		SummaryModel: cfg.SummaryModel,
		Dim:          cfg.Dim,
		ProjectID:    cfg.ProjectID,
		Location:     cfg.Location,
		Provider:     provider,
	}
}

func cloneToTemp(repoURL, ref, token string) (string, error) {
	dir, err := os.MkdirTemp("", "codeask-*")
	if err != nil {
		return "", err
	}
	url := repoURL
	if token != "" && strings.HasPrefix(url, "https://") {
		url = "https://" + token + ":x-oauth-basic@" + strings.TrimPrefix(url, "https://")
	}
	cmd := exec.Command("git", "clone", "--depth", "1", "--branch", ref, url, dir)
	cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
	if err := cmd.Run(); err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			log.Printf("Failed to remove temp directory %s: %v", dir, rmErr)
		}
		return "", fmt.Errorf("git clone: %w", err)
	}
	return dir, nil
}
