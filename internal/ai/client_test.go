package ai

import (
	"context"
	"testing"
)

func TestNewClient_Stub(t *testing.T) {
	c, err := NewClient(&ClientConfig{Provider: ProviderStub, Dim: 16})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if c.Dim() != 16 {
		t.Errorf("expected dim 16, got %d", c.Dim())
	}
}

func TestNewClient_Unsupported(t *testing.T) {
	_, err := NewClient(&ClientConfig{Provider: "nope"})
	if err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func TestNewClient_NilConfig(t *testing.T) {
	_, err := NewClient(nil)
	if err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestStubClient_EmbedOneDeterministic(t *testing.T) {
	c := NewStubClient(8)
	a, err := c.EmbedOne(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("EmbedOne failed: %v", err)
	}
	b, err := c.EmbedOne(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("EmbedOne failed: %v", err)
	}
	if len(a) != 8 || len(b) != 8 {
		t.Fatalf("expected vectors of length 8, got %d and %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected deterministic embedding, differed at index %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestStubClient_EmbedManyPreservesOrder(t *testing.T) {
	c := NewStubClient(4)
	texts := []string{"alpha", "beta", "gamma", "delta", "epsilon"}
	got, err := c.EmbedMany(context.Background(), texts, 2)
	if err != nil {
		t.Fatalf("EmbedMany failed: %v", err)
	}
	if len(got) != len(texts) {
		t.Fatalf("expected %d embeddings, got %d", len(texts), len(got))
	}
	for i, text := range texts {
		want, err := c.EmbedOne(context.Background(), text)
		if err != nil {
			t.Fatalf("EmbedOne failed: %v", err)
		}
		for j := range want {
			if want[j] != got[i][j] {
				t.Fatalf("embedding %d diverged from single EmbedOne call at dim %d", i, j)
			}
		}
	}
}

func TestStubClient_Invoke(t *testing.T) {
	c := NewStubClient(4)
	out, err := c.Invoke(context.Background(), "what does this function do?", 0)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if out == "" {
		t.Fatal("expected non-empty response")
	}
}

func TestEmbedManyBySingle_ErrorPropagates(t *testing.T) {
	calls := 0
	_, err := embedManyBySingle(context.Background(), []string{"a", "b"}, 1, func(ctx context.Context, s string) ([]float32, error) {
		calls++
		if s == "b" {
			return nil, errTestEmbed
		}
		return []float32{1}, nil
	})
	if err == nil {
		t.Fatal("expected error from second embed call")
	}
	if calls != 2 {
		t.Errorf("expected 2 calls before failing, got %d", calls)
	}
}

func TestEmbedManyBySingle_ZeroBatchSizeDefaultsToAll(t *testing.T) {
	got, err := embedManyBySingle(context.Background(), []string{"a", "b", "c"}, 0, func(ctx context.Context, s string) ([]float32, error) {
		return []float32{float32(len(s))}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 embeddings, got %d", len(got))
	}
}

var errTestEmbed = &embedError{"embed failed"}

type embedError struct{ msg string }

func (e *embedError) Error() string { return e.msg }
