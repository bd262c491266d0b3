package ai

import (
	"context"
	"testing"
)

func TestRegistryDefaultModel(t *testing.T) {
	reg := NewRegistry()
	var gotModel string
	reg.Register("Ollama", "llama3:latest", func(ctx context.Context, model string) (Provider, error) {
		gotModel = model
		return &scriptedProvider{}, nil
	})

	if _, err := reg.Get(context.Background(), "ollama", ""); err != nil {
		t.Fatalf("get: %v", err)
	}
	if gotModel != "llama3:latest" {
		t.Fatalf("expected default model, got %q", gotModel)
	}

	if _, err := reg.Get(context.Background(), "OLLAMA", "  mistral  "); err != nil {
		t.Fatalf("get with model: %v", err)
	}
	if gotModel != "mistral" {
		t.Fatalf("explicit model should win over the default, got %q", gotModel)
	}
}

func TestRegistryUnknownProvider(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Get(context.Background(), "nope", ""); err == nil {
		t.Fatalf("expected error for unregistered provider")
	}
}
