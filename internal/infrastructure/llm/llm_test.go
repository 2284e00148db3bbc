package llm

import (
	"testing"

	"github.com/skiff-ai/skiff/internal/domain/entity"
	"github.com/skiff-ai/skiff/pkg/errors"
)

func TestResolveAPIKey_OptionWins(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "env-key")
	key, err := ResolveAPIKey(entity.ProviderOpenAI, StreamOptions{APIKey: "opt-key"})
	if err != nil {
		t.Fatalf("ResolveAPIKey failed: %v", err)
	}
	if key != "opt-key" {
		t.Fatalf("options key should win over env, got %q", key)
	}
}

func TestResolveAPIKey_EnvFallback(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "env-key")
	key, err := ResolveAPIKey(entity.ProviderAnthropic, StreamOptions{})
	if err != nil {
		t.Fatalf("ResolveAPIKey failed: %v", err)
	}
	if key != "env-key" {
		t.Fatalf("expected env fallback, got %q", key)
	}
}

func TestResolveAPIKey_MissingIsUnsupported(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := ResolveAPIKey(entity.ProviderOpenAICodex, StreamOptions{})
	if !errors.IsUnsupported(err) {
		t.Fatalf("expected unsupported error, got %v", err)
	}
}

func TestProviderEnvVar_CodexSharesOpenAIKey(t *testing.T) {
	if ProviderEnvVar(entity.ProviderOpenAI) != ProviderEnvVar(entity.ProviderOpenAICodex) {
		t.Fatal("openai and codex should share one env var")
	}
	if ProviderEnvVar(entity.ProviderAnthropic) != "ANTHROPIC_API_KEY" {
		t.Fatalf("unexpected anthropic env var: %s", ProviderEnvVar(entity.ProviderAnthropic))
	}
}

func TestValidReasoningEffort(t *testing.T) {
	for _, ok := range []string{"", "minimal", "low", "medium", "high", "xhigh"} {
		if !ValidReasoningEffort(ok) {
			t.Fatalf("%q should be valid", ok)
		}
	}
	if ValidReasoningEffort("maximum") {
		t.Fatal("unknown effort should be invalid")
	}
}
