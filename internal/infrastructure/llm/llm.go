// Package llm defines the uniform streaming surface over the three
// supported providers and the registry that selects an adapter by tag.
package llm

import (
	"context"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skiff-ai/skiff/internal/domain/entity"
	"github.com/skiff-ai/skiff/internal/infrastructure/httpstream"
	"github.com/skiff-ai/skiff/pkg/errors"
)

// StreamOptions are the per-request knobs recognized by every adapter.
type StreamOptions struct {
	Temperature     *float64
	MaxTokens       int
	APIKey          string
	Headers         http.Header
	SessionID       string
	ReasoningEffort string
	// Timeout overrides the default SSE stream timeout when positive.
	Timeout time.Duration
}

// ValidReasoningEffort reports whether s is one of the recognized effort
// levels. Empty means unset.
func ValidReasoningEffort(s string) bool {
	switch s {
	case "", "minimal", "low", "medium", "high", "xhigh":
		return true
	}
	return false
}

// Adapter translates between the uniform chat model and one provider's
// wire protocol.
type Adapter interface {
	// Provider returns the tag this adapter serves.
	Provider() entity.Provider
	// Stream opens a streaming completion. Setup failures (key
	// resolution, provider mismatch) return an error directly;
	// mid-stream failures surface through the stream's Result.
	Stream(ctx context.Context, model entity.Model, chat entity.Context, opts StreamOptions) (*EventStream, error)
}

// Deps carries the shared infrastructure adapters are built from.
type Deps struct {
	Client *httpstream.Client
	Logger *zap.Logger
}

// Factory builds an adapter instance.
type Factory func(deps Deps) Adapter

var (
	factoryMu sync.RWMutex
	factories = make(map[entity.Provider]Factory)
)

// RegisterFactory registers an adapter factory for a provider tag.
// Adapter packages call this from init; the tag set is closed, so a
// second registration for a tag is a programming error and panics.
func RegisterFactory(p entity.Provider, f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	if _, dup := factories[p]; dup {
		panic("llm: duplicate adapter registration for " + string(p))
	}
	factories[p] = f
}

// Registry holds one adapter instance per registered provider.
type Registry struct {
	adapters map[entity.Provider]Adapter
}

// NewRegistry instantiates every registered adapter with deps.
func NewRegistry(deps Deps) *Registry {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	adapters := make(map[entity.Provider]Adapter, len(factories))
	for p, f := range factories {
		adapters[p] = f(deps)
	}
	return &Registry{adapters: adapters}
}

// ForProvider returns the adapter for p.
func (r *Registry) ForProvider(p entity.Provider) (Adapter, error) {
	adapter, ok := r.adapters[p]
	if !ok {
		return nil, errors.Unsupportedf("no adapter for provider %s", p)
	}
	return adapter, nil
}

// ProviderEnvVar names the environment variable holding the default API
// key for p.
func ProviderEnvVar(p entity.Provider) string {
	switch p {
	case entity.ProviderOpenAI, entity.ProviderOpenAICodex:
		return "OPENAI_API_KEY"
	case entity.ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	default:
		return ""
	}
}

// ResolveAPIKey picks the key from options, falling back to the
// provider's environment variable.
func ResolveAPIKey(p entity.Provider, opts StreamOptions) (string, error) {
	if opts.APIKey != "" {
		return opts.APIKey, nil
	}
	if env := ProviderEnvVar(p); env != "" {
		if key := os.Getenv(env); key != "" {
			return key, nil
		}
	}
	return "", errors.Unsupportedf("no API key for provider %s", p)
}
