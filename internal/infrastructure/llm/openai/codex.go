package openai

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/skiff-ai/skiff/internal/domain/entity"
	"github.com/skiff-ai/skiff/internal/infrastructure/httpstream"
	"github.com/skiff-ai/skiff/internal/infrastructure/llm"
	"github.com/skiff-ai/skiff/pkg/errors"
	"github.com/skiff-ai/skiff/pkg/safego"
)

func init() {
	llm.RegisterFactory(entity.ProviderOpenAICodex, func(deps llm.Deps) llm.Adapter {
		return NewCodex(deps)
	})
}

// CodexAdapter speaks the Responses protocol against the ChatGPT Codex
// backend, which authenticates with an OAuth token instead of an API key.
type CodexAdapter struct {
	client *httpstream.Client
	logger *zap.Logger
}

func NewCodex(deps llm.Deps) *CodexAdapter {
	return &CodexAdapter{
		client: deps.Client,
		logger: deps.Logger.With(zap.String("adapter", "openai-codex")),
	}
}

func (a *CodexAdapter) Provider() entity.Provider {
	return entity.ProviderOpenAICodex
}

func (a *CodexAdapter) Stream(ctx context.Context, model entity.Model, chat entity.Context, opts llm.StreamOptions) (*llm.EventStream, error) {
	if model.Provider != entity.ProviderOpenAICodex {
		return nil, errors.Unsupportedf("Expected provider %s", entity.ProviderOpenAICodex)
	}
	token, err := llm.ResolveAPIKey(entity.ProviderOpenAICodex, opts)
	if err != nil {
		return nil, err
	}
	accountID, err := extractAccountID(token)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(buildRequest(model, chat, opts, true))
	if err != nil {
		return nil, errors.Decodingf("encode request: %v", err)
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("Accept", "text/event-stream")
	headers.Set("Authorization", "Bearer "+token)
	headers.Set("chatgpt-account-id", accountID)
	headers.Set("OpenAI-Beta", "responses=experimental")
	headers.Set("originator", "pi")
	if opts.SessionID != "" {
		headers.Set("conversation_id", opts.SessionID)
		headers.Set("session_id", opts.SessionID)
	}
	mergeHeaders(headers, opts.Headers)

	stream, err := a.client.Stream(ctx, httpstream.Request{
		Method:  http.MethodPost,
		URL:     model.ResolveBaseURL() + "/codex/responses",
		Headers: headers,
		Body:    body,
		Timeout: opts.Timeout,
	})
	if err != nil {
		return nil, err
	}

	a.logger.Debug("Codex stream opened", zap.String("model", model.ID))
	es := llm.NewEventStream()
	safego.Go(a.logger, "codex-stream", func() {
		consumeResponses(ctx, es, stream, entity.ProviderOpenAICodex, model.ID)
	})
	return es, nil
}
