package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/msgcode/msgcode/internal/errs"
)

// OpenAIProvider speaks to any OpenAI-compatible chat-completions endpoint
// (LM Studio, llama.cpp server, OpenAI, Groq, ...).
type OpenAIProvider struct {
	name         string
	apiKey       string
	apiBase      string
	defaultModel string
	client       *http.Client
}

// NewOpenAI builds a provider. apiBase defaults to the LM Studio local
// endpoint when empty.
func NewOpenAI(name, apiKey, apiBase, defaultModel string) *OpenAIProvider {
	if apiBase == "" {
		apiBase = "http://127.0.0.1:1234/v1"
	}
	return &OpenAIProvider{
		name:         name,
		apiKey:       apiKey,
		apiBase:      strings.TrimRight(apiBase, "/"),
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *OpenAIProvider) Name() string         { return p.name }
func (p *OpenAIProvider) DefaultModel() string { return p.defaultModel }

// Chat issues one completion request. The context carries the request
// deadline; cancellation aborts the HTTP call.
func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body, err := BuildChatCompletionRequest(req, p.defaultModel)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.apiBase+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, errs.Wrap(errs.ProviderError, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, errs.Wrap(errs.ProviderError, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, errs.Wrap(errs.ProviderError, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.Wrap(errs.ProviderError,
			fmt.Errorf("%s returned %d: %s", p.name, resp.StatusCode, truncate(string(respBody), 500)))
	}
	return ParseChatCompletionResponse(respBody)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
