package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Supported providers.
const (
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderOpenRouter = "openrouter"
)

// LLM generates posts through a chat completion API.
type LLM struct {
	client      *http.Client
	provider    string
	model       string
	apiKey      string
	baseURL     string
	temperature float64
}

// NewLLM creates an LLM generator. An empty baseURL selects the provider's
// public endpoint.
func NewLLM(provider, model, apiKey, baseURL string) *LLM {
	if model == "" {
		switch provider {
		case ProviderAnthropic:
			model = "claude-sonnet-4-20250514"
		case ProviderOpenRouter:
			model = "google/gemma-3n-e2b-it:free"
		default:
			model = "gpt-4o-mini"
		}
	}
	if baseURL == "" {
		switch provider {
		case ProviderAnthropic:
			baseURL = "https://api.anthropic.com"
		case ProviderOpenRouter:
			baseURL = "https://openrouter.ai/api"
		default:
			baseURL = "https://api.openai.com"
		}
	}
	return &LLM{
		// Per-call deadlines come from the caller's context.
		client:      &http.Client{Timeout: 2 * time.Minute},
		provider:    provider,
		model:       model,
		apiKey:      apiKey,
		baseURL:     baseURL,
		temperature: 0.7,
	}
}

func (l *LLM) Name() string { return l.provider + "/" + l.model }

// Generate asks the model for one candidate.
func (l *LLM) Generate(ctx context.Context, req Request) (*Draft, error) {
	prompt := BuildPrompt(req)

	var (
		raw string
		err error
	)
	switch l.provider {
	case ProviderAnthropic:
		raw, err = l.callAnthropic(ctx, prompt)
	default:
		raw, err = l.callOpenAI(ctx, prompt)
	}
	if err != nil {
		return nil, err
	}

	d, err := ParseDraft(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s reply: %w", l.provider, err)
	}
	return d, nil
}

// callOpenAI serves both OpenAI and OpenRouter, which share the chat
// completions wire format.
func (l *LLM) callOpenAI(ctx context.Context, prompt string) (string, error) {
	payload := map[string]any{
		"model": l.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": prompt},
		},
		"temperature": l.temperature,
		"max_tokens":  900,
	}

	headers := map[string]string{"Authorization": "Bearer " + l.apiKey}
	if l.provider == ProviderOpenRouter {
		headers["X-Title"] = "postagent"
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := l.post(ctx, "/v1/chat/completions", payload, headers, &result); err != nil {
		return "", err
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("%s: no choices returned", l.provider)
	}
	return result.Choices[0].Message.Content, nil
}

func (l *LLM) callAnthropic(ctx context.Context, prompt string) (string, error) {
	payload := map[string]any{
		"model":       l.model,
		"max_tokens":  1024,
		"system":      systemPrompt,
		"temperature": l.temperature,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	headers := map[string]string{
		"x-api-key":         l.apiKey,
		"anthropic-version": "2023-06-01",
	}

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := l.post(ctx, "/v1/messages", payload, headers, &result); err != nil {
		return "", err
	}
	if len(result.Content) == 0 {
		return "", fmt.Errorf("anthropic: no content returned")
	}
	return result.Content[0].Text, nil
}

func (l *LLM) post(ctx context.Context, path string, payload any, headers map[string]string, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", l.provider, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", l.provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", l.provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Provider: l.provider, StatusCode: resp.StatusCode, Detail: string(detail)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", l.provider, err)
	}
	return nil
}
