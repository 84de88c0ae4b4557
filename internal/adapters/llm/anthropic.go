package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"slack-digest-bot/internal/domain"
	"slack-digest-bot/internal/infra/anthropic"
)

type messagesClient interface {
	CreateMessage(ctx context.Context, req anthropic.MessagesRequest) (anthropic.MessagesResponse, error)
	CheckKey(ctx context.Context) error
}

// Anthropic реализует domain.Completer через Messages API.
type Anthropic struct {
	client    messagesClient
	model     string
	maxTokens int
}

// NewAnthropic создаёт адаптер Anthropic.
func NewAnthropic(client messagesClient, model string, maxTokens int) *Anthropic {
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Anthropic{client: client, model: model, maxTokens: maxTokens}
}

// Model возвращает имя модели.
func (a *Anthropic) Model() string { return a.model }

// CheckKey проверяет ключ при старте: отказ провайдера становится domain.ErrAuth.
func (a *Anthropic) CheckKey(ctx context.Context) error {
	if err := a.client.CheckKey(ctx); err != nil {
		return a.wrap(ctx, err)
	}
	return nil
}

func (a *Anthropic) wrap(ctx context.Context, err error) error {
	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) {
		return wrapStatus("anthropic", apiErr.StatusCode, apiErr.RetryAfter, err)
	}
	return wrapTransport(ctx, "anthropic", err)
}

// Complete выполняет один запрос к модели.
func (a *Anthropic) Complete(ctx context.Context, req domain.CompletionRequest) (domain.CompletionResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.maxTokens
	}
	resp, err := a.client.CreateMessage(ctx, anthropic.MessagesRequest{
		Model:     a.model,
		MaxTokens: maxTokens,
		System:    req.System,
		Messages:  []anthropic.Message{{Role: anthropic.RoleUser, Content: req.Prompt}},
	})
	if err != nil {
		return domain.CompletionResponse{}, a.wrap(ctx, err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return domain.CompletionResponse{}, fmt.Errorf("anthropic: пустой ответ (stop_reason=%s): %w", resp.StopReason, domain.ErrMalformedModelResponse)
	}
	return domain.CompletionResponse{
		Text:             text,
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
	}, nil
}
