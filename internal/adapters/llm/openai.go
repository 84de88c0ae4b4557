package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"slack-digest-bot/internal/domain"
	openai "slack-digest-bot/internal/infra/openai"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CheckKey(ctx context.Context) error
}

// OpenAI реализует domain.Completer через OpenAI Chat Completions.
type OpenAI struct {
	client    chatClient
	model     string
	maxTokens int
}

// NewOpenAI создаёт адаптер OpenAI.
func NewOpenAI(client chatClient, model string, maxTokens int) *OpenAI {
	if model == "" {
		model = "gpt-4.1-mini"
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &OpenAI{client: client, model: model, maxTokens: maxTokens}
}

// Model возвращает имя модели.
func (o *OpenAI) Model() string { return o.model }

// CheckKey проверяет ключ при старте.
func (o *OpenAI) CheckKey(ctx context.Context) error {
	if err := o.client.CheckKey(ctx); err != nil {
		return o.wrap(ctx, err)
	}
	return nil
}

func (o *OpenAI) wrap(ctx context.Context, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return wrapStatus("openai", apiErr.StatusCode, apiErr.RetryAfter, err)
	}
	return wrapTransport(ctx, "openai", err)
}

// Complete выполняет один запрос к модели.
func (o *OpenAI) Complete(ctx context.Context, req domain.CompletionRequest) (domain.CompletionResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = o.maxTokens
	}
	messages := make([]openai.ChatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatMessage{Role: openai.RoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatMessage{Role: openai.RoleUser, Content: req.Prompt})

	chatReq := openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0.2,
		MaxTokens:   maxTokens,
		Messages:    messages,
	}
	if req.JSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ResponseFormatTypeJSONObject}
	}

	resp, err := o.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return domain.CompletionResponse{}, o.wrap(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return domain.CompletionResponse{}, fmt.Errorf("openai completion: пустой ответ: %w", domain.ErrMalformedModelResponse)
	}
	out := domain.CompletionResponse{Text: strings.TrimSpace(resp.Choices[0].Message.Content)}
	if out.Text == "" {
		return domain.CompletionResponse{}, fmt.Errorf("openai completion: пустой ответ: %w", domain.ErrMalformedModelResponse)
	}
	if resp.Usage != nil {
		out.PromptTokens = resp.Usage.PromptTokens
		out.CompletionTokens = resp.Usage.CompletionTokens
	}
	return out, nil
}
