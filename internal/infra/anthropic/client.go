package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"slack-digest-bot/internal/infra/metrics"
)

const (
	defaultBaseURL = "https://api.anthropic.com/v1"
	apiVersion     = "2023-06-01"
)

// Client выполняет запросы к Anthropic Messages API.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

// NewClient создаёт клиента Anthropic.
func NewClient(apiKey, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

// MessagesRequest тело запроса /messages.
type MessagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	Messages    []Message `json:"messages"`
}

// Message сообщение диалога.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RoleUser роль пользователя.
const RoleUser = "user"

// MessagesResponse ответ /messages.
type MessagesResponse struct {
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// ContentBlock блок ответа модели.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Usage статистика токенов.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Text склеивает текстовые блоки ответа.
func (r MessagesResponse) Text() string {
	var sb strings.Builder
	for _, block := range r.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// APIError ошибка API с HTTP статусом.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("anthropic: status %d: %s %s", e.StatusCode, e.Type, e.Message)
}

type apiErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateMessage вызывает /messages.
func (c *Client) CreateMessage(ctx context.Context, req MessagesRequest) (MessagesResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return MessagesResponse{}, fmt.Errorf("anthropic: marshal request: %w", err)
	}
	start := time.Now()
	raw, err := c.send(ctx, http.MethodPost, "/messages", body)
	if err != nil {
		metrics.ObserveNetworkRequest("anthropic", "messages", req.Model, start, err)
		return MessagesResponse{}, err
	}
	var parsed MessagesResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		err = fmt.Errorf("anthropic: decode response: %w", err)
		metrics.ObserveNetworkRequest("anthropic", "messages", req.Model, start, err)
		return MessagesResponse{}, err
	}
	metrics.ObserveNetworkRequest("anthropic", "messages", req.Model, start, nil)
	metrics.ObserveLLMGeneration(req.Model, time.Since(start), parsed.Usage.InputTokens, parsed.Usage.OutputTokens)
	return parsed, nil
}

// CheckKey проверяет ключ через GET /models.
func (c *Client) CheckKey(ctx context.Context) error {
	start := time.Now()
	_, err := c.send(ctx, http.MethodGet, "/models", nil)
	metrics.ObserveNetworkRequest("anthropic", "models", "", start, err)
	return err
}

func (c *Client) send(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if c.apiKey == "" {
		return nil, &APIError{StatusCode: http.StatusUnauthorized, Type: "authentication_error", Message: "api key is empty"}
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: do request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, RetryAfter: parseRetryAfter(resp.Header.Get("retry-after"))}
		var payload apiErrorResponse
		if err := json.Unmarshal(raw, &payload); err == nil {
			apiErr.Type = payload.Error.Type
			apiErr.Message = payload.Error.Message
		}
		return nil, apiErr
	}
	return raw, nil
}

func parseRetryAfter(raw string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
