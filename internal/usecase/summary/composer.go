package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"slack-digest-bot/internal/domain"
	"slack-digest-bot/internal/infra/retry"
)

const (
	transcriptLayout    = "2006-01-02 15:04 MST"
	defaultInputBudget  = 150000
	defaultOutputTokens = 1024
)

const composeSystem = "You are an assistant that writes tight executive summaries of team chat. " +
	"Stick to facts from the transcript and never invent people, dates or decisions."

const composeInstruction = `Below is the transcript of a Slack channel for the last 24 hours (%d messages%s).
All text is already in English.

%s

Identify the 3 most important things discussed or decided, one sentence each, each starting with a short topic.
Extract action items: who owns them, what must be done and the deadline if one was mentioned.
Use first names for owners exactly as they appear in the transcript.

Respond with JSON only:
{"key_points": ["Topic: one sentence", "...", "..."], "action_items": [{"owner": "Name", "description": "task", "deadline": ""}]}`

const strictInstruction = `Your previous answer could not be used.
Return ONLY a raw JSON object, no markdown, no prose, with exactly 3 entries in "key_points"
(fewer only if the transcript truly contains fewer topics) and an "action_items" array (possibly empty).`

// ComposerConfig ограничения на размер запроса и ответа.
type ComposerConfig struct {
	InputBudget     int
	MaxOutputTokens int
	Location        *time.Location
}

// Composer строит сводку из нормализованных сообщений.
type Composer struct {
	completer domain.Completer
	retry     retry.Policy
	cfg       ComposerConfig
	log       zerolog.Logger
}

// NewComposer создаёт составитель сводки.
func NewComposer(completer domain.Completer, policy retry.Policy, cfg ComposerConfig, logger zerolog.Logger) *Composer {
	if cfg.InputBudget <= 0 {
		cfg.InputBudget = defaultInputBudget
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = defaultOutputTokens
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Composer{completer: completer, retry: policy, cfg: cfg, log: logger}
}

type actionItemPayload struct {
	Owner       string `json:"owner"`
	Description string `json:"description"`
	Deadline    string `json:"deadline"`
}

type summaryPayload struct {
	KeyPoints   []string            `json:"key_points"`
	ActionItems []actionItemPayload `json:"action_items"`
}

// Compose возвращает не более трёх ключевых пунктов и список задач.
// Пустой вход не обращается к модели.
func (c *Composer) Compose(ctx context.Context, messages []domain.Message) (domain.SummaryResult, error) {
	if len(messages) == 0 {
		return domain.NoActivitySummary(), nil
	}

	lines := make([]string, len(messages))
	for i, msg := range messages {
		lines[i] = c.transcriptLine(msg)
	}
	overhead := EstimateTokens(composeSystem) + EstimateTokens(composeInstruction) + EstimateTokens(strictInstruction)
	kept, omitted := FitBudget(lines, c.cfg.InputBudget-overhead)
	if omitted > 0 {
		c.log.Warn().Int("omitted", omitted).Int("kept", len(kept)).Msg("composer: транскрипт усечён по лимиту токенов")
	}

	note := ""
	if omitted > 0 {
		note = fmt.Sprintf(", the oldest %d omitted", omitted)
	}
	prompt := fmt.Sprintf(composeInstruction, len(messages), note, strings.Join(kept, "\n"))

	// короткое окно может не дать трёх тем, но меньше пунктов, чем сообщений, быть не должно
	required := min(domain.MaxKeyPoints, len(messages))
	payload, err := c.ask(ctx, prompt)
	if err != nil && !errors.Is(err, domain.ErrMalformedModelResponse) {
		return domain.SummaryResult{}, err
	}
	if err != nil || len(payload.KeyPoints) < required {
		c.log.Warn().Err(err).Int("key_points", len(payload.KeyPoints)).Msg("composer: неполный ответ модели, повторяем со строгой инструкцией")
		payload, err = c.ask(ctx, prompt+"\n\n"+strictInstruction)
		if err != nil && !errors.Is(err, domain.ErrMalformedModelResponse) {
			return domain.SummaryResult{}, err
		}
		if err != nil || len(payload.KeyPoints) < required {
			return domain.SummaryResult{}, fmt.Errorf("composer: нужно %d пунктов, получено %d: %w",
				required, len(payload.KeyPoints), domain.ErrMalformedModelResponse)
		}
	}

	result := domain.SummaryResult{
		MessageCount: len(messages),
		KeyPoints:    payload.KeyPoints,
		OmittedCount: omitted,
	}
	if len(result.KeyPoints) > domain.MaxKeyPoints {
		result.KeyPoints = result.KeyPoints[:domain.MaxKeyPoints]
	}
	for _, item := range payload.ActionItems {
		result.ActionItems = append(result.ActionItems, domain.ActionItem{
			Owner:       item.Owner,
			Description: item.Description,
			Deadline:    item.Deadline,
		})
	}
	return result, nil
}

// ask выполняет запрос с повторами транспортных ошибок и разбирает ответ.
func (c *Composer) ask(ctx context.Context, prompt string) (summaryPayload, error) {
	var resp domain.CompletionResponse
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = c.completer.Complete(ctx, domain.CompletionRequest{
			System:    composeSystem,
			Prompt:    prompt,
			MaxTokens: c.cfg.MaxOutputTokens,
			JSON:      true,
		})
		return err
	})
	if err != nil {
		return summaryPayload{}, fmt.Errorf("composer: вызов модели: %w", err)
	}
	return parseSummary(resp.Text)
}

func (c *Composer) transcriptLine(msg domain.Message) string {
	thread := ""
	if msg.InThread {
		thread = " (in thread)"
	}
	text := strings.Join(strings.Fields(msg.Text()), " ")
	return fmt.Sprintf("[%s] %s%s: %s", msg.Timestamp.In(c.cfg.Location).Format(transcriptLayout), msg.DisplayName(), thread, text)
}

// parseSummary разбирает JSON ответа, допуская обёртку в markdown-блок.
func parseSummary(text string) (summaryPayload, error) {
	raw := strings.TrimSpace(text)
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return summaryPayload{}, fmt.Errorf("%w: JSON не найден", domain.ErrMalformedModelResponse)
	}
	var parsed summaryPayload
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return summaryPayload{}, fmt.Errorf("%w: %v", domain.ErrMalformedModelResponse, err)
	}
	parsed.KeyPoints = filterValues(parsed.KeyPoints)
	items := parsed.ActionItems[:0]
	for _, item := range parsed.ActionItems {
		item.Owner = strings.TrimPrefix(strings.TrimSpace(item.Owner), "@")
		item.Description = strings.TrimSpace(item.Description)
		item.Deadline = strings.TrimSpace(item.Deadline)
		if item.Description == "" {
			continue
		}
		items = append(items, item)
	}
	parsed.ActionItems = items
	return parsed, nil
}

func filterValues(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

// EstimateTokens грубо оценивает число токенов: ASCII около четырёх символов на токен,
// прочие символы (японский, кириллица) по токену на символ.
func EstimateTokens(text string) int {
	var ascii, other int
	for _, r := range text {
		if r < 0x80 {
			ascii++
		} else {
			other++
		}
	}
	return (ascii+3)/4 + other
}

// FitBudget отбрасывает самые старые строки, пока оценка не уложится в budget.
// Самая свежая строка сохраняется всегда, при необходимости обрезанная.
func FitBudget(lines []string, budget int) ([]string, int) {
	total := 0
	for _, line := range lines {
		total += EstimateTokens(line) + 1
	}
	start := 0
	for start < len(lines)-1 && total > budget {
		total -= EstimateTokens(lines[start]) + 1
		start++
	}
	kept := append([]string(nil), lines[start:]...)
	if len(kept) == 1 && total > budget && budget > 0 {
		kept[0] = clipTokens(kept[0], budget)
	}
	return kept, start
}

func clipTokens(text string, budget int) string {
	runes := []rune(text)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if EstimateTokens(string(runes[:mid])) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo])
}
