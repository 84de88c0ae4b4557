package llm

import (
	"context"
	"fmt"
	"strings"

	"slack-digest-bot/internal/domain"
	"slack-digest-bot/internal/infra/retry"
)

const translateSystem = "You are a professional translator. Translate the user's message into natural English. " +
	"Keep names, @mentions, URLs, code and numbers unchanged. Reply with the translation only, without quotes or comments."

var languageNames = map[string]string{
	"ja": "Japanese",
}

// Translator переводит сообщения на английский через языковую модель.
type Translator struct {
	completer domain.Completer
	retry     retry.Policy
	maxTokens int
}

// NewTranslator создаёт переводчик поверх Completer.
func NewTranslator(completer domain.Completer, policy retry.Policy, maxTokens int) *Translator {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Translator{completer: completer, retry: policy, maxTokens: maxTokens}
}

// Translate возвращает английский перевод text. Временные ошибки повторяются политикой.
func (t *Translator) Translate(ctx context.Context, text, sourceLang string) (string, error) {
	source := languageNames[sourceLang]
	if source == "" {
		source = "the source language"
	}
	prompt := fmt.Sprintf("Translate the following %s message into English:\n\n%s", source, text)

	var translated string
	err := t.retry.Do(ctx, func(ctx context.Context) error {
		resp, err := t.completer.Complete(ctx, domain.CompletionRequest{
			System:    translateSystem,
			Prompt:    prompt,
			MaxTokens: t.maxTokens,
		})
		if err != nil {
			return err
		}
		translated = strings.TrimSpace(resp.Text)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrTranslation, err)
	}
	if translated == "" {
		return "", fmt.Errorf("%w: пустой перевод", domain.ErrTranslation)
	}
	return translated, nil
}
