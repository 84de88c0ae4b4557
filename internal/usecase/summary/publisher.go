package summary

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"slack-digest-bot/internal/domain"
	"slack-digest-bot/internal/infra/retry"
)

// PublishRequest параметры публикации сводки.
type PublishRequest struct {
	ChannelID string
	Text      string
	// RunKey помечает сообщение; по нему ищется уже опубликованная сводка.
	RunKey string
	// Since граница поиска уже опубликованной сводки.
	Since time.Time
}

// Publisher публикует сводку ровно одним сообщением.
type Publisher struct {
	poster domain.Poster
	retry  retry.Policy
	log    zerolog.Logger
}

// NewPublisher создаёт публикатор.
func NewPublisher(poster domain.Poster, policy retry.Policy, logger zerolog.Logger) *Publisher {
	return &Publisher{poster: poster, retry: policy, log: logger}
}

// Publish отправляет сводку. Перед каждой попыткой проверяет, не была ли сводка с тем же
// ключом уже опубликована, поэтому повтор после неясного сбоя не даёт дубля.
// chat.postMessage не сообщает о дублях, поэтому найденный по ключу пост единственный признак
// уже сделанной публикации.
func (p *Publisher) Publish(ctx context.Context, req PublishRequest) (domain.PostConfirmation, error) {
	confirmation := domain.PostConfirmation{ChannelID: req.ChannelID}
	err := p.retry.Do(ctx, func(ctx context.Context) error {
		if req.RunKey != "" {
			ts, found, err := p.poster.FindPosted(ctx, req.ChannelID, req.RunKey, req.Since)
			if err != nil {
				return err
			}
			if found {
				p.log.Info().Str("run_key", req.RunKey).Str("ts", ts).Msg("publisher: сводка уже опубликована, пропускаем")
				confirmation.MessageTS = ts
				confirmation.Deduplicated = true
				return nil
			}
		}
		ts, err := p.poster.PostMessage(ctx, domain.PostRequest{
			ChannelID: req.ChannelID,
			Text:      req.Text,
			RunKey:    req.RunKey,
		})
		if err != nil {
			return err
		}
		confirmation.MessageTS = ts
		return nil
	})
	if err != nil {
		return domain.PostConfirmation{}, err
	}
	return confirmation, nil
}
