package summary

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"slack-digest-bot/internal/domain"
	"slack-digest-bot/internal/infra/metrics"
)

// Config параметры конвейера.
type Config struct {
	ChannelID string
	Location  *time.Location
}

// Service реализует конвейер: история → имена → перевод → сводка → публикация.
type Service struct {
	fetcher    *Fetcher
	identities domain.IdentityLookup
	normalizer *Normalizer
	composer   *Composer
	publisher  *Publisher
	cfg        Config
	log        zerolog.Logger
	now        func() time.Time

	mu sync.Mutex
}

// NewService создаёт конвейер сводки.
func NewService(fetcher *Fetcher, identities domain.IdentityLookup, normalizer *Normalizer, composer *Composer, publisher *Publisher, cfg Config, logger zerolog.Logger) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Service{
		fetcher:    fetcher,
		identities: identities,
		normalizer: normalizer,
		composer:   composer,
		publisher:  publisher,
		cfg:        cfg,
		log:        logger,
		now:        time.Now,
	}
}

// RunLast24h строит сводку за последние 24 часа. Используется для ручного запуска.
func (s *Service) RunLast24h(ctx context.Context, trigger domain.RunTrigger) (domain.RunReport, error) {
	return s.Run(ctx, domain.WindowEndingAt(s.now()), trigger)
}

// Run выполняет один прогон за окно. Одновременно выполняется не больше одного прогона.
func (s *Service) Run(ctx context.Context, window domain.TimeWindow, trigger domain.RunTrigger) (domain.RunReport, error) {
	if !s.mu.TryLock() {
		return domain.RunReport{}, domain.ErrRunInProgress
	}
	defer s.mu.Unlock()

	report := domain.RunReport{
		RunID:     uuid.NewString(),
		Trigger:   trigger,
		Window:    window,
		StartedAt: s.now(),
	}
	log := s.log.With().
		Str("run_id", report.RunID).
		Str("trigger", string(trigger)).
		Str("channel", s.cfg.ChannelID).
		Time("window_start", window.Start).
		Time("window_end", window.End).
		Logger()
	log.Info().Msg("summary: прогон начат")

	err := s.run(ctx, log, &report)
	report.FinishedAt = s.now()
	outcome := "success"
	switch {
	case err != nil:
		outcome = "error"
		log.Error().Err(err).Msg("summary: прогон завершился ошибкой")
	case report.Confirmation.Deduplicated:
		outcome = "deduplicated"
	}
	metrics.ObserveRun(string(trigger), outcome, report.StartedAt)
	if err != nil {
		return report, err
	}
	log.Info().
		Int("messages", report.Summary.MessageCount).
		Int("translated", report.Translated).
		Int("omitted", report.Summary.OmittedCount).
		Str("ts", report.Confirmation.MessageTS).
		Bool("deduplicated", report.Confirmation.Deduplicated).
		Dur("took", report.FinishedAt.Sub(report.StartedAt)).
		Msg("summary: сводка опубликована")
	return report, nil
}

func (s *Service) run(ctx context.Context, log zerolog.Logger, report *domain.RunReport) error {
	messages, err := s.fetcher.Fetch(ctx, s.cfg.ChannelID, report.Window)
	if err != nil {
		return fmt.Errorf("получение истории: %w", err)
	}
	metrics.SummaryMessages.Set(float64(len(messages)))

	resolver := NewResolver(s.identities, log)
	messages = resolver.ResolveAll(ctx, messages)
	messages = s.normalizer.Normalize(ctx, messages)
	for _, msg := range messages {
		if msg.IsTranslated {
			report.Translated++
		}
	}

	result, err := s.composer.Compose(ctx, messages)
	if err != nil {
		return fmt.Errorf("построение сводки: %w", err)
	}
	report.Summary = result
	metrics.SummaryOmittedMessages.Set(float64(result.OmittedCount))

	text := FormatSummary(result, report.Window, s.cfg.Location, resolver.Directory())
	confirmation, err := s.publisher.Publish(ctx, PublishRequest{
		ChannelID: s.cfg.ChannelID,
		Text:      text,
		RunKey:    s.runKey(report),
		Since:     report.Window.End,
	})
	if err != nil {
		return fmt.Errorf("публикация: %w", err)
	}
	report.Confirmation = confirmation
	return nil
}

// runKey для плановых запусков совпадает в пределах дня, ручные запуски уникальны.
func (s *Service) runKey(report *domain.RunReport) string {
	if report.Trigger == domain.TriggerManual {
		return fmt.Sprintf("%s:manual:%s", s.cfg.ChannelID, report.RunID)
	}
	return RunKey(s.cfg.ChannelID, report.Window.End.In(s.cfg.Location))
}

// RunKey ключ ежедневной сводки канала за дату.
func RunKey(channelID string, day time.Time) string {
	return channelID + ":" + day.Format(domain.DateLayout)
}

// IsBusy сообщает, что ошибка вызвана уже идущим прогоном.
func IsBusy(err error) bool {
	return errors.Is(err, domain.ErrRunInProgress)
}
