package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"slack-digest-bot/internal/adapters/llm"
	"slack-digest-bot/internal/adapters/repo"
	"slack-digest-bot/internal/adapters/slack"
	"slack-digest-bot/internal/domain"
	"slack-digest-bot/internal/infra/anthropic"
	"slack-digest-bot/internal/infra/config"
	"slack-digest-bot/internal/infra/db"
	httpinfra "slack-digest-bot/internal/infra/http"
	logx "slack-digest-bot/internal/infra/log"
	"slack-digest-bot/internal/infra/metrics"
	"slack-digest-bot/internal/infra/openai"
	redisinfra "slack-digest-bot/internal/infra/redis"
	"slack-digest-bot/internal/infra/retry"
	"slack-digest-bot/internal/usecase/schedule"
	"slack-digest-bot/internal/usecase/summary"
)

func main() {
	once := flag.Bool("once", false, "построить сводку за последние 24 часа и выйти")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "summary-bot: конфигурация: %v\n", err)
		os.Exit(2)
	}
	logger := logx.NewLogger(cfg.AppEnv)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *once, logger); err != nil {
		logger.Error().Err(err).Msg("summary-bot: остановлен с ошибкой")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.AppConfig, once bool, logger zerolog.Logger) error {
	loc, err := schedule.LoadLocation(cfg.Schedule.TZ)
	if err != nil {
		return fmt.Errorf("часовой пояс %q: %w", cfg.Schedule.TZ, err)
	}
	hour, minute, err := schedule.ParseLocalTime(cfg.Schedule.At)
	if err != nil {
		return err
	}
	skip, err := cfg.SkipWeekdays()
	if err != nil {
		return err
	}
	retryCfg := retry.Config{MaxAttempts: cfg.Retry.MaxAttempts, BaseDelay: cfg.Retry.BaseDelay, MaxDelay: cfg.Retry.MaxDelay}
	policy := func(component string) retry.Policy {
		return retry.New(component, retryCfg, logx.Component(logger, component))
	}

	slackClient := slack.New(slack.Options{
		Token:             cfg.Slack.Token,
		APIURL:            cfg.Slack.APIURL,
		RequestsPerMinute: cfg.Slack.RequestsPerMinute,
		HTTPClient:        &http.Client{Timeout: cfg.Slack.Timeout},
	}, logx.Component(logger, "slack"))
	identity, err := slackClient.AuthTest(ctx)
	if err != nil {
		return fmt.Errorf("проверка токена Slack: %w", err)
	}
	logger.Info().Str("team", identity.TeamID).Str("bot_user", identity.UserID).Msg("summary-bot: токен Slack принят")

	completer, err := newCompleter(cfg)
	if err != nil {
		return err
	}
	if err := completer.CheckKey(ctx); err != nil {
		return fmt.Errorf("проверка ключа %s: %w", cfg.LLM.Provider, err)
	}
	logger.Info().Str("provider", cfg.LLM.Provider).Str("model", completer.Model()).Msg("summary-bot: ключ языковой модели принят")
	translator := llm.NewTranslator(completer, policy("translator"), cfg.LLM.MaxOutputTokens)

	service := summary.NewService(
		summary.NewFetcher(slackClient, policy("fetcher"), summary.FetcherConfig{
			PageSize:   cfg.Slack.PageSize,
			SelfUserID: identity.UserID,
			SelfBotID:  identity.BotID,
		}, logx.Component(logger, "fetcher")),
		slackClient,
		summary.NewNormalizer(translator, logx.Component(logger, "normalizer")),
		summary.NewComposer(completer, policy("composer"), summary.ComposerConfig{
			InputBudget:     cfg.LLM.InputBudget,
			MaxOutputTokens: cfg.LLM.MaxOutputTokens,
			Location:        loc,
		}, logx.Component(logger, "composer")),
		summary.NewPublisher(slackClient, policy("publisher"), logx.Component(logger, "publisher")),
		summary.Config{ChannelID: cfg.Slack.ChannelID, Location: loc},
		logx.Component(logger, "summary"),
	)

	if once {
		report, err := service.RunLast24h(ctx, domain.TriggerManual)
		if err != nil {
			return err
		}
		logger.Info().
			Int("messages", report.Summary.MessageCount).
			Str("message_ts", report.Confirmation.MessageTS).
			Msg("summary-bot: разовый прогон завершён")
		return nil
	}

	store, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	scheduler := schedule.New(service, store, schedule.SystemClock(), schedule.Config{
		Location:     loc,
		Hour:         hour,
		Minute:       minute,
		SkipWeekdays: skip,
	}, logx.Component(logger, "scheduler"))

	server := httpinfra.NewServer(httpinfra.Options{
		Addr:         cfg.HTTPAddr,
		TriggerToken: cfg.TriggerToken,
	}, service, scheduler, logx.Component(logger, "http"))
	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("summary-bot: http сервер остановлен")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	err = scheduler.Start(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info().Msg("summary-bot: остановка по сигналу")
		return nil
	}
	return err
}

// modelCompleter языковая модель с известным именем и проверкой ключа.
type modelCompleter interface {
	domain.Completer
	Model() string
	CheckKey(ctx context.Context) error
}

func newCompleter(cfg config.AppConfig) (modelCompleter, error) {
	switch cfg.LLM.Provider {
	case config.ProviderAnthropic:
		client := anthropic.NewClient(cfg.Anthropic.APIKey, cfg.Anthropic.BaseURL, cfg.LLM.Timeout)
		return llm.NewAnthropic(client, cfg.Anthropic.Model, cfg.LLM.MaxOutputTokens), nil
	case config.ProviderOpenAI:
		client := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.LLM.Timeout)
		return llm.NewOpenAI(client, cfg.OpenAI.Model, cfg.LLM.MaxOutputTokens), nil
	}
	return nil, fmt.Errorf("неизвестный LLM_PROVIDER %q", cfg.LLM.Provider)
}

func newStore(ctx context.Context, cfg config.AppConfig) (domain.RunStateStore, func(), error) {
	switch cfg.RunState.Backend {
	case config.BackendRedis:
		client, err := redisinfra.Connect(ctx, cfg.RunState.RedisAddr)
		if err != nil {
			return nil, nil, err
		}
		return repo.NewRedis(client, cfg.Slack.ChannelID), func() { _ = client.Close() }, nil
	case config.BackendPostgres:
		pool, err := db.Connect(ctx, cfg.RunState.PGDSN)
		if err != nil {
			return nil, nil, err
		}
		store := repo.NewPostgres(pool, cfg.Slack.ChannelID)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	}
	return repo.NewMemory(), func() {}, nil
}
