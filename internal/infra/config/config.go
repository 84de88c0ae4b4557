package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Поддерживаемые LLM-провайдеры.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Поддерживаемые хранилища RunState.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// AppConfig описывает конфигурацию бота.
type AppConfig struct {
	AppEnv       string `envconfig:"APP_ENV" default:"dev"`
	HTTPAddr     string `envconfig:"HTTP_ADDR" default:":8080"`
	TriggerToken string `envconfig:"TRIGGER_TOKEN"`

	Slack struct {
		Token             string        `envconfig:"SLACK_BOT_TOKEN"`
		ChannelID         string        `envconfig:"SLACK_CHANNEL_ID"`
		APIURL            string        `envconfig:"SLACK_API_URL"`
		PageSize          int           `envconfig:"SLACK_HISTORY_PAGE_SIZE" default:"200"`
		RequestsPerMinute int           `envconfig:"SLACK_REQUESTS_PER_MINUTE" default:"50"`
		Timeout           time.Duration `envconfig:"SLACK_TIMEOUT" default:"30s"`
	} `envconfig:""`

	LLM struct {
		Provider        string        `envconfig:"LLM_PROVIDER" default:"anthropic"`
		Timeout         time.Duration `envconfig:"LLM_TIMEOUT" default:"60s"`
		MaxOutputTokens int           `envconfig:"LLM_MAX_OUTPUT_TOKENS" default:"1024"`
		InputBudget     int           `envconfig:"SUMMARY_INPUT_TOKEN_BUDGET" default:"150000"`
	} `envconfig:""`

	Anthropic struct {
		APIKey  string `envconfig:"ANTHROPIC_API_KEY"`
		Model   string `envconfig:"ANTHROPIC_MODEL" default:"claude-sonnet-4-20250514"`
		BaseURL string `envconfig:"ANTHROPIC_BASE_URL"`
	} `envconfig:""`

	OpenAI struct {
		APIKey  string `envconfig:"OPENAI_API_KEY"`
		Model   string `envconfig:"OPENAI_MODEL" default:"gpt-4.1-mini"`
		BaseURL string `envconfig:"OPENAI_BASE_URL"`
	} `envconfig:""`

	Schedule struct {
		TZ           string `envconfig:"SUMMARY_TZ" default:"Asia/Tokyo"`
		At           string `envconfig:"SUMMARY_AT" default:"07:00"`
		SkipWeekdays string `envconfig:"SUMMARY_SKIP_WEEKDAYS"`
	} `envconfig:""`

	RunState struct {
		Backend   string `envconfig:"RUN_STATE_BACKEND" default:"memory"`
		RedisAddr string `envconfig:"REDIS_ADDR"`
		PGDSN     string `envconfig:"PG_DSN"`
	} `envconfig:""`

	Retry struct {
		MaxAttempts int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"5"`
		BaseDelay   time.Duration `envconfig:"RETRY_BASE_DELAY" default:"1s"`
		MaxDelay    time.Duration `envconfig:"RETRY_MAX_DELAY" default:"30s"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения и проверяет его.
func Load() (AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("чтение окружения: %w", err)
	}
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	cfg.RunState.Backend = strings.ToLower(strings.TrimSpace(cfg.RunState.Backend))
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate проверяет обязательные параметры. Ошибка означает невозможность старта.
func (c AppConfig) Validate() error {
	var errs []error
	if c.Slack.Token == "" {
		errs = append(errs, errors.New("не указан токен Slack (SLACK_BOT_TOKEN)"))
	}
	if c.Slack.ChannelID == "" {
		errs = append(errs, errors.New("не указан канал Slack (SLACK_CHANNEL_ID)"))
	}
	switch c.LLM.Provider {
	case ProviderAnthropic:
		if c.Anthropic.APIKey == "" {
			errs = append(errs, errors.New("не указан ключ Anthropic (ANTHROPIC_API_KEY)"))
		}
	case ProviderOpenAI:
		if c.OpenAI.APIKey == "" {
			errs = append(errs, errors.New("не указан ключ OpenAI (OPENAI_API_KEY)"))
		}
	default:
		errs = append(errs, fmt.Errorf("неизвестный LLM_PROVIDER %q", c.LLM.Provider))
	}
	if strings.TrimSpace(c.Schedule.TZ) == "" {
		errs = append(errs, errors.New("не указан SUMMARY_TZ"))
	}
	if _, err := time.Parse("15:04", strings.TrimSpace(c.Schedule.At)); err != nil {
		errs = append(errs, fmt.Errorf("некорректный SUMMARY_AT %q", c.Schedule.At))
	}
	if _, err := c.SkipWeekdays(); err != nil {
		errs = append(errs, err)
	}
	switch c.RunState.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.RunState.RedisAddr == "" {
			errs = append(errs, errors.New("для RUN_STATE_BACKEND=redis нужен REDIS_ADDR"))
		}
	case BackendPostgres:
		if c.RunState.PGDSN == "" {
			errs = append(errs, errors.New("для RUN_STATE_BACKEND=postgres нужен PG_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("неизвестный RUN_STATE_BACKEND %q", c.RunState.Backend))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("RETRY_MAX_ATTEMPTS должен быть не меньше 1"))
	}
	return errors.Join(errs...)
}

// SkipWeekdays разбирает SUMMARY_SKIP_WEEKDAYS ("Sunday,sat").
func (c AppConfig) SkipWeekdays() ([]time.Weekday, error) {
	raw := strings.TrimSpace(c.Schedule.SkipWeekdays)
	if raw == "" {
		return nil, nil
	}
	var days []time.Weekday
	for _, part := range strings.Split(raw, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		day, ok := weekdays[name]
		if !ok {
			return nil, fmt.Errorf("неизвестный день недели %q", part)
		}
		days = append(days, day)
	}
	return days, nil
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}
