package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"slack-digest-bot/internal/domain"
	"slack-digest-bot/internal/infra/metrics"
)

// Config задаёт границы повторов.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultConfig возвращает настройки по умолчанию.
func DefaultConfig() Config {
	return Config{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// SleepFunc ожидает d или отмену контекста.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy повторяет операцию при временных ошибках. При ограничении частоты ждёт интервал
// провайдера, иначе экспоненциальную задержку. Прочие ошибки возвращаются сразу.
type Policy struct {
	component string
	cfg       Config
	log       zerolog.Logger
	sleep     SleepFunc
}

// New создаёт политику повторов для компонента.
func New(component string, cfg Config, logger zerolog.Logger) Policy {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	return Policy{component: component, cfg: cfg, log: logger, sleep: Sleep}
}

// WithSleep подменяет ожидание.
func (p Policy) WithSleep(fn SleepFunc) Policy {
	p.sleep = fn
	return p
}

// MaxAttempts возвращает предел попыток.
func (p Policy) MaxAttempts() int {
	return p.cfg.MaxAttempts
}

// Do выполняет op, повторяя её не более MaxAttempts раз.
// Цикл ведёт backoff.Retry: постоянные ошибки оборачиваются в backoff.Permanent, предел задаёт WithMaxTries.
// Паузу между попытками выдерживает p.sleep, поэтому собственный таймер Retry работает с нулевой задержкой.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.BaseDelay
	bo.MaxInterval = p.cfg.MaxDelay
	bo.Multiplier = 2
	bo.Reset()

	var (
		attempt int
		wait    time.Duration
	)
	operation := func() (struct{}, error) {
		if attempt > 0 {
			if err := p.sleep(ctx, wait); err != nil {
				return struct{}{}, backoff.Permanent(err)
			}
		}
		attempt++
		err := op(ctx)
		if err != nil && !domain.IsTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}
	notify := func(err error, _ time.Duration) {
		wait = bo.NextBackOff()
		reason := "transient"
		if after, ok := domain.RetryAfter(err); ok {
			reason = "rate_limited"
			if after > 0 {
				wait = after
			}
		}
		metrics.IncRetry(p.component, reason)
		p.log.Warn().Err(err).
			Str("component", p.component).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Msgf("%s: временная ошибка, повторим", p.component)
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(&backoff.ZeroBackOff{}),
		backoff.WithMaxTries(uint(p.cfg.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
	if err == nil {
		return nil
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Unwrap()
	}
	if domain.IsTransient(err) {
		return fmt.Errorf("%s: исчерпаны попытки (%d): %w", p.component, attempt, err)
	}
	return err
}

// Sleep ожидает d с учётом отмены контекста.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
