package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"slack-digest-bot/internal/domain"
)

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func newPolicy(attempts int, rec *sleepRecorder) Policy {
	cfg := Config{MaxAttempts: attempts, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	return New("test", cfg, zerolog.Nop()).WithSleep(rec.sleep)
}

func TestDoHonoursRetryAfter(t *testing.T) {
	rec := &sleepRecorder{}
	calls := 0
	err := newPolicy(3, rec).Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return &domain.RateLimitedError{RetryAfter: 7 * time.Second}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if calls != 2 {
		t.Fatalf("ожидали 2 вызова, получили %d", calls)
	}
	if len(rec.delays) != 1 || rec.delays[0] != 7*time.Second {
		t.Fatalf("ожидали ожидание 7s, получили %v", rec.delays)
	}
}

func TestDoStopsAfterMaxAttempts(t *testing.T) {
	rec := &sleepRecorder{}
	calls := 0
	err := newPolicy(3, rec).Do(context.Background(), func(context.Context) error {
		calls++
		return fmt.Errorf("timeout: %w", domain.ErrTransient)
	})
	if !errors.Is(err, domain.ErrTransient) {
		t.Fatalf("ожидали временную ошибку после исчерпания попыток, получили %v", err)
	}
	if calls != 3 {
		t.Fatalf("ожидали 3 попытки, получили %d", calls)
	}
	if len(rec.delays) != 2 {
		t.Fatalf("ожидали 2 паузы, получили %d", len(rec.delays))
	}
	for _, d := range rec.delays {
		if d <= 0 || d > time.Second {
			t.Fatalf("задержка вне границ: %v", d)
		}
	}
}

func TestDoDoesNotRetryPermanentErrors(t *testing.T) {
	rec := &sleepRecorder{}
	calls := 0
	err := newPolicy(5, rec).Do(context.Background(), func(context.Context) error {
		calls++
		return domain.ErrNotInChannel
	})
	if !errors.Is(err, domain.ErrNotInChannel) {
		t.Fatalf("ожидали not_in_channel, получили %v", err)
	}
	if calls != 1 || len(rec.delays) != 0 {
		t.Fatalf("постоянная ошибка не должна повторяться: calls=%d sleeps=%d", calls, len(rec.delays))
	}
}

func TestDoStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := &sleepRecorder{}
	err := newPolicy(5, rec).Do(ctx, func(context.Context) error {
		return domain.ErrTransient
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("ожидали отмену контекста, получили %v", err)
	}
}

func TestSleepRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("ожидали context.Canceled, получили %v", err)
	}
	if err := Sleep(context.Background(), 0); err != nil {
		t.Fatalf("нулевая пауза не должна давать ошибку: %v", err)
	}
}

func TestDoSingleAttemptDoesNotSleep(t *testing.T) {
	rec := &sleepRecorder{}
	calls := 0
	err := newPolicy(1, rec).Do(context.Background(), func(context.Context) error {
		calls++
		return domain.ErrTransient
	})
	if !errors.Is(err, domain.ErrTransient) || calls != 1 || len(rec.delays) != 0 {
		t.Fatalf("одна попытка без пауз: err=%v calls=%d sleeps=%d", err, calls, len(rec.delays))
	}
}

func TestDoStopsWhenSleepIsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	policy := New("test", Config{MaxAttempts: 5}, zerolog.Nop()).WithSleep(func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	})
	err := policy.Do(ctx, func(context.Context) error {
		calls++
		return domain.ErrTransient
	})
	if !errors.Is(err, context.Canceled) || calls != 1 {
		t.Fatalf("отмена во время паузы должна прервать повторы: err=%v calls=%d", err, calls)
	}
}

func TestDoRetriesTimeoutUntilSuccess(t *testing.T) {
	rec := &sleepRecorder{}
	calls := 0
	err := newPolicy(4, rec).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("slack: %w: %w", domain.ErrTransient, context.DeadlineExceeded)
		}
		return nil
	})
	if err != nil || calls != 3 || len(rec.delays) != 2 {
		t.Fatalf("таймаут должен повторяться: err=%v calls=%d sleeps=%d", err, calls, len(rec.delays))
	}
}
