package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRateLimitedIsTransient(t *testing.T) {
	err := fmt.Errorf("conversations.history: %w", &RateLimitedError{RetryAfter: 3 * time.Second})
	if !IsTransient(err) {
		t.Fatalf("ожидали, что ограничение частоты считается временной ошибкой")
	}
	after, ok := RetryAfter(err)
	if !ok || after != 3*time.Second {
		t.Fatalf("ожидали retry-after 3s, получили %v (%v)", after, ok)
	}
	if IsFatal(err) {
		t.Fatalf("ограничение частоты не должно быть фатальным")
	}
}

func TestFatalOnlyForAuth(t *testing.T) {
	if !IsFatal(fmt.Errorf("auth.test: %w", ErrAuth)) {
		t.Fatalf("ожидали фатальную ошибку авторизации")
	}
	for _, err := range []error{ErrNotInChannel, ErrMalformedModelResponse, ErrTranslation, ErrTransient} {
		if IsFatal(err) {
			t.Fatalf("ошибка %v не должна быть фатальной для процесса", err)
		}
	}
	if IsTransient(ErrNotInChannel) {
		t.Fatalf("not_in_channel не повторяется")
	}
	if _, ok := RetryAfter(errors.New("boom")); ok {
		t.Fatalf("retry-after только для ограничения частоты")
	}
}

func TestWindowContains(t *testing.T) {
	end := time.Date(2026, 10, 15, 7, 0, 0, 0, time.UTC)
	w := WindowEndingAt(end)
	if w.End.Sub(w.Start) != 24*time.Hour {
		t.Fatalf("окно должно быть ровно 24 часа")
	}
	if !w.Contains(w.Start) {
		t.Fatalf("начало окна включается")
	}
	if w.Contains(w.End) {
		t.Fatalf("конец окна не включается")
	}
	if w.Contains(w.Start.Add(-time.Nanosecond)) {
		t.Fatalf("момент до начала окна не включается")
	}
}

func TestRunStateRanOn(t *testing.T) {
	var empty RunState
	if empty.RanOn("") || empty.RanOn("2026-10-15") {
		t.Fatalf("пустое состояние не совпадает ни с одной датой")
	}
	s := RunState{LastRunDate: "2026-10-15"}
	if !s.RanOn("2026-10-15") || s.RanOn("2026-10-16") {
		t.Fatalf("неверное сравнение дат")
	}
}
