package summary

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"slack-digest-bot/internal/domain"
)

func TestFetchPaginatesFiltersAndSorts(t *testing.T) {
	window := domain.WindowEndingAt(base)
	parent := hmsg("U1", "release plan?", at(-10*time.Hour))
	parent.ThreadTS = parent.ID
	parent.ReplyCount = 2
	dup := hmsg("U2", "second page msg", at(-20*time.Hour))

	history := &fakeHistory{
		pages: map[string]domain.HistoryPage{
			"": {
				Messages: []domain.HistoryMessage{
					hmsg("U2", "latest", at(-1*time.Hour)),
					{ID: "x1", SubType: "channel_join", UserID: "U3", Text: "joined", Timestamp: at(-2 * time.Hour)},
					{ID: ts(at(-3 * time.Hour)), BotID: "BSELF", Text: "old summary", Timestamp: at(-3 * time.Hour)},
					hmsg("U1", "   ", at(-4*time.Hour)),
					parent,
				},
				NextCursor: "p2",
			},
			"p2": {
				Messages: []domain.HistoryMessage{
					dup,
					dup,
					hmsg("U1", "exactly at start", window.Start),
					hmsg("U1", "at end is excluded", window.End),
				},
			},
		},
		replies: map[string]domain.HistoryPage{
			parent.ID: {Messages: []domain.HistoryMessage{
				parent,
				{ID: ts(at(-9 * time.Hour)), UserID: "U2", Text: "ship friday", Timestamp: at(-9 * time.Hour), ThreadTS: parent.ID},
				{ID: ts(at(-8 * time.Hour)), UserID: "U3", Text: "ok", Timestamp: at(-8 * time.Hour), ThreadTS: parent.ID},
			}},
		},
	}

	f := NewFetcher(history, testPolicy(nil), FetcherConfig{PageSize: 2, SelfBotID: "BSELF"}, zerolog.Nop())
	msgs, err := f.Fetch(context.Background(), "C1", window)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	wantTexts := []string{"exactly at start", "second page msg", "release plan?", "ship friday", "ok", "latest"}
	if len(msgs) != len(wantTexts) {
		t.Fatalf("ожидали %d сообщений, получили %d: %+v", len(wantTexts), len(msgs), msgs)
	}
	for i, want := range wantTexts {
		if msgs[i].RawText != want {
			t.Fatalf("сообщение %d: ожидали %q, получили %q", i, want, msgs[i].RawText)
		}
		if !window.Contains(msgs[i].Timestamp) {
			t.Fatalf("сообщение вне окна: %v", msgs[i].Timestamp)
		}
	}
	if !msgs[3].InThread || msgs[3].ThreadID != parent.ID {
		t.Fatalf("ответ в треде не помечен: %+v", msgs[3])
	}
	if msgs[2].InThread {
		t.Fatalf("родитель треда не должен считаться ответом")
	}
	if history.calls != 2 {
		t.Fatalf("ожидали 2 страницы, запрошено %d", history.calls)
	}
	if req := history.requests[0]; !req.Oldest.Equal(window.Start) || !req.Latest.Equal(window.End) || req.Limit != 2 {
		t.Fatalf("неверный запрос истории: %+v", req)
	}
}

func TestFetchWaitsOnRateLimit(t *testing.T) {
	rec := &sleepRecorder{}
	history := &fakeHistory{
		pages:    map[string]domain.HistoryPage{"": {Messages: []domain.HistoryMessage{hmsg("U1", "hi", at(-time.Hour))}}},
		failures: []error{&domain.RateLimitedError{RetryAfter: 30 * time.Second}},
	}
	f := NewFetcher(history, testPolicy(rec), FetcherConfig{}, zerolog.Nop())

	msgs, err := f.Fetch(context.Background(), "C1", domain.WindowEndingAt(base))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("ожидали 1 сообщение, получили %d", len(msgs))
	}
	if len(rec.delays) != 1 || rec.delays[0] != 30*time.Second {
		t.Fatalf("ожидали паузу Retry-After 30s, получили %v", rec.delays)
	}
}

func TestFetchNotInChannelIsNotRetried(t *testing.T) {
	rec := &sleepRecorder{}
	history := &fakeHistory{failures: []error{domain.ErrNotInChannel}}
	f := NewFetcher(history, testPolicy(rec), FetcherConfig{}, zerolog.Nop())

	_, err := f.Fetch(context.Background(), "C1", domain.WindowEndingAt(base))
	if !errors.Is(err, domain.ErrNotInChannel) {
		t.Fatalf("ожидали ErrNotInChannel, получили %v", err)
	}
	if history.calls != 1 || len(rec.delays) != 0 {
		t.Fatalf("постоянная ошибка не должна повторяться: calls=%d", history.calls)
	}
}

func TestPagesStopsWhenConsumerBreaks(t *testing.T) {
	history := &fakeHistory{pages: map[string]domain.HistoryPage{
		"":   {Messages: []domain.HistoryMessage{hmsg("U1", "a", at(-time.Hour))}, NextCursor: "p2"},
		"p2": {Messages: []domain.HistoryMessage{hmsg("U1", "b", at(-2*time.Hour))}},
	}}
	f := NewFetcher(history, testPolicy(nil), FetcherConfig{}, zerolog.Nop())

	for _, err := range f.Pages(context.Background(), "C1", domain.WindowEndingAt(base)) {
		if err != nil {
			t.Fatalf("Pages: %v", err)
		}
		break
	}
	if history.calls != 1 {
		t.Fatalf("итератор должен быть ленивым, запрошено %d страниц", history.calls)
	}
}
