package summary

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"slack-digest-bot/internal/domain"
	"slack-digest-bot/internal/infra/retry"
)

var base = time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC) // 2024-03-02 07:00 JST

func at(offset time.Duration) time.Time { return base.Add(offset) }

func ts(t time.Time) string { return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/1000) }

func hmsg(user, text string, when time.Time) domain.HistoryMessage {
	return domain.HistoryMessage{ID: ts(when), UserID: user, Text: text, Timestamp: when}
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func testPolicy(rec *sleepRecorder) retry.Policy {
	cfg := retry.Config{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond}
	if rec == nil {
		rec = &sleepRecorder{}
	}
	return retry.New("test", cfg, zerolog.Nop()).WithSleep(rec.sleep)
}

// fakeHistory отдаёт страницы по курсору; ключ "" первая страница.
type fakeHistory struct {
	mu       sync.Mutex
	pages    map[string]domain.HistoryPage
	replies  map[string]domain.HistoryPage
	failures []error
	calls    int
	requests []domain.HistoryRequest
}

func (f *fakeHistory) History(_ context.Context, req domain.HistoryRequest) (domain.HistoryPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.requests = append(f.requests, req)
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		if err != nil {
			return domain.HistoryPage{}, err
		}
	}
	page, ok := f.pages[req.Cursor]
	if !ok {
		return domain.HistoryPage{}, fmt.Errorf("unknown cursor %q", req.Cursor)
	}
	return page, nil
}

func (f *fakeHistory) Replies(_ context.Context, req domain.HistoryRequest) (domain.HistoryPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.replies[req.ThreadTS], nil
}

type fakeIdentity struct {
	mu    sync.Mutex
	names map[string]string
	calls map[string]int
}

func newFakeIdentity(names map[string]string) *fakeIdentity {
	return &fakeIdentity{names: names, calls: make(map[string]int)}
}

func (f *fakeIdentity) DisplayName(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	name, ok := f.names[id]
	if !ok {
		return "", errors.New("user_not_found")
	}
	return name, nil
}

type fakeTranslator struct {
	mu    sync.Mutex
	fn    func(text string) (string, error)
	calls int
}

func (f *fakeTranslator) Translate(_ context.Context, text, _ string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(text)
}

type fakeCompleter struct {
	mu      sync.Mutex
	answers []string
	errs    []error
	prompts []string
}

func (f *fakeCompleter) Complete(_ context.Context, req domain.CompletionRequest) (domain.CompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.prompts)
	f.prompts = append(f.prompts, req.Prompt)
	if i < len(f.errs) && f.errs[i] != nil {
		return domain.CompletionResponse{}, f.errs[i]
	}
	if i < len(f.answers) {
		return domain.CompletionResponse{Text: f.answers[i]}, nil
	}
	return domain.CompletionResponse{}, errors.New("no scripted answer")
}

func (f *fakeCompleter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// fakePoster имитирует канал: пост может «долететь», даже если клиент получил ошибку.
type fakePoster struct {
	mu         sync.Mutex
	posted     []domain.PostRequest
	postErrs   []error
	landOnFail bool
	finds      int
}

func (f *fakePoster) PostMessage(_ context.Context, req domain.PostRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.postErrs) > 0 {
		err := f.postErrs[0]
		f.postErrs = f.postErrs[1:]
		if err != nil {
			if f.landOnFail {
				f.posted = append(f.posted, req)
			}
			return "", err
		}
	}
	f.posted = append(f.posted, req)
	return fmt.Sprintf("1709330400.%06d", len(f.posted)), nil
}

func (f *fakePoster) FindPosted(_ context.Context, _ string, runKey string, _ time.Time) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finds++
	for i, p := range f.posted {
		if p.RunKey == runKey {
			return fmt.Sprintf("1709330400.%06d", i+1), true, nil
		}
	}
	return "", false, nil
}

func (f *fakePoster) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posted)
}

const threePoints = `{"key_points":["Release: v2 ships Friday","Hiring: two offers accepted","Infra: DB migration done"],"action_items":[{"owner":"Taro","description":"Prepare release notes","deadline":"Thursday"}]}`
