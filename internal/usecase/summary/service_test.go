package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"slack-digest-bot/internal/domain"
)

type pipeline struct {
	history    *fakeHistory
	identities *fakeIdentity
	translator *fakeTranslator
	completer  domain.Completer
	poster     *fakePoster
}

func (p pipeline) service() *Service {
	log := zerolog.Nop()
	svc := NewService(
		NewFetcher(p.history, testPolicy(nil), FetcherConfig{PageSize: 2}, log),
		p.identities,
		NewNormalizer(p.translator, log),
		NewComposer(p.completer, testPolicy(nil), ComposerConfig{Location: jst()}, log),
		NewPublisher(p.poster, testPolicy(nil), log),
		Config{ChannelID: "C1", Location: jst()},
		log,
	)
	svc.now = func() time.Time { return base }
	return svc
}

func englishTranslator() *fakeTranslator {
	return &fakeTranslator{fn: func(text string) (string, error) { return "translated: " + text, nil }}
}

// Сценарий A: смешанный английский и японский, несколько страниц, одна публикация.
func TestRunMixedLanguagesPostsOnce(t *testing.T) {
	history := &fakeHistory{pages: map[string]domain.HistoryPage{
		"": {Messages: []domain.HistoryMessage{
			hmsg("U1", "Release v2 is ready", at(-1*time.Hour)),
			hmsg("U2", "リリースは金曜日です", at(-2*time.Hour)),
		}, NextCursor: "p2"},
		"p2": {Messages: []domain.HistoryMessage{
			hmsg("U1", "<@U2> can you write the notes?", at(-3*time.Hour)),
			hmsg("U3", "採用の件、二名が承諾しました", at(-5*time.Hour)),
		}},
	}}
	completer := &fakeCompleter{answers: []string{threePoints}}
	p := pipeline{
		history:    history,
		identities: newFakeIdentity(map[string]string{"U1": "Taro Yamada", "U2": "Hanako Sato", "U3": "Ken"}),
		translator: englishTranslator(),
		completer:  completer,
		poster:     &fakePoster{},
	}

	report, err := p.service().Run(context.Background(), domain.WindowEndingAt(base), domain.TriggerScheduled)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if p.poster.count() != 1 {
		t.Fatalf("ожидали одну публикацию, получили %d", p.poster.count())
	}
	if report.Summary.MessageCount != 4 || report.Translated != 2 {
		t.Fatalf("неверный отчёт: %+v", report)
	}
	if n := len(report.Summary.KeyPoints); n < 1 || n > 3 {
		t.Fatalf("ключевых пунктов должно быть от 1 до 3: %d", n)
	}

	prompt := completer.prompts[0]
	for _, want := range []string{"translated: リリースは金曜日です", "Taro Yamada: @Hanako Sato can you write the notes?", "(4 messages)"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("в запросе к модели нет %q:\n%s", want, prompt)
		}
	}
	if strings.Index(prompt, "採用") > strings.Index(prompt, "Release v2") {
		t.Fatalf("транскрипт должен идти по возрастанию времени")
	}

	post := p.poster.posted[0]
	if post.RunKey != "C1:2024-03-02" {
		t.Fatalf("неверный ключ прогона: %s", post.RunKey)
	}
	if !strings.HasPrefix(post.Text, "*Daily Summary* (4 messages)") || !strings.Contains(post.Text, "• <@U1>: Prepare release notes") {
		t.Fatalf("неверный текст сводки:\n%s", post.Text)
	}
}

// Сценарий B: пустой канал, модель не вызывается, публикуется «нет активности».
func TestRunEmptyChannelPostsNoActivity(t *testing.T) {
	completer := &fakeCompleter{}
	p := pipeline{
		history:    &fakeHistory{pages: map[string]domain.HistoryPage{"": {}}},
		identities: newFakeIdentity(nil),
		translator: englishTranslator(),
		completer:  completer,
		poster:     &fakePoster{},
	}

	report, err := p.service().Run(context.Background(), domain.WindowEndingAt(base), domain.TriggerScheduled)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if completer.calls() != 0 {
		t.Fatalf("модель не должна вызываться для пустого окна")
	}
	if report.Summary.MessageCount != 0 || p.poster.count() != 1 {
		t.Fatalf("отчёт=%+v публикаций=%d", report.Summary, p.poster.count())
	}
	if !strings.Contains(p.poster.posted[0].Text, domain.NoActivityKeyPoint) {
		t.Fatalf("ожидали сообщение об отсутствии активности:\n%s", p.poster.posted[0].Text)
	}
}

// Сценарий C: первая попытка публикации упала по таймауту, но сообщение дошло.
func TestRunAmbiguousPostFailureDoesNotDuplicate(t *testing.T) {
	p := pipeline{
		history:    &fakeHistory{pages: map[string]domain.HistoryPage{"": {Messages: []domain.HistoryMessage{hmsg("U1", "hello", at(-time.Hour))}}}},
		identities: newFakeIdentity(map[string]string{"U1": "Taro"}),
		translator: englishTranslator(),
		completer:  &fakeCompleter{answers: []string{threePoints}},
		poster:     &fakePoster{postErrs: []error{errors.Join(domain.ErrTransient, context.DeadlineExceeded)}, landOnFail: true},
	}

	report, err := p.service().Run(context.Background(), domain.WindowEndingAt(base), domain.TriggerCatchUp)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if p.poster.count() != 1 {
		t.Fatalf("ожидали ровно одну публикацию, получили %d", p.poster.count())
	}
	if !report.Confirmation.Deduplicated {
		t.Fatalf("подтверждение должно ссылаться на найденное сообщение: %+v", report.Confirmation)
	}
}

func TestRunFailsOnNotInChannel(t *testing.T) {
	p := pipeline{
		history:    &fakeHistory{failures: []error{domain.ErrNotInChannel}},
		identities: newFakeIdentity(nil),
		translator: englishTranslator(),
		completer:  &fakeCompleter{},
		poster:     &fakePoster{},
	}
	_, err := p.service().Run(context.Background(), domain.WindowEndingAt(base), domain.TriggerScheduled)
	if !errors.Is(err, domain.ErrNotInChannel) {
		t.Fatalf("ожидали ErrNotInChannel, получили %v", err)
	}
	if p.poster.count() != 0 {
		t.Fatalf("при ошибке ничего не публикуется")
	}
}

type blockingCompleter struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingCompleter) Complete(ctx context.Context, _ domain.CompletionRequest) (domain.CompletionResponse, error) {
	close(b.started)
	select {
	case <-b.release:
	case <-ctx.Done():
		return domain.CompletionResponse{}, ctx.Err()
	}
	return domain.CompletionResponse{Text: threePoints}, nil
}

func TestRunRejectsConcurrentRuns(t *testing.T) {
	completer := &blockingCompleter{started: make(chan struct{}), release: make(chan struct{})}
	p := pipeline{
		history:    &fakeHistory{pages: map[string]domain.HistoryPage{"": {Messages: []domain.HistoryMessage{hmsg("U1", "hello", at(-time.Hour))}}}},
		identities: newFakeIdentity(map[string]string{"U1": "Taro"}),
		translator: englishTranslator(),
		completer:  completer,
		poster:     &fakePoster{},
	}
	svc := p.service()

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = svc.RunLast24h(context.Background(), domain.TriggerManual)
	}()
	<-completer.started

	if _, err := svc.RunLast24h(context.Background(), domain.TriggerManual); !IsBusy(err) {
		t.Fatalf("ожидали ErrRunInProgress, получили %v", err)
	}
	close(completer.release)
	wg.Wait()
	if firstErr != nil {
		t.Fatalf("первый прогон: %v", firstErr)
	}
	if p.poster.count() != 1 || !strings.Contains(p.poster.posted[0].RunKey, ":manual:") {
		t.Fatalf("ручной прогон должен публиковаться с уникальным ключом: %+v", p.poster.posted)
	}
}

// Сценарий A: 47 английских сообщений на нескольких страницах, модель отвечает полной сводкой.
func TestRunFortySevenEnglishMessages(t *testing.T) {
	const total = 47
	pages := make(map[string]domain.HistoryPage)
	cursor := ""
	for start := 0; start < total; start += 10 {
		var page domain.HistoryPage
		for i := start; i < min(start+10, total); i++ {
			user := fmt.Sprintf("U%d", i%4+1)
			page.Messages = append(page.Messages, hmsg(user, fmt.Sprintf("status update %d on the release plan", i), at(-time.Duration(i+1)*20*time.Minute)))
		}
		next := ""
		if start+10 < total {
			next = fmt.Sprintf("p%d", start+10)
		}
		page.NextCursor = next
		pages[cursor] = page
		cursor = next
	}
	translator := englishTranslator()
	completer := &fakeCompleter{answers: []string{threePoints}}
	p := pipeline{
		history:    &fakeHistory{pages: pages},
		identities: newFakeIdentity(map[string]string{"U1": "Taro", "U2": "Hanako", "U3": "Ken", "U4": "Yuki"}),
		translator: translator,
		completer:  completer,
		poster:     &fakePoster{},
	}

	report, err := p.service().Run(context.Background(), domain.WindowEndingAt(base), domain.TriggerScheduled)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Summary.MessageCount != total {
		t.Fatalf("ожидали %d сообщений, получили %d", total, report.Summary.MessageCount)
	}
	if len(report.Summary.KeyPoints) != 3 {
		t.Fatalf("ожидали ровно 3 ключевых пункта: %v", report.Summary.KeyPoints)
	}
	if len(report.Summary.ActionItems) == 0 {
		t.Fatalf("ожидали хотя бы одну задачу")
	}
	if translator.calls != 0 || report.Translated != 0 {
		t.Fatalf("английские сообщения не переводятся: calls=%d translated=%d", translator.calls, report.Translated)
	}
	if p.poster.count() != 1 || !strings.HasPrefix(p.poster.posted[0].Text, "*Daily Summary* (47 messages)") {
		t.Fatalf("неверная публикация: %d\n%v", p.poster.count(), p.poster.posted)
	}
}

func TestRunRetriesTimeouts(t *testing.T) {
	timeout := func(component string) error {
		return fmt.Errorf("%s: %w: %w", component, domain.ErrTransient, context.DeadlineExceeded)
	}
	history := &fakeHistory{
		pages:    map[string]domain.HistoryPage{"": {Messages: []domain.HistoryMessage{hmsg("U1", "deploy is green", at(-time.Hour))}}},
		failures: []error{timeout("slack")},
	}
	completer := &fakeCompleter{errs: []error{timeout("anthropic")}, answers: []string{"", threePoints}}
	p := pipeline{
		history:    history,
		identities: newFakeIdentity(map[string]string{"U1": "Taro"}),
		translator: englishTranslator(),
		completer:  completer,
		poster:     &fakePoster{},
	}

	report, err := p.service().Run(context.Background(), domain.WindowEndingAt(base), domain.TriggerScheduled)
	if err != nil {
		t.Fatalf("таймауты должны повторяться, получили %v", err)
	}
	if history.calls != 2 || completer.calls() != 2 {
		t.Fatalf("ожидали повтор каждого вызова: history=%d completer=%d", history.calls, completer.calls())
	}
	if report.Summary.MessageCount != 1 || p.poster.count() != 1 {
		t.Fatalf("отчёт=%+v публикаций=%d", report.Summary, p.poster.count())
	}
}
