package summary

import (
	"cmp"
	"context"
	"iter"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"slack-digest-bot/internal/domain"
	"slack-digest-bot/internal/infra/retry"
)

const defaultPageSize = 200

// skippedSubtypes служебные сообщения, которые не попадают в сводку.
var skippedSubtypes = map[string]struct{}{
	"bot_message":   {},
	"channel_join":  {},
	"channel_leave": {},
}

// FetcherConfig настройки чтения истории.
type FetcherConfig struct {
	PageSize int
	// SelfUserID и SelfBotID нужны, чтобы не включать в сводку собственные сообщения бота.
	SelfUserID string
	SelfBotID  string
}

// Fetcher собирает сообщения канала за окно, включая ответы в тредах.
type Fetcher struct {
	history domain.ChannelHistory
	retry   retry.Policy
	cfg     FetcherConfig
	log     zerolog.Logger
}

// NewFetcher создаёт сборщик истории.
func NewFetcher(history domain.ChannelHistory, policy retry.Policy, cfg FetcherConfig, logger zerolog.Logger) *Fetcher {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	return &Fetcher{history: history, retry: policy, cfg: cfg, log: logger}
}

type pageFunc func(ctx context.Context, req domain.HistoryRequest) (domain.HistoryPage, error)

// Pages лениво обходит страницы истории канала за окно.
func (f *Fetcher) Pages(ctx context.Context, channelID string, window domain.TimeWindow) iter.Seq2[domain.HistoryPage, error] {
	req := domain.HistoryRequest{
		ChannelID: channelID,
		Oldest:    window.Start,
		Latest:    window.End,
		Limit:     f.cfg.PageSize,
	}
	return f.pages(ctx, req, window, f.history.History)
}

func (f *Fetcher) replyPages(ctx context.Context, channelID, threadTS string, window domain.TimeWindow) iter.Seq2[domain.HistoryPage, error] {
	req := domain.HistoryRequest{
		ChannelID: channelID,
		ThreadTS:  threadTS,
		Oldest:    window.Start,
		Latest:    window.End,
		Limit:     f.cfg.PageSize,
	}
	return f.pages(ctx, req, window, f.history.Replies)
}

func (f *Fetcher) pages(ctx context.Context, req domain.HistoryRequest, window domain.TimeWindow, call pageFunc) iter.Seq2[domain.HistoryPage, error] {
	return func(yield func(domain.HistoryPage, error) bool) {
		cursor := ""
		for {
			req.Cursor = cursor
			var page domain.HistoryPage
			err := f.retry.Do(ctx, func(ctx context.Context) error {
				var err error
				page, err = call(ctx, req)
				return err
			})
			if err != nil {
				yield(domain.HistoryPage{}, err)
				return
			}
			if !yield(page, nil) {
				return
			}
			if page.NextCursor == "" || page.NextCursor == cursor || reachedStart(page, window) {
				return
			}
			cursor = page.NextCursor
		}
	}
}

// reachedStart сообщает, что в странице встретилось сообщение старше начала окна.
// История приходит от новых к старым, поэтому дальше листать незачем.
func reachedStart(page domain.HistoryPage, window domain.TimeWindow) bool {
	for _, msg := range page.Messages {
		if msg.Timestamp.Before(window.Start) {
			return true
		}
	}
	return false
}

// Fetch возвращает сообщения окна по возрастанию времени без дублей.
func (f *Fetcher) Fetch(ctx context.Context, channelID string, window domain.TimeWindow) ([]domain.Message, error) {
	seen := make(map[string]struct{})
	var (
		out     []domain.Message
		threads []string
	)
	for page, err := range f.Pages(ctx, channelID, window) {
		if err != nil {
			return nil, err
		}
		for _, hm := range page.Messages {
			if hm.ReplyCount > 0 && (hm.ThreadTS == "" || hm.ThreadTS == hm.ID) {
				threads = append(threads, hm.ID)
			}
			if msg, ok := f.accept(hm, window, false); ok {
				out = appendUnique(out, seen, msg)
			}
		}
	}

	for _, threadTS := range threads {
		for page, err := range f.replyPages(ctx, channelID, threadTS, window) {
			if err != nil {
				return nil, err
			}
			for _, hm := range page.Messages {
				if hm.ID == threadTS {
					continue
				}
				if msg, ok := f.accept(hm, window, true); ok {
					out = appendUnique(out, seen, msg)
				}
			}
		}
	}

	slices.SortFunc(out, func(a, b domain.Message) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	f.log.Debug().Int("messages", len(out)).Int("threads", len(threads)).Msg("fetcher: история собрана")
	return out, nil
}

func (f *Fetcher) accept(hm domain.HistoryMessage, window domain.TimeWindow, inThread bool) (domain.Message, bool) {
	if _, skip := skippedSubtypes[hm.SubType]; skip {
		return domain.Message{}, false
	}
	if strings.TrimSpace(hm.Text) == "" || hm.RunKey != "" {
		return domain.Message{}, false
	}
	if f.cfg.SelfUserID != "" && hm.UserID == f.cfg.SelfUserID {
		return domain.Message{}, false
	}
	if f.cfg.SelfBotID != "" && hm.BotID == f.cfg.SelfBotID {
		return domain.Message{}, false
	}
	if !window.Contains(hm.Timestamp) {
		return domain.Message{}, false
	}
	msg := domain.Message{
		ID:        hm.ID,
		AuthorID:  hm.UserID,
		Timestamp: hm.Timestamp,
		RawText:   hm.Text,
		InThread:  inThread,
	}
	if inThread {
		msg.ThreadID = hm.ThreadTS
	}
	return msg, true
}

func appendUnique(out []domain.Message, seen map[string]struct{}, msg domain.Message) []domain.Message {
	if _, dup := seen[msg.ID]; dup {
		return out
	}
	seen[msg.ID] = struct{}{}
	return append(out, msg)
}
