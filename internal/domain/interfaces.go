package domain

import (
	"context"
	"time"
)

// HistoryRequest запрос страницы истории канала или треда.
type HistoryRequest struct {
	ChannelID string
	// ThreadTS задаётся для чтения ответов в треде.
	ThreadTS string
	Oldest   time.Time
	Latest   time.Time
	Cursor   string
	Limit    int
}

// HistoryMessage сообщение в том виде, в котором его вернул чат-провайдер.
type HistoryMessage struct {
	ID         string
	UserID     string
	BotID      string
	SubType    string
	Text       string
	Timestamp  time.Time
	ThreadTS   string
	ReplyCount int
	// RunKey ключ прогона из метаданных, если сообщение является опубликованной сводкой.
	RunKey string
}

// HistoryPage одна страница истории.
type HistoryPage struct {
	Messages   []HistoryMessage
	NextCursor string
}

// ChannelHistory читает историю канала постранично.
type ChannelHistory interface {
	History(ctx context.Context, req HistoryRequest) (HistoryPage, error)
	Replies(ctx context.Context, req HistoryRequest) (HistoryPage, error)
}

// IdentityLookup возвращает отображаемое имя автора.
type IdentityLookup interface {
	DisplayName(ctx context.Context, authorID string) (string, error)
}

// PostRequest запрос на публикацию сообщения.
type PostRequest struct {
	ChannelID string
	Text      string
	// RunKey идентифицирует прогон (канал + дата) для защиты от повторной публикации.
	RunKey string
}

// Poster публикует сообщения в канал.
type Poster interface {
	PostMessage(ctx context.Context, req PostRequest) (string, error)
	// FindPosted ищет уже опубликованное сообщение с тем же RunKey начиная с since.
	FindPosted(ctx context.Context, channelID, runKey string, since time.Time) (string, bool, error)
}

// CompletionRequest запрос к языковой модели.
type CompletionRequest struct {
	System    string
	Prompt    string
	MaxTokens int
	JSON      bool
}

// CompletionResponse ответ языковой модели.
type CompletionResponse struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// Completer вызывает языковую модель.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// Translator переводит текст на английский.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang string) (string, error)
}

// RunStateStore хранит RunState между пробуждениями планировщика.
type RunStateStore interface {
	Load(ctx context.Context) (RunState, error)
	Save(ctx context.Context, state RunState) error
}
