package domain

import "time"

// Message представляет одно сообщение канала в рамках одного прогона.
type Message struct {
	ID                string
	AuthorID          string
	AuthorDisplayName string
	Timestamp         time.Time
	RawText           string
	NormalizedText    string
	IsTranslated      bool
	Language          string
	ThreadID          string
	InThread          bool
}

// DisplayName возвращает имя автора или его идентификатор, если имя ещё не известно.
func (m Message) DisplayName() string {
	if m.AuthorDisplayName != "" {
		return m.AuthorDisplayName
	}
	return m.AuthorID
}

// Text возвращает нормализованный текст, а до нормализации исходный.
func (m Message) Text() string {
	if m.NormalizedText != "" {
		return m.NormalizedText
	}
	return m.RawText
}

// TimeWindow задаёт полуинтервал [Start, End) длиной ровно 24 часа.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// WindowLength длина окна сводки.
const WindowLength = 24 * time.Hour

// WindowEndingAt строит окно, заканчивающееся в момент end.
func WindowEndingAt(end time.Time) TimeWindow {
	return TimeWindow{Start: end.Add(-WindowLength), End: end}
}

// Contains проверяет, попадает ли момент в окно.
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// ActionItem описывает извлечённую задачу.
type ActionItem struct {
	Owner       string
	Description string
	Deadline    string
}

// SummaryResult итог работы SummaryComposer.
type SummaryResult struct {
	MessageCount int
	KeyPoints    []string
	ActionItems  []ActionItem
	// OmittedCount число самых старых сообщений, не вошедших в транскрипт из-за лимита токенов.
	OmittedCount int
}

// MaxKeyPoints максимальное число ключевых пунктов в сводке.
const MaxKeyPoints = 3

// NoActivityKeyPoint пункт сводки для пустого окна.
const NoActivityKeyPoint = "No activity in the last 24 hours."

// NoActivitySummary возвращает детерминированную сводку для окна без сообщений.
func NoActivitySummary() SummaryResult {
	return SummaryResult{MessageCount: 0, KeyPoints: []string{NoActivityKeyPoint}}
}

// PostConfirmation подтверждение публикации.
type PostConfirmation struct {
	ChannelID string
	MessageTS string
	// Deduplicated выставляется, если сводка уже была опубликована ранее и повторный пост не делался.
	Deduplicated bool
}

// RunState хранит дату последней успешной публикации в целевом часовом поясе.
type RunState struct {
	LastRunDate string
	// MessageTS идентификатор опубликованной сводки, если известен.
	MessageTS string
}

// DateLayout формат даты RunState.
const DateLayout = "2006-01-02"

// RanOn проверяет, была ли публикация в указанный календарный день.
func (s RunState) RanOn(date string) bool {
	return s.LastRunDate != "" && s.LastRunDate == date
}
