package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAuth отсутствующие или недействительные учётные данные. Фатально для процесса.
	ErrAuth = errors.New("authentication failed")
	// ErrNotInChannel бот не состоит в канале. Фатально для прогона.
	ErrNotInChannel = errors.New("bot is not a member of the channel")
	// ErrTransient временная ошибка провайдера или сети, допускает повтор.
	ErrTransient = errors.New("transient provider error")
	// ErrMalformedModelResponse ответ модели не удалось разобрать даже после строгого повтора.
	ErrMalformedModelResponse = errors.New("malformed model response")
	// ErrTranslation перевод не удался, текст остаётся как есть.
	ErrTranslation = errors.New("translation failed")
	// ErrRunInProgress прогон уже выполняется.
	ErrRunInProgress = errors.New("summary run already in progress")
)

// RateLimitedError сигнал ограничения частоты запросов от провайдера.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Is позволяет проверять ограничение частоты как временную ошибку.
func (e *RateLimitedError) Is(target error) bool {
	return target == ErrTransient
}

// IsTransient сообщает, имеет ли смысл повторить операцию.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsFatal сообщает, должна ли ошибка остановить процесс.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuth)
}

// RetryAfter возвращает интервал, указанный провайдером, если ошибка означает ограничение частоты.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}
