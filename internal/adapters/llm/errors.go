package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"slack-digest-bot/internal/domain"
)

// statusKind переводит HTTP статус ответа провайдера в доменную ошибку.
func statusKind(status int, retryAfter time.Duration) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.ErrAuth
	case status == http.StatusTooManyRequests:
		return &domain.RateLimitedError{RetryAfter: retryAfter}
	case status == http.StatusRequestTimeout || status == http.StatusConflict:
		return domain.ErrTransient
	case status >= http.StatusInternalServerError:
		// 529 overloaded у Anthropic тоже сюда
		return domain.ErrTransient
	}
	return nil
}

func wrapStatus(provider string, status int, retryAfter time.Duration, err error) error {
	if kind := statusKind(status, retryAfter); kind != nil {
		return fmt.Errorf("%s: %w: %w", provider, kind, err)
	}
	return fmt.Errorf("%s: %w", provider, err)
}

// wrapTransport классифицирует сетевые ошибки: таймауты и обрывы считаются временными.
func wrapTransport(ctx context.Context, provider string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", provider, ctxErr)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", provider, domain.ErrTransient, err)
	}
	return fmt.Errorf("%s: %w", provider, err)
}
