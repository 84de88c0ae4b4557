package slack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	slackgo "github.com/slack-go/slack"

	"slack-digest-bot/internal/domain"
)

var authErrors = map[string]struct{}{
	"invalid_auth":     {},
	"not_authed":       {},
	"token_revoked":    {},
	"token_expired":    {},
	"account_inactive": {},
	"missing_scope":    {},
	"no_permission":    {},
}

var channelErrors = map[string]struct{}{
	"not_in_channel":    {},
	"channel_not_found": {},
	"is_archived":       {},
}

var transientErrors = map[string]struct{}{
	"internal_error":      {},
	"fatal_error":         {},
	"service_unavailable": {},
	"request_timeout":     {},
}

// mapError переводит ошибки slack-go в доменные виды ошибок.
func mapError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("slack %s: %w", op, ctxErr)
	}

	var rateLimited *slackgo.RateLimitedError
	if errors.As(err, &rateLimited) {
		return fmt.Errorf("slack %s: %w", op, &domain.RateLimitedError{RetryAfter: rateLimited.RetryAfter})
	}

	var apiErr slackgo.SlackErrorResponse
	if errors.As(err, &apiErr) {
		return fmt.Errorf("slack %s: %w: %w", op, kindOf(apiErr.Err), err)
	}

	var statusErr slackgo.StatusCodeError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.Code == http.StatusTooManyRequests:
			return fmt.Errorf("slack %s: %w", op, &domain.RateLimitedError{})
		case statusErr.Code == http.StatusUnauthorized || statusErr.Code == http.StatusForbidden:
			return fmt.Errorf("slack %s: %w: %w", op, domain.ErrAuth, err)
		case statusErr.Code >= http.StatusInternalServerError:
			return fmt.Errorf("slack %s: %w: %w", op, domain.ErrTransient, err)
		}
		return fmt.Errorf("slack %s: %w", op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("slack %s: %w: %w", op, domain.ErrTransient, err)
	}
	return fmt.Errorf("slack %s: %w", op, err)
}

func kindOf(code string) error {
	if _, ok := authErrors[code]; ok {
		return domain.ErrAuth
	}
	if _, ok := channelErrors[code]; ok {
		return domain.ErrNotInChannel
	}
	if _, ok := transientErrors[code]; ok {
		return domain.ErrTransient
	}
	if code == "ratelimited" {
		return &domain.RateLimitedError{}
	}
	return errors.New(code)
}
