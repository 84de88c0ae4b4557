package slack

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	slackgo "github.com/slack-go/slack"
	"golang.org/x/time/rate"

	"slack-digest-bot/internal/domain"
	"slack-digest-bot/internal/infra/metrics"
)

const (
	// SummaryEventType тип метаданных, которыми помечается сводка.
	SummaryEventType = "daily_summary"
	runKeyField      = "run_key"
	findPageLimit    = 100
	findMaxPages     = 5
	defaultTimeout   = 30 * time.Second
)

// Options параметры клиента Slack Web API.
type Options struct {
	Token             string
	APIURL            string
	RequestsPerMinute int
	// Timeout ограничивает каждый запрос, если HTTPClient не задан.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Identity данные токена бота из auth.test.
type Identity struct {
	TeamID string
	UserID string
	BotID  string
}

// Client реализует доступ к Slack: история, пользователи, публикация.
type Client struct {
	api     *slackgo.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

// New создаёт клиента Slack.
func New(opts Options, logger zerolog.Logger) *Client {
	var options []slackgo.Option
	if opts.APIURL != "" {
		apiURL := opts.APIURL
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		options = append(options, slackgo.OptionAPIURL(apiURL))
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	options = append(options, slackgo.OptionHTTPClient(httpClient))
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}
	return &Client{
		api:     slackgo.New(opts.Token, options...),
		limiter: limiter,
		log:     logger,
	}
}

// AuthTest проверяет токен и возвращает идентичность бота.
func (c *Client) AuthTest(ctx context.Context) (Identity, error) {
	if err := c.wait(ctx); err != nil {
		return Identity{}, err
	}
	start := time.Now()
	resp, err := c.api.AuthTestContext(ctx)
	metrics.ObserveNetworkRequest("slack", "auth.test", "", start, err)
	if err != nil {
		return Identity{}, mapError(ctx, "auth.test", err)
	}
	return Identity{TeamID: resp.TeamID, UserID: resp.UserID, BotID: resp.BotID}, nil
}

// History возвращает страницу conversations.history.
func (c *Client) History(ctx context.Context, req domain.HistoryRequest) (domain.HistoryPage, error) {
	if err := c.wait(ctx); err != nil {
		return domain.HistoryPage{}, err
	}
	params := &slackgo.GetConversationHistoryParameters{
		ChannelID:          req.ChannelID,
		Cursor:             req.Cursor,
		Oldest:             formatTS(req.Oldest),
		Latest:             formatTS(req.Latest),
		Limit:              req.Limit,
		IncludeAllMetadata: true,
	}
	start := time.Now()
	resp, err := c.api.GetConversationHistoryContext(ctx, params)
	metrics.ObserveNetworkRequest("slack", "conversations.history", req.ChannelID, start, err)
	if err != nil {
		return domain.HistoryPage{}, mapError(ctx, "conversations.history", err)
	}
	return domain.HistoryPage{
		Messages:   c.convert(resp.Messages),
		NextCursor: resp.ResponseMetaData.NextCursor,
	}, nil
}

// Replies возвращает страницу conversations.replies для треда req.ThreadTS.
func (c *Client) Replies(ctx context.Context, req domain.HistoryRequest) (domain.HistoryPage, error) {
	if err := c.wait(ctx); err != nil {
		return domain.HistoryPage{}, err
	}
	params := &slackgo.GetConversationRepliesParameters{
		ChannelID: req.ChannelID,
		Timestamp: req.ThreadTS,
		Cursor:    req.Cursor,
		Oldest:    formatTS(req.Oldest),
		Latest:    formatTS(req.Latest),
		Limit:     req.Limit,
	}
	start := time.Now()
	msgs, _, next, err := c.api.GetConversationRepliesContext(ctx, params)
	metrics.ObserveNetworkRequest("slack", "conversations.replies", req.ChannelID, start, err)
	if err != nil {
		return domain.HistoryPage{}, mapError(ctx, "conversations.replies", err)
	}
	return domain.HistoryPage{Messages: c.convert(msgs), NextCursor: next}, nil
}

// DisplayName возвращает имя пользователя: display name, затем real name, затем логин.
func (c *Client) DisplayName(ctx context.Context, userID string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	start := time.Now()
	user, err := c.api.GetUserInfoContext(ctx, userID)
	metrics.ObserveNetworkRequest("slack", "users.info", "", start, err)
	if err != nil {
		return "", mapError(ctx, "users.info", err)
	}
	for _, name := range []string{user.Profile.DisplayName, user.RealName, user.Profile.RealName, user.Name} {
		if name = strings.TrimSpace(name); name != "" {
			return name, nil
		}
	}
	return "", fmt.Errorf("slack users.info: user %s has no name", userID)
}

// PostMessage публикует текст и помечает сообщение ключом прогона.
func (c *Client) PostMessage(ctx context.Context, req domain.PostRequest) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	options := []slackgo.MsgOption{
		slackgo.MsgOptionText(FitMessage(req.Text), false),
		slackgo.MsgOptionDisableLinkUnfurl(),
	}
	if req.RunKey != "" {
		options = append(options, slackgo.MsgOptionMetadata(slackgo.SlackMetadata{
			EventType:    SummaryEventType,
			EventPayload: map[string]interface{}{runKeyField: req.RunKey},
		}))
	}
	start := time.Now()
	_, ts, err := c.api.PostMessageContext(ctx, req.ChannelID, options...)
	metrics.ObserveNetworkRequest("slack", "chat.postMessage", req.ChannelID, start, err)
	if err != nil {
		return "", mapError(ctx, "chat.postMessage", err)
	}
	return ts, nil
}

// FindPosted ищет в истории канала сообщение с тем же ключом прогона.
func (c *Client) FindPosted(ctx context.Context, channelID, runKey string, since time.Time) (string, bool, error) {
	cursor := ""
	for page := 0; page < findMaxPages; page++ {
		resp, err := c.History(ctx, domain.HistoryRequest{
			ChannelID: channelID,
			Oldest:    since,
			Cursor:    cursor,
			Limit:     findPageLimit,
		})
		if err != nil {
			return "", false, err
		}
		for _, msg := range resp.Messages {
			if msg.RunKey == runKey {
				return msg.ID, true, nil
			}
		}
		if resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}
	return "", false, nil
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("slack: rate limiter: %w", err)
	}
	return nil
}

func (c *Client) convert(msgs []slackgo.Message) []domain.HistoryMessage {
	out := make([]domain.HistoryMessage, 0, len(msgs))
	for _, msg := range msgs {
		ts, err := parseTS(msg.Timestamp)
		if err != nil {
			c.log.Warn().Err(err).Str("ts", msg.Timestamp).Msg("slack: пропускаем сообщение с некорректным ts")
			continue
		}
		converted := domain.HistoryMessage{
			ID:         msg.Timestamp,
			UserID:     msg.User,
			BotID:      msg.BotID,
			SubType:    msg.SubType,
			Text:       msg.Text,
			Timestamp:  ts,
			ThreadTS:   msg.ThreadTimestamp,
			ReplyCount: msg.ReplyCount,
		}
		if msg.Metadata.EventType == SummaryEventType {
			if key, ok := msg.Metadata.EventPayload[runKeyField].(string); ok {
				converted.RunKey = key
			}
		}
		out = append(out, converted)
	}
	return out
}

// parseTS разбирает ts вида "1700000000.000100".
func parseTS(ts string) (time.Time, error) {
	secPart, fracPart, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse ts %q: %w", ts, err)
	}
	var micros int64
	if fracPart != "" {
		if len(fracPart) > 6 {
			fracPart = fracPart[:6]
		}
		fracPart += strings.Repeat("0", 6-len(fracPart))
		micros, err = strconv.ParseInt(fracPart, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse ts %q: %w", ts, err)
		}
	}
	return time.Unix(sec, micros*int64(time.Microsecond)).UTC(), nil
}

func formatTS(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/int(time.Microsecond))
}
