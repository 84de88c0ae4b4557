package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"slack-digest-bot/internal/domain"
	"slack-digest-bot/internal/infra/metrics"
)

const (
	runStateKeyPrefix = "summary:last_run:"
	fieldRunDate      = "run_date"
	fieldMessageTS    = "message_ts"
)

// Redis хранит RunState в хеше summary:last_run:<channel>.
type Redis struct {
	client *redis.Client
	key    string
}

var _ domain.RunStateStore = (*Redis)(nil)

// NewRedis создаёт хранилище RunState для канала.
func NewRedis(client *redis.Client, channelID string) *Redis {
	return &Redis{client: client, key: runStateKeyPrefix + channelID}
}

// Load читает состояние; отсутствие ключа означает, что публикаций ещё не было.
func (r *Redis) Load(ctx context.Context) (domain.RunState, error) {
	start := time.Now()
	values, err := r.client.HGetAll(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		err = nil
	}
	metrics.ObserveNetworkRequest("redis", "hgetall", "run_state", start, err)
	if err != nil {
		return domain.RunState{}, fmt.Errorf("redis hgetall %s: %w", r.key, err)
	}
	return domain.RunState{
		LastRunDate: values[fieldRunDate],
		MessageTS:   values[fieldMessageTS],
	}, nil
}

// Save перезаписывает состояние.
func (r *Redis) Save(ctx context.Context, state domain.RunState) error {
	start := time.Now()
	err := r.client.HSet(ctx, r.key, fieldRunDate, state.LastRunDate, fieldMessageTS, state.MessageTS).Err()
	metrics.ObserveNetworkRequest("redis", "hset", "run_state", start, err)
	if err != nil {
		return fmt.Errorf("redis hset %s: %w", r.key, err)
	}
	return nil
}
