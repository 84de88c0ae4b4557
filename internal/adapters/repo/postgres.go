package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"slack-digest-bot/internal/domain"
	"slack-digest-bot/internal/infra/metrics"
)

// pgQuerier общий интерфейс pgxpool.Pool и тестового пула.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const createRunsTable = `CREATE TABLE IF NOT EXISTS summary_runs (
	channel_id TEXT NOT NULL,
	run_date DATE NOT NULL,
	posted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	message_ts TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (channel_id, run_date)
)`

const selectLastRun = `SELECT to_char(run_date, 'YYYY-MM-DD'), message_ts
FROM summary_runs
WHERE channel_id = $1
ORDER BY run_date DESC
LIMIT 1`

const upsertRun = `INSERT INTO summary_runs (channel_id, run_date, posted_at, message_ts)
VALUES ($1, $2::date, $3, $4)
ON CONFLICT (channel_id, run_date) DO UPDATE
SET posted_at = EXCLUDED.posted_at, message_ts = EXCLUDED.message_ts`

// Postgres хранит отметки об успешных публикациях в таблице summary_runs.
type Postgres struct {
	db        pgQuerier
	channelID string
	now       func() time.Time
}

var _ domain.RunStateStore = (*Postgres)(nil)

// NewPostgres создаёт хранилище RunState для канала.
func NewPostgres(db pgQuerier, channelID string) *Postgres {
	return &Postgres{db: db, channelID: channelID, now: time.Now}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// EnsureSchema создаёт таблицу, если её ещё нет.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.db.Exec(ctx, createRunsTable)
	metrics.ObserveNetworkRequest("postgres", "ensure_schema", "summary_runs", start, err)
	if err != nil {
		return fmt.Errorf("create summary_runs: %w", err)
	}
	return nil
}

// Load возвращает последнюю отметку для канала.
func (p *Postgres) Load(ctx context.Context) (domain.RunState, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var state domain.RunState
	start := time.Now()
	err := p.db.QueryRow(ctx, selectLastRun, p.channelID).Scan(&state.LastRunDate, &state.MessageTS)
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.ObserveNetworkRequest("postgres", "load_run_state", "summary_runs", start, nil)
		return domain.RunState{}, nil
	}
	metrics.ObserveNetworkRequest("postgres", "load_run_state", "summary_runs", start, err)
	if err != nil {
		return domain.RunState{}, fmt.Errorf("select summary_runs: %w", err)
	}
	return state, nil
}

// Save записывает отметку о публикации за state.LastRunDate.
func (p *Postgres) Save(ctx context.Context, state domain.RunState) error {
	if _, err := time.Parse(domain.DateLayout, state.LastRunDate); err != nil {
		return fmt.Errorf("run date %q: %w", state.LastRunDate, err)
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.db.Exec(ctx, upsertRun, p.channelID, state.LastRunDate, p.now().UTC(), state.MessageTS)
	metrics.ObserveNetworkRequest("postgres", "save_run_state", "summary_runs", start, err)
	if err != nil {
		return fmt.Errorf("upsert summary_runs: %w", err)
	}
	return nil
}
