package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"slack-digest-bot/internal/domain"
	"slack-digest-bot/internal/infra/metrics"
)

// ErrInvalidTimezone возвращается, если указан некорректный часовой пояс.
var ErrInvalidTimezone = errors.New("invalid timezone")

// ErrInvalidTime возвращается, если время запуска не в формате ЧЧ:ММ.
var ErrInvalidTime = errors.New("invalid time of day, want HH:MM")

const (
	defaultPoll = time.Minute
	// scheduledGrace сколько после времени запуска пробуждение ещё считается плановым.
	scheduledGrace = 5 * time.Minute
)

// State состояние планировщика.
type State int

const (
	StateWaiting State = iota
	StateRunning
	StateCooldown
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateRunning:
		return "running"
	case StateCooldown:
		return "cooldown"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Clock источник времени и ожидания.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

// SystemClock возвращает часы на основе time.Now.
func SystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Runner выполняет один прогон сводки за окно.
type Runner interface {
	Run(ctx context.Context, window domain.TimeWindow, trigger domain.RunTrigger) (domain.RunReport, error)
}

// Config расписание ежедневного запуска.
type Config struct {
	Location     *time.Location
	Hour, Minute int
	SkipWeekdays []time.Weekday
	// Poll максимальная длительность одного сна.
	Poll time.Duration
}

// Scheduler запускает сводку раз в день в заданное локальное время.
// Решение принимается заново после каждого пробуждения по календарной дате в поясе,
// поэтому сон машины, дрейф часов и рестарт не приводят к пропуску или повтору.
type Scheduler struct {
	runner Runner
	store  domain.RunStateStore
	clock  Clock
	cfg    Config
	log    zerolog.Logger

	mu            sync.RWMutex
	state         State
	lastRunDate   string
	cooldownUntil time.Time
}

// New создаёт планировщик.
func New(runner Runner, store domain.RunStateStore, clock Clock, cfg Config, logger zerolog.Logger) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Poll <= 0 || cfg.Poll > defaultPoll {
		cfg.Poll = defaultPoll
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &Scheduler{runner: runner, store: store, clock: clock, cfg: cfg, log: logger}
}

// State возвращает текущее состояние.
func (s *Scheduler) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// StateName возвращает текущее состояние строкой.
func (s *Scheduler) StateName() string { return s.State().String() }

// LastRunDate дата последней успешной публикации, известная процессу.
func (s *Scheduler) LastRunDate() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRunDate
}

func (s *Scheduler) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	metrics.SchedulerState.Set(float64(state))
}

// Start крутит цикл до отмены контекста или фатальной ошибки.
func (s *Scheduler) Start(ctx context.Context) error {
	s.log.Info().
		Str("tz", s.cfg.Location.String()).
		Str("at", fmt.Sprintf("%02d:%02d", s.cfg.Hour, s.cfg.Minute)).
		Msg("scheduler: запущен")
	for {
		if _, err := s.Tick(ctx); err != nil {
			return err
		}
		if err := s.clock.Sleep(ctx, s.nextWake()); err != nil {
			return err
		}
	}
}

// Tick принимает решение для текущего момента и при необходимости выполняет прогон.
// Возвращает true, если прогон выполнялся.
func (s *Scheduler) Tick(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	now := s.clock.Now().In(s.cfg.Location)
	today := now.Format(domain.DateLayout)
	trigger := TriggerOn(now, s.cfg.Hour, s.cfg.Minute)

	if now.Before(trigger) {
		s.setState(StateWaiting)
		return false, nil
	}
	s.mu.RLock()
	cooling := now.Before(s.cooldownUntil)
	ranToday := s.lastRunDate == today
	s.mu.RUnlock()
	if cooling || ranToday || s.skipped(now.Weekday()) {
		s.setState(StateCooldown)
		return false, nil
	}

	state, err := s.store.Load(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("scheduler: не удалось прочитать состояние, полагаемся на память процесса")
	} else if state.RanOn(today) {
		s.mu.Lock()
		s.lastRunDate = today
		s.mu.Unlock()
		s.setState(StateCooldown)
		return false, nil
	}

	kind := domain.TriggerScheduled
	if now.Sub(trigger) > scheduledGrace {
		kind = domain.TriggerCatchUp
	}
	s.setState(StateRunning)
	report, err := s.runner.Run(ctx, domain.WindowEndingAt(trigger), kind)
	if err != nil {
		return true, s.handleFailure(ctx, err, now)
	}

	s.mu.Lock()
	s.lastRunDate = today
	s.mu.Unlock()
	if err := s.store.Save(ctx, domain.RunState{LastRunDate: today, MessageTS: report.Confirmation.MessageTS}); err != nil {
		s.log.Error().Err(err).Str("date", today).Msg("scheduler: не удалось сохранить состояние")
	}
	s.setState(StateCooldown)
	s.log.Info().Str("date", today).Str("trigger", string(kind)).Msg("scheduler: сводка за день опубликована")
	return true, nil
}

func (s *Scheduler) handleFailure(ctx context.Context, err error, now time.Time) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if domain.IsFatal(err) {
		s.log.Error().Err(err).Msg("scheduler: фатальная ошибка, останавливаемся")
		return err
	}
	if errors.Is(err, domain.ErrRunInProgress) {
		// ручной прогон ещё идёт, проверим на следующем пробуждении
		s.setState(StateWaiting)
		return nil
	}
	next := NextTrigger(now, s.cfg.Hour, s.cfg.Minute)
	s.mu.Lock()
	s.cooldownUntil = next
	s.mu.Unlock()
	s.setState(StateCooldown)
	s.log.Error().Err(err).Time("next_attempt", next).Msg("scheduler: прогон не удался, ждём следующего дня")
	return nil
}

func (s *Scheduler) skipped(day time.Weekday) bool {
	for _, skip := range s.cfg.SkipWeekdays {
		if skip == day {
			return true
		}
	}
	return false
}

// nextWake время сна до следующей проверки, не больше Poll.
func (s *Scheduler) nextWake() time.Duration {
	now := s.clock.Now().In(s.cfg.Location)
	wait := NextTrigger(now, s.cfg.Hour, s.cfg.Minute).Sub(now)
	if wait > s.cfg.Poll {
		wait = s.cfg.Poll
	}
	if wait < time.Second {
		wait = time.Second
	}
	return wait
}

// TriggerOn момент запуска в календарный день t (в поясе t).
func TriggerOn(t time.Time, hour, minute int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, hour, minute, 0, 0, t.Location())
}

// NextTrigger ближайший момент запуска строго после now.
func NextTrigger(now time.Time, hour, minute int) time.Time {
	trigger := TriggerOn(now, hour, minute)
	if !trigger.After(now) {
		y, m, d := now.Date()
		trigger = time.Date(y, m, d+1, hour, minute, 0, 0, now.Location())
	}
	return trigger
}

// ParseLocalTime разбирает время суток в формате ЧЧ:ММ.
func ParseLocalTime(input string) (hour, minute int, err error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(input))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTime, input)
	}
	return parsed.Hour(), parsed.Minute(), nil
}

// LoadLocation загружает часовой пояс, допуская небрежный ввод вроде "asia/tokyo".
func LoadLocation(raw string) (*time.Location, error) {
	name, err := NormalizeTimezone(raw)
	if err != nil {
		return nil, err
	}
	return time.LoadLocation(name)
}

// NormalizeTimezone приводит имя пояса к каноничному виду IANA.
func NormalizeTimezone(raw string) (string, error) {
	name := strings.ReplaceAll(strings.TrimSpace(raw), " ", "_")
	if name == "" {
		return "", ErrInvalidTimezone
	}
	for _, candidate := range []string{name, titleZone(name)} {
		if _, err := time.LoadLocation(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", ErrInvalidTimezone
}

// titleZone делает заглавной первую букву каждого слова: "america/new_york" -> "America/New_York".
func titleZone(name string) string {
	out := []rune(strings.ToLower(name))
	upper := true
	for i, r := range out {
		if upper {
			out[i] = unicode.ToUpper(r)
		}
		upper = r == '/' || r == '_' || r == '-'
	}
	return string(out)
}
