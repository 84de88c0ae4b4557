package repo

import (
	"context"
	"sync"

	"slack-digest-bot/internal/domain"
)

// Memory хранит RunState в памяти процесса. После рестарта состояние теряется,
// повторную публикацию в этом случае отсекает метка прогона в Slack.
type Memory struct {
	mu    sync.RWMutex
	state domain.RunState
}

var _ domain.RunStateStore = (*Memory)(nil)

// NewMemory создаёт хранилище в памяти.
func NewMemory() *Memory {
	return &Memory{}
}

// Load возвращает текущее состояние.
func (m *Memory) Load(context.Context) (domain.RunState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, nil
}

// Save заменяет состояние.
func (m *Memory) Save(_ context.Context, state domain.RunState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	return nil
}
