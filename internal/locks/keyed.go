package locks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// KeyedMutex is an in-process Locker for single-instance deployments.
type KeyedMutex struct {
	mu    sync.Mutex
	held  map[string]heldLock
	nowFn func() time.Time
}

type heldLock struct {
	token     string
	expiresAt time.Time
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{
		held:  make(map[string]heldLock),
		nowFn: time.Now,
	}
}

func (m *KeyedMutex) TryLock(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn()
	if existing, ok := m.held[key]; ok && now.Before(existing.expiresAt) {
		return "", false, nil
	}

	token := uuid.NewString()
	m.held[key] = heldLock{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

func (m *KeyedMutex) Release(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.held[key]; ok && existing.token == token {
		delete(m.held, key)
	}
	return nil
}
