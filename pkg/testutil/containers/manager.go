//go:build integration

package containers

import (
	"sync"
	"testing"
)

// Manager shares one Redis container across every suite in a test binary.
// Ryuk reaps the container when the binary exits.
type Manager struct {
	mu    sync.Mutex
	redis *RedisContainer
}

var (
	manager     *Manager
	managerOnce sync.Once
)

// GetManager returns the process-wide container manager.
func GetManager() *Manager {
	managerOnce.Do(func() {
		manager = &Manager{}
	})
	return manager
}

// GetRedis starts the shared Redis container on first use.
func (m *Manager) GetRedis(t *testing.T) *RedisContainer {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.redis == nil {
		m.redis = NewRedisContainer(t)
	}
	return m.redis
}
