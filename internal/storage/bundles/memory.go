package bundles

import (
	"context"
	"sync"
)

type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func (m *Memory) Driver() Driver { return DriverMemory }

func (m *Memory) Put(_ context.Context, key string, data []byte, _ string) (Info, error) {
	clean, err := CleanKey(key)
	if err != nil {
		return Info{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[clean] = append([]byte(nil), data...)
	return Info{Key: clean, Size: int64(len(data)), Location: "memory://" + clean}, nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	clean, err := CleanKey(key)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[clean]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) Ping(context.Context) error { return nil }

// Keys lists stored keys; used by tests.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, k)
	}
	return out
}
