package pubsub

import (
	"context"
	"sync"
)

// MemoryBackend is the single-node in-memory Backend: every Publish hands
// the payload to every currently registered subscriber on that topic, each
// in its own goroutine so a slow handler cannot stall the publisher;
// Publish returns without waiting for the handlers to run.
type MemoryBackend struct {
	mu          sync.RWMutex
	subscribers map[string]map[int]func([]byte)
	nextID      int
	closed      bool
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{subscribers: make(map[string]map[int]func([]byte))}
}

func (m *MemoryBackend) Publish(ctx context.Context, topic string, data []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	for _, handler := range m.subscribers[topic] {
		h := handler
		go h(data)
	}
	return nil
}

func (m *MemoryBackend) Subscribe(ctx context.Context, topic string, handler func(data []byte)) (Unsubscribe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if m.subscribers[topic] == nil {
		m.subscribers[topic] = make(map[int]func([]byte))
	}
	id := m.nextID
	m.nextID++
	m.subscribers[topic][id] = handler
	return func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers[topic], id)
		return nil
	}, nil
}

func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.subscribers = make(map[string]map[int]func([]byte))
	return nil
}
