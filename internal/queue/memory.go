package queue

import (
	"context"
	"sync"
)

// MemoryQueue is an in-memory Queue for tests and dry runs
type MemoryQueue struct {
	mu       sync.Mutex
	messages []Message

	// FailWith, when set, makes Send return this error
	FailWith error
}

// NewMemoryQueue creates an empty in-memory queue
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

// Send implements Queue
func (m *MemoryQueue) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return m.FailWith
	}
	m.messages = append(m.messages, msg)
	return nil
}

// Messages returns a copy of all accepted messages
func (m *MemoryQueue) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}
