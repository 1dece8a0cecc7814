package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/pithecene-io/smelter/fault"
)

// Message is one recorded publish.
type Message struct {
	Topic      string
	Data       []byte
	Attributes map[string]string
	ID         string
}

// Memory records publishes for tests. Safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	seq      int
	messages []Message
	failures []error
}

// NewMemory returns an empty recording bus.
func NewMemory() *Memory {
	return &Memory{}
}

// Fail arranges for the next n publishes to return err.
func (m *Memory) Fail(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		m.failures = append(m.failures, err)
	}
}

// Publish implements Bus.
func (m *Memory) Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return "", fault.Classify("bus.publish", err)
	}
	m.seq++
	id := fmt.Sprintf("mem-%d", m.seq)
	stored := make([]byte, len(data))
	copy(stored, data)
	attrsCopy := make(map[string]string, len(attrs))
	for k, v := range attrs {
		attrsCopy[k] = v
	}
	m.messages = append(m.messages, Message{Topic: topic, Data: stored, Attributes: attrsCopy, ID: id})
	return id, nil
}

// ByTopic returns recorded messages for one topic, in publish order.
func (m *Memory) ByTopic(topic string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Message
	for _, msg := range m.messages {
		if msg.Topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

// Len returns the total publish count.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

var _ Bus = (*Memory)(nil)
