package approval

import (
	"context"
	"sync"

	"github.com/helmsman-trade/helmsman/internal/ensemble"
)

// MockTransport is an in-memory transport for tests and paper trading.
type MockTransport struct {
	mu        sync.Mutex
	name      string
	published []*ensemble.Decision
	responses chan Response

	// FailPublish makes every Publish return this error.
	FailPublish error
}

// NewMockTransport creates a mock transport.
func NewMockTransport(name string) *MockTransport {
	return &MockTransport{name: name, responses: make(chan Response, 32)}
}

func (m *MockTransport) Name() string {
	return m.name
}

func (m *MockTransport) Publish(_ context.Context, d *ensemble.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPublish != nil {
		return m.FailPublish
	}
	m.published = append(m.published, d)
	return nil
}

func (m *MockTransport) Responses() <-chan Response {
	return m.responses
}

// Published returns the decisions delivered so far.
func (m *MockTransport) Published() []*ensemble.Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*ensemble.Decision(nil), m.published...)
}

// Respond injects a human verdict.
func (m *MockTransport) Respond(r Response) {
	m.responses <- r
}
