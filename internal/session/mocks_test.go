package session

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vedikabops/splitstream/internal/protocol"
)

type sentEvent struct {
	Type    string
	Payload any
}

type MockTransport struct {
	mock.Mock
	events chan protocol.Envelope

	mu   sync.Mutex
	sent []sentEvent
}

func newMockTransport() *MockTransport {
	return &MockTransport{events: make(chan protocol.Envelope, 16)}
}

func (m *MockTransport) Send(ctx context.Context, eventType string, payload any) error {
	m.mu.Lock()
	m.sent = append(m.sent, sentEvent{Type: eventType, Payload: payload})
	m.mu.Unlock()
	args := m.Called(ctx, eventType, payload)
	return args.Error(0)
}

func (m *MockTransport) Events() <-chan protocol.Envelope {
	return m.events
}

func (m *MockTransport) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockTransport) push(t *testing.T, eventType string, payload any) {
	t.Helper()
	env, err := protocol.NewEnvelope(eventType, payload)
	require.NoError(t, err)
	m.events <- env
}

func (m *MockTransport) Sent() []sentEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentEvent(nil), m.sent...)
}

func (m *MockTransport) SentTypes() []string {
	var out []string
	for _, e := range m.Sent() {
		out = append(out, e.Type)
	}
	return out
}
