package llm

import (
	"context"
	"sync"

	"storyloom/internal/types"
)

// MockProvider plays back scripted event sequences, one per Stream call in
// order. The last script repeats once the list is exhausted. Requests are
// recorded for assertions.
type MockProvider struct {
	mu       sync.Mutex
	id       string
	name     string
	scripts  [][]types.StreamEvent
	calls    int
	requests []types.Request

	// Delay between events is deliberately absent: tests drive ordering
	// through channels, not sleeps.
}

// NewMock builds a scripted provider.
func NewMock(id, name string, scripts ...[]types.StreamEvent) *MockProvider {
	return &MockProvider{id: id, name: name, scripts: scripts}
}

func (m *MockProvider) ID() string   { return m.id }
func (m *MockProvider) Name() string { return m.name }

// Requests returns a copy of every request seen so far.
func (m *MockProvider) Requests() []types.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Request(nil), m.requests...)
}

// Calls returns how many times Stream was opened.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Stream plays the next script. Cancelling the context stops playback with a
// cancelled done event.
func (m *MockProvider) Stream(ctx context.Context, req types.Request) (<-chan types.StreamEvent, error) {
	m.mu.Lock()
	script := []types.StreamEvent{types.DoneEvent(types.FinishStop, nil)}
	if len(m.scripts) > 0 {
		idx := m.calls
		if idx >= len(m.scripts) {
			idx = len(m.scripts) - 1
		}
		script = m.scripts[idx]
	}
	m.calls++
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	out := make(chan types.StreamEvent)
	go func() {
		defer close(out)
		for _, ev := range script {
			select {
			case out <- ev:
			case <-ctx.Done():
				select {
				case out <- types.DoneEvent(types.FinishCancelled, nil):
				default:
				}
				return
			}
		}
	}()
	return out, nil
}
