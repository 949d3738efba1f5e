package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockClient replays scripted responses, one per call; the last response
// repeats once the script runs out. With no script it echoes a canned reply.
type MockClient struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	calls     int
	Requests  []Request
}

func NewMockClient(responses ...string) *MockClient {
	return &MockClient{Responses: responses}
}

func (m *MockClient) Complete(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return Response{}, m.Err
	}
	if len(m.Responses) == 0 {
		last := ""
		if len(req.Messages) > 0 {
			last = req.Messages[len(req.Messages)-1].Content
		}
		return Response{Text: fmt.Sprintf("mock response to: %s", last)}, nil
	}
	idx := m.calls
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	m.calls++
	return Response{Text: m.Responses[idx]}, nil
}

// Calls reports how many completions have been requested.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
