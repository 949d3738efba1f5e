package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockClient simulates the bridge for tests and local runs. Statuses are
// replayed in order on each poll; the last one repeats.
type MockClient struct {
	mu        sync.Mutex
	Healthy   bool
	HealthErr error
	SubmitErr error
	Statuses  []JobStatus
	polls     int
	Submitted []string
}

func NewMockClient() *MockClient {
	return &MockClient{
		Healthy: true,
		Statuses: []JobStatus{
			{State: JobCompleted, Result: "mock automation finished"},
		},
	}
}

func (m *MockClient) CheckHealth(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.HealthErr != nil {
		return m.HealthErr
	}
	if !m.Healthy {
		return ErrTimeout
	}
	return nil
}

func (m *MockClient) Submit(ctx context.Context, task, taskType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SubmitErr != nil {
		return "", m.SubmitErr
	}
	m.Submitted = append(m.Submitted, task)
	return uuid.NewString(), nil
}

func (m *MockClient) Status(ctx context.Context, jobID string) (JobStatus, error) {
	if err := ctx.Err(); err != nil {
		return JobStatus{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Statuses) == 0 {
		return JobStatus{State: JobRunning}, nil
	}
	idx := m.polls
	if idx >= len(m.Statuses) {
		idx = len(m.Statuses) - 1
	}
	m.polls++
	return m.Statuses[idx], nil
}

func (m *MockClient) WaitForCompletion(ctx context.Context, jobID string, interval, timeout time.Duration) (JobStatus, error) {
	// Tests should not sleep on the real poll cadence.
	return waitForCompletion(ctx, m, jobID, time.Millisecond, timeout)
}
