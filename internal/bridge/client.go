// Package bridge talks to the external Agent-S GUI automation service.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// JobState is the lifecycle reported by the bridge for a submitted task.
type JobState string

const (
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// JobStatus is one poll observation. Screenshot is base64 PNG data,
// present only on completed jobs.
type JobStatus struct {
	State      JobState `json:"state"`
	Result     string   `json:"result,omitempty"`
	Error      string   `json:"error,omitempty"`
	Screenshot string   `json:"screenshot,omitempty"`
}

// ErrTimeout reports that a job did not finish within the polling ceiling.
var ErrTimeout = errors.New("bridge job timed out")

// Client drives a GUI automation task through the bridge.
type Client interface {
	CheckHealth(ctx context.Context) error
	Submit(ctx context.Context, task, taskType string) (string, error)
	Status(ctx context.Context, jobID string) (JobStatus, error)
	WaitForCompletion(ctx context.Context, jobID string, interval, timeout time.Duration) (JobStatus, error)
}

// HTTPClient calls the bridge's HTTP API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type healthResponse struct {
	Status     string `json:"status"`
	AgentReady bool   `json:"agent_ready"`
}

func (c *HTTPClient) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}
	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("bridge unreachable: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("bridge health status %d", res.StatusCode)
	}
	var out healthResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}
	if !out.AgentReady {
		return fmt.Errorf("bridge agent not ready (status %q)", out.Status)
	}
	return nil
}

type submitRequest struct {
	Task     string `json:"task"`
	TaskType string `json:"task_type"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
	Error string `json:"error,omitempty"`
}

func (c *HTTPClient) Submit(ctx context.Context, task, taskType string) (string, error) {
	payload, err := json.Marshal(submitRequest{Task: task, TaskType: taskType})
	if err != nil {
		return "", fmt.Errorf("marshal submit request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit task: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", fmt.Errorf("bridge submit status %d: %s", res.StatusCode, string(raw))
	}
	var out submitResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("bridge rejected task: %s", out.Error)
	}
	if strings.TrimSpace(out.JobID) == "" {
		return "", errors.New("bridge returned no job id")
	}
	return out.JobID, nil
}

func (c *HTTPClient) Status(ctx context.Context, jobID string) (JobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/jobs/"+jobID, nil)
	if err != nil {
		return JobStatus{}, fmt.Errorf("create status request: %w", err)
	}
	res, err := c.client.Do(req)
	if err != nil {
		return JobStatus{}, fmt.Errorf("poll job: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return JobStatus{}, fmt.Errorf("bridge status %d for job %s", res.StatusCode, jobID)
	}
	var out JobStatus
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return JobStatus{}, fmt.Errorf("decode job status: %w", err)
	}
	return out, nil
}

// WaitForCompletion polls the job on a fixed interval until it reaches a
// terminal state, the wall-clock ceiling passes, or ctx is cancelled.
func (c *HTTPClient) WaitForCompletion(ctx context.Context, jobID string, interval, timeout time.Duration) (JobStatus, error) {
	return waitForCompletion(ctx, c, jobID, interval, timeout)
}

func waitForCompletion(ctx context.Context, c Client, jobID string, interval, timeout time.Duration) (JobStatus, error) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.Status(ctx, jobID)
		if err != nil {
			return JobStatus{}, err
		}
		switch status.State {
		case JobCompleted, JobFailed:
			return status, nil
		}
		if time.Now().After(deadline) {
			return status, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-ticker.C:
		}
	}
}
