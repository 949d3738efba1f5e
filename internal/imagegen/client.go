// Package imagegen calls the image generation service used for design and
// slide tasks.
package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Result carries the hosted URL of a generated image.
type Result struct {
	URL string `json:"url"`
}

type Client interface {
	Generate(ctx context.Context, prompt string) (Result, error)
}

// HTTPClient posts prompts to an image generation endpoint that responds
// with {"url": "..."}.
type HTTPClient struct {
	url    string
	client *http.Client
}

func NewHTTPClient(url string) *HTTPClient {
	return &HTTPClient{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

func (c *HTTPClient) Generate(ctx context.Context, prompt string) (Result, error) {
	payload, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Result{}, fmt.Errorf("imagegen http status %d: %s", res.StatusCode, string(raw))
	}

	var out Result
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}
	if strings.TrimSpace(out.URL) == "" {
		return Result{}, fmt.Errorf("imagegen returned no url")
	}
	return out, nil
}

// MockClient returns a fixed URL; useful for local runs and tests.
type MockClient struct {
	mu      sync.Mutex
	URL     string
	Err     error
	Prompts []string
}

func NewMockClient() *MockClient {
	return &MockClient{URL: "https://images.example.com/mock.png"}
}

func (m *MockClient) Generate(ctx context.Context, prompt string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prompts = append(m.Prompts, prompt)
	if m.Err != nil {
		return Result{}, m.Err
	}
	return Result{URL: m.URL}, nil
}

// New picks the HTTP client when a URL is configured, otherwise the mock.
func New(url string) Client {
	if strings.TrimSpace(url) == "" {
		return NewMockClient()
	}
	return NewHTTPClient(url)
}
