// Package llm invokes the model serving endpoint used for planning and
// text generation.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Message is one chat turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a normalized chat-completion request.
type Request struct {
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Response carries the assistant text of the first choice.
type Response struct {
	Text string `json:"text"`
}

// Client invokes the LLM once per request. Implementations must honor ctx.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Config controls client construction.
type Config struct {
	Mode        string
	HTTPURL     string
	Model       string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

// New builds a client for the configured mode. "auto" picks the HTTP
// endpoint when one is configured and falls back to the mock otherwise.
func New(cfg Config) (Client, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTPClient(cfg), nil
		}
		return NewMockClient(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("LLM_HTTP_URL is required for http mode")
		}
		return NewHTTPClient(cfg), nil
	case "mock":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unsupported llm mode %q", cfg.Mode)
	}
}
