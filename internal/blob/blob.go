// Package blob stores generated task artifacts and returns public URLs.
package blob

import (
	"context"
	"strings"
)

// Store writes an artifact under a key and returns the URL it is served from.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Config controls store construction.
type Config struct {
	Bucket   string
	LocalDir string
	BaseURL  string
}

// New creates a Cloud Storage backed store when a bucket is configured,
// otherwise a local-directory store.
func New(ctx context.Context, cfg Config) (Store, error) {
	if strings.TrimSpace(cfg.Bucket) != "" {
		return NewGCSStore(ctx, cfg.Bucket)
	}
	return NewLocalStore(cfg.LocalDir, cfg.BaseURL)
}
