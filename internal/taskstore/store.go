package taskstore

import (
	"context"
	"strings"
)

// Store durably persists task records.
type Store interface {
	SaveRecord(ctx context.Context, rec Record) error
	GetRecord(ctx context.Context, id string) (Record, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Record, error)
	Close() error
}

// NewStore returns a postgres-backed store when configured; otherwise the
// registry runs purely in memory.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
