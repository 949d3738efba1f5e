package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists personal memory in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memory_entries (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			type TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			tags JSONB NOT NULL DEFAULT '[]',
			importance INTEGER NOT NULL DEFAULT 5,
			access_count INTEGER NOT NULL DEFAULT 0,
			is_pinned BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			last_accessed_at TIMESTAMPTZ NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_memory_entries_user_importance ON memory_entries (user_id, importance DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_memory_entries_user_created ON memory_entries (user_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS memory_access_logs (
			id TEXT PRIMARY KEY,
			memory_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			access_type TEXT NOT NULL,
			context TEXT NOT NULL DEFAULT '',
			relevance_score INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_memory_access_logs_user_created ON memory_access_logs (user_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			last_message_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_user_created ON messages (user_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS user_preferences (
			user_id TEXT PRIMARY KEY,
			preferences JSONB NOT NULL DEFAULT '{}',
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS memory_snapshots (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			total_memories INTEGER NOT NULL,
			counts_by_type JSONB NOT NULL DEFAULT '{}',
			avg_importance_x10 INTEGER NOT NULL,
			avg_access_count DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_memory_snapshots_user_created ON memory_snapshots (user_id, created_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init memory schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const entryColumns = `id, user_id, type, key, value, source, category, tags, importance, access_count, is_pinned, created_at, updated_at, last_accessed_at`

func (s *PostgresStore) CreateEntry(ctx context.Context, entry Entry) (Entry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = entry.CreatedAt
	entry.Importance = ClampImportance(entry.Importance)
	entry.AccessCount = 0

	tags, err := marshalTags(entry.Tags)
	if err != nil {
		return Entry{}, err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO memory_entries (id, user_id, type, key, value, source, category, tags, importance, access_count, is_pinned, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,0,$10,$11,$12)`,
		entry.ID, entry.UserID, string(entry.Type), entry.Key, entry.Value,
		entry.Source, entry.Category, tags, entry.Importance, entry.IsPinned,
		entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("create entry: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) GetEntry(ctx context.Context, id string) (Entry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM memory_entries WHERE id=$1`, id)
	return scanEntry(row)
}

func (s *PostgresStore) UpdateEntry(ctx context.Context, id string, upd EntryUpdate) (Entry, error) {
	sets := make([]string, 0, 8)
	args := make([]any, 0, 9)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}

	if upd.Type != nil && ValidType(*upd.Type) {
		add("type", string(*upd.Type))
	}
	if upd.Key != nil {
		add("key", *upd.Key)
	}
	if upd.Value != nil {
		add("value", *upd.Value)
	}
	if upd.Source != nil {
		add("source", *upd.Source)
	}
	if upd.Category != nil {
		add("category", *upd.Category)
	}
	if upd.Tags != nil {
		tags, err := marshalTags(*upd.Tags)
		if err != nil {
			return Entry{}, err
		}
		add("tags", tags)
	}
	if upd.Importance != nil {
		add("importance", ClampImportance(*upd.Importance))
	}
	if upd.IsPinned != nil {
		add("is_pinned", *upd.IsPinned)
	}
	if len(sets) == 0 {
		return s.GetEntry(ctx, id)
	}
	add("updated_at", time.Now().UTC())

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE memory_entries SET %s WHERE id=$%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), entryColumns)

	row := s.pool.QueryRow(ctx, query, args...)
	return scanEntry(row)
}

func (s *PostgresStore) DeleteEntry(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM memory_entries WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListEntries(ctx context.Context, filter ListFilter) ([]Entry, error) {
	conds := []string{"user_id=$1"}
	args := []any{filter.UserID}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		conds = append(conds, fmt.Sprintf("type=$%d", len(args)))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		conds = append(conds, fmt.Sprintf("category=$%d", len(args)))
	}
	query := `SELECT ` + entryColumns + ` FROM memory_entries WHERE ` +
		strings.Join(conds, " AND ") + ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *PostgresStore) SearchEntries(ctx context.Context, userID, query string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + strings.TrimSpace(query) + "%"
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM memory_entries
		 WHERE user_id=$1 AND (key ILIKE $2 OR value ILIKE $2)
		 ORDER BY importance DESC, created_at DESC LIMIT $3`,
		userID, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *PostgresStore) ContextForTask(ctx context.Context, userID, taskDescription string, limit int) ([]Entry, error) {
	tokens := queryTokens(taskDescription)
	if len(tokens) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = ContextQueryTokens
	}

	args := []any{userID}
	patterns := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		args = append(args, "%"+tok+"%")
		patterns = append(patterns, fmt.Sprintf("key ILIKE $%d OR value ILIKE $%d", len(args), len(args)))
	}
	args = append(args, limit)
	query := fmt.Sprintf(
		`SELECT id FROM memory_entries WHERE user_id=$1 AND (%s)
		 ORDER BY importance DESC, created_at DESC LIMIT $%d`,
		strings.Join(patterns, " OR "), len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("context query: %w", err)
	}
	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan context id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate context ids: %w", err)
	}

	now := time.Now().UTC()
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		// Atomic increment avoids the read-then-write race under concurrent
		// context lookups for the same user.
		row := s.pool.QueryRow(ctx,
			`UPDATE memory_entries SET access_count=access_count+1, last_accessed_at=$2
			 WHERE id=$1 RETURNING `+entryColumns, id, now)
		entry, err := scanEntry(row)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, entry)

		_, err = s.pool.Exec(ctx,
			`INSERT INTO memory_access_logs (id, memory_id, user_id, access_type, context, relevance_score, created_at)
			 VALUES ($1,$2,$3,$4,$5,0,$6)`,
			uuid.NewString(), id, userID, string(AccessContext), taskDescription, now)
		if err != nil {
			return nil, fmt.Errorf("log context access: %w", err)
		}
	}
	return out, nil
}

func (s *PostgresStore) TogglePin(ctx context.Context, id string) (Entry, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE memory_entries SET is_pinned=NOT is_pinned, updated_at=$2
		 WHERE id=$1 RETURNING `+entryColumns, id, time.Now().UTC())
	return scanEntry(row)
}

func (s *PostgresStore) RecordAccess(ctx context.Context, log AccessLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO memory_access_logs (id, memory_id, user_id, access_type, context, relevance_score, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		log.ID, log.MemoryID, log.UserID, string(log.AccessType), log.Context,
		ClampRelevance(log.RelevanceScore), log.CreatedAt)
	if err != nil {
		return fmt.Errorf("record access: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAccessLogs(ctx context.Context, userID string, since time.Time) ([]AccessLog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, memory_id, user_id, access_type, context, relevance_score, created_at
		 FROM memory_access_logs WHERE user_id=$1 AND created_at >= $2 ORDER BY created_at`,
		userID, since)
	if err != nil {
		return nil, fmt.Errorf("list access logs: %w", err)
	}
	defer rows.Close()

	out := make([]AccessLog, 0)
	for rows.Next() {
		var l AccessLog
		var accessType string
		if err := rows.Scan(&l.ID, &l.MemoryID, &l.UserID, &accessType, &l.Context, &l.RelevanceScore, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan access log: %w", err)
		}
		l.AccessType = AccessType(accessType)
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate access logs: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, msg Message) (Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.ConversationID == "" {
		msg.ConversationID = uuid.NewString()
	}
	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return Message{}, fmt.Errorf("marshal message metadata: %w", err)
	}
	if msg.Metadata == nil {
		metadata = []byte(`{}`)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO conversations (id, user_id, last_message_at, created_at)
		 VALUES ($1,$2,$3,$3)
		 ON CONFLICT (id) DO UPDATE SET last_message_at=EXCLUDED.last_message_at`,
		msg.ConversationID, msg.UserID, msg.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("upsert conversation: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, user_id, role, content, metadata, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		msg.ID, msg.ConversationID, msg.UserID, msg.Role, msg.Content, metadata, msg.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, fmt.Errorf("commit message: %w", err)
	}
	return msg, nil
}

func (s *PostgresStore) RecentMessages(ctx context.Context, userID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, user_id, role, content, metadata, created_at
		 FROM messages WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		var metadata []byte
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.UserID, &m.Role, &m.Content, &metadata, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal message metadata: %w", err)
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// Reverse into chronological order for prompt coherence.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *PostgresStore) GetPreferences(ctx context.Context, userID string) (map[string]any, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT preferences FROM user_preferences WHERE user_id=$1`, userID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get preferences: %w", err)
	}
	prefs := make(map[string]any)
	if err := json.Unmarshal(raw, &prefs); err != nil {
		return nil, fmt.Errorf("unmarshal preferences: %w", err)
	}
	return prefs, nil
}

func (s *PostgresStore) MergePreferences(ctx context.Context, userID string, patch map[string]any) (map[string]any, error) {
	prefs, err := s.GetPreferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	for k, v := range patch {
		prefs[k] = v
	}
	raw, err := json.Marshal(prefs)
	if err != nil {
		return nil, fmt.Errorf("marshal preferences: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO user_preferences (user_id, preferences, updated_at)
		 VALUES ($1,$2,$3)
		 ON CONFLICT (user_id) DO UPDATE SET preferences=EXCLUDED.preferences, updated_at=EXCLUDED.updated_at`,
		userID, raw, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("save preferences: %w", err)
	}
	return prefs, nil
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	counts, err := json.Marshal(snap.CountsByType)
	if err != nil {
		return fmt.Errorf("marshal snapshot counts: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO memory_snapshots (id, user_id, total_memories, counts_by_type, avg_importance_x10, avg_access_count, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		snap.ID, snap.UserID, snap.TotalMemories, counts, snap.AvgImportanceX10,
		snap.AvgAccessCount, snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, userID string, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, total_memories, counts_by_type, avg_importance_x10, avg_access_count, created_at
		 FROM memory_snapshots WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	out := make([]Snapshot, 0, limit)
	for rows.Next() {
		var snap Snapshot
		var counts []byte
		if err := rows.Scan(&snap.ID, &snap.UserID, &snap.TotalMemories, &counts, &snap.AvgImportanceX10, &snap.AvgAccessCount, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if len(counts) > 0 {
			if err := json.Unmarshal(counts, &snap.CountsByType); err != nil {
				return nil, fmt.Errorf("unmarshal snapshot counts: %w", err)
			}
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT user_id FROM memory_entries ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user ids: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var e Entry
	var entryType string
	var tags []byte
	err := row.Scan(&e.ID, &e.UserID, &entryType, &e.Key, &e.Value, &e.Source,
		&e.Category, &tags, &e.Importance, &e.AccessCount, &e.IsPinned,
		&e.CreatedAt, &e.UpdatedAt, &e.LastAccessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("scan entry: %w", err)
	}
	e.Type = EntryType(entryType)
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &e.Tags); err != nil {
			return Entry{}, fmt.Errorf("unmarshal entry tags: %w", err)
		}
	}
	return e, nil
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	out := make([]Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}

func marshalTags(tags []string) ([]byte, error) {
	if tags == nil {
		tags = []string{}
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}
	return raw, nil
}
