package taskstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initTaskSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initTaskSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agent_tasks (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			task_type TEXT NOT NULL,
			instruction TEXT NOT NULL,
			status TEXT NOT NULL,
			result TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			files JSONB NOT NULL DEFAULT '[]',
			steps JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ NULL,
			ended_at TIMESTAMPTZ NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_agent_tasks_user_created ON agent_tasks (user_id, created_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init task schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveRecord(ctx context.Context, rec Record) error {
	files, err := json.Marshal(rec.Files)
	if err != nil {
		return fmt.Errorf("marshal task files: %w", err)
	}
	steps, err := json.Marshal(rec.Steps)
	if err != nil {
		return fmt.Errorf("marshal task steps: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO agent_tasks (
			id, user_id, task_type, instruction, status, result, error, files, steps,
			created_at, updated_at, started_at, ended_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE SET
			status=EXCLUDED.status,
			result=EXCLUDED.result,
			error=EXCLUDED.error,
			files=EXCLUDED.files,
			steps=EXCLUDED.steps,
			updated_at=EXCLUDED.updated_at,
			started_at=EXCLUDED.started_at,
			ended_at=EXCLUDED.ended_at`,
		rec.ID, rec.UserID, rec.TaskType, rec.Instruction, string(rec.Status),
		rec.Result, rec.Error, files, steps,
		rec.CreatedAt, rec.UpdatedAt, rec.StartedAt, rec.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("save task record: %w", err)
	}
	return nil
}

const recordColumns = `id, user_id, task_type, instruction, status, result, error, files, steps, created_at, updated_at, started_at, ended_at`

func (s *PostgresStore) GetRecord(ctx context.Context, id string) (Record, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM agent_tasks WHERE id=$1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrTaskNotFound
	}
	return rec, err
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM agent_tasks WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list task records: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task records: %w", err)
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

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var status string
	var files, steps []byte
	err := row.Scan(&rec.ID, &rec.UserID, &rec.TaskType, &rec.Instruction, &status,
		&rec.Result, &rec.Error, &files, &steps,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.StartedAt, &rec.EndedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("scan task record: %w", err)
	}
	rec.Status = Status(status)
	if len(files) > 0 {
		if err := json.Unmarshal(files, &rec.Files); err != nil {
			return Record{}, fmt.Errorf("unmarshal task files: %w", err)
		}
	}
	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &rec.Steps); err != nil {
			return Record{}, fmt.Errorf("unmarshal task steps: %w", err)
		}
	}
	return rec, nil
}
