package taskstore

import (
	"errors"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// File is one artifact produced by a task.
type File struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
}

// Step is one entry of the fixed-shape audit trail: each execution stage
// contributes exactly one thought/action/observation record.
type Step struct {
	Thought     string    `json:"thought"`
	Action      string    `json:"action"`
	Observation string    `json:"observation"`
	At          time.Time `json:"at"`
}

// Record is the stored form of one agent task execution.
type Record struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	TaskType    string     `json:"task_type"`
	Instruction string     `json:"instruction"`
	Status      Status     `json:"status"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	Files       []File     `json:"files"`
	Steps       []Step     `json:"steps"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

func (r Record) Clone() Record {
	out := r
	if r.Files != nil {
		out.Files = make([]File, len(r.Files))
		copy(out.Files, r.Files)
	}
	if r.Steps != nil {
		out.Steps = make([]Step, len(r.Steps))
		copy(out.Steps, r.Steps)
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		out.StartedAt = &t
	}
	if r.EndedAt != nil {
		t := *r.EndedAt
		out.EndedAt = &t
	}
	return out
}

func (r Record) Terminal() bool {
	switch r.Status {
	case StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

type EventType string

const (
	EventTaskCreated   EventType = "task_created"
	EventTaskStarted   EventType = "task_started"
	EventTaskCompleted EventType = "task_completed"
	EventTaskFailed    EventType = "task_failed"
)

// Event is published to per-user subscribers on every task transition.
type Event struct {
	Type     EventType `json:"type"`
	TaskID   string    `json:"task_id"`
	UserID   string    `json:"user_id"`
	TaskType string    `json:"task_type"`
	Status   Status    `json:"status"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

var (
	ErrTaskNotFound     = errors.New("task not found")
	ErrInvalidTaskState = errors.New("invalid task state")
)
