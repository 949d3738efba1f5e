package memory

import (
	"context"
	"errors"
	"time"
)

// EntryType classifies what kind of knowledge a memory entry holds.
type EntryType string

const (
	TypeFact       EntryType = "fact"
	TypePreference EntryType = "preference"
	TypeContext    EntryType = "context"
	TypeInsight    EntryType = "insight"
)

// ValidType reports whether t is one of the recognised entry types.
func ValidType(t EntryType) bool {
	switch t {
	case TypeFact, TypePreference, TypeContext, TypeInsight:
		return true
	default:
		return false
	}
}

// Entry is one typed key/value fact about a user, used to personalise
// future task context.
type Entry struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Type           EntryType  `json:"type"`
	Key            string     `json:"key"`
	Value          string     `json:"value"`
	Source         string     `json:"source,omitempty"`
	Category       string     `json:"category,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
	Importance     int        `json:"importance"`
	AccessCount    int        `json:"access_count"`
	IsPinned       bool       `json:"is_pinned"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
}

// EntryUpdate carries the mutable fields of an entry; nil means "leave as is".
type EntryUpdate struct {
	Type       *EntryType `json:"type,omitempty"`
	Key        *string    `json:"key,omitempty"`
	Value      *string    `json:"value,omitempty"`
	Source     *string    `json:"source,omitempty"`
	Category   *string    `json:"category,omitempty"`
	Tags       *[]string  `json:"tags,omitempty"`
	Importance *int       `json:"importance,omitempty"`
	IsPinned   *bool      `json:"is_pinned,omitempty"`
}

// ListFilter narrows ListEntries. Zero Limit means no limit.
type ListFilter struct {
	UserID   string
	Type     EntryType
	Category string
	Limit    int
}

// AccessType records why a memory entry was touched.
type AccessType string

const (
	AccessRead    AccessType = "read"
	AccessSearch  AccessType = "search"
	AccessContext AccessType = "context"
	AccessUpdate  AccessType = "update"
	AccessPin     AccessType = "pin"
)

// AccessLog is one append-only access event.
type AccessLog struct {
	ID             string     `json:"id"`
	MemoryID       string     `json:"memory_id"`
	UserID         string     `json:"user_id"`
	AccessType     AccessType `json:"access_type"`
	Context        string     `json:"context,omitempty"`
	RelevanceScore int        `json:"relevance_score"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Conversation groups messages exchanged with the agent.
type Conversation struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Title         string    `json:"title,omitempty"`
	Summary       string    `json:"summary,omitempty"`
	LastMessageAt time.Time `json:"last_message_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// Message is one conversational turn. Append-only.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	UserID         string         `json:"user_id"`
	Role           string         `json:"role"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Snapshot is a point-in-time analytics rollup. It is a denormalized
// cache, never a source of truth.
type Snapshot struct {
	ID               string         `json:"id"`
	UserID           string         `json:"user_id"`
	TotalMemories    int            `json:"total_memories"`
	CountsByType     map[string]int `json:"counts_by_type"`
	AvgImportanceX10 int            `json:"avg_importance_x10"`
	AvgAccessCount   float64        `json:"avg_access_count"`
	CreatedAt        time.Time      `json:"created_at"`
}

var ErrNotFound = errors.New("memory entry not found")

// Store persists and retrieves personal memory: entries, access logs,
// conversation history, preferences, and analytics snapshots.
type Store interface {
	CreateEntry(ctx context.Context, entry Entry) (Entry, error)
	GetEntry(ctx context.Context, id string) (Entry, error)
	UpdateEntry(ctx context.Context, id string, upd EntryUpdate) (Entry, error)
	DeleteEntry(ctx context.Context, id string) error
	ListEntries(ctx context.Context, filter ListFilter) ([]Entry, error)
	SearchEntries(ctx context.Context, userID, query string, limit int) ([]Entry, error)

	// ContextForTask selects the entries most relevant to a task description
	// and bumps their access counters as a side effect.
	ContextForTask(ctx context.Context, userID, taskDescription string, limit int) ([]Entry, error)

	TogglePin(ctx context.Context, id string) (Entry, error)

	RecordAccess(ctx context.Context, log AccessLog) error
	ListAccessLogs(ctx context.Context, userID string, since time.Time) ([]AccessLog, error)

	AppendMessage(ctx context.Context, msg Message) (Message, error)
	RecentMessages(ctx context.Context, userID string, limit int) ([]Message, error)

	GetPreferences(ctx context.Context, userID string) (map[string]any, error)
	MergePreferences(ctx context.Context, userID string, patch map[string]any) (map[string]any, error)

	SaveSnapshot(ctx context.Context, snap Snapshot) error
	ListSnapshots(ctx context.Context, userID string, limit int) ([]Snapshot, error)

	// ListUserIDs enumerates users that own at least one memory entry.
	ListUserIDs(ctx context.Context) ([]string, error)

	Close() error
}

// ClampImportance forces importance into [1, 10]. Zero means "unset" and
// takes the default.
func ClampImportance(n int) int {
	if n == 0 {
		return defaultImportance
	}
	if n < 1 {
		return 1
	}
	if n > 10 {
		return 10
	}
	return n
}

// ClampRelevance forces a relevance score into [0, 100].
func ClampRelevance(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

const defaultImportance = 5

// ContextQueryTokens is how many leading words of a task description form
// the relevance query.
const ContextQueryTokens = 5
