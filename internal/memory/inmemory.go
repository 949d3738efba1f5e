package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process store for local/dev use and tests.
type InMemoryStore struct {
	mu            sync.RWMutex
	entries       map[string]*Entry
	accessLogs    map[string][]AccessLog
	conversations map[string]*Conversation
	messages      map[string][]Message
	preferences   map[string]map[string]any
	snapshots     map[string][]Snapshot
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries:       make(map[string]*Entry),
		accessLogs:    make(map[string][]AccessLog),
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]Message),
		preferences:   make(map[string]map[string]any),
		snapshots:     make(map[string][]Snapshot),
	}
}

func (s *InMemoryStore) CreateEntry(_ context.Context, entry Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
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
	stored := cloneEntry(entry)
	s.entries[entry.ID] = &stored
	return cloneEntry(entry), nil
}

func (s *InMemoryStore) GetEntry(_ context.Context, id string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return cloneEntry(*e), nil
}

func (s *InMemoryStore) UpdateEntry(_ context.Context, id string, upd EntryUpdate) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	if upd.Type != nil && ValidType(*upd.Type) {
		e.Type = *upd.Type
	}
	if upd.Key != nil {
		e.Key = *upd.Key
	}
	if upd.Value != nil {
		e.Value = *upd.Value
	}
	if upd.Source != nil {
		e.Source = *upd.Source
	}
	if upd.Category != nil {
		e.Category = *upd.Category
	}
	if upd.Tags != nil {
		e.Tags = append([]string(nil), (*upd.Tags)...)
	}
	if upd.Importance != nil {
		e.Importance = ClampImportance(*upd.Importance)
	}
	if upd.IsPinned != nil {
		e.IsPinned = *upd.IsPinned
	}
	e.UpdatedAt = time.Now().UTC()
	return cloneEntry(*e), nil
}

func (s *InMemoryStore) DeleteEntry(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return ErrNotFound
	}
	delete(s.entries, id)
	return nil
}

func (s *InMemoryStore) ListEntries(_ context.Context, filter ListFilter) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0)
	for _, e := range s.entries {
		if filter.UserID != "" && e.UserID != filter.UserID {
			continue
		}
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if filter.Category != "" && e.Category != filter.Category {
			continue
		}
		out = append(out, cloneEntry(*e))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *InMemoryStore) SearchEntries(_ context.Context, userID, query string, limit int) ([]Entry, error) {
	tokens := []string{strings.ToLower(strings.TrimSpace(query))}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0)
	for _, e := range s.entries {
		if e.UserID != userID {
			continue
		}
		if matchesTokens(*e, tokens) {
			out = append(out, cloneEntry(*e))
		}
	}
	sortByImportance(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) ContextForTask(_ context.Context, userID, taskDescription string, limit int) ([]Entry, error) {
	tokens := queryTokens(taskDescription)
	if len(tokens) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = ContextQueryTokens
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]*Entry, 0)
	for _, e := range s.entries {
		if e.UserID != userID {
			continue
		}
		if matchesTokens(*e, tokens) {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Importance != matched[j].Importance {
			return matched[i].Importance > matched[j].Importance
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}

	now := time.Now().UTC()
	out := make([]Entry, 0, len(matched))
	for _, e := range matched {
		e.AccessCount++
		t := now
		e.LastAccessedAt = &t
		out = append(out, cloneEntry(*e))
		s.accessLogs[userID] = append(s.accessLogs[userID], AccessLog{
			ID:         uuid.NewString(),
			MemoryID:   e.ID,
			UserID:     userID,
			AccessType: AccessContext,
			Context:    taskDescription,
			CreatedAt:  now,
		})
	}
	return out, nil
}

func (s *InMemoryStore) TogglePin(_ context.Context, id string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	e.IsPinned = !e.IsPinned
	e.UpdatedAt = time.Now().UTC()
	return cloneEntry(*e), nil
}

func (s *InMemoryStore) RecordAccess(_ context.Context, log AccessLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	log.RelevanceScore = ClampRelevance(log.RelevanceScore)
	s.accessLogs[log.UserID] = append(s.accessLogs[log.UserID], log)
	return nil
}

func (s *InMemoryStore) ListAccessLogs(_ context.Context, userID string, since time.Time) ([]AccessLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AccessLog, 0)
	for _, l := range s.accessLogs[userID] {
		if l.CreatedAt.Before(since) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (s *InMemoryStore) AppendMessage(_ context.Context, msg Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	if msg.ConversationID == "" {
		msg.ConversationID = uuid.NewString()
	}
	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		conv = &Conversation{
			ID:        msg.ConversationID,
			UserID:    msg.UserID,
			CreatedAt: msg.CreatedAt,
		}
		s.conversations[msg.ConversationID] = conv
	}
	conv.LastMessageAt = msg.CreatedAt
	s.messages[msg.UserID] = append(s.messages[msg.UserID], msg)
	return msg, nil
}

func (s *InMemoryStore) RecentMessages(_ context.Context, userID string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.messages[userID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]Message, 0, limit)
	for i := len(arr) - limit; i < len(arr); i++ {
		out = append(out, arr[i])
	}
	return out, nil
}

func (s *InMemoryStore) GetPreferences(_ context.Context, userID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clonePrefs(s.preferences[userID]), nil
}

func (s *InMemoryStore) MergePreferences(_ context.Context, userID string, patch map[string]any) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefs, ok := s.preferences[userID]
	if !ok {
		prefs = make(map[string]any)
		s.preferences[userID] = prefs
	}
	for k, v := range patch {
		prefs[k] = clonePrefValue(v)
	}
	return clonePrefs(prefs), nil
}

func (s *InMemoryStore) SaveSnapshot(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	s.snapshots[snap.UserID] = append(s.snapshots[snap.UserID], snap)
	return nil
}

func (s *InMemoryStore) ListSnapshots(_ context.Context, userID string, limit int) ([]Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.snapshots[userID]
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]Snapshot, 0, limit)
	for i := len(arr) - limit; i < len(arr); i++ {
		out = append(out, arr[i])
	}
	return out, nil
}

func (s *InMemoryStore) ListUserIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, e := range s.entries {
		if _, ok := seen[e.UserID]; ok {
			continue
		}
		seen[e.UserID] = struct{}{}
		out = append(out, e.UserID)
	}
	sort.Strings(out)
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }

// clonePrefs deep-copies a preference document so callers never share
// nested maps or slices with store state.
func clonePrefs(prefs map[string]any) map[string]any {
	out := make(map[string]any, len(prefs))
	for k, v := range prefs {
		out[k] = clonePrefValue(v)
	}
	return out
}

func clonePrefValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return clonePrefs(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = clonePrefValue(item)
		}
		return out
	default:
		return v
	}
}

func cloneEntry(e Entry) Entry {
	if e.Tags != nil {
		e.Tags = append([]string(nil), e.Tags...)
	}
	if e.LastAccessedAt != nil {
		t := *e.LastAccessedAt
		e.LastAccessedAt = &t
	}
	return e
}

func sortByImportance(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Importance != entries[j].Importance {
			return entries[i].Importance > entries[j].Importance
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
}
