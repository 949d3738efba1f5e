package taskstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry keeps task records in memory, optionally mirrored to a Store,
// and fans task events out to per-user subscribers.
type Registry struct {
	mu sync.RWMutex

	records map[string]*Record
	byUser  map[string][]string
	store   Store

	subscribers map[string]map[int]chan Event
	nextSubID   int
}

func NewRegistry() *Registry {
	return &Registry{
		records:     make(map[string]*Record),
		byUser:      make(map[string][]string),
		subscribers: make(map[string]map[int]chan Event),
	}
}

func (r *Registry) SetStore(store Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store = store
}

// Subscribe delivers task events for one user until the returned cancel
// function is called. Events are dropped, not queued, if the subscriber
// falls behind.
func (r *Registry) Subscribe(userID string) (<-chan Event, func()) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan Event, 64)
	r.mu.Lock()
	r.nextSubID++
	id := r.nextSubID
	if _, ok := r.subscribers[userID]; !ok {
		r.subscribers[userID] = make(map[int]chan Event)
	}
	r.subscribers[userID][id] = ch
	r.mu.Unlock()

	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		subs := r.subscribers[userID]
		if subs == nil {
			return
		}
		if c, ok := subs[id]; ok {
			delete(subs, id)
			close(c)
		}
		if len(subs) == 0 {
			delete(r.subscribers, userID)
		}
	}
}

// Create registers a fresh record in pending state.
func (r *Registry) Create(userID, taskType, instruction string) Record {
	now := time.Now().UTC()
	rec := &Record{
		ID:          uuid.NewString(),
		UserID:      userID,
		TaskType:    taskType,
		Instruction: instruction,
		Status:      StatusPending,
		Files:       []File{},
		Steps:       []Step{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	r.mu.Lock()
	r.records[rec.ID] = rec
	r.byUser[userID] = append(r.byUser[userID], rec.ID)
	r.publishLocked(Event{
		Type:     EventTaskCreated,
		TaskID:   rec.ID,
		UserID:   userID,
		TaskType: taskType,
		Status:   rec.Status,
		At:       now,
	})
	snapshot := rec.Clone()
	r.mu.Unlock()

	r.persist(snapshot)
	return snapshot
}

// Start transitions a pending record to running.
func (r *Registry) Start(id string) (Record, error) {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return Record{}, ErrTaskNotFound
	}
	if rec.Status != StatusPending {
		r.mu.Unlock()
		return Record{}, ErrInvalidTaskState
	}
	now := time.Now().UTC()
	rec.Status = StatusRunning
	rec.StartedAt = &now
	rec.UpdatedAt = now
	r.publishLocked(Event{
		Type:     EventTaskStarted,
		TaskID:   rec.ID,
		UserID:   rec.UserID,
		TaskType: rec.TaskType,
		Status:   rec.Status,
		At:       now,
	})
	snapshot := rec.Clone()
	r.mu.Unlock()

	r.persist(snapshot)
	return snapshot, nil
}

// Complete finalizes a running record with its result and artifacts.
func (r *Registry) Complete(id, result string, files []File, steps []Step) (Record, error) {
	return r.finish(id, StatusCompleted, result, "", files, steps)
}

// Fail finalizes a running record with an error message.
func (r *Registry) Fail(id, errMsg string, steps []Step) (Record, error) {
	return r.finish(id, StatusFailed, "", errMsg, nil, steps)
}

func (r *Registry) finish(id string, status Status, result, errMsg string, files []File, steps []Step) (Record, error) {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return Record{}, ErrTaskNotFound
	}
	if rec.Terminal() {
		r.mu.Unlock()
		return Record{}, ErrInvalidTaskState
	}
	now := time.Now().UTC()
	rec.Status = status
	rec.Result = result
	rec.Error = errMsg
	if files != nil {
		rec.Files = append([]File(nil), files...)
	}
	if steps != nil {
		rec.Steps = append([]Step(nil), steps...)
	}
	rec.EndedAt = &now
	rec.UpdatedAt = now

	eventType := EventTaskCompleted
	detail := result
	if status == StatusFailed {
		eventType = EventTaskFailed
		detail = errMsg
	}
	r.publishLocked(Event{
		Type:     eventType,
		TaskID:   rec.ID,
		UserID:   rec.UserID,
		TaskType: rec.TaskType,
		Status:   rec.Status,
		Detail:   detail,
		At:       now,
	})
	snapshot := rec.Clone()
	r.mu.Unlock()

	r.persist(snapshot)
	return snapshot, nil
}

func (r *Registry) Get(id string) (Record, error) {
	r.mu.RLock()
	rec, ok := r.records[id]
	var snapshot Record
	if ok {
		snapshot = rec.Clone()
	}
	store := r.store
	r.mu.RUnlock()
	if ok {
		return snapshot, nil
	}
	if store == nil {
		return Record{}, ErrTaskNotFound
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	persisted, err := store.GetRecord(ctx, id)
	if err != nil {
		return Record{}, err
	}
	return persisted, nil
}

func (r *Registry) ListByUser(userID string, limit int) []Record {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil
	}

	r.mu.RLock()
	ids := r.byUser[userID]
	out := make([]Record, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if rec, ok := r.records[ids[i]]; ok {
			out = append(out, rec.Clone())
		}
	}
	r.mu.RUnlock()

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *Registry) publishLocked(ev Event) {
	for _, ch := range r.subscribers[ev.UserID] {
		select {
		case ch <- ev:
		default:
			// Slow subscriber; dropping keeps transitions non-blocking.
		}
	}
}

func (r *Registry) persist(rec Record) {
	r.mu.RLock()
	store := r.store
	r.mu.RUnlock()
	if store == nil {
		return
	}

	go func(snapshot Record) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = store.SaveRecord(ctx, snapshot)
	}(rec)
}
