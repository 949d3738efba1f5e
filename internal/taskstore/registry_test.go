package taskstore

import (
	"errors"
	"testing"
	"time"
)

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()

	rec := r.Create("u1", "general", "summarize my notes")
	if rec.Status != StatusPending {
		t.Fatalf("Create() status = %q, want pending", rec.Status)
	}
	if rec.ID == "" {
		t.Fatalf("Create() returned empty id")
	}

	started, err := r.Start(rec.ID)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if started.Status != StatusRunning || started.StartedAt == nil {
		t.Fatalf("Start() = %+v", started)
	}

	files := []File{{Name: "out.txt", URL: "http://example.test/out.txt", ContentType: "text/plain"}}
	steps := []Step{{Thought: "plan", Action: "respond", Observation: "ok", At: time.Now().UTC()}}
	done, err := r.Complete(rec.ID, "all set", files, steps)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if done.Status != StatusCompleted || done.Result != "all set" || done.EndedAt == nil {
		t.Fatalf("Complete() = %+v", done)
	}
	if len(done.Files) != 1 || len(done.Steps) != 1 {
		t.Fatalf("Complete() files/steps = %d/%d", len(done.Files), len(done.Steps))
	}
}

func TestRegistryInvalidTransitions(t *testing.T) {
	r := NewRegistry()
	rec := r.Create("u1", "general", "task")

	if _, err := r.Complete(rec.ID, "x", nil, nil); err != nil {
		// Pending tasks may still be finished directly (e.g. rejected before start).
		t.Fatalf("Complete() on pending error = %v", err)
	}
	if _, err := r.Start(rec.ID); !errors.Is(err, ErrInvalidTaskState) {
		t.Fatalf("Start() on completed error = %v, want ErrInvalidTaskState", err)
	}
	if _, err := r.Complete(rec.ID, "again", nil, nil); !errors.Is(err, ErrInvalidTaskState) {
		t.Fatalf("Complete() twice error = %v, want ErrInvalidTaskState", err)
	}
	if _, err := r.Start("missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("Start() missing error = %v, want ErrTaskNotFound", err)
	}
}

func TestRegistryFail(t *testing.T) {
	r := NewRegistry()
	rec := r.Create("u1", "general", "task")
	_, _ = r.Start(rec.ID)

	failed, err := r.Fail(rec.ID, "llm unavailable", nil)
	if err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	if failed.Status != StatusFailed || failed.Error != "llm unavailable" {
		t.Fatalf("Fail() = %+v", failed)
	}
}

func TestRegistryGetAndList(t *testing.T) {
	r := NewRegistry()
	first := r.Create("u1", "general", "first")
	second := r.Create("u1", "design", "second")
	_ = r.Create("u2", "general", "other user")

	got, err := r.Get(first.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Instruction != "first" {
		t.Fatalf("Get() = %+v", got)
	}
	if _, err := r.Get("missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("Get() missing error = %v", err)
	}

	list := r.ListByUser("u1", 0)
	if len(list) != 2 {
		t.Fatalf("ListByUser() len = %d, want 2", len(list))
	}
	// Newest first.
	if list[0].ID != second.ID {
		t.Fatalf("ListByUser() order = %v", []string{list[0].Instruction, list[1].Instruction})
	}
	if len(r.ListByUser("u1", 1)) != 1 {
		t.Fatalf("ListByUser() limit not applied")
	}
	if r.ListByUser("", 0) != nil {
		t.Fatalf("ListByUser() empty user should return nil")
	}
}

func TestRegistrySubscribeReceivesEvents(t *testing.T) {
	r := NewRegistry()
	events, cancel := r.Subscribe("u1")
	defer cancel()

	rec := r.Create("u1", "general", "task")
	_, _ = r.Start(rec.ID)
	_, _ = r.Complete(rec.ID, "done", nil, nil)

	want := []EventType{EventTaskCreated, EventTaskStarted, EventTaskCompleted}
	for i, wantType := range want {
		select {
		case ev := <-events:
			if ev.Type != wantType {
				t.Fatalf("event %d type = %q, want %q", i, ev.Type, wantType)
			}
			if ev.TaskID != rec.ID {
				t.Fatalf("event %d task = %q", i, ev.TaskID)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestRegistrySubscribeScopedToUser(t *testing.T) {
	r := NewRegistry()
	events, cancel := r.Subscribe("u1")
	defer cancel()

	r.Create("u2", "general", "someone else")

	select {
	case ev := <-events:
		t.Fatalf("unexpected event for other user: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegistrySubscribeCancelClosesChannel(t *testing.T) {
	r := NewRegistry()
	events, cancel := r.Subscribe("u1")
	cancel()

	if _, open := <-events; open {
		t.Fatalf("channel still open after cancel")
	}
	// A second cancel is a no-op.
	cancel()
}
