package analytics

import (
	"context"
	"testing"

	"github.com/notuslabs/agentflow/internal/memory"
)

func TestNewSchedulerRejectsBadSchedule(t *testing.T) {
	svc, _ := newTestService()
	if _, err := NewScheduler(svc, "not a schedule"); err != nil {
		return
	}
	t.Fatalf("NewScheduler() expected error for invalid schedule")
}

func TestSchedulerRunWritesSnapshots(t *testing.T) {
	svc, store := newTestService()
	seedEntry(t, store, memory.Entry{UserID: "u1", Type: memory.TypeFact, Key: "k", Value: "v"})

	sched, err := NewScheduler(svc, "@daily")
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}

	var gotWritten int
	var gotErr error
	sched.SetOnRun(func(written int, err error) {
		gotWritten = written
		gotErr = err
	})
	sched.run()

	if gotErr != nil {
		t.Fatalf("run reported error = %v", gotErr)
	}
	if gotWritten != 1 {
		t.Fatalf("run wrote %d snapshots, want 1", gotWritten)
	}
	snaps, _ := store.ListSnapshots(context.Background(), "u1", 10)
	if len(snaps) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(snaps))
	}
}
