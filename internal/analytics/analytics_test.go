package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/notuslabs/agentflow/internal/memory"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
}

func newTestService() (*Service, *memory.InMemoryStore) {
	store := memory.NewInMemoryStore()
	svc := New(store)
	svc.now = fixedNow
	return svc, store
}

func seedEntry(t *testing.T, store *memory.InMemoryStore, e memory.Entry) memory.Entry {
	t.Helper()
	created, err := store.CreateEntry(context.Background(), e)
	if err != nil {
		t.Fatalf("CreateEntry() error = %v", err)
	}
	return created
}

func TestUsageStatsEmptyUser(t *testing.T) {
	svc, _ := newTestService()

	stats, err := svc.UsageStats(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("UsageStats() error = %v", err)
	}
	if stats.TotalMemories != 0 || stats.TotalAccesses != 0 {
		t.Fatalf("stats totals = %+v, want zeros", stats)
	}
	if stats.ByType == nil || stats.ByCategory == nil {
		t.Fatalf("stats maps should be empty, not nil")
	}
	if stats.AvgImportance != 0 {
		t.Fatalf("AvgImportance = %f, want 0", stats.AvgImportance)
	}
}

func TestUsageStatsAggregates(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	seedEntry(t, store, memory.Entry{UserID: "u1", Type: memory.TypeFact, Key: "name", Value: "Ada", Importance: 8, Category: "identity", IsPinned: true})
	seedEntry(t, store, memory.Entry{UserID: "u1", Type: memory.TypeFact, Key: "city", Value: "Milan", Importance: 4, Category: "identity"})
	seedEntry(t, store, memory.Entry{UserID: "u1", Type: memory.TypePreference, Key: "editor", Value: "vim", Importance: 6})

	// Drive one context lookup so access counters move.
	if _, err := store.ContextForTask(ctx, "u1", "what is my name", 5); err != nil {
		t.Fatalf("ContextForTask() error = %v", err)
	}

	stats, err := svc.UsageStats(ctx, "u1")
	if err != nil {
		t.Fatalf("UsageStats() error = %v", err)
	}
	if stats.TotalMemories != 3 {
		t.Fatalf("TotalMemories = %d, want 3", stats.TotalMemories)
	}
	if stats.ByType["fact"] != 2 || stats.ByType["preference"] != 1 {
		t.Fatalf("ByType = %v", stats.ByType)
	}
	if stats.ByCategory["identity"] != 2 {
		t.Fatalf("ByCategory = %v", stats.ByCategory)
	}
	if stats.PinnedCount != 1 {
		t.Fatalf("PinnedCount = %d, want 1", stats.PinnedCount)
	}
	if stats.AvgImportance != 6 {
		t.Fatalf("AvgImportance = %f, want 6", stats.AvgImportance)
	}
	if stats.TotalAccesses == 0 {
		t.Fatalf("TotalAccesses = 0, want > 0 after a context lookup")
	}
}

func TestAccessTimelineBucketsByDay(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	entry := seedEntry(t, store, memory.Entry{UserID: "u1", Type: memory.TypeFact, Key: "k", Value: "v"})
	for _, day := range []string{"2026-03-10", "2026-03-10", "2026-03-12"} {
		at, _ := time.Parse("2006-01-02", day)
		if err := store.RecordAccess(ctx, memory.AccessLog{
			MemoryID:   entry.ID,
			UserID:     "u1",
			AccessType: memory.AccessRead,
			CreatedAt:  at,
		}); err != nil {
			t.Fatalf("RecordAccess() error = %v", err)
		}
	}

	timeline, err := svc.AccessTimeline(ctx, "u1", 30)
	if err != nil {
		t.Fatalf("AccessTimeline() error = %v", err)
	}
	if len(timeline) != 2 {
		t.Fatalf("timeline len = %d, want 2", len(timeline))
	}
	if timeline[0].Date != "2026-03-10" || timeline[0].Count != 2 {
		t.Fatalf("timeline[0] = %+v", timeline[0])
	}
	if timeline[1].Date != "2026-03-12" || timeline[1].Count != 1 {
		t.Fatalf("timeline[1] = %+v", timeline[1])
	}
}

func TestAccessTimelineExcludesOldLogs(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	entry := seedEntry(t, store, memory.Entry{UserID: "u1", Type: memory.TypeFact, Key: "k", Value: "v"})
	if err := store.RecordAccess(ctx, memory.AccessLog{
		MemoryID:   entry.ID,
		UserID:     "u1",
		AccessType: memory.AccessRead,
		CreatedAt:  fixedNow().AddDate(0, 0, -60),
	}); err != nil {
		t.Fatalf("RecordAccess() error = %v", err)
	}

	timeline, err := svc.AccessTimeline(ctx, "u1", 30)
	if err != nil {
		t.Fatalf("AccessTimeline() error = %v", err)
	}
	if len(timeline) != 0 {
		t.Fatalf("timeline len = %d, want 0 for logs outside window", len(timeline))
	}
}

func TestGrowthTrendCumulativeNonDecreasing(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	// One entry well before the window contributes to the base.
	seedEntry(t, store, memory.Entry{
		UserID: "u1", Type: memory.TypeFact, Key: "old", Value: "v",
		CreatedAt: fixedNow().AddDate(0, 0, -90),
	})
	seedEntry(t, store, memory.Entry{
		UserID: "u1", Type: memory.TypeFact, Key: "a", Value: "v",
		CreatedAt: time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC),
	})
	seedEntry(t, store, memory.Entry{
		UserID: "u1", Type: memory.TypeFact, Key: "b", Value: "v",
		CreatedAt: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	})
	seedEntry(t, store, memory.Entry{
		UserID: "u1", Type: memory.TypeFact, Key: "c", Value: "v",
		CreatedAt: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	})

	trend, err := svc.GrowthTrend(ctx, "u1", 30)
	if err != nil {
		t.Fatalf("GrowthTrend() error = %v", err)
	}
	if len(trend) != 2 {
		t.Fatalf("trend len = %d, want 2", len(trend))
	}
	if trend[0].Date != "2026-03-10" || trend[0].Count != 2 || trend[0].Cumulative != 3 {
		t.Fatalf("trend[0] = %+v", trend[0])
	}
	if trend[1].Date != "2026-03-14" || trend[1].Count != 1 || trend[1].Cumulative != 4 {
		t.Fatalf("trend[1] = %+v", trend[1])
	}
	for i := 1; i < len(trend); i++ {
		if trend[i].Cumulative < trend[i-1].Cumulative {
			t.Fatalf("cumulative decreased at %d: %+v", i, trend)
		}
	}
}

func TestSnapshotAllWritesPerUser(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	seedEntry(t, store, memory.Entry{UserID: "u1", Type: memory.TypeFact, Key: "k", Value: "v", Importance: 8})
	seedEntry(t, store, memory.Entry{UserID: "u2", Type: memory.TypeFact, Key: "k", Value: "v"})

	written, err := svc.SnapshotAll(ctx)
	if err != nil {
		t.Fatalf("SnapshotAll() error = %v", err)
	}
	if written != 2 {
		t.Fatalf("SnapshotAll() wrote %d, want 2", written)
	}

	snaps, err := store.ListSnapshots(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("ListSnapshots() error = %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("snapshots for u1 = %d, want 1", len(snaps))
	}
	if snaps[0].TotalMemories != 1 || snaps[0].AvgImportanceX10 != 80 {
		t.Fatalf("snapshot = %+v", snaps[0])
	}
}
