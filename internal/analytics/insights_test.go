package analytics

import (
	"context"
	"testing"

	"github.com/notuslabs/agentflow/internal/memory"
)

func TestInsightsEmptyUser(t *testing.T) {
	svc, _ := newTestService()

	insights, err := svc.Insights(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("Insights() error = %v", err)
	}
	// Base score plus the recall rule, which trivially holds at zero rows.
	if insights.HealthScore != 75 {
		t.Fatalf("HealthScore = %d, want 75", insights.HealthScore)
	}
	if len(insights.Suggestions) == 0 {
		t.Fatalf("empty user should still get suggestions")
	}
}

func TestInsightsFullMarks(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	for i, e := range []memory.Entry{
		{Type: memory.TypeFact, Key: "name", Value: "Ada", Category: "identity", IsPinned: true},
		{Type: memory.TypePreference, Key: "editor", Value: "vim", Category: "tools"},
		{Type: memory.TypeInsight, Key: "habit", Value: "ships on fridays", Category: "work"},
	} {
		e.UserID = "u1"
		e.AccessCount = i // ignored on create; accesses come from lookups below
		seedEntry(t, store, e)
	}
	// Enough lookups that total accesses reach total memories.
	if _, err := store.ContextForTask(ctx, "u1", "name editor habit", 5); err != nil {
		t.Fatalf("ContextForTask() error = %v", err)
	}

	insights, err := svc.Insights(ctx, "u1")
	if err != nil {
		t.Fatalf("Insights() error = %v", err)
	}
	if insights.HealthScore != 100 {
		t.Fatalf("HealthScore = %d, want 100", insights.HealthScore)
	}
	if len(insights.Suggestions) != 1 || insights.Suggestions[0] != "Your memory store looks healthy." {
		t.Fatalf("Suggestions = %v", insights.Suggestions)
	}
}

func TestInsightsPartialScore(t *testing.T) {
	svc, store := newTestService()

	// Two types, nothing pinned, no categories, never accessed.
	seedEntry(t, store, memory.Entry{UserID: "u1", Type: memory.TypeFact, Key: "a", Value: "v"})
	seedEntry(t, store, memory.Entry{UserID: "u1", Type: memory.TypePreference, Key: "b", Value: "v"})

	insights, err := svc.Insights(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Insights() error = %v", err)
	}
	// base 70 + diversity 5; recall fails since 0 accesses < 2 memories.
	if insights.HealthScore != 75 {
		t.Fatalf("HealthScore = %d, want 75", insights.HealthScore)
	}
	if len(insights.Suggestions) != 4 {
		t.Fatalf("Suggestions = %v, want all four rules flagged", insights.Suggestions)
	}
}

func TestInsightsScoreBounds(t *testing.T) {
	svc, store := newTestService()

	seedEntry(t, store, memory.Entry{UserID: "u1", Type: memory.TypeFact, Key: "a", Value: "v"})

	insights, err := svc.Insights(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Insights() error = %v", err)
	}
	if insights.HealthScore < 0 || insights.HealthScore > 100 {
		t.Fatalf("HealthScore = %d out of [0,100]", insights.HealthScore)
	}
}
