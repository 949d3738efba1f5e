// Package analytics aggregates the memory store into usage statistics,
// access timelines, growth trends, and a heuristic health score.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/notuslabs/agentflow/internal/memory"
)

const defaultWindowDays = 30

// Service runs read-only aggregations over a memory store.
type Service struct {
	store memory.Store
	now   func() time.Time
}

func New(store memory.Store) *Service {
	return &Service{store: store, now: time.Now}
}

// UsageStats summarises a user's memory store. Users with no rows get zero
// totals and empty maps, indistinguishable from an empty store.
type UsageStats struct {
	TotalMemories int            `json:"total_memories"`
	TotalAccesses int            `json:"total_accesses"`
	ByType        map[string]int `json:"by_type"`
	ByCategory    map[string]int `json:"by_category"`
	AvgImportance float64        `json:"avg_importance"`
	PinnedCount   int            `json:"pinned_count"`
}

func (s *Service) UsageStats(ctx context.Context, userID string) (UsageStats, error) {
	entries, err := s.store.ListEntries(ctx, memory.ListFilter{UserID: userID})
	if err != nil {
		return UsageStats{}, fmt.Errorf("usage stats: %w", err)
	}

	stats := UsageStats{
		ByType:     make(map[string]int),
		ByCategory: make(map[string]int),
	}
	importanceSum := 0
	for _, e := range entries {
		stats.TotalMemories++
		stats.TotalAccesses += e.AccessCount
		stats.ByType[string(e.Type)]++
		if e.Category != "" {
			stats.ByCategory[e.Category]++
		}
		if e.IsPinned {
			stats.PinnedCount++
		}
		importanceSum += e.Importance
	}
	if stats.TotalMemories > 0 {
		stats.AvgImportance = float64(importanceSum) / float64(stats.TotalMemories)
	}
	return stats, nil
}

// TimelinePoint is one day of activity. Days without activity are omitted,
// matching a DATE() grouping in SQL.
type TimelinePoint struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// GrowthPoint extends a timeline point with the running total of entries
// that existed by the end of that day.
type GrowthPoint struct {
	Date       string `json:"date"`
	Count      int    `json:"count"`
	Cumulative int    `json:"cumulative"`
}

// AccessTimeline returns per-day memory access counts over a trailing window.
func (s *Service) AccessTimeline(ctx context.Context, userID string, days int) ([]TimelinePoint, error) {
	if days <= 0 {
		days = defaultWindowDays
	}
	since := s.now().UTC().AddDate(0, 0, -days)
	logs, err := s.store.ListAccessLogs(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("access timeline: %w", err)
	}

	buckets := make(map[string]int)
	for _, l := range logs {
		buckets[l.CreatedAt.UTC().Format("2006-01-02")]++
	}
	return sortedTimeline(buckets), nil
}

// GrowthTrend returns per-day created counts over a trailing window plus a
// running cumulative total. The cumulative sequence is non-decreasing and
// includes entries created before the window.
func (s *Service) GrowthTrend(ctx context.Context, userID string, days int) ([]GrowthPoint, error) {
	if days <= 0 {
		days = defaultWindowDays
	}
	entries, err := s.store.ListEntries(ctx, memory.ListFilter{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("growth trend: %w", err)
	}

	since := s.now().UTC().AddDate(0, 0, -days)
	base := 0
	buckets := make(map[string]int)
	for _, e := range entries {
		created := e.CreatedAt.UTC()
		if created.Before(since) {
			base++
			continue
		}
		buckets[created.Format("2006-01-02")]++
	}

	timeline := sortedTimeline(buckets)
	out := make([]GrowthPoint, 0, len(timeline))
	cumulative := base
	for _, p := range timeline {
		cumulative += p.Count
		out = append(out, GrowthPoint{Date: p.Date, Count: p.Count, Cumulative: cumulative})
	}
	return out, nil
}

// Snapshot rolls the current usage stats into a persisted point-in-time record.
func (s *Service) Snapshot(ctx context.Context, userID string) (memory.Snapshot, error) {
	stats, err := s.UsageStats(ctx, userID)
	if err != nil {
		return memory.Snapshot{}, err
	}

	snap := memory.Snapshot{
		UserID:        userID,
		TotalMemories: stats.TotalMemories,
		CountsByType:  stats.ByType,
	}
	if stats.TotalMemories > 0 {
		snap.AvgImportanceX10 = int(stats.AvgImportance * 10)
		snap.AvgAccessCount = float64(stats.TotalAccesses) / float64(stats.TotalMemories)
	}
	if err := s.store.SaveSnapshot(ctx, snap); err != nil {
		return memory.Snapshot{}, fmt.Errorf("save snapshot: %w", err)
	}
	return snap, nil
}

// SnapshotAll rolls up every user that owns at least one entry. It returns
// how many snapshots were written.
func (s *Service) SnapshotAll(ctx context.Context) (int, error) {
	users, err := s.store.ListUserIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("snapshot all: %w", err)
	}
	written := 0
	for _, userID := range users {
		if _, err := s.Snapshot(ctx, userID); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

func sortedTimeline(buckets map[string]int) []TimelinePoint {
	out := make([]TimelinePoint, 0, len(buckets))
	for date, count := range buckets {
		out = append(out, TimelinePoint{Date: date, Count: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}
