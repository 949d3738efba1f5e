package httpapi

import (
	"log"
	"net/http"

	"github.com/notuslabs/agentflow/internal/analytics"
	"github.com/notuslabs/agentflow/internal/memory"
)

func (s *Server) handleUsageStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	stats, err := s.analytics.UsageStats(r.Context(), userID)
	if err != nil {
		log.Printf("usage stats degraded to empty for user %s: %v", userID, err)
		stats = analytics.UsageStats{
			ByType:     map[string]int{},
			ByCategory: map[string]int{},
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"user_id": userID, "stats": stats})
}

func (s *Server) handleAccessTimeline(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	days, err := queryDays(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if days == 0 {
		days = 30
	}
	timeline, err := s.analytics.AccessTimeline(r.Context(), userID, days)
	if err != nil {
		log.Printf("access timeline degraded to empty for user %s: %v", userID, err)
		timeline = []analytics.TimelinePoint{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"user_id": userID, "days": days, "timeline": timeline})
}

func (s *Server) handleGrowthTrend(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	days, err := queryDays(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if days == 0 {
		days = 30
	}
	trend, err := s.analytics.GrowthTrend(r.Context(), userID, days)
	if err != nil {
		log.Printf("growth trend degraded to empty for user %s: %v", userID, err)
		trend = []analytics.GrowthPoint{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"user_id": userID, "days": days, "growth": trend})
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	insights, err := s.analytics.Insights(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "insights_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"user_id": userID, "insights": insights})
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	limit, err := queryLimit(r, 30, 365)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	snapshots, err := s.memories.ListSnapshots(r.Context(), userID, limit)
	if err != nil {
		log.Printf("snapshot list degraded to empty for user %s: %v", userID, err)
		snapshots = []memory.Snapshot{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"user_id": userID, "snapshots": snapshots})
}
