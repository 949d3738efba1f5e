package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/notuslabs/agentflow/internal/analytics"
	"github.com/notuslabs/agentflow/internal/bridge"
	"github.com/notuslabs/agentflow/internal/config"
	"github.com/notuslabs/agentflow/internal/engine"
	"github.com/notuslabs/agentflow/internal/memory"
	"github.com/notuslabs/agentflow/internal/observability"
	"github.com/notuslabs/agentflow/internal/taskstore"
)

type Server struct {
	cfg       config.Config
	memories  memory.Store
	analytics *analytics.Service
	engine    *engine.Engine
	tasks     *taskstore.Registry
	metrics   *observability.Metrics
	bridge    bridge.Client
	upgrader  websocket.Upgrader
	artifacts http.Handler
	storeMode string
}

func New(cfg config.Config, memories memory.Store, analyticsService *analytics.Service, eng *engine.Engine, tasks *taskstore.Registry, metrics *observability.Metrics, bridgeClient bridge.Client, artifacts http.Handler, storeMode string) *Server {
	return &Server{
		cfg:       cfg,
		memories:  memories,
		analytics: analyticsService,
		engine:    eng,
		tasks:     tasks,
		metrics:   metrics,
		bridge:    bridgeClient,
		artifacts: artifacts,
		storeMode: storeMode,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only same-origin browser connections may watch a
				// user's task stream.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	if s.artifacts != nil {
		r.Handle("/files/*", http.StripPrefix("/files/", s.artifacts))
	}

	r.Post("/v1/tasks", s.handleCreateTask)
	r.Get("/v1/tasks/ws", s.handleTaskWS)
	r.Get("/v1/tasks/{id}", s.handleGetTask)
	r.Get("/v1/tasks", s.handleListTasks)

	r.Post("/v1/memories", s.handleCreateMemory)
	r.Get("/v1/memories/search", s.handleSearchMemories)
	r.Post("/v1/memories/context", s.handleMemoryContext)
	r.Get("/v1/memories/export", s.handleExportMemories)
	r.Post("/v1/memories/import", s.handleImportMemories)
	r.Get("/v1/memories/{id}", s.handleGetMemory)
	r.Patch("/v1/memories/{id}", s.handleUpdateMemory)
	r.Delete("/v1/memories/{id}", s.handleDeleteMemory)
	r.Post("/v1/memories/{id}/pin", s.handleTogglePin)
	r.Get("/v1/memories", s.handleListMemories)

	r.Get("/v1/analytics/usage", s.handleUsageStats)
	r.Get("/v1/analytics/timeline", s.handleAccessTimeline)
	r.Get("/v1/analytics/growth", s.handleGrowthTrend)
	r.Get("/v1/analytics/insights", s.handleInsights)
	r.Get("/v1/analytics/snapshots", s.handleListSnapshots)

	r.Get("/v1/preferences", s.handleGetPreferences)
	r.Patch("/v1/preferences", s.handleMergePreferences)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"store_mode": s.storeMode,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	bridgeReady := false
	if s.bridge != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		bridgeReady = s.bridge.CheckHealth(ctx) == nil
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"store_mode":   s.storeMode,
		"bridge_ready": bridgeReady,
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func queryLimit(r *http.Request, fallback, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > max {
		n = max
	}
	return n, nil
}

func queryDays(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("days"))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("days must be a positive integer")
	}
	return n, nil
}

func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "user_id query param is required")
		return "", false
	}
	return userID, true
}
