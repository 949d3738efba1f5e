package httpapi

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/notuslabs/agentflow/internal/memory"
)

type createMemoryRequest struct {
	UserID     string   `json:"user_id"`
	Type       string   `json:"type"`
	Key        string   `json:"key"`
	Value      string   `json:"value"`
	Source     string   `json:"source,omitempty"`
	Category   string   `json:"category,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Importance int      `json:"importance,omitempty"`
	IsPinned   bool     `json:"is_pinned,omitempty"`
}

func (s *Server) handleCreateMemory(w http.ResponseWriter, r *http.Request) {
	var req createMemoryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.Key = strings.TrimSpace(req.Key)
	req.Value = strings.TrimSpace(req.Value)
	if req.UserID == "" || req.Key == "" || req.Value == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "user_id, key, and value are required")
		return
	}
	entryType := memory.EntryType(req.Type)
	if !memory.ValidType(entryType) {
		respondError(w, http.StatusBadRequest, "invalid_memory_type", "type must be one of fact, preference, context, insight")
		return
	}

	entry, err := s.memories.CreateEntry(r.Context(), memory.Entry{
		UserID:     req.UserID,
		Type:       entryType,
		Key:        req.Key,
		Value:      req.Value,
		Source:     req.Source,
		Category:   req.Category,
		Tags:       req.Tags,
		Importance: req.Importance,
		IsPinned:   req.IsPinned,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "memory_create_failed", err.Error())
		return
	}
	s.metrics.ObserveMemoryOp("create")
	respondJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	entry, err := s.memories.GetEntry(r.Context(), id)
	if err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			respondError(w, http.StatusNotFound, "memory_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "memory_get_failed", err.Error())
		return
	}
	s.metrics.ObserveMemoryOp("read")
	respondJSON(w, http.StatusOK, entry)
}

func (s *Server) handleUpdateMemory(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	var upd memory.EntryUpdate
	if err := decodeJSON(r, &upd); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	entry, err := s.memories.UpdateEntry(r.Context(), id, upd)
	if err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			respondError(w, http.StatusNotFound, "memory_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "memory_update_failed", err.Error())
		return
	}
	s.metrics.ObserveMemoryOp("update")
	respondJSON(w, http.StatusOK, entry)
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if err := s.memories.DeleteEntry(r.Context(), id); err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			respondError(w, http.StatusNotFound, "memory_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "memory_delete_failed", err.Error())
		return
	}
	s.metrics.ObserveMemoryOp("delete")
	respondJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	limit, err := queryLimit(r, 50, 500)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	entries, err := s.memories.ListEntries(r.Context(), memory.ListFilter{
		UserID:   userID,
		Type:     memory.EntryType(strings.TrimSpace(r.URL.Query().Get("type"))),
		Category: strings.TrimSpace(r.URL.Query().Get("category")),
		Limit:    limit,
	})
	if err != nil {
		// Backend outages degrade to an empty collection on read paths; the
		// caller cannot distinguish "no memories" from "store down".
		log.Printf("list memories degraded to empty for user %s: %v", userID, err)
		entries = []memory.Entry{}
	}
	s.metrics.ObserveMemoryOp("list")
	respondJSON(w, http.StatusOK, map[string]any{"user_id": userID, "memories": entries})
}

func (s *Server) handleSearchMemories(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "q query param is required")
		return
	}
	limit, err := queryLimit(r, 20, 100)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	entries, err := s.memories.SearchEntries(r.Context(), userID, query, limit)
	if err != nil {
		log.Printf("memory search degraded to empty for user %s: %v", userID, err)
		entries = []memory.Entry{}
	}
	s.metrics.ObserveMemoryOp("search")
	respondJSON(w, http.StatusOK, map[string]any{"user_id": userID, "query": query, "memories": entries})
}

type memoryContextRequest struct {
	UserID          string `json:"user_id"`
	TaskDescription string `json:"task_description"`
	Limit           int    `json:"limit,omitempty"`
}

func (s *Server) handleMemoryContext(w http.ResponseWriter, r *http.Request) {
	var req memoryContextRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.TaskDescription = strings.TrimSpace(req.TaskDescription)
	if req.UserID == "" || req.TaskDescription == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "user_id and task_description are required")
		return
	}

	entries, err := s.memories.ContextForTask(r.Context(), req.UserID, req.TaskDescription, req.Limit)
	if err != nil {
		log.Printf("memory context degraded to empty for user %s: %v", req.UserID, err)
		entries = []memory.Entry{}
	}
	if entries == nil {
		entries = []memory.Entry{}
	}
	s.metrics.ObserveMemoryOp("context")
	respondJSON(w, http.StatusOK, map[string]any{"user_id": req.UserID, "memories": entries})
}

func (s *Server) handleTogglePin(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	entry, err := s.memories.TogglePin(r.Context(), id)
	if err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			respondError(w, http.StatusNotFound, "memory_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "memory_pin_failed", err.Error())
		return
	}
	s.metrics.ObserveMemoryOp("pin")
	respondJSON(w, http.StatusOK, entry)
}

func (s *Server) handleExportMemories(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	format := memory.ExportFormat(strings.TrimSpace(r.URL.Query().Get("format")))

	payload, contentType, err := memory.Export(r.Context(), s.memories, userID, format)
	if err != nil {
		respondError(w, http.StatusBadRequest, "export_failed", err.Error())
		return
	}
	ext := "json"
	if format == memory.FormatMarkdown {
		ext = "md"
	}
	s.metrics.ObserveMemoryOp("export")
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="memories_`+userID+`.`+ext+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (s *Server) handleImportMemories(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, 8<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := memory.Import(r.Context(), s.memories, userID, data)
	if err != nil {
		respondError(w, http.StatusBadRequest, "import_failed", err.Error())
		return
	}
	s.metrics.ObserveMemoryOp("import")
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	prefs, err := s.memories.GetPreferences(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "preferences_get_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"user_id": userID, "preferences": prefs})
}

func (s *Server) handleMergePreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var patch map[string]any
	if err := decodeJSON(r, &patch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	prefs, err := s.memories.MergePreferences(r.Context(), userID, patch)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "preferences_merge_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"user_id": userID, "preferences": prefs})
}
