package httpapi

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/notuslabs/agentflow/internal/engine"
	"github.com/notuslabs/agentflow/internal/taskstore"
)

type createTaskRequest struct {
	UserID      string            `json:"user_id"`
	TaskType    string            `json:"task_type"`
	Instruction string            `json:"instruction"`
	Context     map[string]string `json:"context,omitempty"`
}

// handleCreateTask runs the agent engine inline within the request that
// created the task: there is no queue or worker pool, each execution is
// request-scoped.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.TaskType = strings.TrimSpace(req.TaskType)
	req.Instruction = strings.TrimSpace(req.Instruction)

	if req.Instruction == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "instruction is required")
		return
	}
	taskType := engine.TaskType(req.TaskType)
	if req.TaskType == "" {
		taskType = engine.TypeGeneral
	} else if !engine.ValidTaskType(taskType) {
		respondError(w, http.StatusBadRequest, "invalid_task_type", "unknown task_type "+req.TaskType)
		return
	}

	rec := s.tasks.Create(req.UserID, string(taskType), req.Instruction)
	if _, err := s.tasks.Start(rec.ID); err != nil {
		respondError(w, http.StatusInternalServerError, "task_start_failed", err.Error())
		return
	}

	s.metrics.ActiveTasks.Inc()
	started := time.Now()
	result := s.engine.Execute(r.Context(), engine.Request{
		TaskID:      rec.ID,
		UserID:      req.UserID,
		TaskType:    taskType,
		Instruction: req.Instruction,
		Context:     req.Context,
	})
	s.metrics.ActiveTasks.Dec()

	var final taskstore.Record
	var err error
	if result.Success {
		s.metrics.ObserveTaskExecution(string(taskType), "completed", time.Since(started))
		final, err = s.tasks.Complete(rec.ID, result.Result, result.Files, result.Steps)
	} else {
		s.metrics.ObserveTaskExecution(string(taskType), "failed", time.Since(started))
		final, err = s.tasks.Fail(rec.ID, result.Error, result.Steps)
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "task_finalize_failed", err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, final)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimSpace(chi.URLParam(r, "id"))
	if taskID == "" {
		respondError(w, http.StatusBadRequest, "invalid_task_id", "missing task id")
		return
	}
	rec, err := s.tasks.Get(taskID)
	if err != nil {
		if errors.Is(err, taskstore.ErrTaskNotFound) {
			respondError(w, http.StatusNotFound, "task_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "task_get_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	limit, err := queryLimit(r, 20, 200)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"tasks":   s.tasks.ListByUser(userID, limit),
	})
}

// handleTaskWS streams task lifecycle events for one user over a
// write-only websocket.
func (s *Server) handleTaskWS(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "user_id query param is required")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, cancel := s.tasks.Subscribe(userID)
	defer cancel()

	ctx := r.Context()

	// Drain client frames so close/ping handling keeps working; inbound
	// payloads are ignored.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				log.Printf("task ws write failed for user %s: %v", userID, err)
				return
			}
		}
	}
}
