package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tburke/arbiter/internal/engine"
	"github.com/tburke/arbiter/internal/model"
	"github.com/tburke/arbiter/internal/operator"
	"github.com/tburke/arbiter/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// createTaskRequest is the JSON body for POST /v1/tasks.
type createTaskRequest struct {
	Input json.RawMessage `json:"input"`
}

// admitResponseRequest is the JSON body for POST /v1/tasks/{id}/responses.
type admitResponseRequest struct {
	OperatorID string `json:"operator_id"`
	Response   string `json:"response"`
	Signature  string `json:"signature"`
}

// admitResponseResponse wraps the stored response and the evaluation the
// admission triggered.
type admitResponseResponse struct {
	Response   *model.TaskResponse `json:"response"`
	Evaluation engine.Outcome      `json:"evaluation"`
}

// listTasksResponse wraps the paginated list response.
type listTasksResponse struct {
	Tasks  []*model.Task `json:"tasks"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// listResponsesResponse wraps a task's admitted responses.
type listResponsesResponse struct {
	TaskID    string                `json:"task_id"`
	Responses []*model.TaskResponse `json:"responses"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if len(req.Input) == 0 {
		s.writeError(w, http.StatusBadRequest, "input is required")
		return
	}

	t := &model.Task{
		ID:        model.NewID(),
		Status:    model.StatusReady,
		Input:     []byte(req.Input),
		CreatedAt: time.Now().UTC(),
	}

	if err := s.store.CreateTask(r.Context(), t); err != nil {
		s.logger.Error("create task", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}

	s.writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	t, err := s.store.GetTask(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.logger.Error("get task", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	s.writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	tasks, total, err := s.store.ListTasks(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list tasks", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}

	if tasks == nil {
		tasks = []*model.Task{}
	}

	s.writeJSON(w, http.StatusOK, listTasksResponse{
		Tasks:  tasks,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// handleNextTask assigns the oldest unanswered ready task to a polling
// operator. 204 means no task is currently available for this operator.
func (s *Server) handleNextTask(w http.ResponseWriter, r *http.Request) {
	operatorID := r.URL.Query().Get("operator_id")
	if operatorID == "" {
		s.writeError(w, http.StatusBadRequest, "operator_id is required")
		return
	}

	t, err := s.engine.NextTask(r.Context(), operatorID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		w.WriteHeader(http.StatusNoContent)
		return
	case errors.Is(err, engine.ErrUnauthorized):
		s.writeError(w, http.StatusForbidden, "operator not eligible")
		return
	case errors.Is(err, operator.ErrUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, "operator registry unavailable")
		return
	case err != nil:
		s.logger.Error("next task", "operator_id", operatorID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get next task")
		return
	}

	s.writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleListResponses(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.store.GetTask(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "task not found")
			return
		}
		s.logger.Error("get task for responses", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	responses, err := s.store.ListResponses(r.Context(), id)
	if err != nil {
		s.logger.Error("list responses", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list responses")
		return
	}
	if responses == nil {
		responses = []*model.TaskResponse{}
	}

	s.writeJSON(w, http.StatusOK, listResponsesResponse{
		TaskID:    id,
		Responses: responses,
	})
}

func (s *Server) handleAdmitResponse(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req admitResponseRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.OperatorID == "" {
		s.writeError(w, http.StatusBadRequest, "operator_id is required")
		return
	}
	if req.Signature == "" {
		s.writeError(w, http.StatusBadRequest, "signature is required")
		return
	}

	resp, outcome, err := s.engine.Admit(r.Context(), id, req.OperatorID, req.Response, req.Signature)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	case errors.Is(err, engine.ErrAlreadyFinalized):
		s.writeError(w, http.StatusConflict, "task already finalized")
		return
	case errors.Is(err, engine.ErrUnauthorized):
		s.writeError(w, http.StatusForbidden, "operator not eligible")
		return
	case errors.Is(err, engine.ErrInvalidSignature):
		s.writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	case errors.Is(err, store.ErrDuplicateResponse):
		s.writeError(w, http.StatusConflict, "operator already responded to this task")
		return
	case errors.Is(err, operator.ErrUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, "operator registry unavailable")
		return
	case err != nil:
		s.logger.Error("admit response", "task_id", id, "operator_id", req.OperatorID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to admit response")
		return
	}

	s.writeJSON(w, http.StatusCreated, admitResponseResponse{
		Response:   resp,
		Evaluation: outcome,
	})
}

// handleEvaluateTask triggers an out-of-band quorum evaluation.
func (s *Server) handleEvaluateTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	outcome, err := s.engine.Evaluate(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	case errors.Is(err, operator.ErrUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, "operator registry unavailable")
		return
	case err != nil:
		s.logger.Error("evaluate task", "task_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to evaluate task")
		return
	}

	s.writeJSON(w, http.StatusOK, outcome)
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
