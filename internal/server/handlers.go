package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pcollins/recmerge/internal/history"
	"github.com/pcollins/recmerge/internal/record"
	"github.com/pcollins/recmerge/internal/store"
	"github.com/pcollins/recmerge/internal/summarize"
)

// userListResponse is the paginated user list body.
type userListResponse struct {
	Users   []store.User `json:"users"`
	Total   int          `json:"total"`
	Page    int          `json:"page"`
	Size    int          `json:"size"`
	HasNext bool         `json:"has_next"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   s.version,
	})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var params store.UserParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	u, err := s.store.Create(params)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	size := queryInt(r, "size", 10)
	if page < 1 || size < 1 || size > 100 {
		s.writeError(w, http.StatusBadRequest, "invalid pagination", "page must be >= 1, size between 1 and 100")
		return
	}

	users, total := s.store.List(page, size)
	s.writeJSON(w, http.StatusOK, userListResponse{
		Users:   users,
		Total:   total,
		Page:    page,
		Size:    size,
		HasNext: page*size < total,
	})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	u, err := s.store.Get(id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	var patch store.UserPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	u, err := s.store.Update(id, patch)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.Delete(id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "user deleted"})
}

// handleBatchUpdate applies a JSON array of partial updates through the
// merge engine in one store transaction. The run is recorded in the
// history database when a recorder is configured.
func (s *Server) handleBatchUpdate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var updates []*record.Record
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	res, err := s.store.ApplyBatch(updates)
	if err != nil {
		var schemaErr *record.SchemaError
		if errors.As(err, &schemaErr) {
			s.recordBatchRun(r, len(updates), nil, history.OutcomeSchemaError, err.Error(), start)
			s.writeError(w, http.StatusUnprocessableEntity, "schema violation", err.Error())
			return
		}
		if errors.Is(err, store.ErrEmailExists) {
			s.recordBatchRun(r, len(updates), nil, history.OutcomeError, err.Error(), start)
			s.writeError(w, http.StatusConflict, "email already registered", err.Error())
			return
		}
		var valErr *store.ValidationError
		if errors.As(err, &valErr) {
			s.recordBatchRun(r, len(updates), nil, history.OutcomeError, err.Error(), start)
			s.writeError(w, http.StatusUnprocessableEntity, "validation failed", err.Error())
			return
		}
		s.recordBatchRun(r, len(updates), nil, history.OutcomeError, err.Error(), start)
		s.writeError(w, http.StatusInternalServerError, "batch update failed", err.Error())
		return
	}

	s.recordBatchRun(r, len(updates), res, history.OutcomeOK, "", start)
	s.writeJSON(w, http.StatusOK, res)
}

// summarizeRequest / summarizeResponse mirror the contract summarization
// API's request and response bodies.
type summarizeRequest struct {
	Contracts []contractInput `json:"contracts"`
}

type contractInput struct {
	ContractID string `json:"contract_id"`
	Text       string `json:"text"`
}

type contractSummary struct {
	ContractID string `json:"contract_id"`
	Summary    string `json:"summary"`
}

type summarizeResponse struct {
	Summaries []contractSummary `json:"summaries"`
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var req summarizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if len(req.Contracts) == 0 {
		s.writeError(w, http.StatusBadRequest, "validation failed", "at least one contract must be provided")
		return
	}
	for _, c := range req.Contracts {
		if strings.TrimSpace(c.ContractID) == "" {
			s.writeError(w, http.StatusBadRequest, "validation failed", "contract_id must not be empty")
			return
		}
		if strings.TrimSpace(c.Text) == "" {
			s.writeError(w, http.StatusBadRequest, "validation failed", "contract text must not be empty")
			return
		}
	}

	resp := summarizeResponse{Summaries: make([]contractSummary, 0, len(req.Contracts))}
	for _, c := range req.Contracts {
		resp.Summaries = append(resp.Summaries, contractSummary{
			ContractID: c.ContractID,
			Summary:    s.summarizeOne(c),
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// summarizeOne runs the extractive stub with a per-contract fallback, so
// one bad contract never fails the whole batch.
func (s *Server) summarizeOne(c contractInput) string {
	sum := summarize.Extract(c.Text)
	if sum == "" {
		s.logger.Warn("summarize produced empty output", "contract_id", c.ContractID)
		return "Error processing contract - unable to generate summary"
	}
	return sum
}

// pathID parses the {id} path segment, writing a 400 on failure.
func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id < 1 {
		s.writeError(w, http.StatusBadRequest, "invalid user ID", r.PathValue("id"))
		return 0, false
	}
	return id, true
}

// writeStoreError maps store errors to HTTP statuses.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "user not found", "")
	case errors.Is(err, store.ErrEmailExists):
		s.writeError(w, http.StatusConflict, "email already registered", "")
	default:
		var valErr *store.ValidationError
		if errors.As(err, &valErr) {
			s.writeError(w, http.StatusUnprocessableEntity, "validation failed", valErr.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, "internal error", err.Error())
	}
}

// recordBatchRun sends a batch run to the recorder. Errors are logged but
// never surface to the client.
func (s *Server) recordBatchRun(r *http.Request, updateCount int, res *store.BatchResult, outcome, detail string, start time.Time) {
	if s.recorder == nil {
		return
	}

	run := history.Run{
		Command:     history.CommandBatch,
		Source:      r.Header.Get("X-Request-ID"),
		KeyField:    "id",
		UpdateCount: updateCount,
		Outcome:     outcome,
		Detail:      detail,
		DurationMs:  time.Since(start).Milliseconds(),
	}
	if res != nil {
		run.BaseCount = res.Summary.BaseCount
		run.UpdatedCount = res.Summary.Updated
		run.UnmatchedCount = len(res.Summary.Unmatched)
		run.DuplicateCount = len(res.Summary.Duplicates)
		for _, d := range res.Diagnostics {
			run.Diagnostics = append(run.Diagnostics, history.RunDiagnostic{
				Kind:       d.Kind,
				Identifier: d.Identifier,
				Position:   d.Position,
				Detail:     d.Detail,
			})
		}
	}

	if err := s.recorder.RecordRun(run); err != nil {
		s.logger.Warn("record batch run failed", "err", err)
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}
