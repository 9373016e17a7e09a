package http

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/stepwise-hub/stepwise/internal/application/command"
	"github.com/stepwise-hub/stepwise/internal/application/query"
	"github.com/stepwise-hub/stepwise/internal/domain/content"
	"github.com/stepwise-hub/stepwise/internal/domain/progress"
	"github.com/stepwise-hub/stepwise/internal/domain/shared"
	"github.com/stepwise-hub/stepwise/internal/infrastructure/external/progressapi"
	"github.com/stepwise-hub/stepwise/pkg/logger"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	endpoints := map[string]string{"health": "/health"}
	if s.deps.Reader != nil {
		endpoints["lessons"] = "/api/v1/lessons"
		endpoints["library"] = "/api/v1/library"
	}
	if s.deps.Progress != nil {
		endpoints["progress"] = "/progress/{contentId}"
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"name":      "stepwise",
		"version":   s.config.Version,
		"endpoints": endpoints,
	})
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	status.Version = s.config.Version
	if !status.Healthy {
		writeJSON(w, r, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

// handleReady handles the readiness check endpoint (for Kubernetes).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Ready {
		writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"reason": status.Message,
		})
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness check endpoint (for Kubernetes).
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// READER DTOs
// ══════════════════════════════════════════════════════════════════════════════

// ItemSummaryDTO is one entry of a reader's table of contents.
type ItemSummaryDTO struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Kind            string `json:"kind"`
	StepCount       int    `json:"step_count"`
	SectionCount    int    `json:"section_count"`
	PercentComplete int    `json:"percent_complete"`
}

// StepViewDTO is the gate state after a reader command.
type StepViewDTO struct {
	States   []string         `json:"states"`
	Progress progress.Summary `json:"progress"`
}

// AdvanceResponse is returned by POST .../advance.
type AdvanceResponse struct {
	StepViewDTO
	Advanced bool `json:"advanced"`
}

// JumpRequest is the body of POST .../jump.
type JumpRequest struct {
	Step *int `json:"step" validate:"required,gte=0"`
}

// JumpResponse is returned by POST .../jump.
type JumpResponse struct {
	StepViewDTO
	Jumped bool `json:"jumped"`
}

// CompleteSectionResponse is returned by POST .../sections/{index}/complete.
type CompleteSectionResponse struct {
	StepViewDTO
	AlreadyCompleted bool `json:"already_completed"`
}

// CheckpointRequest is the body of POST .../checkpoints/{index}.
type CheckpointRequest struct {
	Option *int `json:"option" validate:"required,gte=0"`
}

// CheckpointResponse is returned by POST .../checkpoints/{index}.
type CheckpointResponse struct {
	StepViewDTO
	Correct        bool   `json:"correct"`
	SuccessMessage string `json:"success_message,omitempty"`
	AdvanceAfterMS int64  `json:"advance_after_ms,omitempty"`
}

func stepViewDTO(v command.StepView) StepViewDTO {
	states := make([]string, len(v.States))
	for i, st := range v.States {
		states[i] = string(st)
	}
	return StepViewDTO{States: states, Progress: v.Progress}
}

// ══════════════════════════════════════════════════════════════════════════════
// READER HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleListItems handles GET /api/v1/{ns}
func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	ns, err := shared.ParseNamespace(r.PathValue("ns"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	store, err := s.deps.Reader.Stores.For(ns)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	items, err := s.deps.Reader.Items.List(r.Context(), content.ItemKindFor(ns))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	out := make([]ItemSummaryDTO, 0, len(items))
	for _, it := range items {
		id := it.ID.String()
		out = append(out, ItemSummaryDTO{
			ID:              id,
			Title:           it.Title,
			Kind:            string(it.Kind),
			StepCount:       it.StepCount(),
			SectionCount:    it.SectionCount(),
			PercentComplete: store.PercentComplete(id, it.SectionCount()),
		})
	}
	writeJSON(w, r, http.StatusOK, out)
}

// handleGetReaderView handles GET /api/v1/{ns}/{id}
func (s *Server) handleGetReaderView(w http.ResponseWriter, r *http.Request) {
	q := query.GetReaderViewQuery{
		Namespace: shared.Namespace(r.PathValue("ns")),
		ContentID: r.PathValue("id"),
	}
	if params := r.URL.Query(); len(params) > 0 {
		q.Substitutions = make(map[string]string, len(params))
		for k := range params {
			q.Substitutions[k] = params.Get(k)
		}
	}

	view, err := s.deps.Reader.GetReaderView.Handle(r.Context(), q)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, view)
}

// handleAdvance handles POST /api/v1/{ns}/{id}/advance
func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Reader.AdvanceStep.Handle(r.Context(), command.AdvanceStepCommand{Target: targetOf(r)})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, AdvanceResponse{StepViewDTO: stepViewDTO(res.StepView), Advanced: res.Advanced})
}

// handleJump handles POST /api/v1/{ns}/{id}/jump
func (s *Server) handleJump(w http.ResponseWriter, r *http.Request) {
	var req JumpRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	res, err := s.deps.Reader.JumpToStep.Handle(r.Context(), command.JumpToStepCommand{
		Target: targetOf(r),
		Step:   *req.Step,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, JumpResponse{StepViewDTO: stepViewDTO(res.StepView), Jumped: res.Jumped})
}

// handleCompleteSection handles POST /api/v1/{ns}/{id}/sections/{index}/complete
func (s *Server) handleCompleteSection(w http.ResponseWriter, r *http.Request) {
	index, ok := s.pathIndex(w, r)
	if !ok {
		return
	}

	res, err := s.deps.Reader.CompleteSection.Handle(r.Context(), command.CompleteSectionCommand{
		Target:       targetOf(r),
		SectionIndex: index,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, CompleteSectionResponse{
		StepViewDTO:      stepViewDTO(res.StepView),
		AlreadyCompleted: res.AlreadyCompleted,
	})
}

// handleSubmitCheckpoint handles POST /api/v1/{ns}/{id}/checkpoints/{index}
func (s *Server) handleSubmitCheckpoint(w http.ResponseWriter, r *http.Request) {
	index, ok := s.pathIndex(w, r)
	if !ok {
		return
	}
	var req CheckpointRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	res, err := s.deps.Reader.SubmitCheckpt.Handle(r.Context(), command.SubmitCheckpointCommand{
		Target:       targetOf(r),
		SectionIndex: index,
		Option:       *req.Option,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, CheckpointResponse{
		StepViewDTO:    stepViewDTO(res.StepView),
		Correct:        res.Outcome.Correct,
		SuccessMessage: res.Outcome.SuccessMessage,
		AdvanceAfterMS: res.AdvanceAfter.Milliseconds(),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// REMOTE PROGRESS STORE HANDLERS
// Wire contract shared with progressapi.Client: bare snapshots, errors as
// {code, message}.
// ══════════════════════════════════════════════════════════════════════════════

// handleGetProgress handles GET /progress/{contentId}
func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("contentId")

	snap, err := s.deps.Progress.Find(r.Context(), id)
	if err != nil {
		if shared.IsNotFound(err) {
			writeRaw(w, http.StatusNotFound, progressapi.ErrorDTO{Code: "not_found", Message: "no progress for " + id})
			return
		}
		s.logger.Error("failed to read progress", logger.ContentID(id), logger.Err(err))
		writeRaw(w, http.StatusInternalServerError, progressapi.ErrorDTO{Code: "internal_error", Message: "failed to read progress"})
		return
	}
	writeRaw(w, http.StatusOK, snap)
}

// handlePutProgress handles POST /progress
func (s *Server) handlePutProgress(w http.ResponseWriter, r *http.Request) {
	var req progressapi.PutRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRaw(w, http.StatusBadRequest, progressapi.ErrorDTO{Code: "invalid_body", Message: err.Error()})
		return
	}
	if err := validate.Struct(req); err != nil {
		writeRaw(w, http.StatusBadRequest, progressapi.ErrorDTO{Code: "invalid_body", Message: err.Error()})
		return
	}
	if !req.Progress.Valid() || req.Progress.CurrentStep < 0 {
		writeRaw(w, http.StatusBadRequest, progressapi.ErrorDTO{
			Code:    "invalid_progress",
			Message: "progress.completedSections is required and currentStep must be >= 0",
		})
		return
	}
	if !fitsInt4(req.Progress) {
		writeRaw(w, http.StatusBadRequest, progressapi.ErrorDTO{
			Code:    "invalid_progress",
			Message: "progress indices must fit in a 32-bit integer",
		})
		return
	}

	if err := s.deps.Progress.Replace(r.Context(), req.ContentID, req.Progress); err != nil {
		s.logger.Error("failed to store progress", logger.ContentID(req.ContentID), logger.Err(err))
		status := http.StatusInternalServerError
		if shared.IsExternalService(err) {
			status = http.StatusServiceUnavailable
		}
		writeRaw(w, status, progressapi.ErrorDTO{Code: "store_failed", Message: "failed to store progress"})
		return
	}
	writeRaw(w, http.StatusOK, map[string]string{"status": "stored"})
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// fitsInt4 reports whether every index of snap fits the store's int4 columns.
func fitsInt4(snap progress.Snapshot) bool {
	in := func(x int) bool { return x >= math.MinInt32 && x <= math.MaxInt32 }
	if !in(snap.CurrentStep) {
		return false
	}
	for _, xs := range [][]int{snap.CompletedSections, snap.UnlockedSteps} {
		for _, x := range xs {
			if !in(x) {
				return false
			}
		}
	}
	return true
}

func targetOf(r *http.Request) command.Target {
	return command.Target{
		Namespace: shared.Namespace(r.PathValue("ns")),
		ContentID: r.PathValue("id"),
	}
}

func (s *Server) pathIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid_index", "section index must be a non-negative integer")
		return 0, false
	}
	return index, true
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", "request body must be valid JSON")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return false
	}
	return true
}

// writeDomainError maps domain errors to HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, shared.ErrInvalidNamespace):
		writeJSONError(w, http.StatusNotFound, "unknown_reader", "unknown reader namespace")
	case shared.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
	case shared.IsValidation(err):
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case shared.IsExternalService(err):
		writeJSONError(w, http.StatusServiceUnavailable, "unavailable", "a dependency is unavailable")
	default:
		logger.FromContext(r.Context()).Error("request failed",
			logger.String("path", r.URL.Path),
			logger.Err(err))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
