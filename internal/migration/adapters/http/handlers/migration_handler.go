// Package handlers provides HTTP handlers for migration operations
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/linkflow-ai/dbmigrate/internal/migration/app/service"
	"github.com/linkflow-ai/dbmigrate/internal/migration/domain/model"
	"github.com/linkflow-ai/dbmigrate/internal/platform/cache"
	"github.com/linkflow-ai/dbmigrate/internal/platform/logger"
)

// MigrationService is the part of the migration service the handlers use
type MigrationService interface {
	Run(ctx context.Context, opts service.RunOptions) (*service.RunResult, error)
	Pending(ctx context.Context) ([]*model.MigrationFile, error)
	Initialize(ctx context.Context, opts service.InitOptions) (*service.InitResult, error)
	Status(ctx context.Context) (*service.Status, error)
}

// MigrationHandler handles migration HTTP requests
type MigrationHandler struct {
	svc    MigrationService
	logger logger.Logger
}

// NewMigrationHandler creates a new migration handler
func NewMigrationHandler(svc MigrationService, log logger.Logger) *MigrationHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &MigrationHandler{svc: svc, logger: log}
}

// StatusResponse represents migration status response
type StatusResponse struct {
	Initialized bool             `json:"initialized"`
	Pending     int              `json:"pending"`
	Sources     []SourceResponse `json:"sources"`
}

// SourceResponse represents one source in a status response
type SourceResponse struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Priority  int    `json:"priority"`
	Watermark string `json:"watermark,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
	Pending   int    `json:"pending"`
}

// MigrationResponse represents a single migration in response
type MigrationResponse struct {
	Source   string `json:"source"`
	Filename string `json:"filename"`
	Key      string `json:"key"`
	Kind     string `json:"kind"`
}

// RunRequest represents run request body
type RunRequest struct {
	DryRun bool `json:"dry_run"`
}

// InitRequest represents init request body. No sources means all of them.
type InitRequest struct {
	Sources []string `json:"sources"`
}

// InitResponse lists created watermarks and the sources left unchanged
type InitResponse struct {
	Watermarks map[string]string `json:"watermarks"`
	Skipped    []string          `json:"skipped,omitempty"`
}

// RunResponse represents a run result response
type RunResponse struct {
	RunID      string                    `json:"run_id"`
	DryRun     bool                      `json:"dry_run"`
	Planned    []MigrationResponse       `json:"planned,omitempty"`
	Applied    []MigrationResultResponse `json:"applied"`
	Failed     *MigrationResultResponse  `json:"failed,omitempty"`
	Watermarks map[string]string         `json:"watermarks,omitempty"`
	DurationMs int64                     `json:"duration_ms"`
}

// MigrationResultResponse represents a migration execution result
type MigrationResultResponse struct {
	Source     string `json:"source"`
	Filename   string `json:"filename"`
	Key        string `json:"key"`
	Kind       string `json:"kind"`
	Status     string `json:"status"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error     string       `json:"error"`
	Migration *MigrationID `json:"migration,omitempty"`
	Result    *RunResponse `json:"result,omitempty"`
}

// MigrationID names the migration an error is about
type MigrationID struct {
	Source   string `json:"source,omitempty"`
	Filename string `json:"filename"`
}

// HandleStatus returns each source's watermark and pending count
func (h *MigrationHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.Status(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err, nil)
		return
	}

	resp := StatusResponse{
		Initialized: status.Initialized,
		Pending:     status.Pending,
		Sources:     make([]SourceResponse, 0, len(status.Sources)),
	}
	for _, s := range status.Sources {
		sr := SourceResponse{
			Name:     s.Source.Name,
			Path:     s.Source.Path,
			Priority: s.Source.Priority,
			Pending:  s.Pending,
		}
		if s.Watermark != nil {
			sr.Watermark = s.Watermark.Key().String()
			if !s.Watermark.UpdatedAt.IsZero() {
				sr.UpdatedAt = s.Watermark.UpdatedAt.UTC().Format(time.RFC3339)
			}
		}
		resp.Sources = append(resp.Sources, sr)
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandlePending lists the migrations the next run would apply
func (h *MigrationHandler) HandlePending(w http.ResponseWriter, r *http.Request) {
	files, err := h.svc.Pending(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err, nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"migrations": toMigrationResponses(files)})
}

// HandleRun applies pending migrations, or plans them when dry_run is set
func (h *MigrationHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	result, err := h.svc.Run(r.Context(), service.RunOptions{DryRun: req.DryRun})
	if err != nil {
		h.writeServiceError(w, r, err, result)
		return
	}

	writeJSON(w, http.StatusOK, toRunResponse(result))
}

// HandleInit creates the first watermark of every source
func (h *MigrationHandler) HandleInit(w http.ResponseWriter, r *http.Request) {
	var req InitRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	result, err := h.svc.Initialize(r.Context(), service.InitOptions{Sources: req.Sources})
	if err != nil {
		h.writeServiceError(w, r, err, nil)
		return
	}

	resp := InitResponse{
		Watermarks: make(map[string]string, len(result.Watermarks)),
		Skipped:    result.Skipped,
	}
	for _, wm := range result.Watermarks {
		resp.Watermarks[wm.Service] = wm.Key().String()
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *MigrationHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, result *service.RunResult) {
	resp := ErrorResponse{Error: err.Error()}
	if result != nil && result.Failed != nil {
		rr := toRunResponse(result)
		resp.Result = &rr
	}

	var (
		appErr    *model.ApplicationError
		formatErr *model.FormatError
		status    int
	)
	switch {
	case errors.As(err, &appErr):
		status = http.StatusUnprocessableEntity
		resp.Migration = &MigrationID{Source: appErr.Source, Filename: appErr.Filename}
	case errors.As(err, &formatErr):
		status = http.StatusUnprocessableEntity
		resp.Migration = &MigrationID{Filename: formatErr.Filename}
	case errors.Is(err, model.ErrAlreadyInitialized):
		status = http.StatusConflict
	case errors.Is(err, cache.ErrLockHeld):
		status = http.StatusConflict
	case errors.Is(err, model.ErrNotInitialized):
		status = http.StatusPreconditionFailed
	case errors.Is(err, model.ErrUnknownSource):
		status = http.StatusBadRequest
	default:
		status = http.StatusInternalServerError
	}

	if status >= http.StatusInternalServerError {
		h.logger.WithContext(r.Context()).Error("Migration request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, resp)
}

func toMigrationResponses(files []*model.MigrationFile) []MigrationResponse {
	out := make([]MigrationResponse, 0, len(files))
	for _, f := range files {
		out = append(out, MigrationResponse{
			Source:   f.Source.Name,
			Filename: f.Filename,
			Key:      f.Key.String(),
			Kind:     string(f.Kind),
		})
	}
	return out
}

func toResultResponse(m model.MigrationResult) MigrationResultResponse {
	return MigrationResultResponse{
		Source:     m.Source,
		Filename:   m.Filename,
		Key:        m.Key.String(),
		Kind:       string(m.Kind),
		Status:     string(m.Status),
		DurationMs: m.DurationMs,
		Error:      m.Error,
	}
}

func toRunResponse(result *service.RunResult) RunResponse {
	resp := RunResponse{
		RunID:      result.RunID,
		DryRun:     result.DryRun,
		Applied:    make([]MigrationResultResponse, 0, len(result.Applied)),
		Watermarks: make(map[string]string, len(result.Watermarks)),
		DurationMs: result.Duration.Milliseconds(),
	}
	if result.DryRun {
		resp.Planned = toMigrationResponses(result.Planned)
	}
	for _, m := range result.Applied {
		resp.Applied = append(resp.Applied, toResultResponse(m))
	}
	if result.Failed != nil {
		failed := toResultResponse(*result.Failed)
		resp.Failed = &failed
	}
	for name, key := range result.Watermarks {
		resp.Watermarks[name] = key.String()
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
