package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/turtacn/MedRecord-Ingest/internal/application/ingest"
	"github.com/turtacn/MedRecord-Ingest/internal/domain/session"
	"github.com/turtacn/MedRecord-Ingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MedRecord-Ingest/internal/interfaces/http/middleware"
	"github.com/turtacn/MedRecord-Ingest/pkg/types/common"
)

// SessionService is the slice of the ingest service the session routes use.
type SessionService interface {
	CreateSession(ctx context.Context, mode session.ProcessingMode, createdBy common.UserID) (*session.BatchSession, error)
	AddFiles(ctx context.Context, sessionID common.SessionID, uploads []ingest.FileUpload) ([]ingest.ParseSummary, error)
	StartProcessing(ctx context.Context, sessionID common.SessionID) error
	GetStatus(ctx context.Context, sessionID common.SessionID) (*ingest.SessionStatus, error)
	CancelSession(ctx context.Context, sessionID common.SessionID) error
	RetryFile(ctx context.Context, sessionID common.SessionID, fileID common.ID) error
	CleanupSession(ctx context.Context, sessionID common.SessionID) error
}

// SessionHandler exposes the batch session lifecycle over HTTP.
type SessionHandler struct {
	service        SessionService
	maxUploadBytes int64
	logger         logging.Logger
}

// NewSessionHandler creates the handler.  maxUploadBytes bounds the total
// multipart body size of one add-files request.
func NewSessionHandler(service SessionService, maxUploadBytes int64, log logging.Logger) *SessionHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 256 << 20
	}
	return &SessionHandler{service: service, maxUploadBytes: maxUploadBytes, logger: log.Named("sessions")}
}

// RegisterRoutes mounts the session routes on the given router.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.Create)
	r.Post("/sessions/{sessionID}/files", h.AddFiles)
	r.Post("/sessions/{sessionID}/start", h.Start)
	r.Get("/sessions/{sessionID}", h.Status)
	r.Post("/sessions/{sessionID}/cancel", h.Cancel)
	r.Post("/sessions/{sessionID}/files/{fileID}/retry", h.RetryFile)
	r.Delete("/sessions/{sessionID}", h.Cleanup)
}

type createSessionRequest struct {
	ProcessingMode session.ProcessingMode `json:"processing_mode"`
}

// Create opens a new batch session.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(w, "invalid request body: "+err.Error())
		return
	}
	sess, err := h.service.CreateSession(r.Context(), req.ProcessingMode, middleware.ContextGetUserID(r.Context()))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// AddFiles accepts a multipart upload of one or more files under the "files"
// field and returns the per-file parse summaries.
func (h *SessionHandler) AddFiles(w http.ResponseWriter, r *http.Request) {
	sessionID := common.SessionID(chi.URLParam(r, "sessionID"))

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeValidationError(w, "invalid multipart body: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	parts := r.MultipartForm.File["files"]
	if len(parts) == 0 {
		writeValidationError(w, "no files provided under the \"files\" field")
		return
	}

	uploads := make([]ingest.FileUpload, 0, len(parts))
	for _, part := range parts {
		f, err := part.Open()
		if err != nil {
			writeValidationError(w, "unreadable file part "+part.Filename)
			return
		}
		data, err := io.ReadAll(f)
		f.Close() //nolint:errcheck
		if err != nil {
			writeValidationError(w, "unreadable file part "+part.Filename)
			return
		}
		uploads = append(uploads, ingest.FileUpload{Name: part.Filename, Data: data})
	}

	summaries, err := h.service.AddFiles(r.Context(), sessionID, uploads)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"files": summaries})
}

// Start triggers processing; the pipeline runs in the background and
// progress is observed through Status.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	sessionID := common.SessionID(chi.URLParam(r, "sessionID"))
	if err := h.service.StartProcessing(r.Context(), sessionID); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "processing started"})
}

// Status returns the session and every file's current state.
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	sessionID := common.SessionID(chi.URLParam(r, "sessionID"))
	status, err := h.service.GetStatus(r.Context(), sessionID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Cancel stops dispatching new files; in-flight files complete.
func (h *SessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	sessionID := common.SessionID(chi.URLParam(r, "sessionID"))
	if err := h.service.CancelSession(r.Context(), sessionID); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// RetryFile re-submits one failed file.
func (h *SessionHandler) RetryFile(w http.ResponseWriter, r *http.Request) {
	sessionID := common.SessionID(chi.URLParam(r, "sessionID"))
	fileID := common.ID(chi.URLParam(r, "fileID"))
	if err := h.service.RetryFile(r.Context(), sessionID, fileID); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "retried"})
}

// Cleanup releases a finished session's blobs, cache entries and rows.
func (h *SessionHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	sessionID := common.SessionID(chi.URLParam(r, "sessionID"))
	if err := h.service.CleanupSession(r.Context(), sessionID); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
