package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/turtacn/MedRecord-Ingest/internal/application/ingest"
	"github.com/turtacn/MedRecord-Ingest/internal/domain/session"
	"github.com/turtacn/MedRecord-Ingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MedRecord-Ingest/internal/interfaces/http/middleware"
	"github.com/turtacn/MedRecord-Ingest/pkg/types/common"
)

// ReviewService is the slice of the ingest service the review routes use.
type ReviewService interface {
	ListReviewItems(ctx context.Context, user common.UserID, sessionID common.SessionID) ([]*session.BatchFileRecord, error)
	SubmitReviewDecisions(ctx context.Context, user common.UserID, sessionID common.SessionID, decisions []ingest.ReviewDecision) (int, error)
}

// ReviewHandler exposes the admin review queue.
type ReviewHandler struct {
	service ReviewService
	logger  logging.Logger
}

func NewReviewHandler(service ReviewService, log logging.Logger) *ReviewHandler {
	return &ReviewHandler{service: service, logger: log.Named("review")}
}

// RegisterRoutes mounts the review routes on the given router.
func (h *ReviewHandler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/{sessionID}/review", h.List)
	r.Post("/sessions/{sessionID}/review", h.Submit)
}

// List returns the files awaiting adjudication with their candidate sets.
func (h *ReviewHandler) List(w http.ResponseWriter, r *http.Request) {
	sessionID := common.SessionID(chi.URLParam(r, "sessionID"))
	items, err := h.service.ListReviewItems(r.Context(), middleware.ContextGetUserID(r.Context()), sessionID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

type submitReviewRequest struct {
	Decisions []ingest.ReviewDecision `json:"decisions"`
}

// Submit applies the admin decisions.  Partial application is reported with
// the count applied and the first rejection.
func (h *ReviewHandler) Submit(w http.ResponseWriter, r *http.Request) {
	sessionID := common.SessionID(chi.URLParam(r, "sessionID"))
	var req submitReviewRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(w, "invalid request body: "+err.Error())
		return
	}
	applied, err := h.service.SubmitReviewDecisions(r.Context(), middleware.ContextGetUserID(r.Context()), sessionID, req.Decisions)
	if err != nil && applied == 0 {
		writeAppError(w, err)
		return
	}
	resp := map[string]interface{}{"applied": applied}
	if err != nil {
		resp["first_error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
