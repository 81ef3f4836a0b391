package ingest

import (
	"context"

	"github.com/turtacn/MedRecord-Ingest/internal/domain/session"
	"github.com/turtacn/MedRecord-Ingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MedRecord-Ingest/pkg/errors"
	"github.com/turtacn/MedRecord-Ingest/pkg/types/common"
)

// ReviewChoice is the admin's resolution for one reviewed file.
type ReviewChoice string

const (
	ChoiceAssignExisting ReviewChoice = "assign_existing"
	ChoiceCreateNew      ReviewChoice = "create_new"
)

// ReviewDecision is one submitted resolution.
type ReviewDecision struct {
	FileID    common.ID         `json:"file_id"`
	Choice    ReviewChoice      `json:"choice"`
	PatientID *common.PatientID `json:"patient_id,omitempty"`
}

// CapabilityChecker answers whether a caller holds the review capability.
// The check lives here, at the gateway boundary, independent of transport.
type CapabilityChecker interface {
	CanReview(ctx context.Context, user common.UserID) bool
}

// CapabilityFunc adapts a function to CapabilityChecker.
type CapabilityFunc func(ctx context.Context, user common.UserID) bool

// CanReview implements CapabilityChecker.
func (f CapabilityFunc) CanReview(ctx context.Context, user common.UserID) bool {
	return f(ctx, user)
}

// ReviewGateway is the admin surface for inspecting and resolving files
// stuck in the ambiguous match band.
type ReviewGateway struct {
	sessions session.Repository
	orch     *Orchestrator
	caps     CapabilityChecker
	logger   logging.Logger
}

// NewReviewGateway wires the gateway.  A nil checker denies everyone.
func NewReviewGateway(sessions session.Repository, orch *Orchestrator, caps CapabilityChecker, log logging.Logger) *ReviewGateway {
	if caps == nil {
		caps = CapabilityFunc(func(context.Context, common.UserID) bool { return false })
	}
	return &ReviewGateway{sessions: sessions, orch: orch, caps: caps, logger: log.Named("review")}
}

// ListReviewItems returns the files awaiting adjudication, with their
// candidate sets.
func (g *ReviewGateway) ListReviewItems(ctx context.Context, user common.UserID, sessionID common.SessionID) ([]*session.BatchFileRecord, error) {
	if !g.caps.CanReview(ctx, user) {
		return nil, errors.New(errors.ErrCodeReviewForbidden, "caller lacks the review capability")
	}
	if _, err := g.sessions.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return g.sessions.ListReviewPending(ctx, sessionID)
}

// SubmitDecisions applies the resolutions and unblocks each resolved file
// for content processing immediately, independently of sibling files still
// awaiting review.  Decisions are applied independently too: a bad decision
// is reported and does not abort its siblings.  The session itself leaves
// AWAITING_REVIEW once its last review item resolves.
func (g *ReviewGateway) SubmitDecisions(ctx context.Context, user common.UserID, sessionID common.SessionID, decisions []ReviewDecision) (int, error) {
	if !g.caps.CanReview(ctx, user) {
		return 0, errors.New(errors.ErrCodeReviewForbidden, "caller lacks the review capability")
	}
	if len(decisions) == 0 {
		return 0, errors.New(errors.ErrCodeValidation, "no decisions provided")
	}
	if _, err := g.sessions.GetSession(ctx, sessionID); err != nil {
		return 0, err
	}

	applied := 0
	resolved := make([]common.ID, 0, len(decisions))
	var firstErr error
	for _, d := range decisions {
		if err := g.applyOne(ctx, sessionID, d); err != nil {
			g.logger.Warn("review decision rejected",
				logging.String("session_id", string(sessionID)),
				logging.String("file_id", string(d.FileID)),
				logging.Err(err),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		applied++
		resolved = append(resolved, d.FileID)
	}

	remaining, err := g.sessions.ListReviewPending(ctx, sessionID)
	if err != nil {
		return applied, err
	}
	if len(remaining) == 0 && applied > 0 {
		if err := g.orch.ResumeProcessing(ctx, sessionID); err != nil {
			return applied, err
		}
	} else if len(resolved) > 0 {
		g.orch.DispatchResolved(ctx, sessionID, resolved)
	}
	return applied, firstErr
}

func (g *ReviewGateway) applyOne(ctx context.Context, sessionID common.SessionID, d ReviewDecision) error {
	switch d.Choice {
	case ChoiceAssignExisting:
		if d.PatientID == nil || *d.PatientID == "" {
			return errors.New(errors.ErrCodeReviewInvalidChoice, "assign_existing requires a patient id")
		}
	case ChoiceCreateNew:
		if d.PatientID != nil {
			return errors.New(errors.ErrCodeReviewInvalidChoice, "create_new must not carry a patient id")
		}
	default:
		return errors.Newf(errors.ErrCodeReviewInvalidChoice, "unknown review choice %q", d.Choice)
	}

	f, err := g.sessions.GetFile(ctx, sessionID, d.FileID)
	if err != nil {
		return err
	}
	if err := f.Resolve(d.PatientID); err != nil {
		return err
	}
	return g.sessions.UpdateFile(ctx, f)
}
