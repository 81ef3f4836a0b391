package ingest

import (
	"context"
	"fmt"

	"github.com/turtacn/MedRecord-Ingest/internal/domain/session"
	"github.com/turtacn/MedRecord-Ingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MedRecord-Ingest/pkg/errors"
	"github.com/turtacn/MedRecord-Ingest/pkg/types/common"
)

// SessionStatus is the complete status snapshot returned by GetStatus.
type SessionStatus struct {
	Session *session.BatchSession      `json:"session"`
	Files   []*session.BatchFileRecord `json:"files"`
}

// Service fronts the session API: it owns the operations the HTTP layer
// exposes and delegates the pipeline work to the orchestrator and the
// review gateway.
type Service struct {
	orch     *Orchestrator
	review   *ReviewGateway
	sessions session.Repository
	blobs    BlobStore
	cache    CreationCache
	logger   logging.Logger
}

// NewService wires the service facade.
func NewService(orch *Orchestrator, review *ReviewGateway, sessions session.Repository, blobs BlobStore, cache CreationCache, log logging.Logger) *Service {
	return &Service{
		orch:     orch,
		review:   review,
		sessions: sessions,
		blobs:    blobs,
		cache:    cache,
		logger:   log.Named("ingest"),
	}
}

// CreateSession opens a batch session in the requested processing mode.
func (s *Service) CreateSession(ctx context.Context, mode session.ProcessingMode, createdBy common.UserID) (*session.BatchSession, error) {
	return s.orch.CreateSession(ctx, mode, createdBy)
}

// AddFiles accepts files into the session and returns per-file parse
// summaries.
func (s *Service) AddFiles(ctx context.Context, sessionID common.SessionID, uploads []FileUpload) ([]ParseSummary, error) {
	return s.orch.AddFiles(ctx, sessionID, uploads)
}

// StartProcessing triggers the session state machine.
func (s *Service) StartProcessing(ctx context.Context, sessionID common.SessionID) error {
	return s.orch.StartProcessing(ctx, sessionID)
}

// GetStatus returns a consistent snapshot of the session and all its files.
func (s *Service) GetStatus(ctx context.Context, sessionID common.SessionID) (*SessionStatus, error) {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	files, err := s.sessions.ListFiles(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &SessionStatus{Session: sess, Files: files}, nil
}

// ListReviewItems returns the files awaiting admin adjudication.
func (s *Service) ListReviewItems(ctx context.Context, user common.UserID, sessionID common.SessionID) ([]*session.BatchFileRecord, error) {
	return s.review.ListReviewItems(ctx, user, sessionID)
}

// SubmitReviewDecisions applies admin resolutions and unblocks processing.
func (s *Service) SubmitReviewDecisions(ctx context.Context, user common.UserID, sessionID common.SessionID, decisions []ReviewDecision) (int, error) {
	return s.review.SubmitDecisions(ctx, user, sessionID, decisions)
}

// CancelSession stops dispatching new files for the session.
func (s *Service) CancelSession(ctx context.Context, sessionID common.SessionID) error {
	return s.orch.CancelSession(ctx, sessionID)
}

// RetryFile re-submits one failed file.
func (s *Service) RetryFile(ctx context.Context, sessionID common.SessionID, fileID common.ID) error {
	return s.orch.RetryFile(ctx, sessionID, fileID)
}

// CleanupSession releases a finished session's temporary resources: raw
// upload blobs, the creation cache, and the session rows.  Sessions are
// retained for audit until this explicit administrative call.
func (s *Service) CleanupSession(ctx context.Context, sessionID common.SessionID) error {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !sess.Status.IsTerminal() {
		return errors.Newf(errors.ErrCodeSessionInvalidState,
			"session %s is %s, cleanup requires a finished session", sessionID, sess.Status)
	}
	if err := s.blobs.RemovePrefix(ctx, fmt.Sprintf("sessions/%s/", sessionID)); err != nil {
		return err
	}
	if err := s.cache.PurgeSession(ctx, sessionID); err != nil {
		return err
	}
	if err := s.sessions.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	s.logger.Info("session cleaned up", logging.String("session_id", string(sessionID)))
	return nil
}
