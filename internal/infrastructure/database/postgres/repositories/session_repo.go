// Package repositories provides the PostgreSQL implementations of the domain
// repository interfaces: the session store, the patient registry, and the
// document registry.
package repositories

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/turtacn/MedRecord-Ingest/internal/domain/identity"
	"github.com/turtacn/MedRecord-Ingest/internal/domain/matching"
	"github.com/turtacn/MedRecord-Ingest/internal/domain/session"
	"github.com/turtacn/MedRecord-Ingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MedRecord-Ingest/pkg/errors"
	"github.com/turtacn/MedRecord-Ingest/pkg/types/common"
)

// SessionRepository is the PostgreSQL session.Repository.  Every method uses
// parameterised queries; counter updates are a single atomic UPDATE so
// concurrent workers never race.
type SessionRepository struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewSessionRepository constructs a ready-to-use SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool, log logging.Logger) *SessionRepository {
	return &SessionRepository{pool: pool, logger: log}
}

var _ session.Repository = (*SessionRepository)(nil)

func (r *SessionRepository) CreateSession(ctx context.Context, s *session.BatchSession) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO batch_sessions (
			id, processing_mode, status, total_files, processed_files,
			failed_files, created_by, created_at, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID, s.ProcessingMode, s.Status, s.TotalFiles, s.ProcessedFiles,
		s.FailedFiles, s.CreatedBy, s.CreatedAt, s.StartedAt, s.CompletedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to insert session")
	}
	return nil
}

func (r *SessionRepository) GetSession(ctx context.Context, id common.SessionID) (*session.BatchSession, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, processing_mode, status, total_files, processed_files,
		       failed_files, created_by, created_at, started_at, completed_at
		FROM batch_sessions WHERE id = $1`, id)

	var s session.BatchSession
	err := row.Scan(&s.ID, &s.ProcessingMode, &s.Status, &s.TotalFiles,
		&s.ProcessedFiles, &s.FailedFiles, &s.CreatedBy, &s.CreatedAt,
		&s.StartedAt, &s.CompletedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.Newf(errors.ErrCodeSessionNotFound, "session %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query session")
	}
	return &s, nil
}

// UpdateSession persists mode, status, total and timestamps.  The
// processed/failed counters are owned by IncrementCounters and are never
// written from a session snapshot, which may be stale under concurrency.
func (r *SessionRepository) UpdateSession(ctx context.Context, s *session.BatchSession) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE batch_sessions SET
			processing_mode = $2, status = $3, total_files = $4,
			started_at = $5, completed_at = $6
		WHERE id = $1`,
		s.ID, s.ProcessingMode, s.Status, s.TotalFiles,
		s.StartedAt, s.CompletedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to update session")
	}
	if tag.RowsAffected() == 0 {
		return errors.Newf(errors.ErrCodeSessionNotFound, "session %s not found", s.ID)
	}
	return nil
}

func (r *SessionRepository) IncrementCounters(ctx context.Context, id common.SessionID, processedDelta, failedDelta int) (int, int, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE batch_sessions SET
			processed_files = processed_files + $2,
			failed_files = failed_files + $3
		WHERE id = $1
		RETURNING processed_files, failed_files`,
		id, processedDelta, failedDelta,
	)
	var processed, failed int
	if err := row.Scan(&processed, &failed); err != nil {
		if err == pgx.ErrNoRows {
			return 0, 0, errors.Newf(errors.ErrCodeSessionNotFound, "session %s not found", id)
		}
		return 0, 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to increment counters")
	}
	return processed, failed, nil
}

func (r *SessionRepository) AddFiles(ctx context.Context, files []*session.BatchFileRecord) error {
	if len(files) == 0 {
		return nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to begin transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, f := range files {
		identityJSON, decisionJSON, err := marshalFilePayloads(f)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO batch_files (
				id, session_id, original_filename, blob_path, parse_status,
				parsed_identity, match_decision, processing_status,
				review_required, resolved_patient_id, error_message, attempts,
				produced_document_id, content_stored, indexed, chunk_count,
				content_hash, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
			f.ID, f.SessionID, f.OriginalFilename, f.BlobPath, f.ParseStatus,
			identityJSON, decisionJSON, f.ProcessingStatus,
			f.ReviewRequired, f.ResolvedPatient, f.ErrorMessage, f.Attempts,
			f.ProducedDocument, f.ContentStored, f.Indexed, f.ChunkCount,
			f.ContentHash, f.CreatedAt, f.UpdatedAt,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to insert file record")
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to commit file records")
	}
	return nil
}

// ClaimFile is the compare-and-swap that hands a file to exactly one
// dispatcher.  Zero rows affected means another worker already claimed it or
// the file left the expected status; both are a lost claim, not an error.
func (r *SessionRepository) ClaimFile(ctx context.Context, sessionID common.SessionID, fileID common.ID, from session.FileStatus) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE batch_files SET processing_status = $3, updated_at = now()
		WHERE session_id = $1 AND id = $2 AND processing_status = $4`,
		sessionID, fileID, session.FileProcessing, from,
	)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to claim file record")
	}
	return tag.RowsAffected() == 1, nil
}

const fileColumns = `
	id, session_id, original_filename, blob_path, parse_status,
	parsed_identity, match_decision, processing_status,
	review_required, resolved_patient_id, error_message, attempts,
	produced_document_id, content_stored, indexed, chunk_count,
	content_hash, created_at, updated_at`

func (r *SessionRepository) GetFile(ctx context.Context, sessionID common.SessionID, fileID common.ID) (*session.BatchFileRecord, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+fileColumns+` FROM batch_files WHERE session_id = $1 AND id = $2`,
		sessionID, fileID)
	f, err := scanFile(row)
	if err == pgx.ErrNoRows {
		return nil, errors.Newf(errors.ErrCodeSessionFileNotFound,
			"file %s not found in session %s", fileID, sessionID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query file record")
	}
	return f, nil
}

func (r *SessionRepository) ListFiles(ctx context.Context, sessionID common.SessionID) ([]*session.BatchFileRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+fileColumns+` FROM batch_files WHERE session_id = $1 ORDER BY created_at, id`,
		sessionID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to list file records")
	}
	defer rows.Close()
	return collectFiles(rows)
}

func (r *SessionRepository) ListReviewPending(ctx context.Context, sessionID common.SessionID) ([]*session.BatchFileRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+fileColumns+` FROM batch_files
		 WHERE session_id = $1 AND review_required ORDER BY created_at, id`,
		sessionID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to list review items")
	}
	defer rows.Close()
	return collectFiles(rows)
}

func (r *SessionRepository) UpdateFile(ctx context.Context, f *session.BatchFileRecord) error {
	identityJSON, decisionJSON, err := marshalFilePayloads(f)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE batch_files SET
			parse_status = $3, parsed_identity = $4, match_decision = $5,
			processing_status = $6, review_required = $7,
			resolved_patient_id = $8, error_message = $9, attempts = $10,
			produced_document_id = $11, content_stored = $12, indexed = $13,
			chunk_count = $14, content_hash = $15, updated_at = $16
		WHERE session_id = $1 AND id = $2`,
		f.SessionID, f.ID, f.ParseStatus, identityJSON, decisionJSON,
		f.ProcessingStatus, f.ReviewRequired, f.ResolvedPatient,
		f.ErrorMessage, f.Attempts, f.ProducedDocument, f.ContentStored,
		f.Indexed, f.ChunkCount, f.ContentHash, f.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to update file record")
	}
	if tag.RowsAffected() == 0 {
		return errors.Newf(errors.ErrCodeSessionFileNotFound,
			"file %s not found in session %s", f.ID, f.SessionID)
	}
	return nil
}

func (r *SessionRepository) DeleteSession(ctx context.Context, id common.SessionID) error {
	// batch_files cascades on session delete.
	tag, err := r.pool.Exec(ctx, `DELETE FROM batch_sessions WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to delete session")
	}
	if tag.RowsAffected() == 0 {
		return errors.Newf(errors.ErrCodeSessionNotFound, "session %s not found", id)
	}
	return nil
}

func marshalFilePayloads(f *session.BatchFileRecord) ([]byte, []byte, error) {
	var identityJSON, decisionJSON []byte
	var err error
	if f.Identity != nil {
		if identityJSON, err = json.Marshal(f.Identity); err != nil {
			return nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal parsed identity")
		}
	}
	if f.Decision != nil {
		if decisionJSON, err = json.Marshal(f.Decision); err != nil {
			return nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal match decision")
		}
	}
	return identityJSON, decisionJSON, nil
}

func scanFile(row pgx.Row) (*session.BatchFileRecord, error) {
	var f session.BatchFileRecord
	var identityJSON, decisionJSON []byte
	err := row.Scan(&f.ID, &f.SessionID, &f.OriginalFilename, &f.BlobPath,
		&f.ParseStatus, &identityJSON, &decisionJSON, &f.ProcessingStatus,
		&f.ReviewRequired, &f.ResolvedPatient, &f.ErrorMessage, &f.Attempts,
		&f.ProducedDocument, &f.ContentStored, &f.Indexed, &f.ChunkCount,
		&f.ContentHash, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(identityJSON) > 0 {
		f.Identity = &identity.PatientIdentity{}
		if err := json.Unmarshal(identityJSON, f.Identity); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal parsed identity")
		}
	}
	if len(decisionJSON) > 0 {
		f.Decision = &matching.Decision{}
		if err := json.Unmarshal(decisionJSON, f.Decision); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal match decision")
		}
	}
	return &f, nil
}

func collectFiles(rows pgx.Rows) ([]*session.BatchFileRecord, error) {
	var out []*session.BatchFileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan file record")
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to iterate file records")
	}
	return out, nil
}
