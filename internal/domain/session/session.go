// Package session holds the batch-session aggregate: the persistent record
// tying one bulk upload together, its per-file tracking rows, and the state
// machine governing their lifecycle.
package session

import (
	"time"

	"github.com/turtacn/MedRecord-Ingest/internal/domain/identity"
	"github.com/turtacn/MedRecord-Ingest/internal/domain/matching"
	"github.com/turtacn/MedRecord-Ingest/pkg/errors"
	"github.com/turtacn/MedRecord-Ingest/pkg/types/common"
)

// Status is the batch-session state machine state.
type Status string

const (
	StatusInitiated       Status = "INITIATED"
	StatusUploading       Status = "UPLOADING"
	StatusParsing         Status = "PARSING"
	StatusAwaitingReview  Status = "AWAITING_REVIEW"
	StatusProcessing      Status = "PROCESSING"
	StatusCompleted       Status = "COMPLETED"
	StatusPartiallyFailed Status = "PARTIALLY_FAILED"
	StatusFailed          Status = "FAILED"
	StatusCancelled       Status = "CANCELLED"
)

// validTransitions encodes the session state machine.  Anything not listed
// here is rejected with a SESSION_002 error rather than silently ignored.
var validTransitions = map[Status][]Status{
	StatusInitiated:      {StatusUploading, StatusCancelled},
	StatusUploading:      {StatusParsing, StatusCancelled},
	StatusParsing:        {StatusAwaitingReview, StatusProcessing, StatusFailed, StatusCancelled},
	StatusAwaitingReview: {StatusProcessing, StatusCancelled},
	StatusProcessing:     {StatusCompleted, StatusPartiallyFailed, StatusFailed, StatusCancelled},
}

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return len(validTransitions[s]) == 0
}

// CanTransition reports whether the move from s to next is legal.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ProcessingMode selects what content processing does with extracted text.
type ProcessingMode string

const (
	ModeIndexOnly ProcessingMode = "INDEX_ONLY"
	ModeStoreOnly ProcessingMode = "STORE_ONLY"
	ModeBoth      ProcessingMode = "BOTH"
)

// Valid reports whether m is one of the three recognized modes.
func (m ProcessingMode) Valid() bool {
	switch m {
	case ModeIndexOnly, ModeStoreOnly, ModeBoth:
		return true
	}
	return false
}

// ParseStatus tracks the filename-parse stage of one file.
type ParseStatus string

const (
	ParsePending ParseStatus = "PENDING"
	ParseOK      ParseStatus = "PARSED"
	ParseFailed  ParseStatus = "PARSE_FAILED"
)

// FileStatus tracks the content-processing stage of one file.
type FileStatus string

const (
	FilePending    FileStatus = "PENDING"
	FileProcessing FileStatus = "PROCESSING"
	FileCompleted  FileStatus = "COMPLETED"
	FileFailed     FileStatus = "FAILED"
)

// BatchSession is the unit of work for one bulk upload.  It is created on
// session initiation, mutated only through the orchestrator, and retained
// for audit until an explicit administrative cleanup.
type BatchSession struct {
	ID             common.SessionID `json:"id"`
	ProcessingMode ProcessingMode   `json:"processing_mode"`
	Status         Status           `json:"status"`
	TotalFiles     int              `json:"total_files"`
	ProcessedFiles int              `json:"processed_files"`
	FailedFiles    int              `json:"failed_files"`
	CreatedBy      common.UserID    `json:"created_by,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	StartedAt      *time.Time       `json:"started_at,omitempty"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
}

// NewBatchSession constructs a session in the INITIATED state.
func NewBatchSession(mode ProcessingMode, createdBy common.UserID) (*BatchSession, error) {
	if !mode.Valid() {
		return nil, errors.Newf(errors.ErrCodeValidation, "unknown processing mode %q", mode)
	}
	return &BatchSession{
		ID:             common.NewSessionID(),
		ProcessingMode: mode,
		Status:         StatusInitiated,
		CreatedBy:      createdBy,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// Transition moves the session to next, stamping the lifecycle timestamps.
// An illegal move returns a SESSION_002 error and leaves the session
// unchanged.
func (b *BatchSession) Transition(next Status) error {
	if !b.Status.CanTransition(next) {
		return errors.Newf(errors.ErrCodeSessionInvalidState,
			"cannot transition session from %s to %s", b.Status, next)
	}
	now := time.Now().UTC()
	switch next {
	case StatusParsing:
		b.StartedAt = &now
	case StatusCompleted, StatusPartiallyFailed, StatusFailed, StatusCancelled:
		b.CompletedAt = &now
	}
	b.Status = next
	return nil
}

// TerminalStatus derives the terminal state from the final counters.
// Callers must ensure processed+failed == total before invoking it.
func (b *BatchSession) TerminalStatus() Status {
	switch {
	case b.FailedFiles == 0:
		return StatusCompleted
	case b.ProcessedFiles == 0:
		return StatusFailed
	default:
		return StatusPartiallyFailed
	}
}

// BatchFileRecord is the per-file tracking row, child of one BatchSession.
// It is created when file bytes are accepted and mutated through every
// pipeline stage; FileCompleted and FileFailed are terminal, though a FAILED
// record may be re-submitted for processing without re-parsing.
type BatchFileRecord struct {
	ID               common.ID                 `json:"id"`
	SessionID        common.SessionID          `json:"session_id"`
	OriginalFilename string                    `json:"original_filename"`
	BlobPath         string                    `json:"blob_path,omitempty"`
	ParseStatus      ParseStatus               `json:"parse_status"`
	Identity         *identity.PatientIdentity `json:"parsed_identity,omitempty"`
	Decision         *matching.Decision        `json:"match_decision,omitempty"`
	ProcessingStatus FileStatus                `json:"processing_status"`
	ReviewRequired   bool                      `json:"review_required"`
	ResolvedPatient  *common.PatientID         `json:"resolved_patient_id,omitempty"`
	ErrorMessage     string                    `json:"error_message,omitempty"`
	Attempts         int                       `json:"attempts"`
	ProducedDocument *common.DocumentID        `json:"produced_document_id,omitempty"`

	// Partial-success flags: the two processing sub-steps cross independent
	// external systems and are recorded separately, never rolled back.
	ContentStored bool   `json:"content_stored"`
	Indexed       bool   `json:"indexed"`
	ChunkCount    int    `json:"chunk_count,omitempty"`
	ContentHash   string `json:"content_hash,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewBatchFileRecord constructs a pending tracking row for one accepted file.
func NewBatchFileRecord(sessionID common.SessionID, filename, blobPath string) *BatchFileRecord {
	now := time.Now().UTC()
	return &BatchFileRecord{
		ID:               common.NewID(),
		SessionID:        sessionID,
		OriginalFilename: filename,
		BlobPath:         blobPath,
		ParseStatus:      ParsePending,
		ProcessingStatus: FilePending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// MarkParsed records a successful parse and its match decision.
func (f *BatchFileRecord) MarkParsed(id *identity.PatientIdentity, d *matching.Decision) {
	f.ParseStatus = ParseOK
	f.Identity = id
	f.Decision = d
	f.ReviewRequired = d != nil && d.Action == matching.ActionReviewRequired
	if d != nil && d.Action == matching.ActionAutoAssign {
		f.ResolvedPatient = d.ChosenPatientID
	}
	f.UpdatedAt = time.Now().UTC()
}

// MarkParseFailed records a parse failure.  Parse failure is a normal
// outcome routed to manual handling and never aborts the session.
func (f *BatchFileRecord) MarkParseFailed(perr *identity.ParseError) {
	f.ParseStatus = ParseFailed
	f.ProcessingStatus = FileFailed
	if perr != nil {
		f.ErrorMessage = perr.Error()
	}
	f.UpdatedAt = time.Now().UTC()
}

// Resolve applies an admin review decision, clearing the review block.
// assign is nil for a create-new resolution; the orchestrator creates the
// patient and fills ResolvedPatient when it dispatches the file.
func (f *BatchFileRecord) Resolve(assign *common.PatientID) error {
	if !f.ReviewRequired {
		return errors.Newf(errors.ErrCodeReviewNotRequired,
			"file %s is not awaiting review", f.OriginalFilename)
	}
	f.ReviewRequired = false
	f.ResolvedPatient = assign
	if f.Decision != nil {
		if assign != nil {
			f.Decision.Action = matching.ActionAutoAssign
			f.Decision.ChosenPatientID = assign
		} else {
			f.Decision.Action = matching.ActionCreateNew
			f.Decision.ChosenPatientID = nil
		}
	}
	f.UpdatedAt = time.Now().UTC()
	return nil
}

// Processable reports whether the file is eligible for content processing:
// parsed, unblocked, and not already terminal.
func (f *BatchFileRecord) Processable() bool {
	return f.ParseStatus == ParseOK &&
		!f.ReviewRequired &&
		(f.ProcessingStatus == FilePending || f.ProcessingStatus == FileFailed)
}

// MarkProcessing flags the record as dispatched to a worker and counts the
// attempt.
func (f *BatchFileRecord) MarkProcessing() {
	f.ProcessingStatus = FileProcessing
	f.Attempts++
	f.UpdatedAt = time.Now().UTC()
}

// MarkCompleted records a successful processing outcome.
func (f *BatchFileRecord) MarkCompleted(docID common.DocumentID, stored, indexed bool, chunks int, hash string) {
	f.ProcessingStatus = FileCompleted
	f.ProducedDocument = &docID
	f.ContentStored = stored
	f.Indexed = indexed
	f.ChunkCount = chunks
	f.ContentHash = hash
	f.ErrorMessage = ""
	f.UpdatedAt = time.Now().UTC()
}

// MarkFailed records a processing failure, preserving the last error for
// reporting and retry decisions.
func (f *BatchFileRecord) MarkFailed(err error) {
	f.ProcessingStatus = FileFailed
	if err != nil {
		f.ErrorMessage = err.Error()
	}
	f.UpdatedAt = time.Now().UTC()
}
