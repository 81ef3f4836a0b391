package session

import (
	"context"

	"github.com/turtacn/MedRecord-Ingest/pkg/types/common"
)

// Repository is the durable session store consumed by the orchestrator and
// the review gateway.  Implementations must provide at least read-committed
// isolation; counter updates go through IncrementCounters so concurrent
// workers never race on read-modify-write.
type Repository interface {
	CreateSession(ctx context.Context, s *BatchSession) error
	GetSession(ctx context.Context, id common.SessionID) (*BatchSession, error)
	UpdateSession(ctx context.Context, s *BatchSession) error

	// IncrementCounters atomically adds the deltas to the session's
	// processed/failed aggregates and returns the resulting totals.
	IncrementCounters(ctx context.Context, id common.SessionID, processedDelta, failedDelta int) (processed, failed int, err error)

	AddFiles(ctx context.Context, files []*BatchFileRecord) error

	// ClaimFile atomically flips the file from the given status to
	// PROCESSING and reports whether this caller won the claim.  Every
	// dispatcher (initial run, review resume, retry) must claim a file
	// before working on it so no file is ever processed twice.
	ClaimFile(ctx context.Context, sessionID common.SessionID, fileID common.ID, from FileStatus) (bool, error)

	GetFile(ctx context.Context, sessionID common.SessionID, fileID common.ID) (*BatchFileRecord, error)
	ListFiles(ctx context.Context, sessionID common.SessionID) ([]*BatchFileRecord, error)
	ListReviewPending(ctx context.Context, sessionID common.SessionID) ([]*BatchFileRecord, error)
	UpdateFile(ctx context.Context, f *BatchFileRecord) error

	// DeleteSession removes the session row and cascades its file rows.
	// Used only by the administrative cleanup operation.
	DeleteSession(ctx context.Context, id common.SessionID) error
}
