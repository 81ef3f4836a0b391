// Package ingest is the application layer of the pipeline: the content
// processor, the batch orchestrator, the review gateway, and the session
// service that fronts them.
package ingest

import (
	"context"

	"github.com/turtacn/MedRecord-Ingest/pkg/types/common"
)

// Extractor is the external bytes-to-text service.
type Extractor interface {
	ExtractText(ctx context.Context, data []byte, filename string) (string, error)
}

// Indexer is the external semantic-index service, consumed as a black box:
// content in, chunk count out.
type Indexer interface {
	IndexContent(ctx context.Context, docID common.DocumentID, text string, meta common.Metadata) (int, error)
	DeleteByDocument(ctx context.Context, docID common.DocumentID) error
}

// BlobStore is the durable path-addressable object store.
type BlobStore interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
	Get(ctx context.Context, path string) ([]byte, error)
	RemovePrefix(ctx context.Context, prefix string) error
}

// EventPublisher emits pipeline lifecycle events.  Publishing is
// best-effort: a broker outage is logged and never fails a file.
type EventPublisher interface {
	Publish(ctx context.Context, event common.EventMessage) error
}

// CreationCache binds external record ids to patients within a session so
// concurrent workers converge on one registry record per real-world patient.
type CreationCache interface {
	LookupPatient(ctx context.Context, sessionID common.SessionID, externalRecordID string) (common.PatientID, bool, error)
	RememberPatient(ctx context.Context, sessionID common.SessionID, externalRecordID string, patientID common.PatientID) (common.PatientID, error)
	PurgeSession(ctx context.Context, sessionID common.SessionID) error
}
