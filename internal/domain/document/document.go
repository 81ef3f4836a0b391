// Package document defines the processed-document entity produced by content
// processing, and the registry interface it is persisted through.
package document

import (
	"context"
	"time"

	"github.com/turtacn/MedRecord-Ingest/internal/domain/identity"
	"github.com/turtacn/MedRecord-Ingest/pkg/types/common"
)

// Document is one processed medical record attached to a patient.  At most
// one document exists per (patient, content hash); reprocessing the same
// bytes reuses the existing row instead of double-indexing.
type Document struct {
	ID             common.DocumentID     `json:"id"`
	PatientID      common.PatientID      `json:"patient_id"`
	SourceFilename string                `json:"source_filename"`
	DocumentType   identity.DocumentType `json:"document_type"`
	ContentHash    string                `json:"content_hash"`

	// ContentPath is the blob location of the full extracted text; empty in
	// INDEX_ONLY mode.
	ContentPath   string `json:"content_path,omitempty"`
	ContentStored bool   `json:"content_stored"`
	Indexed       bool   `json:"indexed"`
	ChunkCount    int    `json:"chunk_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Repository is the document-registry write/read interface.
type Repository interface {
	Create(ctx context.Context, d *Document) error
	Update(ctx context.Context, d *Document) error
	Get(ctx context.Context, id common.DocumentID) (*Document, error)

	// FindByContentHash returns the existing document for the patient and
	// hash, or nil when none exists.  Backs the idempotency check.
	FindByContentHash(ctx context.Context, patientID common.PatientID, hash string) (*Document, error)

	ListByPatient(ctx context.Context, patientID common.PatientID, p common.Pagination) ([]*Document, error)
}
