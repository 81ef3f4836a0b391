package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/turtacn/MedRecord-Ingest/internal/domain/document"
	"github.com/turtacn/MedRecord-Ingest/internal/domain/identity"
	"github.com/turtacn/MedRecord-Ingest/internal/domain/session"
	"github.com/turtacn/MedRecord-Ingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MedRecord-Ingest/pkg/errors"
	"github.com/turtacn/MedRecord-Ingest/pkg/types/common"
)

// ProcessRequest carries one file through content processing.
type ProcessRequest struct {
	PatientID    common.PatientID
	Filename     string
	Data         []byte
	Mode         session.ProcessingMode
	DocumentType identity.DocumentType
}

// ProcessResult reports the processing outcome.  Duplicate means the content
// hash already satisfied the requested mode and nothing was re-done.
type ProcessResult struct {
	DocumentID    common.DocumentID
	ContentHash   string
	ContentStored bool
	Indexed       bool
	ChunkCount    int
	Duplicate     bool
}

// FileProcessor is the processing contract the orchestrator dispatches to.
type FileProcessor interface {
	Process(ctx context.Context, req ProcessRequest) (*ProcessResult, error)
}

// Processor extracts text and, by mode, indexes it and/or stores the full
// content.  Storage and indexing cross two external systems and are not
// atomic; a sub-step failure records the partial success on the document row
// instead of rolling the other sub-step back.
type Processor struct {
	extractor Extractor
	indexer   Indexer
	blobs     BlobStore
	documents document.Repository
	logger    logging.Logger
}

// NewProcessor wires the processing collaborators.
func NewProcessor(extractor Extractor, indexer Indexer, blobs BlobStore, documents document.Repository, log logging.Logger) *Processor {
	return &Processor{
		extractor: extractor,
		indexer:   indexer,
		blobs:     blobs,
		documents: documents,
		logger:    log,
	}
}

var _ FileProcessor = (*Processor)(nil)

// Process runs the content pipeline for one file.  Reprocessing the same
// bytes for the same patient is safe: the content hash resolves to the
// existing document and only the sub-steps it is still missing are executed,
// so nothing is ever double-indexed.
func (p *Processor) Process(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	if !req.Mode.Valid() {
		return nil, errors.Newf(errors.ErrCodeValidation, "unknown processing mode %q", req.Mode)
	}
	if req.PatientID == "" {
		return nil, errors.New(errors.ErrCodeValidation, "processing requires a resolved patient")
	}

	sum := sha256.Sum256(req.Data)
	hash := hex.EncodeToString(sum[:])
	wantStore := req.Mode == session.ModeStoreOnly || req.Mode == session.ModeBoth
	wantIndex := req.Mode == session.ModeIndexOnly || req.Mode == session.ModeBoth

	doc, err := p.documents.FindByContentHash(ctx, req.PatientID, hash)
	if err != nil {
		return nil, err
	}
	if doc != nil && (!wantStore || doc.ContentStored) && (!wantIndex || doc.Indexed) {
		p.logger.Info("content already processed, skipping",
			logging.String("document_id", string(doc.ID)),
			logging.String("content_hash", hash),
		)
		return resultFromDocument(doc, true), nil
	}

	text, err := p.extractor.ExtractText(ctx, req.Data, req.Filename)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeProcExtraction, "text extraction failed")
	}

	if doc == nil {
		now := time.Now().UTC()
		doc = &document.Document{
			ID:             common.NewDocumentID(),
			PatientID:      req.PatientID,
			SourceFilename: req.Filename,
			DocumentType:   req.DocumentType,
			ContentHash:    hash,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := p.documents.Create(ctx, doc); err != nil {
			return nil, err
		}
	}

	if wantStore && !doc.ContentStored {
		path := fmt.Sprintf("documents/%s/content.txt", doc.ID)
		if err := p.blobs.Put(ctx, path, []byte(text), "text/plain; charset=utf-8"); err != nil {
			p.persistState(ctx, doc)
			return resultFromDocument(doc, false),
				errors.Wrap(err, errors.ErrCodeProcStorage, "content storage failed")
		}
		doc.ContentPath = path
		doc.ContentStored = true
	}

	if wantIndex && !doc.Indexed {
		chunks, err := p.indexer.IndexContent(ctx, doc.ID, text, common.Metadata{
			"patient_id":      string(req.PatientID),
			"source_filename": req.Filename,
			"document_type":   string(req.DocumentType),
		})
		if err != nil {
			// Storage may already have succeeded above; keep that fact.
			p.persistState(ctx, doc)
			return resultFromDocument(doc, false),
				errors.Wrap(err, errors.ErrCodeProcIndexing, "semantic indexing failed")
		}
		doc.Indexed = true
		doc.ChunkCount = chunks
	}

	doc.UpdatedAt = time.Now().UTC()
	if err := p.documents.Update(ctx, doc); err != nil {
		return nil, err
	}
	return resultFromDocument(doc, false), nil
}

// persistState best-effort records partial progress on the document row.
func (p *Processor) persistState(ctx context.Context, doc *document.Document) {
	doc.UpdatedAt = time.Now().UTC()
	if err := p.documents.Update(ctx, doc); err != nil {
		p.logger.Error("failed to record partial processing state",
			logging.String("document_id", string(doc.ID)),
			logging.Err(err),
		)
	}
}

func resultFromDocument(doc *document.Document, duplicate bool) *ProcessResult {
	return &ProcessResult{
		DocumentID:    doc.ID,
		ContentHash:   doc.ContentHash,
		ContentStored: doc.ContentStored,
		Indexed:       doc.Indexed,
		ChunkCount:    doc.ChunkCount,
		Duplicate:     duplicate,
	}
}
