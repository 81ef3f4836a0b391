package repositories

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/turtacn/MedRecord-Ingest/internal/domain/document"
	"github.com/turtacn/MedRecord-Ingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MedRecord-Ingest/pkg/errors"
	"github.com/turtacn/MedRecord-Ingest/pkg/types/common"
)

// DocumentRepository is the PostgreSQL document.Repository.  The
// (patient_id, content_hash) unique constraint is the durable backstop for
// the content-hash idempotency check.
type DocumentRepository struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewDocumentRepository constructs a ready-to-use DocumentRepository.
func NewDocumentRepository(pool *pgxpool.Pool, log logging.Logger) *DocumentRepository {
	return &DocumentRepository{pool: pool, logger: log}
}

var _ document.Repository = (*DocumentRepository)(nil)

const documentColumns = `
	id, patient_id, source_filename, document_type, content_hash,
	content_path, content_stored, indexed, chunk_count, created_at, updated_at`

func (r *DocumentRepository) Create(ctx context.Context, d *document.Document) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO documents (
			id, patient_id, source_filename, document_type, content_hash,
			content_path, content_stored, indexed, chunk_count, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		d.ID, d.PatientID, d.SourceFilename, d.DocumentType, d.ContentHash,
		d.ContentPath, d.ContentStored, d.Indexed, d.ChunkCount,
		d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeProcStorage, "failed to insert document")
	}
	return nil
}

func (r *DocumentRepository) Update(ctx context.Context, d *document.Document) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE documents SET
			content_path = $2, content_stored = $3, indexed = $4,
			chunk_count = $5, updated_at = $6
		WHERE id = $1`,
		d.ID, d.ContentPath, d.ContentStored, d.Indexed, d.ChunkCount, d.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeProcStorage, "failed to update document")
	}
	if tag.RowsAffected() == 0 {
		return errors.Newf(errors.ErrCodeNotFound, "document %s not found", d.ID)
	}
	return nil
}

func (r *DocumentRepository) Get(ctx context.Context, id common.DocumentID) (*document.Document, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	d, err := scanDocument(row)
	if err == pgx.ErrNoRows {
		return nil, errors.Newf(errors.ErrCodeNotFound, "document %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query document")
	}
	return d, nil
}

func (r *DocumentRepository) FindByContentHash(ctx context.Context, patientID common.PatientID, hash string) (*document.Document, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE patient_id = $1 AND content_hash = $2`,
		patientID, hash)
	d, err := scanDocument(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query document by hash")
	}
	return d, nil
}

func (r *DocumentRepository) ListByPatient(ctx context.Context, patientID common.PatientID, p common.Pagination) ([]*document.Document, error) {
	if p.PageSize <= 0 {
		p.PageSize = 20
	}
	if p.Page <= 0 {
		p.Page = 1
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, p.PageSize, (p.Page-1)*p.PageSize)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to list documents")
	}
	defer rows.Close()

	var out []*document.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan document")
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to iterate documents")
	}
	return out, nil
}

func scanDocument(row pgx.Row) (*document.Document, error) {
	var d document.Document
	err := row.Scan(&d.ID, &d.PatientID, &d.SourceFilename, &d.DocumentType,
		&d.ContentHash, &d.ContentPath, &d.ContentStored, &d.Indexed,
		&d.ChunkCount, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
