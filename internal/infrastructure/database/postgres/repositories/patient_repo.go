package repositories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/turtacn/MedRecord-Ingest/internal/domain/identity"
	"github.com/turtacn/MedRecord-Ingest/internal/domain/registry"
	"github.com/turtacn/MedRecord-Ingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MedRecord-Ingest/pkg/errors"
	"github.com/turtacn/MedRecord-Ingest/pkg/types/common"
)

// candidateLimit bounds the trigram prefilter.  Final scoring and ranking
// happen in the matcher, so the prefilter only needs to be generous enough
// not to drop plausible candidates.
const candidateLimit = 100

// PatientRepository is the PostgreSQL registry.ReadWriter.  Candidate
// retrieval uses a pg_trgm prefilter on the normalized name.
type PatientRepository struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewPatientRepository constructs a ready-to-use PatientRepository.
func NewPatientRepository(pool *pgxpool.Pool, log logging.Logger) *PatientRepository {
	return &PatientRepository{pool: pool, logger: log}
}

var _ registry.ReadWriter = (*PatientRepository)(nil)

// FindByRecordNumber returns the patient holding the institution-issued
// record number, or nil when no such patient exists.
func (r *PatientRepository) FindByRecordNumber(ctx context.Context, recordNumber string) (*registry.Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, record_number, full_name, normalized_name, created_at, updated_at
		FROM patients WHERE record_number = $1`, recordNumber)

	var p registry.Patient
	err := row.Scan(&p.ID, &p.RecordNumber, &p.FullName, &p.NormalizedName,
		&p.CreatedAt, &p.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query patient by record number")
	}
	return &p, nil
}

// FindCandidates returns patients whose normalized name is trigram-similar
// to the query, most similar first.
func (r *PatientRepository) FindCandidates(ctx context.Context, nameQuery string) ([]*registry.Patient, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, record_number, full_name, normalized_name, created_at, updated_at
		FROM patients
		WHERE normalized_name % $1
		ORDER BY similarity(normalized_name, $1) DESC
		LIMIT $2`, nameQuery, candidateLimit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query patient candidates")
	}
	defer rows.Close()

	var out []*registry.Patient
	for rows.Next() {
		var p registry.Patient
		if err := rows.Scan(&p.ID, &p.RecordNumber, &p.FullName,
			&p.NormalizedName, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan patient candidate")
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to iterate patient candidates")
	}
	return out, nil
}

// CreateFromIdentity inserts a new registry patient from a parsed identity.
// A concurrent insert of the same record number returns the existing
// patient's id instead of failing, so double-submits stay convergent.
func (r *PatientRepository) CreateFromIdentity(ctx context.Context, id *identity.PatientIdentity) (common.PatientID, error) {
	if id == nil || id.FullName == "" {
		return "", errors.New(errors.ErrCodeMatchPatientCreate, "identity has no usable name")
	}
	now := time.Now().UTC()
	patientID := common.PatientID(common.NewID())

	row := r.pool.QueryRow(ctx, `
		INSERT INTO patients (id, record_number, full_name, normalized_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (record_number) DO UPDATE SET updated_at = EXCLUDED.updated_at
		RETURNING id`,
		patientID, id.ExternalRecordID, id.FullName,
		identity.NormalizeName(id.FullName), now,
	)
	var created common.PatientID
	if err := row.Scan(&created); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeMatchPatientCreate, "failed to create patient")
	}
	if created != patientID {
		r.logger.Info("patient already existed for record number",
			logging.String("record_number", id.ExternalRecordID),
			logging.String("patient_id", string(created)),
		)
	}
	return created, nil
}
