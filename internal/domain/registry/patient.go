// Package registry defines the patient-registry domain entity and its
// persistence contracts.  The matcher consumes the read side; patient
// creation is an explicit write operation invoked only when the orchestrator
// acts on a create-new decision.
package registry

import (
	"context"
	"time"

	"github.com/turtacn/MedRecord-Ingest/internal/domain/identity"
	"github.com/turtacn/MedRecord-Ingest/pkg/types/common"
)

// Patient is one registry row considered during matching.
type Patient struct {
	ID           common.PatientID `json:"id"`
	RecordNumber string           `json:"record_number"`
	FullName     string           `json:"full_name"`
	// NormalizedName is FullName passed through identity.NormalizeName,
	// precomputed at write time so matching never normalizes registry rows
	// per query.
	NormalizedName string    `json:"normalized_name"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Reader is the registry read interface consumed by the matcher.  A reader
// failure is infrastructure trouble, distinct from an empty candidate list,
// which is a valid non-error outcome.
type Reader interface {
	// FindByRecordNumber returns the patient holding the exact
	// institution-issued record number, or nil when none exists.
	FindByRecordNumber(ctx context.Context, recordNumber string) (*Patient, error)

	// FindCandidates returns registry patients worth scoring against the
	// normalized name query.  Implementations may pre-filter (e.g., trigram
	// index) but must never drop a patient the matcher could score above the
	// create threshold.
	FindCandidates(ctx context.Context, nameQuery string) ([]*Patient, error)
}

// Writer is the registry write interface used when a create-new decision is
// acted on.
type Writer interface {
	// CreateFromIdentity materialises a new registry patient from a parsed
	// identity and returns its id.
	CreateFromIdentity(ctx context.Context, id *identity.PatientIdentity) (common.PatientID, error)
}

// ReadWriter combines both sides for components that own the full registry
// dependency.
type ReadWriter interface {
	Reader
	Writer
}
