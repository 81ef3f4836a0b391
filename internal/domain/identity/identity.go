// Package identity implements the filename-to-patient-identity contract for
// the institutional bulk-upload convention.  All business rules about the
// filename shape live here; persistence and matching are handled by separate
// layers.
package identity

import (
	"fmt"

	"github.com/turtacn/MedRecord-Ingest/pkg/errors"
)

// DocumentType classifies the clinical document encoded in the filename.
type DocumentType string

const (
	DocTypeConsultation DocumentType = "CONSULTATION"
	DocTypeEmergency    DocumentType = "EMERGENCY"
	DocTypeLab          DocumentType = "LAB"
	DocTypeImaging      DocumentType = "IMAGING"
	DocTypeOther        DocumentType = "OTHER"
)

// documentTypeCodes maps the short uppercase filename tokens to document
// types.  Unrecognised codes map to DocTypeOther rather than failing the
// parse; the set reflects the codes observed in institutional uploads.
var documentTypeCodes = map[string]DocumentType{
	"CONS":   DocTypeConsultation,
	"CONSUL": DocTypeConsultation,
	"CON":    DocTypeConsultation,
	"URG":    DocTypeEmergency,
	"EMER":   DocTypeEmergency,
	"ER":     DocTypeEmergency,
	"LAB":    DocTypeLab,
	"LABS":   DocTypeLab,
	"IMG":    DocTypeImaging,
	"IMAG":   DocTypeImaging,
	"RX":     DocTypeImaging,
	"TAC":    DocTypeImaging,
	"USG":    DocTypeImaging,
}

// DocumentTypeFromCode resolves a filename token to a DocumentType.
func DocumentTypeFromCode(code string) DocumentType {
	if dt, ok := documentTypeCodes[code]; ok {
		return dt
	}
	return DocTypeOther
}

// PatientIdentity is the structured identity parsed from one filename.
// Immutable once constructed; created by Parse, consumed by the matcher and
// the content processor.
type PatientIdentity struct {
	// ExternalRecordID is the institution-issued numeric patient identifier
	// (the "expediente" number) leading the filename.
	ExternalRecordID string `json:"external_record_id"`

	// FullName is the normalized "<given names> <surnames>" form used for
	// similarity scoring and display.
	FullName string `json:"full_name"`

	// RawSurnames and RawGivenNames preserve the original casing for audit.
	RawSurnames   string `json:"raw_surnames"`
	RawGivenNames string `json:"raw_given_names"`

	// SecondaryRecordNumber is the optional second digit sequence; its
	// absence never fails parsing.
	SecondaryRecordNumber string `json:"secondary_record_number,omitempty"`

	DocumentType   DocumentType `json:"document_type"`
	SourceFilename string       `json:"source_filename"`
}

// ParseReason is the machine-readable classification of a parse failure.
type ParseReason string

const (
	ReasonMissingComma          ParseReason = "MISSING_COMMA"
	ReasonInvalidID             ParseReason = "INVALID_ID"
	ReasonUnrecognizedStructure ParseReason = "UNRECOGNIZED_STRUCTURE"
	ReasonBadExtension          ParseReason = "BAD_EXTENSION"
)

// ParseError describes why a filename could not be parsed.  Parse failure is
// a normal, expected outcome routed to manual handling, never a
// pipeline-halting error.
type ParseError struct {
	Filename   string      `json:"filename"`
	Reason     ParseReason `json:"reason"`
	Suggestion string      `json:"suggestion"`
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse filename %q (%s): %s", e.Filename, e.Reason, e.Suggestion)
}

// Code maps the parse reason onto the pipeline error-code taxonomy.
func (e *ParseError) Code() errors.ErrorCode {
	switch e.Reason {
	case ReasonMissingComma:
		return errors.ErrCodeParseMissingComma
	case ReasonInvalidID:
		return errors.ErrCodeParseInvalidID
	case ReasonBadExtension:
		return errors.ErrCodeParseBadExtension
	default:
		return errors.ErrCodeParseUnrecognized
	}
}
