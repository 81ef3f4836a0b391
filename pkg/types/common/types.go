// Package common defines the cross-layer identifier and DTO primitives shared
// by every module of the MedRecord-Ingest pipeline.
package common

import (
	"time"

	"github.com/google/uuid"
)

// ID is a string alias for UUID v4.
type ID string

// NewID generates a fresh random ID.
func NewID() ID {
	return ID(uuid.NewString())
}

// PatientID identifies a patient in the registry.
type PatientID string

// SessionID identifies one bulk-upload batch session.
type SessionID string

// DocumentID identifies a document produced by content processing.
type DocumentID string

// UserID identifies the authenticated caller (admin or uploader).
type UserID string

// NewSessionID generates an opaque unique session token.
func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

// NewDocumentID generates a fresh document identifier.
func NewDocumentID() DocumentID {
	return DocumentID(uuid.NewString())
}

// Metadata is an open-ended key-value bag attached to indexed content.
type Metadata map[string]interface{}

// Pagination defines parameters for paginated requests.
type Pagination struct {
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int64 `json:"total,omitempty"`
}

// EventMessage is the envelope published to the ingest event topic.  Payload
// is JSON-encoded by the producer; consumers switch on Kind.
type EventMessage struct {
	Kind       string    `json:"kind"`
	SessionID  SessionID `json:"session_id"`
	Filename   string    `json:"filename,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    []byte    `json:"payload,omitempty"`
}
