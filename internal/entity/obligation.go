package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/caselane/caselane/constants"
)

// Obligation is a structured fact extracted from a document. NaturalKey is a
// deterministic hash over the normalized identity tuple; it is unique within
// the owning document and is the idempotency identity for upserts.
type Obligation struct {
	ID             uuid.UUID                  `json:"id"`
	DocumentID     uuid.UUID                  `json:"document_id"`
	NaturalKey     string                     `json:"natural_key"`
	ObligationType string                     `json:"obligation_type"`
	Status         constants.ObligationStatus `json:"status"`
	TriggerEvent   *string                    `json:"trigger_event,omitempty"`
	DueDate        *time.Time                 `json:"due_date,omitempty"`
	PartyName      *string                    `json:"party_name,omitempty"`
	Description    *string                    `json:"description,omitempty"`
	CreatedAt      time.Time                  `json:"created_at"`
	UpdatedAt      time.Time                  `json:"updated_at"`
}

// EvidenceLink cites a page range of an evidence document as proof for an
// obligation. Identity is (obligation, evidence document, page range); the
// note is supplementary and never identity-bearing.
type EvidenceLink struct {
	ID                 uuid.UUID `json:"id"`
	ObligationID       uuid.UUID `json:"obligation_id"`
	EvidenceDocumentID uuid.UUID `json:"evidence_document_id"`
	PageFrom           int       `json:"page_from"`
	PageTo             int       `json:"page_to"`
	Note               *string   `json:"note,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}
