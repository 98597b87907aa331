package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/caselane/caselane/constants"
)

// Document represents a document for data transfer between layers.
// SHA256 is the immutable content identity: a re-upload with different bytes
// is a new Document linked through SupersededBy on the old row.
type Document struct {
	ID              uuid.UUID          `json:"id"`
	SHA256          string             `json:"sha256"`
	Filename        string             `json:"filename"`
	SourceType      string             `json:"source_type"`
	PageCount       int                `json:"page_count"`
	State           constants.DocState `json:"state"`
	DocType         string             `json:"doc_type,omitempty"`
	DocScore        float64            `json:"doc_score"`
	DPIEstimate     int                `json:"dpi_est"`
	HasTextLayer    bool               `json:"has_text_layer"`
	Flags           []string           `json:"flags,omitempty"`
	ExtractedFields map[string]any     `json:"extracted_fields,omitempty"`
	SupersededBy    *uuid.UUID         `json:"superseded_by,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Page belongs to exactly one Document. HIL transcription writes
// CorrectedText as an overlay; the original OCR output is never destroyed.
type Page struct {
	DocumentID    uuid.UUID  `json:"document_id"`
	Number        int        `json:"page_no"`
	OCRScore      float64    `json:"ocr_score"`
	DPIEstimate   int        `json:"dpi_est"`
	TextCoverage  float64    `json:"text_coverage"`
	TokenCount    int        `json:"token_count"`
	Width         float64    `json:"width"`
	Height        float64    `json:"height"`
	Flags         []string   `json:"flags,omitempty"`
	CorrectedText *string    `json:"corrected_text,omitempty"`
	CorrectedAt   *time.Time `json:"corrected_at,omitempty"`
}
