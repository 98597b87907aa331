// Package extract holds the extraction payload contract and the idempotent
// applier that merges payloads into durable storage.
package extract

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/caselane/caselane/internal/common"
)

// Payload is the structured output of the external extractor (LLM or rules)
// for one document.
type Payload struct {
	DocType         string            `json:"doc_type"`
	ExtractedFields map[string]any    `json:"extracted_fields"`
	Obligations     []ObligationInput `json:"obligations"`
}

// ObligationInput is one obligation as asserted by the extractor. All
// descriptive fields are optional; identity is derived after normalization.
type ObligationInput struct {
	ObligationType   string          `json:"obligation_type"`
	Description      *string         `json:"description"`
	ResponsibleParty *string         `json:"responsible_party"`
	TriggerEvent     *string         `json:"trigger_event"`
	DueDate          *string         `json:"due_date"`
	Status           string          `json:"status"`
	Evidence         []EvidenceInput `json:"evidence"`
}

// EvidenceInput cites a page range. DocumentID defaults to the document being
// applied; PageTo defaults to PageFrom.
type EvidenceInput struct {
	DocumentID *uuid.UUID `json:"document_id,omitempty"`
	PageFrom   int        `json:"page_from"`
	PageTo     *int       `json:"page_to,omitempty"`
	Note       *string    `json:"note,omitempty"`
}

// ParsePayload decodes raw extractor output. A payload whose obligations key
// is present but not an array is a *common.SchemaError: the whole Apply call
// is rejected before anything is written.
func ParsePayload(raw []byte) (*Payload, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, &common.SchemaError{Detail: fmt.Sprintf("payload is not a JSON object: %v", err)}
	}

	if ob, ok := probe["obligations"]; ok {
		var arr []json.RawMessage
		if err := json.Unmarshal(ob, &arr); err != nil {
			return nil, &common.SchemaError{Detail: "obligations must be an array"}
		}
	}

	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &common.SchemaError{Detail: fmt.Sprintf("payload shape: %v", err)}
	}
	return &p, nil
}
