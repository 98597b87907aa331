package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/caselane/caselane/constants"
	"github.com/caselane/caselane/internal/geometry"
)

// HILTask is a human review task gating a document. Creation is keyed by
// (document, page, bbox, reason) so re-evaluating an unchanged document never
// duplicates tasks.
type HILTask struct {
	ID             uuid.UUID            `json:"id"`
	DocumentID     uuid.UUID            `json:"document_id"`
	Page           *int                 `json:"page,omitempty"`
	BBox           *geometry.BBox       `json:"bbox,omitempty"`
	Reason         constants.TaskReason `json:"reason"`
	Status         constants.TaskStatus `json:"status"`
	Blocking       bool                 `json:"blocking"`
	ResolutionNote string               `json:"resolution_note,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	ResolvedAt     *time.Time           `json:"resolved_at,omitempty"`
}
