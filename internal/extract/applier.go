package extract

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/caselane/caselane/internal/common"
	"github.com/caselane/caselane/internal/entity"
)

// Tx is the transaction-scoped storage surface the applier writes through.
// Implementations back every upsert with a unique constraint so concurrent
// applies for the same document cannot create duplicate identity rows.
type Tx interface {
	// ReplaceFields replaces the document's extracted field bag wholesale.
	ReplaceFields(ctx context.Context, documentID uuid.UUID, docType string, fields map[string]any) error
	// UpsertObligation inserts by (document_id, natural_key) or updates the
	// existing row: status is last-writer-wins, descriptive fields fill only
	// where currently null. Returns the obligation id either way.
	UpsertObligation(ctx context.Context, ob *entity.Obligation) (uuid.UUID, error)
	// InsertEvidence inserts unless the identity tuple already exists.
	// The bool reports whether a row was actually written.
	InsertEvidence(ctx context.Context, link *entity.EvidenceLink) (bool, error)
	// SupersedeExcept retires open/in_progress obligations of the document
	// whose ids are not in touched. Returns how many were retired.
	SupersedeExcept(ctx context.Context, documentID uuid.UUID, touched []uuid.UUID, now time.Time) (int64, error)
}

// Store hands the applier one serialized transaction per document. The
// callback either fully commits or fully rolls back; cancellation mid-apply
// must never leave partial state behind.
type Store interface {
	WithDocumentTx(ctx context.Context, documentID uuid.UUID, fn func(tx Tx) error) error
}

// Options tunes a single Apply call.
type Options struct {
	// Supersede retires obligations this payload no longer asserts.
	Supersede bool
	// Actor is recorded for audit; threaded explicitly, never session state.
	Actor string
}

// Applier merges extraction payloads into durable storage exactly once per
// logical fact. A positive timeout bounds each Apply, advisory-lock wait
// included.
type Applier struct {
	store   Store
	timeout time.Duration
	logger  *slog.Logger
}

func NewApplier(store Store, timeout time.Duration, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{store: store, timeout: timeout, logger: logger}
}

// Apply merges payload into the document's obligations and evidence links.
// Safe to call repeatedly with the same payload: the second call is a
// sequence of no-ops. Callers serialize concurrent applies per document; the
// storage layer's per-document transaction enforces it regardless.
func (a *Applier) Apply(ctx context.Context, documentID uuid.UUID, payload *Payload, opts Options) error {
	if payload == nil {
		return &common.SchemaError{Detail: "payload is nil"}
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	// Normalize before opening the transaction; hashing needs no storage.
	normalized := make([]Normalized, 0, len(payload.Obligations))
	for _, in := range payload.Obligations {
		normalized = append(normalized, NormalizeObligation(documentID, in))
	}

	now := time.Now().UTC()
	var obligations, evidence, superseded int64

	err := a.store.WithDocumentTx(ctx, documentID, func(tx Tx) error {
		if err := tx.ReplaceFields(ctx, documentID, payload.DocType, payload.ExtractedFields); err != nil {
			return common.WrapError(err, "replace extracted fields")
		}

		touched := make([]uuid.UUID, 0, len(normalized))
		for _, n := range normalized {
			ob := &entity.Obligation{
				ID:             uuid.New(),
				DocumentID:     documentID,
				NaturalKey:     n.NaturalKey,
				ObligationType: n.ObligationType,
				Status:         n.Status,
				TriggerEvent:   n.TriggerEvent,
				DueDate:        n.DueDate,
				PartyName:      n.PartyName,
				Description:    n.Description,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			id, err := tx.UpsertObligation(ctx, ob)
			if err != nil {
				return common.WrapError(err, "upsert obligation")
			}
			touched = append(touched, id)
			obligations++

			for _, ev := range n.Evidence {
				link := &entity.EvidenceLink{
					ID:                 uuid.New(),
					ObligationID:       id,
					EvidenceDocumentID: documentID,
					PageFrom:           ev.PageFrom,
					PageTo:             ev.PageFrom,
					Note:               ev.Note,
					CreatedAt:          now,
				}
				if ev.DocumentID != nil {
					link.EvidenceDocumentID = *ev.DocumentID
				}
				if ev.PageTo != nil {
					link.PageTo = *ev.PageTo
				}
				inserted, err := tx.InsertEvidence(ctx, link)
				if err != nil {
					if errors.Is(err, common.DuplicateIgnored) {
						continue
					}
					return common.WrapError(err, "insert evidence")
				}
				if inserted {
					evidence++
				}
			}
		}

		if opts.Supersede {
			n, err := tx.SupersedeExcept(ctx, documentID, touched, now)
			if err != nil {
				return common.WrapError(err, "supersede untouched obligations")
			}
			superseded = n
		}
		return nil
	})
	if err != nil {
		a.logger.Error("applier.failed", "document_id", documentID, "actor", opts.Actor, "error", err)
		return err
	}

	a.logger.Info("applier.ok",
		"document_id", documentID,
		"actor", opts.Actor,
		"obligations", obligations,
		"evidence_inserted", evidence,
		"superseded", superseded,
	)
	return nil
}
