package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caselane/caselane/internal/common"
	"github.com/caselane/caselane/internal/entity"
	"github.com/caselane/caselane/internal/extract"
)

const uniqueViolation = "23505"

// ObligationStore implements extract.Store on Postgres. Each apply runs in
// one transaction under a per-document advisory lock, so two applies for the
// same document serialize while different documents proceed in parallel.
type ObligationStore struct {
	pool *pgxpool.Pool
}

func NewObligationStore(pool *pgxpool.Pool) *ObligationStore {
	return &ObligationStore{pool: pool}
}

// WithDocumentTx runs fn inside a transaction holding the document's
// advisory lock. The callback fully commits or fully rolls back.
func (s *ObligationStore) WithDocumentTx(ctx context.Context, documentID uuid.UUID, fn func(tx extract.Tx) error) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return common.WrapError(err, "acquire connection")
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtextextended($1, 0))`, documentID.String()); err != nil {
		return common.WrapError(err, "acquire document lock")
	}
	defer func() {
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, documentID.String())
	}()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return common.WrapError(err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	if err := fn(&obligationTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type obligationTx struct {
	tx pgx.Tx
}

func (t *obligationTx) ReplaceFields(ctx context.Context, documentID uuid.UUID, docType string, fields map[string]any) error {
	tag, err := t.tx.Exec(ctx, `
UPDATE documents SET extracted_fields = $2, doc_type = $3, updated_at = now() WHERE id = $1`,
		documentID, fields, docType)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (t *obligationTx) UpsertObligation(ctx context.Context, ob *entity.Obligation) (uuid.UUID, error) {
	var id uuid.UUID
	err := t.tx.QueryRow(ctx, `
INSERT INTO obligations (id, document_id, natural_key, obligation_type, status,
  trigger_event, due_date, party_name, description, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
ON CONFLICT (document_id, natural_key) DO UPDATE SET
  status        = EXCLUDED.status,
  trigger_event = COALESCE(obligations.trigger_event, EXCLUDED.trigger_event),
  due_date      = COALESCE(obligations.due_date, EXCLUDED.due_date),
  party_name    = COALESCE(obligations.party_name, EXCLUDED.party_name),
  description   = COALESCE(obligations.description, EXCLUDED.description),
  updated_at    = EXCLUDED.updated_at
RETURNING id`,
		ob.ID, ob.DocumentID, ob.NaturalKey, ob.ObligationType, ob.Status,
		ob.TriggerEvent, ob.DueDate, ob.PartyName, ob.Description, ob.UpdatedAt).Scan(&id)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (t *obligationTx) InsertEvidence(ctx context.Context, link *entity.EvidenceLink) (bool, error) {
	var id uuid.UUID
	err := t.tx.QueryRow(ctx, `
INSERT INTO evidence_links (id, obligation_id, evidence_document_id, page_from, page_to, note, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (obligation_id, evidence_document_id, page_from, page_to) DO NOTHING
RETURNING id`,
		link.ID, link.ObligationID, link.EvidenceDocumentID, link.PageFrom, link.PageTo,
		link.Note, link.CreatedAt).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Identity tuple already linked.
			return false, common.DuplicateIgnored
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return false, common.DuplicateIgnored
		}
		return false, err
	}
	return true, nil
}

func (t *obligationTx) SupersedeExcept(ctx context.Context, documentID uuid.UUID, touched []uuid.UUID, now time.Time) (int64, error) {
	tag, err := t.tx.Exec(ctx, `
UPDATE obligations SET status = 'superseded', updated_at = $3
WHERE document_id = $1
  AND status IN ('open', 'in_progress')
  AND NOT (id = ANY($2))`,
		documentID, touched, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const obligationColumns = `id, document_id, natural_key, obligation_type, status,
trigger_event, due_date, party_name, description, created_at, updated_at`

// ListByDocument returns a document's obligations, oldest first.
func (s *ObligationStore) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]entity.Obligation, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+obligationColumns+` FROM obligations WHERE document_id = $1 ORDER BY created_at, id`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.Obligation
	for rows.Next() {
		var ob entity.Obligation
		if err := rows.Scan(&ob.ID, &ob.DocumentID, &ob.NaturalKey, &ob.ObligationType, &ob.Status,
			&ob.TriggerEvent, &ob.DueDate, &ob.PartyName, &ob.Description, &ob.CreatedAt, &ob.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, ob)
	}
	return out, rows.Err()
}

// ListEvidence returns an obligation's evidence links in citation order.
func (s *ObligationStore) ListEvidence(ctx context.Context, obligationID uuid.UUID) ([]entity.EvidenceLink, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, obligation_id, evidence_document_id, page_from, page_to, note, created_at
FROM evidence_links WHERE obligation_id = $1 ORDER BY page_from, page_to, created_at`, obligationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.EvidenceLink
	for rows.Next() {
		var link entity.EvidenceLink
		if err := rows.Scan(&link.ID, &link.ObligationID, &link.EvidenceDocumentID,
			&link.PageFrom, &link.PageTo, &link.Note, &link.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, link)
	}
	return out, rows.Err()
}
