package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caselane/caselane/constants"
	"github.com/caselane/caselane/internal/common"
	"github.com/caselane/caselane/internal/entity"
)

// DocumentStore persists documents and their pages.
type DocumentStore struct {
	pool *pgxpool.Pool
}

func NewDocumentStore(pool *pgxpool.Pool) *DocumentStore {
	return &DocumentStore{pool: pool}
}

const documentColumns = `id, sha256, filename, source_type, page_count, state, doc_type, doc_score,
dpi_est, has_text_layer, flags, extracted_fields, superseded_by, created_at, updated_at`

func scanDocument(row pgx.Row) (*entity.Document, error) {
	var d entity.Document
	var fields []byte
	err := row.Scan(&d.ID, &d.SHA256, &d.Filename, &d.SourceType, &d.PageCount, &d.State, &d.DocType,
		&d.DocScore, &d.DPIEstimate, &d.HasTextLayer, &d.Flags, &fields, &d.SupersededBy,
		&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, err
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &d.ExtractedFields); err != nil {
			return nil, fmt.Errorf("decode extracted_fields: %w", err)
		}
	}
	return &d, nil
}

// Create inserts a new document in INGESTED state. A sha256 collision returns
// the existing document with created=false: identical bytes are the same
// document, not an error.
func (s *DocumentStore) Create(ctx context.Context, doc *entity.Document) (*entity.Document, bool, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
INSERT INTO documents (id, sha256, filename, source_type, page_count, state, doc_type, has_text_layer, flags, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
ON CONFLICT (sha256) DO NOTHING`,
		doc.ID, doc.SHA256, doc.Filename, doc.SourceType, doc.PageCount, constants.DocStateIngested,
		doc.DocType, doc.HasTextLayer, doc.Flags, now)
	if err != nil {
		return nil, false, err
	}
	existing, err := s.GetBySHA256(ctx, doc.SHA256)
	if err != nil {
		return nil, false, err
	}
	return existing, tag.RowsAffected() == 1, nil
}

func (s *DocumentStore) Get(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	return scanDocument(row)
}

func (s *DocumentStore) GetBySHA256(ctx context.Context, sha256 string) (*entity.Document, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE sha256 = $1`, sha256)
	return scanDocument(row)
}

// UpdateState moves a document between lifecycle states. The expected
// from-state guards against racing drivers: losing the race is reported as
// ErrStateConflict, not silently applied.
func (s *DocumentStore) UpdateState(ctx context.Context, docID uuid.UUID, from, to constants.DocState) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE documents SET state = $3, updated_at = now() WHERE id = $1 AND state = $2`,
		docID, from, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: document %s not in state %s", common.ErrStateConflict, docID, from)
	}
	return nil
}

// SetNormalized records page count and text-layer detection after
// normalization.
func (s *DocumentStore) SetNormalized(ctx context.Context, docID uuid.UUID, pageCount int, hasTextLayer bool) error {
	_, err := s.pool.Exec(ctx, `
UPDATE documents SET page_count = $2, has_text_layer = $3, updated_at = now() WHERE id = $1`,
		docID, pageCount, hasTextLayer)
	return err
}

// SetQuality stores the document-level scoring summary.
func (s *DocumentStore) SetQuality(ctx context.Context, docID uuid.UUID, docScore float64, dpiEst int, flags []string) error {
	if flags == nil {
		flags = []string{}
	}
	_, err := s.pool.Exec(ctx, `
UPDATE documents SET doc_score = $2, dpi_est = $3, flags = $4, updated_at = now() WHERE id = $1`,
		docID, docScore, dpiEst, flags)
	return err
}

// MarkSuperseded links an old document to its replacement.
func (s *DocumentStore) MarkSuperseded(ctx context.Context, oldID, newID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE documents SET superseded_by = $2, updated_at = now() WHERE id = $1`, oldID, newID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	return nil
}

// UpsertPage writes one page's quality metrics, preserving any correction
// overlay already present.
func (s *DocumentStore) UpsertPage(ctx context.Context, p *entity.Page) error {
	if p.Flags == nil {
		p.Flags = []string{}
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO pages (document_id, page_no, ocr_score, dpi_est, text_coverage, token_count, width, height, flags)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (document_id, page_no) DO UPDATE SET
  ocr_score = EXCLUDED.ocr_score,
  dpi_est = EXCLUDED.dpi_est,
  text_coverage = EXCLUDED.text_coverage,
  token_count = EXCLUDED.token_count,
  width = EXCLUDED.width,
  height = EXCLUDED.height,
  flags = EXCLUDED.flags`,
		p.DocumentID, p.Number, p.OCRScore, p.DPIEstimate, p.TextCoverage,
		p.TokenCount, p.Width, p.Height, p.Flags)
	return err
}

// ApplyTranscription writes a human correction overlay onto a page. The OCR
// metrics stay untouched until the next re-score.
func (s *DocumentStore) ApplyTranscription(ctx context.Context, docID uuid.UUID, page int, text string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE pages SET corrected_text = $3, corrected_at = $4 WHERE document_id = $1 AND page_no = $2`,
		docID, page, text, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: page %d of document %s", common.ErrNotFound, page, docID)
	}
	return nil
}

// ListPages returns a document's pages in page order.
func (s *DocumentStore) ListPages(ctx context.Context, docID uuid.UUID) ([]entity.Page, error) {
	rows, err := s.pool.Query(ctx, `
SELECT document_id, page_no, ocr_score, dpi_est, text_coverage, token_count, width, height, flags, corrected_text, corrected_at
FROM pages WHERE document_id = $1 ORDER BY page_no`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.Page
	for rows.Next() {
		var p entity.Page
		if err := rows.Scan(&p.DocumentID, &p.Number, &p.OCRScore, &p.DPIEstimate,
			&p.TextCoverage, &p.TokenCount, &p.Width, &p.Height, &p.Flags,
			&p.CorrectedText, &p.CorrectedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListByState returns document ids currently in the given state, oldest
// first, for the pipeline to pick up.
func (s *DocumentStore) ListByState(ctx context.Context, state constants.DocState, limit int) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id FROM documents WHERE state = $1 ORDER BY updated_at ASC LIMIT $2`, state, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
