// Package ingest assigns content identity to incoming documents and creates
// them in the lifecycle's initial state.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/caselane/caselane/constants"
	"github.com/caselane/caselane/internal/common"
	"github.com/caselane/caselane/internal/entity"
)

// DocumentCreator is the storage slice ingestion needs.
type DocumentCreator interface {
	// Create inserts the document or, on a sha256 collision, returns the
	// existing row; the bool reports whether a new row was written.
	Create(ctx context.Context, doc *entity.Document) (*entity.Document, bool, error)
	// MarkSuperseded links an old document to its replacement.
	MarkSuperseded(ctx context.Context, oldID, newID uuid.UUID) error
}

// Result reports one ingestion.
type Result struct {
	DocID        uuid.UUID          `json:"doc_id"`
	SHA256       string             `json:"sha256"`
	Status       constants.DocState `json:"status"`
	Deduplicated bool               `json:"deduplicated"`
}

// Service hashes incoming bytes and creates documents. Identical bytes map
// to the existing document; different bytes under a supersedes hint create a
// new document linked from the old one.
type Service struct {
	docs   DocumentCreator
	logger *slog.Logger
}

func NewService(docs DocumentCreator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{docs: docs, logger: logger}
}

// Ingest reads the full content, computes its sha256 identity and creates
// the document in INGESTED state. Supersedes, when set, marks that older
// document as replaced by this upload (unless the bytes deduplicated onto
// the same document).
func (s *Service) Ingest(ctx context.Context, filename string, r io.Reader, supersedes *uuid.UUID) (Result, error) {
	var out Result

	ext := constants.NormalizeExt(filepath.Ext(filename))
	if _, ok := constants.AllowedExtensions[ext]; !ok {
		return out, fmt.Errorf("%w: unsupported or missing extension %q", common.ErrInvalidInput, ext)
	}

	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return out, common.WrapError(err, "hash content")
	}
	sum := hex.EncodeToString(h.Sum(nil))

	doc := &entity.Document{
		ID:           uuid.New(),
		SHA256:       sum,
		Filename:     filepath.Base(filename),
		SourceType:   constants.SourceTypeForExt(ext),
		State:        constants.DocStateIngested,
		HasTextLayer: ext == "txt",
	}
	row, created, err := s.docs.Create(ctx, doc)
	if err != nil {
		return out, common.WrapError(err, "create document")
	}

	if supersedes != nil && *supersedes != row.ID {
		if err := s.docs.MarkSuperseded(ctx, *supersedes, row.ID); err != nil {
			return out, common.WrapError(err, "mark superseded")
		}
	}

	out = Result{
		DocID:        row.ID,
		SHA256:       row.SHA256,
		Status:       row.State,
		Deduplicated: !created,
	}
	s.logger.Info("ingest.ok",
		"doc_id", row.ID,
		"sha256", sum,
		"deduplicated", !created)
	return out, nil
}
