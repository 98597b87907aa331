package ingest

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caselane/caselane/constants"
	"github.com/caselane/caselane/internal/common"
	"github.com/caselane/caselane/internal/entity"
)

type memDocCreator struct {
	bySHA      map[string]*entity.Document
	superseded map[uuid.UUID]uuid.UUID
}

func newMemDocCreator() *memDocCreator {
	return &memDocCreator{
		bySHA:      map[string]*entity.Document{},
		superseded: map[uuid.UUID]uuid.UUID{},
	}
}

func (m *memDocCreator) Create(_ context.Context, doc *entity.Document) (*entity.Document, bool, error) {
	if existing, ok := m.bySHA[doc.SHA256]; ok {
		return existing, false, nil
	}
	m.bySHA[doc.SHA256] = doc
	return doc, true, nil
}

func (m *memDocCreator) MarkSuperseded(_ context.Context, oldID, newID uuid.UUID) error {
	m.superseded[oldID] = newID
	return nil
}

func TestIngestAssignsIdentity(t *testing.T) {
	store := newMemDocCreator()
	s := NewService(store, nil)

	res, err := s.Ingest(context.Background(), "lease.pdf", strings.NewReader("content"), nil)
	require.NoError(t, err)
	assert.Equal(t, constants.DocStateIngested, res.Status)
	assert.Len(t, res.SHA256, 64)
	assert.False(t, res.Deduplicated)
	assert.Equal(t, "PDF", store.bySHA[res.SHA256].SourceType)
}

func TestIngestIdenticalBytesDeduplicate(t *testing.T) {
	store := newMemDocCreator()
	s := NewService(store, nil)
	ctx := context.Background()

	first, err := s.Ingest(ctx, "psa.pdf", strings.NewReader("same bytes"), nil)
	require.NoError(t, err)

	second, err := s.Ingest(ctx, "psa-copy.pdf", strings.NewReader("same bytes"), nil)
	require.NoError(t, err)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.DocID, second.DocID)
}

func TestIngestNewBytesSupersedeOldDocument(t *testing.T) {
	store := newMemDocCreator()
	s := NewService(store, nil)
	ctx := context.Background()

	old, err := s.Ingest(ctx, "scan.tif", strings.NewReader("blurry scan"), nil)
	require.NoError(t, err)

	replacement, err := s.Ingest(ctx, "rescan.tif", strings.NewReader("sharp scan"), &old.DocID)
	require.NoError(t, err)
	assert.NotEqual(t, old.DocID, replacement.DocID)
	assert.Equal(t, replacement.DocID, store.superseded[old.DocID])
}

func TestIngestSameBytesDoNotSupersedeSelf(t *testing.T) {
	store := newMemDocCreator()
	s := NewService(store, nil)
	ctx := context.Background()

	old, err := s.Ingest(ctx, "scan.tif", strings.NewReader("identical"), nil)
	require.NoError(t, err)

	res, err := s.Ingest(ctx, "again.tif", strings.NewReader("identical"), &old.DocID)
	require.NoError(t, err)
	assert.True(t, res.Deduplicated)
	assert.Empty(t, store.superseded)
}

func TestIngestRejectsUnsupportedExtension(t *testing.T) {
	s := NewService(newMemDocCreator(), nil)

	_, err := s.Ingest(context.Background(), "malware.exe", strings.NewReader("x"), nil)
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = s.Ingest(context.Background(), "noext", strings.NewReader("x"), nil)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}
