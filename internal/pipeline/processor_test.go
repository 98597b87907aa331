package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caselane/caselane/constants"
	"github.com/caselane/caselane/internal/common"
	"github.com/caselane/caselane/internal/entity"
	"github.com/caselane/caselane/internal/geometry"
	"github.com/caselane/caselane/internal/quality"
	"github.com/caselane/caselane/internal/router"
)

type memDocs struct {
	mu    sync.Mutex
	docs  map[uuid.UUID]*entity.Document
	pages map[uuid.UUID]map[int]*entity.Page
}

func newMemDocs() *memDocs {
	return &memDocs{
		docs:  map[uuid.UUID]*entity.Document{},
		pages: map[uuid.UUID]map[int]*entity.Page{},
	}
}

func (m *memDocs) add(doc *entity.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = doc
}

func (m *memDocs) Get(_ context.Context, id uuid.UUID) (*entity.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	copied := *d
	return &copied, nil
}

func (m *memDocs) SetNormalized(_ context.Context, docID uuid.UUID, pageCount int, hasTextLayer bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.docs[docID]
	d.PageCount = pageCount
	d.HasTextLayer = hasTextLayer
	return nil
}

func (m *memDocs) SetQuality(_ context.Context, docID uuid.UUID, docScore float64, dpiEst int, _ []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.docs[docID]
	d.DocScore = docScore
	d.DPIEstimate = dpiEst
	return nil
}

func (m *memDocs) UpsertPage(_ context.Context, p *entity.Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byNo, ok := m.pages[p.DocumentID]
	if !ok {
		byNo = map[int]*entity.Page{}
		m.pages[p.DocumentID] = byNo
	}
	if existing, ok := byNo[p.Number]; ok {
		p.CorrectedText = existing.CorrectedText
		p.CorrectedAt = existing.CorrectedAt
	}
	byNo[p.Number] = p
	return nil
}

func (m *memDocs) ListPages(_ context.Context, docID uuid.UUID) ([]entity.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entity.Page
	for i := 1; i <= len(m.pages[docID]); i++ {
		if p, ok := m.pages[docID][i]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memDocs) ListByState(_ context.Context, state constants.DocState, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []uuid.UUID
	for id, d := range m.docs {
		if d.State == state && len(out) < limit {
			out = append(out, id)
		}
	}
	return out, nil
}

// UpdateState implements router.DocumentStore against the same map.
func (m *memDocs) UpdateState(_ context.Context, docID uuid.UUID, from, to constants.DocState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[docID]
	if !ok {
		return common.ErrNotFound
	}
	if d.State != from {
		return common.ErrStateConflict
	}
	d.State = to
	return nil
}

func (m *memDocs) correct(docID uuid.UUID, page int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	text := "corrected"
	m.pages[docID][page].CorrectedText = &text
}

type memTasks struct {
	mu      sync.Mutex
	pending map[uuid.UUID][]router.TaskRequest
}

func newMemTasks() *memTasks {
	return &memTasks{pending: map[uuid.UUID][]router.TaskRequest{}}
}

func (m *memTasks) CreateTask(_ context.Context, docID uuid.UUID, page *int, bbox *geometry.BBox, reason constants.TaskReason) (uuid.UUID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.pending[docID] {
		if t.Reason == reason && eqIntPtr(t.Page, page) && eqBBoxPtr(t.BBox, bbox) {
			return uuid.Nil, false, nil
		}
	}
	m.pending[docID] = append(m.pending[docID], router.TaskRequest{Page: page, BBox: bbox, Reason: reason})
	return uuid.New(), true, nil
}

func (m *memTasks) PendingBlocking(_ context.Context, docID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending[docID]), nil
}

func (m *memTasks) resolveAll(docID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[docID] = nil
}

func eqIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqBBoxPtr(a, b *geometry.BBox) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func newTestProcessor(docs *memDocs, tasks *memTasks) *Processor {
	cfg := common.QualityConfig{
		PageScoreThreshold:  0.80,
		DocScoreThreshold:   0.85,
		MinDPI:              200,
		MinTextCoverage:     0.05,
		MaxHILTasksPerPage:  10,
		TableParseFailRatio: 0.40,
	}
	driver := router.NewDriver(router.NewRouter(cfg, nil), docs, tasks, nil)
	return NewProcessor(docs, quality.NewScorer(cfg.MaxHILTasksPerPage), driver, tasks,
		common.PipelineConfig{Workers: 2}, nil)
}

func tokens(conf float64, n int) []quality.Token {
	out := make([]quality.Token, n)
	for i := range out {
		out[i] = quality.Token{
			Text:       "word",
			Confidence: conf,
			BBox:       geometry.BBox{X: float64(i * 60), Y: 10, Width: 50, Height: 300},
		}
	}
	return out
}

func TestNormalizeAdvancesTextLayerDocToLaneA(t *testing.T) {
	docs := newMemDocs()
	tasks := newMemTasks()
	p := newTestProcessor(docs, tasks)

	doc := &entity.Document{ID: uuid.New(), State: constants.DocStateIngested}
	docs.add(doc)

	require.NoError(t, p.Normalize(context.Background(), doc.ID, 3, true))

	got, err := docs.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.DocStateLaneA, got.State, "text layer skips OCR entirely")
}

func TestSubmitScoresRoutesWeakDocumentToReview(t *testing.T) {
	docs := newMemDocs()
	tasks := newMemTasks()
	p := newTestProcessor(docs, tasks)
	ctx := context.Background()

	doc := &entity.Document{ID: uuid.New(), State: constants.DocStateIngested}
	docs.add(doc)
	require.NoError(t, p.Normalize(ctx, doc.ID, 2, false))

	got, _ := docs.Get(ctx, doc.ID)
	require.Equal(t, constants.DocStateOCR, got.State)

	pages := []quality.PageInput{
		{Number: 1, Width: 600, Height: 800, DPIHint: 300, Tokens: tokens(90, 3)},
		{Number: 2, Width: 600, Height: 800, DPIHint: 300, Tokens: tokens(60, 3)},
	}
	require.NoError(t, p.SubmitScores(ctx, doc.ID, pages))

	got, _ = docs.Get(ctx, doc.ID)
	assert.Equal(t, constants.DocStateHILPending, got.State)
	n, _ := tasks.PendingBlocking(ctx, doc.ID)
	assert.Positive(t, n)
}

func TestSubmitScoresCleanDocumentGoesToLaneA(t *testing.T) {
	docs := newMemDocs()
	tasks := newMemTasks()
	p := newTestProcessor(docs, tasks)
	ctx := context.Background()

	doc := &entity.Document{ID: uuid.New(), State: constants.DocStateIngested}
	docs.add(doc)
	require.NoError(t, p.Normalize(ctx, doc.ID, 1, false))

	pages := []quality.PageInput{
		{Number: 1, Width: 600, Height: 800, DPIHint: 300, Tokens: tokens(95, 5)},
	}
	require.NoError(t, p.SubmitScores(ctx, doc.ID, pages))

	got, _ := docs.Get(ctx, doc.ID)
	assert.Equal(t, constants.DocStateLaneA, got.State)
	n, _ := tasks.PendingBlocking(ctx, doc.ID)
	assert.Zero(t, n)
}

func TestRescoreAfterCorrectionUnblocksDocument(t *testing.T) {
	docs := newMemDocs()
	tasks := newMemTasks()
	p := newTestProcessor(docs, tasks)
	ctx := context.Background()

	doc := &entity.Document{ID: uuid.New(), State: constants.DocStateIngested}
	docs.add(doc)
	require.NoError(t, p.Normalize(ctx, doc.ID, 1, false))
	require.NoError(t, p.SubmitScores(ctx, doc.ID, []quality.PageInput{
		{Number: 1, Width: 600, Height: 800, DPIHint: 300, Tokens: tokens(60, 4)},
	}))

	got, _ := docs.Get(ctx, doc.ID)
	require.Equal(t, constants.DocStateHILPending, got.State)

	// Human transcribes the weak page and resolves the tasks.
	docs.correct(doc.ID, 1)
	tasks.resolveAll(doc.ID)
	require.NoError(t, p.Rescore(ctx, doc.ID))

	got, _ = docs.Get(ctx, doc.ID)
	assert.Equal(t, constants.DocStateLaneA, got.State)
	assert.Equal(t, 1.0, got.DocScore, "transcribed page counts as ground truth")
}

func TestRescoreWeightsPagesByTokenCount(t *testing.T) {
	docs := newMemDocs()
	tasks := newMemTasks()
	p := newTestProcessor(docs, tasks)
	ctx := context.Background()

	doc := &entity.Document{ID: uuid.New(), State: constants.DocStateIngested}
	docs.add(doc)
	require.NoError(t, p.Normalize(ctx, doc.ID, 2, false))
	// Page 1 carries four times the tokens of page 2; the weak page 2 pulls
	// the weighted score to (0.9*16 + 0.6*4) / 20 = 0.84.
	require.NoError(t, p.SubmitScores(ctx, doc.ID, []quality.PageInput{
		{Number: 1, Width: 600, Height: 800, DPIHint: 300, Tokens: tokens(90, 16)},
		{Number: 2, Width: 600, Height: 800, DPIHint: 300, Tokens: tokens(60, 4)},
	}))

	got, _ := docs.Get(ctx, doc.ID)
	require.Equal(t, constants.DocStateHILPending, got.State)
	assert.InDelta(t, 0.84, got.DocScore, 1e-9)

	docs.correct(doc.ID, 2)
	tasks.resolveAll(doc.ID)
	require.NoError(t, p.Rescore(ctx, doc.ID))

	got, _ = docs.Get(ctx, doc.ID)
	assert.Equal(t, constants.DocStateLaneA, got.State)
	// Same weighting as the original scoring, with the corrected page at
	// 1.0: (0.9*16 + 1.0*4) / 20, not the unweighted page mean 0.95.
	assert.InDelta(t, 0.92, got.DocScore, 1e-9)
}

func TestAdvanceValidationOutcomes(t *testing.T) {
	docs := newMemDocs()
	tasks := newMemTasks()
	p := newTestProcessor(docs, tasks)
	ctx := context.Background()

	doc := &entity.Document{ID: uuid.New(), State: constants.DocStateLaneA, PageCount: 1}
	docs.add(doc)

	// Rejection bounces to review with the reasons as tasks.
	require.NoError(t, p.Advance(ctx, doc.ID, &router.ValidationOutcome{
		Accepted: false,
		Reasons:  []constants.TaskReason{constants.ReasonMissingProvenance},
	}))
	got, _ := docs.Get(ctx, doc.ID)
	assert.Equal(t, constants.DocStateHILPending, got.State)
	n, _ := tasks.PendingBlocking(ctx, doc.ID)
	assert.Equal(t, 1, n)

	// Acceptance from LANE_A runs through VALIDATE; the outcome applies to
	// the first transition only, so the document stops there.
	doc2 := &entity.Document{ID: uuid.New(), State: constants.DocStateLaneA, PageCount: 1}
	docs.add(doc2)
	require.NoError(t, p.Advance(ctx, doc2.ID, &router.ValidationOutcome{Accepted: true}))
	got, _ = docs.Get(ctx, doc2.ID)
	assert.Equal(t, constants.DocStateValidate, got.State)

	require.NoError(t, p.Advance(ctx, doc2.ID, &router.ValidationOutcome{Accepted: true}))
	got, _ = docs.Get(ctx, doc2.ID)
	assert.Equal(t, constants.DocStateEmit, got.State)
}

func TestSweepAdvancesUnblockedDocuments(t *testing.T) {
	docs := newMemDocs()
	tasks := newMemTasks()
	p := newTestProcessor(docs, tasks)
	ctx := context.Background()

	blocked := &entity.Document{ID: uuid.New(), State: constants.DocStateHILPending, PageCount: 1}
	free := &entity.Document{ID: uuid.New(), State: constants.DocStateHILPending, PageCount: 1}
	docs.add(blocked)
	docs.add(free)
	_, _, err := tasks.CreateTask(ctx, blocked.ID, nil, nil, constants.ReasonLowDocScore)
	require.NoError(t, err)

	require.NoError(t, p.sweep(ctx))

	got, _ := docs.Get(ctx, blocked.ID)
	assert.Equal(t, constants.DocStateHILPending, got.State)
	got, _ = docs.Get(ctx, free.ID)
	assert.Equal(t, constants.DocStateLaneA, got.State)
}

func TestRunSweepsAtConfiguredInterval(t *testing.T) {
	docs := newMemDocs()
	tasks := newMemTasks()
	p := newTestProcessor(docs, tasks)
	p.cfg.SweepInterval = 5 * time.Millisecond

	doc := &entity.Document{ID: uuid.New(), State: constants.DocStateHILPending, PageCount: 1}
	docs.add(doc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		got, _ := docs.Get(context.Background(), doc.ID)
		return got.State == constants.DocStateLaneA
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
