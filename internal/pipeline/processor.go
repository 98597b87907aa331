// Package pipeline drives documents through the lifecycle: it persists
// scoring results, rebuilds routing snapshots from storage and asks the
// router to advance, looping until the document settles.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/caselane/caselane/constants"
	"github.com/caselane/caselane/internal/common"
	"github.com/caselane/caselane/internal/entity"
	"github.com/caselane/caselane/internal/quality"
	"github.com/caselane/caselane/internal/router"
)

// DocumentStore is the storage slice the processor needs.
type DocumentStore interface {
	Get(ctx context.Context, id uuid.UUID) (*entity.Document, error)
	SetNormalized(ctx context.Context, docID uuid.UUID, pageCount int, hasTextLayer bool) error
	SetQuality(ctx context.Context, docID uuid.UUID, docScore float64, dpiEst int, flags []string) error
	UpsertPage(ctx context.Context, p *entity.Page) error
	ListPages(ctx context.Context, docID uuid.UUID) ([]entity.Page, error)
	ListByState(ctx context.Context, state constants.DocState, limit int) ([]uuid.UUID, error)
}

// TaskCounter reports how many blocking tasks still gate a document.
type TaskCounter interface {
	PendingBlocking(ctx context.Context, docID uuid.UUID) (int, error)
}

// Processor wires scoring, routing and task state together.
type Processor struct {
	docs   DocumentStore
	scorer *quality.Scorer
	driver *router.Driver
	tasks  TaskCounter
	cfg    common.PipelineConfig
	logger *slog.Logger
}

func NewProcessor(docs DocumentStore, scorer *quality.Scorer, driver *router.Driver, tasks TaskCounter, cfg common.PipelineConfig, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		docs:   docs,
		scorer: scorer,
		driver: driver,
		tasks:  tasks,
		cfg:    cfg,
		logger: logger,
	}
}

// Normalize records page count and text-layer detection, then advances the
// document out of INGESTED.
func (p *Processor) Normalize(ctx context.Context, docID uuid.UUID, pageCount int, hasTextLayer bool) error {
	if err := p.docs.SetNormalized(ctx, docID, pageCount, hasTextLayer); err != nil {
		return common.WrapError(err, "set normalized")
	}
	return p.Advance(ctx, docID, nil)
}

// SubmitScores scores the OCR token output, persists page and document
// quality, and advances the document. The fresh reports, including
// low-confidence regions, feed the routing snapshot directly so region tasks
// carry their bboxes.
func (p *Processor) SubmitScores(ctx context.Context, docID uuid.UUID, pages []quality.PageInput) error {
	report := p.scorer.ScoreDocument(pages)

	docDPI := 0
	snapPages := make([]router.PageSnapshot, 0, len(report.Pages))
	for _, pr := range report.Pages {
		page := &entity.Page{
			DocumentID:   docID,
			Number:       pr.Number,
			OCRScore:     pr.Score,
			DPIEstimate:  pr.DPIEstimate,
			TextCoverage: pr.TextCoverage,
			TokenCount:   pr.TokenCount,
		}
		for _, in := range pages {
			if in.Number == pr.Number {
				page.Width = in.Width
				page.Height = in.Height
				break
			}
		}
		if err := p.docs.UpsertPage(ctx, page); err != nil {
			return common.WrapError(err, "upsert page")
		}
		if docDPI == 0 || (pr.DPIEstimate > 0 && pr.DPIEstimate < docDPI) {
			docDPI = pr.DPIEstimate
		}
		snapPages = append(snapPages, router.PageSnapshot{
			Number:         pr.Number,
			Score:          pr.Score,
			DPIEstimate:    pr.DPIEstimate,
			TextCoverage:   pr.TextCoverage,
			LowConfRegions: pr.LowConfRegions,
		})
	}

	if err := p.docs.SetQuality(ctx, docID, report.DocScore, docDPI, nil); err != nil {
		return common.WrapError(err, "set document quality")
	}

	return p.advanceWith(ctx, docID, nil, snapPages, &report.DocScore)
}

// Rescore recomputes document quality after a human correction. A page with
// a transcription overlay counts as fully confident; the document score is
// the same token-count-weighted mean the initial scoring uses, over
// effective page scores.
func (p *Processor) Rescore(ctx context.Context, docID uuid.UUID) error {
	pages, err := p.docs.ListPages(ctx, docID)
	if err != nil {
		return common.WrapError(err, "list pages")
	}
	if len(pages) == 0 {
		return p.Advance(ctx, docID, nil)
	}

	var weighted float64
	var tokens int
	docDPI := 0
	for _, pg := range pages {
		weighted += effectiveScore(pg) * float64(pg.TokenCount)
		tokens += pg.TokenCount
		if docDPI == 0 || (pg.DPIEstimate > 0 && pg.DPIEstimate < docDPI) {
			docDPI = pg.DPIEstimate
		}
	}
	var docScore float64
	if tokens > 0 {
		docScore = weighted / float64(tokens)
	}

	if err := p.docs.SetQuality(ctx, docID, docScore, docDPI, nil); err != nil {
		return common.WrapError(err, "set document quality")
	}
	return p.Advance(ctx, docID, nil)
}

// Advance rebuilds a routing snapshot from storage and asks the driver to
// move the document, looping until the state settles. The validation outcome
// applies to the first evaluation only.
func (p *Processor) Advance(ctx context.Context, docID uuid.UUID, validation *router.ValidationOutcome) error {
	return p.advanceWith(ctx, docID, validation, nil, nil)
}

func (p *Processor) advanceWith(ctx context.Context, docID uuid.UUID, validation *router.ValidationOutcome, freshPages []router.PageSnapshot, freshScore *float64) error {
	// A document can pass through several states on one event
	// (INGESTED -> NORMALIZED -> ROUTED -> ...); the state count bounds the loop.
	for range allStates {
		snap, err := p.buildSnapshot(ctx, docID, validation, freshPages, freshScore)
		if err != nil {
			return err
		}
		dec, err := p.driver.Advance(ctx, docID, snap)
		if err != nil {
			return err
		}
		if !dec.Changed() {
			return nil
		}
		validation = nil
		freshPages = nil
		freshScore = nil
	}
	return nil
}

var allStates = []constants.DocState{
	constants.DocStateIngested,
	constants.DocStateNormalized,
	constants.DocStateRouted,
	constants.DocStateOCR,
	constants.DocStateHILPending,
	constants.DocStateLaneA,
	constants.DocStateValidate,
	constants.DocStateEmit,
}

func (p *Processor) buildSnapshot(ctx context.Context, docID uuid.UUID, validation *router.ValidationOutcome, freshPages []router.PageSnapshot, freshScore *float64) (router.Snapshot, error) {
	doc, err := p.docs.Get(ctx, docID)
	if err != nil {
		return router.Snapshot{}, common.WrapError(err, "get document")
	}

	snap := router.Snapshot{
		State:        doc.State,
		PageCount:    doc.PageCount,
		HasTextLayer: doc.HasTextLayer,
		DocScore:     doc.DocScore,
		Validation:   validation,
	}
	if freshScore != nil {
		snap.DocScore = *freshScore
	}

	if freshPages != nil {
		snap.Pages = freshPages
	} else {
		pages, err := p.docs.ListPages(ctx, docID)
		if err != nil {
			return router.Snapshot{}, common.WrapError(err, "list pages")
		}
		for _, pg := range pages {
			snap.Pages = append(snap.Pages, router.PageSnapshot{
				Number:       pg.Number,
				Score:        effectiveScore(pg),
				DPIEstimate:  pg.DPIEstimate,
				TextCoverage: pg.TextCoverage,
			})
		}
	}

	pending, err := p.tasks.PendingBlocking(ctx, docID)
	if err != nil {
		return router.Snapshot{}, common.WrapError(err, "count pending tasks")
	}
	snap.PendingBlockingTasks = pending
	return snap, nil
}

// effectiveScore treats a human transcription as ground truth.
func effectiveScore(pg entity.Page) float64 {
	if pg.CorrectedText != nil {
		return 1.0
	}
	return pg.OCRScore
}

// Run scans for documents whose state can progress without external input
// and advances them in parallel, one worker per document. It returns when
// the context is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	interval := p.cfg.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.sweep(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("pipeline.sweep_failed", "error", err)
			}
		}
	}
}

// sweep advances HIL_PENDING documents whose blocking tasks are all
// resolved. Other states progress on their triggering events (normalize,
// score submission, apply), not by polling.
func (p *Processor) sweep(ctx context.Context) error {
	ids, err := p.docs.ListByState(ctx, constants.DocStateHILPending, 100)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	var g errgroup.Group
	g.SetLimit(p.cfg.Workers)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			return p.Advance(ctx, id, nil)
		})
	}
	return g.Wait()
}
