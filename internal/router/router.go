// Package router owns the document lifecycle state machine. Evaluation is a
// pure function of a Snapshot; the Driver applies the resulting decision
// (state update plus human-review task requests) through storage.
package router

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/caselane/caselane/constants"
	"github.com/caselane/caselane/internal/common"
	"github.com/caselane/caselane/internal/geometry"
	"github.com/caselane/caselane/internal/quality"
)

// PageSnapshot is the per-page quality input to a routing decision.
type PageSnapshot struct {
	Number         int
	Score          float64
	DPIEstimate    int
	TextCoverage   float64
	LowConfRegions []quality.Region
}

// ValidationOutcome is the Validator's verdict on the latest extraction
// payload for a document, when one exists.
type ValidationOutcome struct {
	Accepted bool
	Reasons  []constants.TaskReason
}

// Snapshot is everything a routing decision depends on. Building one is the
// caller's job; evaluating it has no side effects, so re-running an unchanged
// snapshot always yields the same decision.
type Snapshot struct {
	State        constants.DocState
	PageCount    int
	HasTextLayer bool
	DocScore     float64
	Pages        []PageSnapshot

	// PendingBlockingTasks counts unresolved blocking tasks for the document.
	PendingBlockingTasks int

	// Validation is nil until the extractor has produced a payload and the
	// Validator has examined it.
	Validation *ValidationOutcome
}

// TaskRequest asks the HIL manager for a task. Creation is idempotent on
// (document, page, bbox, reason), so repeated decisions do not duplicate work.
type TaskRequest struct {
	Page   *int
	BBox   *geometry.BBox
	Reason constants.TaskReason
}

// Decision is the outcome of evaluating one snapshot.
type Decision struct {
	From  constants.DocState
	Next  constants.DocState
	Tasks []TaskRequest
}

// Changed reports whether the decision moves the document at all.
func (d Decision) Changed() bool { return d.Next != d.From }

// Router evaluates transition rules against configured quality thresholds.
type Router struct {
	cfg    common.QualityConfig
	logger *slog.Logger
}

func NewRouter(cfg common.QualityConfig, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{cfg: cfg, logger: logger}
}

// Evaluate applies the transition rules in precedence order; the first rule
// whose guard holds decides the next state. A snapshot that matches no rule
// leaves the document where it is.
func (r *Router) Evaluate(s Snapshot) Decision {
	d := Decision{From: s.State, Next: s.State}

	switch s.State {
	case constants.DocStateIngested:
		if s.PageCount > 0 {
			d.Next = constants.DocStateNormalized
		}

	case constants.DocStateNormalized:
		d.Next = constants.DocStateRouted

	case constants.DocStateRouted:
		// Straight to automated extraction when a native text layer
		// exists or every quality threshold is already met (doc score
		// boundary is inclusive).
		if s.HasTextLayer || (s.DocScore >= r.cfg.DocScoreThreshold && !s.anyPageBelow(r.cfg.PageScoreThreshold)) {
			d.Next = constants.DocStateLaneA
			break
		}
		d.Next = constants.DocStateOCR

	case constants.DocStateOCR:
		// No page data means scoring has not run yet; wait for it.
		if len(s.Pages) == 0 {
			break
		}
		// Any quality gate failure parks the document for review.
		tasks := r.qualityGateTasks(s)
		if len(tasks) > 0 {
			d.Next = constants.DocStateHILPending
			d.Tasks = tasks
			break
		}
		d.Next = constants.DocStateLaneA

	case constants.DocStateHILPending:
		// Progress requires every blocking task resolved or ignored.
		if s.PendingBlockingTasks == 0 {
			d.Next = constants.DocStateLaneA
		}

	case constants.DocStateLaneA:
		// A rejected extraction bounces back to review; an accepted
		// one proceeds to the final validation state. No payload yet means
		// no decision.
		if s.Validation == nil {
			break
		}
		if !s.Validation.Accepted {
			d.Next = constants.DocStateHILPending
			d.Tasks = reasonTasks(s.Validation.Reasons)
			break
		}
		d.Next = constants.DocStateValidate

	case constants.DocStateValidate:
		// Accept emits, reject carries the reasons back to review.
		if s.Validation == nil {
			break
		}
		if s.Validation.Accepted {
			d.Next = constants.DocStateEmit
			break
		}
		d.Next = constants.DocStateHILPending
		d.Tasks = reasonTasks(s.Validation.Reasons)

	case constants.DocStateEmit:
		// Terminal.
	}

	return d
}

func (s Snapshot) anyPageBelow(threshold float64) bool {
	for _, p := range s.Pages {
		if p.Score < threshold {
			return true
		}
	}
	return false
}

// qualityGateTasks builds one task request per gate failure. Page-level gates
// yield page-scoped tasks; low-confidence regions yield bbox-scoped ones, at
// most MaxHILTasksPerPage per page.
func (r *Router) qualityGateTasks(s Snapshot) []TaskRequest {
	var tasks []TaskRequest

	if s.DocScore < r.cfg.DocScoreThreshold {
		tasks = append(tasks, TaskRequest{Reason: constants.ReasonLowDocScore})
	}
	for i := range s.Pages {
		p := s.Pages[i]
		page := p.Number
		if p.Score < r.cfg.PageScoreThreshold {
			tasks = append(tasks, TaskRequest{Page: &page, Reason: constants.ReasonLowPageScore})
		}
		if p.DPIEstimate > 0 && p.DPIEstimate < r.cfg.MinDPI {
			tasks = append(tasks, TaskRequest{Page: &page, Reason: constants.ReasonLowDPI})
		}
		if p.TextCoverage < r.cfg.MinTextCoverage {
			tasks = append(tasks, TaskRequest{Page: &page, Reason: constants.ReasonLowTextCoverage})
		}
		limit := len(p.LowConfRegions)
		if limit > r.cfg.MaxHILTasksPerPage {
			limit = r.cfg.MaxHILTasksPerPage
		}
		for j := 0; j < limit; j++ {
			bbox := p.LowConfRegions[j].BBox
			tasks = append(tasks, TaskRequest{Page: &page, BBox: &bbox, Reason: constants.ReasonLowConfRegion})
		}
	}
	return tasks
}

func reasonTasks(reasons []constants.TaskReason) []TaskRequest {
	tasks := make([]TaskRequest, 0, len(reasons))
	for _, reason := range reasons {
		tasks = append(tasks, TaskRequest{Reason: reason})
	}
	return tasks
}

// DocumentStore is the slice of storage the driver needs to move a document.
type DocumentStore interface {
	// UpdateState moves a document from one state to another, failing if the
	// document is no longer in the expected state.
	UpdateState(ctx context.Context, docID uuid.UUID, from, to constants.DocState) error
}

// TaskCreator opens review tasks; creation is idempotent on
// (document, page, bbox, reason).
type TaskCreator interface {
	CreateTask(ctx context.Context, docID uuid.UUID, page *int, bbox *geometry.BBox, reason constants.TaskReason) (uuid.UUID, bool, error)
}

// Driver applies routing decisions: task creation first, then the state
// update, so a document never sits in HIL_PENDING without discoverable tasks.
type Driver struct {
	router *Router
	store  DocumentStore
	tasks  TaskCreator
	logger *slog.Logger
}

func NewDriver(router *Router, store DocumentStore, tasks TaskCreator, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{router: router, store: store, tasks: tasks, logger: logger}
}

// Advance evaluates the snapshot and applies the decision. An unchanged
// decision is a no-op.
func (d *Driver) Advance(ctx context.Context, docID uuid.UUID, s Snapshot) (Decision, error) {
	dec := d.router.Evaluate(s)
	if !dec.Changed() {
		return dec, nil
	}

	for _, t := range dec.Tasks {
		if _, _, err := d.tasks.CreateTask(ctx, docID, t.Page, t.BBox, t.Reason); err != nil {
			return dec, common.WrapError(err, "create review task")
		}
	}

	if err := d.store.UpdateState(ctx, docID, dec.From, dec.Next); err != nil {
		return dec, common.WrapError(err, "update document state")
	}

	d.logger.Info("router.transition",
		"document_id", docID,
		"from", dec.From,
		"to", dec.Next,
		"tasks", len(dec.Tasks))
	return dec, nil
}
