// Package hil manages human-in-the-loop review tasks: idempotent creation
// keyed by (document, page, bbox, reason), and resolution of the recorded
// human action, which can feed corrected text back into re-scoring.
package hil

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/caselane/caselane/constants"
	"github.com/caselane/caselane/internal/common"
	"github.com/caselane/caselane/internal/entity"
	"github.com/caselane/caselane/internal/geometry"
)

// TaskStore is the storage slice the manager needs. FindPendingTask matches
// the full identity tuple and returns nil when no pending task exists.
type TaskStore interface {
	FindPendingTask(ctx context.Context, docID uuid.UUID, page *int, bbox *geometry.BBox, reason constants.TaskReason) (*entity.HILTask, error)
	InsertTask(ctx context.Context, task *entity.HILTask) error
	GetTask(ctx context.Context, id uuid.UUID) (*entity.HILTask, error)
	FinishTask(ctx context.Context, id uuid.UUID, status constants.TaskStatus, note string, resolvedAt time.Time) error
	ListTasks(ctx context.Context, docID *uuid.UUID, status *constants.TaskStatus) ([]entity.HILTask, error)
	PendingBlockingCount(ctx context.Context, docID uuid.UUID) (int, error)
}

// PageAnnotator records a human transcription as a corrected-text overlay on
// a page. The original OCR text is never destroyed.
type PageAnnotator interface {
	ApplyTranscription(ctx context.Context, docID uuid.UUID, page int, text string, at time.Time) error
}

// Rescorer re-runs quality scoring and routing for a document after a
// resolution changed its inputs.
type Rescorer interface {
	Rescore(ctx context.Context, docID uuid.UUID) error
}

// Resolution carries the human action's payload.
type Resolution struct {
	Text string // transcribed text, required for ActionTranscribe
	Note string // free-form note recorded on the task
}

// Manager creates and resolves review tasks.
type Manager struct {
	store    TaskStore
	pages    PageAnnotator
	rescorer Rescorer
	logger   *slog.Logger
	now      func() time.Time
}

func NewManager(store TaskStore, pages PageAnnotator, rescorer Rescorer, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:    store,
		pages:    pages,
		rescorer: rescorer,
		logger:   logger,
		now:      time.Now,
	}
}

// SetRescorer late-binds the rescorer: the manager and the pipeline
// reference each other, so one side is wired after construction.
func (m *Manager) SetRescorer(r Rescorer) { m.rescorer = r }

// CreateTask opens a pending blocking task, or returns the existing pending
// task for the same (document, page, bbox, reason). The bool reports whether
// a new task was created.
func (m *Manager) CreateTask(ctx context.Context, docID uuid.UUID, page *int, bbox *geometry.BBox, reason constants.TaskReason) (uuid.UUID, bool, error) {
	existing, err := m.store.FindPendingTask(ctx, docID, page, bbox, reason)
	if err != nil {
		return uuid.Nil, false, common.WrapError(err, "find pending task")
	}
	if existing != nil {
		return existing.ID, false, nil
	}

	task := &entity.HILTask{
		ID:         uuid.New(),
		DocumentID: docID,
		Page:       page,
		BBox:       bbox,
		Reason:     reason,
		Status:     constants.TaskStatusPending,
		Blocking:   true,
		CreatedAt:  m.now().UTC(),
	}
	if err := m.store.InsertTask(ctx, task); err != nil {
		return uuid.Nil, false, common.WrapError(err, "insert task")
	}

	m.logger.Info("hil.task_created",
		"task_id", task.ID,
		"document_id", docID,
		"reason", reason)
	return task.ID, true, nil
}

// Resolve records a human action on a task. Resolving an already-finished
// task is a no-op returning the stored task. A transcription writes the
// corrected-text overlay and triggers re-scoring so the router can
// re-evaluate the document.
func (m *Manager) Resolve(ctx context.Context, taskID uuid.UUID, action constants.TaskAction, res Resolution) (*entity.HILTask, error) {
	task, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, common.WrapError(err, "get task")
	}
	if task.Status != constants.TaskStatusPending {
		return task, nil
	}

	now := m.now().UTC()
	status := constants.TaskStatusResolved

	switch action {
	case constants.ActionTranscribe:
		if task.Page == nil {
			return nil, fmt.Errorf("%w: task %s has no page to transcribe", common.ErrInvalidInput, taskID)
		}
		if res.Text == "" {
			return nil, fmt.Errorf("%w: transcription text required", common.ErrInvalidInput)
		}
		if err := m.pages.ApplyTranscription(ctx, task.DocumentID, *task.Page, res.Text, now); err != nil {
			return nil, common.WrapError(err, "apply transcription")
		}
	case constants.ActionUpload, constants.ActionComplete:
		// The replacement upload arrives through ingestion as a new document
		// linked by supersession; resolving here only unblocks this one.
	case constants.ActionIgnore:
		status = constants.TaskStatusIgnored
	default:
		return nil, fmt.Errorf("%w: unknown action %q", common.ErrInvalidInput, action)
	}

	if err := m.store.FinishTask(ctx, taskID, status, res.Note, now); err != nil {
		return nil, common.WrapError(err, "finish task")
	}
	task.Status = status
	task.ResolutionNote = res.Note
	task.ResolvedAt = &now

	m.logger.Info("hil.task_resolved",
		"task_id", taskID,
		"document_id", task.DocumentID,
		"action", action,
		"status", status)

	// Every resolution is a routing event: a transcription changes the
	// scoring inputs, and clearing the last blocking task unparks the
	// document. Rescoring is idempotent when nothing changed.
	if m.rescorer != nil {
		if err := m.rescorer.Rescore(ctx, task.DocumentID); err != nil {
			return nil, common.WrapError(err, "rescore after resolution")
		}
	}
	return task, nil
}

// List returns tasks filtered by document and/or status.
func (m *Manager) List(ctx context.Context, docID *uuid.UUID, status *constants.TaskStatus) ([]entity.HILTask, error) {
	tasks, err := m.store.ListTasks(ctx, docID, status)
	if err != nil {
		return nil, common.WrapError(err, "list tasks")
	}
	return tasks, nil
}

// PendingBlocking counts unresolved blocking tasks for a document; the router
// uses it to decide whether HIL_PENDING may progress.
func (m *Manager) PendingBlocking(ctx context.Context, docID uuid.UUID) (int, error) {
	n, err := m.store.PendingBlockingCount(ctx, docID)
	if err != nil {
		return 0, common.WrapError(err, "count pending tasks")
	}
	return n, nil
}
