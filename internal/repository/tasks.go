package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caselane/caselane/constants"
	"github.com/caselane/caselane/internal/common"
	"github.com/caselane/caselane/internal/entity"
	"github.com/caselane/caselane/internal/geometry"
)

// TaskStore persists human-review tasks. The pending-task identity tuple is
// enforced by a partial unique index, so concurrent routing evaluations
// cannot open duplicates.
type TaskStore struct {
	pool *pgxpool.Pool
}

func NewTaskStore(pool *pgxpool.Pool) *TaskStore {
	return &TaskStore{pool: pool}
}

func encodeBBox(bbox *geometry.BBox) ([]byte, error) {
	if bbox == nil {
		return nil, nil
	}
	return json.Marshal(bbox)
}

func decodeBBox(raw []byte) (*geometry.BBox, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var b geometry.BBox
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("decode bbox: %w", err)
	}
	return &b, nil
}

const taskColumns = `id, document_id, page_no, bbox, reason, status, blocking, resolution_note, created_at, resolved_at`

func scanTask(row pgx.Row) (*entity.HILTask, error) {
	var t entity.HILTask
	var raw []byte
	err := row.Scan(&t.ID, &t.DocumentID, &t.Page, &raw, &t.Reason, &t.Status,
		&t.Blocking, &t.ResolutionNote, &t.CreatedAt, &t.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, err
	}
	bbox, err := decodeBBox(raw)
	if err != nil {
		return nil, err
	}
	t.BBox = bbox
	return &t, nil
}

// FindPendingTask returns the pending task matching the full identity tuple,
// or nil when none exists.
func (s *TaskStore) FindPendingTask(ctx context.Context, docID uuid.UUID, page *int, bbox *geometry.BBox, reason constants.TaskReason) (*entity.HILTask, error) {
	raw, err := encodeBBox(bbox)
	if err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx, `
SELECT `+taskColumns+` FROM hil_tasks
WHERE document_id = $1
  AND reason = $2
  AND status = 'pending'
  AND page_no IS NOT DISTINCT FROM $3
  AND bbox IS NOT DISTINCT FROM $4::jsonb`,
		docID, reason, page, raw)
	task, err := scanTask(row)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil
	}
	return task, err
}

// InsertTask writes a new task; a concurrent insert of the same pending
// tuple loses to the partial unique index and is surfaced as DuplicateIgnored.
func (s *TaskStore) InsertTask(ctx context.Context, task *entity.HILTask) error {
	raw, err := encodeBBox(task.BBox)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO hil_tasks (id, document_id, page_no, bbox, reason, status, blocking, resolution_note, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		task.ID, task.DocumentID, task.Page, raw, task.Reason, task.Status,
		task.Blocking, task.ResolutionNote, task.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return common.DuplicateIgnored
		}
		return err
	}
	return nil
}

func (s *TaskStore) GetTask(ctx context.Context, id uuid.UUID) (*entity.HILTask, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM hil_tasks WHERE id = $1`, id)
	return scanTask(row)
}

// FinishTask records the final status of a pending task.
func (s *TaskStore) FinishTask(ctx context.Context, id uuid.UUID, status constants.TaskStatus, note string, resolvedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE hil_tasks SET status = $2, resolution_note = $3, resolved_at = $4
WHERE id = $1 AND status = 'pending'`,
		id, status, note, resolvedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: task %s not pending", common.ErrStateConflict, id)
	}
	return nil
}

// ListTasks returns tasks filtered by document and/or status, newest first.
func (s *TaskStore) ListTasks(ctx context.Context, docID *uuid.UUID, status *constants.TaskStatus) ([]entity.HILTask, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+taskColumns+` FROM hil_tasks
WHERE ($1::uuid IS NULL OR document_id = $1)
  AND ($2::text IS NULL OR status = $2)
ORDER BY created_at DESC, id`, docID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.HILTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *task)
	}
	return out, rows.Err()
}

// PendingBlockingCount counts the unresolved blocking tasks gating a
// document.
func (s *TaskStore) PendingBlockingCount(ctx context.Context, docID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
SELECT count(*) FROM hil_tasks WHERE document_id = $1 AND blocking AND status = 'pending'`, docID).Scan(&n)
	return n, err
}
