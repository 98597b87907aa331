package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/caselane/caselane/constants"
	"github.com/caselane/caselane/internal/common"
	"github.com/caselane/caselane/internal/hil"
)

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	var docID *uuid.UUID
	if raw := r.URL.Query().Get("document_id"); raw != "" {
		id, err := parseUUIDParam(raw)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		docID = &id
	}

	var status *constants.TaskStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		st := constants.TaskStatus(raw)
		switch st {
		case constants.TaskStatusPending, constants.TaskStatusResolved, constants.TaskStatusIgnored:
			status = &st
		default:
			writeDomainError(w, r, fmt.Errorf("%w: unknown status %q", common.ErrInvalidInput, raw))
			return
		}
	}

	tasks, err := s.tasks.List(r.Context(), docID, status)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

type resolveRequest struct {
	Text string `json:"text,omitempty"`
	Note string `json:"note,omitempty"`
}

// resolveWith returns the handler for one resolution action endpoint.
func (s *Server) resolveWith(action constants.TaskAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID, err := parseUUIDParam(chi.URLParam(r, "taskID"))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		var req resolveRequest
		if r.ContentLength > 0 {
			if err := readJSON(r, &req); err != nil {
				writeDomainError(w, r, err)
				return
			}
		}

		task, err := s.tasks.Resolve(r.Context(), taskID, action, hil.Resolution{
			Text: req.Text,
			Note: req.Note,
		})
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"task": task})
	}
}
