package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/caselane/caselane/internal/common"
	"github.com/caselane/caselane/internal/extract"
	"github.com/caselane/caselane/internal/geometry"
	"github.com/caselane/caselane/internal/quality"
	"github.com/caselane/caselane/internal/router"
	"github.com/caselane/caselane/internal/validate"
)

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	doc, err := s.docs.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	pages, err := s.docs.ListPages(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"document": doc,
		"pages":    pages,
	})
}

type normalizeRequest struct {
	PageCount    int  `json:"page_count"`
	HasTextLayer bool `json:"has_text_layer"`
}

// handleNormalize records normalization output (page count, text layer) and
// advances the document.
func (s *Server) handleNormalize(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	var req normalizeRequest
	if err := readJSON(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if req.PageCount < 1 {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", "page_count must be positive", nil)
		return
	}
	if err := s.lifecycle.Normalize(r.Context(), id, req.PageCount, req.HasTextLayer); err != nil {
		writeDomainError(w, r, err)
		return
	}
	doc, err := s.docs.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"doc_id": id, "state": doc.State})
}

type tokenPayload struct {
	Text       string        `json:"text"`
	Confidence float64       `json:"confidence"`
	BBox       geometry.BBox `json:"bbox"`
}

type pagePayload struct {
	Number      int            `json:"number"`
	Width       float64        `json:"width"`
	Height      float64        `json:"height"`
	WidthInches float64        `json:"width_inches,omitempty"`
	PixelWidth  int            `json:"pixel_width,omitempty"`
	DPIHint     int            `json:"dpi_hint,omitempty"`
	Tokens      []tokenPayload `json:"tokens"`
}

type ocrRequest struct {
	Pages []pagePayload `json:"pages"`
}

// handleOCRResult accepts the OCR collaborator's token output, scores it and
// advances the document.
func (s *Server) handleOCRResult(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	var req ocrRequest
	if err := readJSON(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if len(req.Pages) == 0 {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", "pages required", nil)
		return
	}

	inputs := make([]quality.PageInput, 0, len(req.Pages))
	for _, p := range req.Pages {
		in := quality.PageInput{
			Number:      p.Number,
			Width:       p.Width,
			Height:      p.Height,
			WidthInches: p.WidthInches,
			PixelWidth:  p.PixelWidth,
			DPIHint:     p.DPIHint,
		}
		for _, t := range p.Tokens {
			in.Tokens = append(in.Tokens, quality.Token{
				Text:       t.Text,
				Confidence: t.Confidence,
				BBox:       t.BBox,
			})
		}
		inputs = append(inputs, in)
	}

	if err := s.lifecycle.SubmitScores(r.Context(), id, inputs); err != nil {
		writeDomainError(w, r, err)
		return
	}
	doc, err := s.docs.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"doc_id":    id,
		"state":     doc.State,
		"doc_score": doc.DocScore,
	})
}

// handleExtraction validates an extraction payload and, when it passes,
// applies it atomically. A rejected payload bounces the document to review
// with the rejection reasons as tasks.
func (s *Server) handleExtraction(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	doc, err := s.docs.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", "body must be JSON", nil)
		return
	}
	payload, err := extract.ParsePayload(raw)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	result := s.validator.Validate(buildCandidate(doc.PageCount, payload))
	if !result.OK() {
		if err := s.lifecycle.Advance(r.Context(), id, &router.ValidationOutcome{
			Accepted: false,
			Reasons:  result.Reasons(),
		}); err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"doc_id":   id,
			"accepted": false,
			"failures": result.Failures,
		})
		return
	}

	if err := s.lifecycle.Advance(r.Context(), id, &router.ValidationOutcome{Accepted: true}); err != nil {
		writeDomainError(w, r, err)
		return
	}

	supersede := r.URL.Query().Get("supersede") != "false"
	opts := extract.Options{
		Supersede: supersede,
		Actor:     common.ActorFromContext(r.Context()),
	}
	if err := s.applier.Apply(r.Context(), id, payload, opts); err != nil {
		writeDomainError(w, r, err)
		return
	}

	if err := s.lifecycle.Advance(r.Context(), id, &router.ValidationOutcome{Accepted: true}); err != nil {
		writeDomainError(w, r, err)
		return
	}
	updated, err := s.docs.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"doc_id":   id,
		"accepted": true,
		"state":    updated.State,
	})
}

// buildCandidate maps the payload onto the validator's input. Obligations
// are derived facts; their evidence page ranges are checked against the page
// count, and the field bag is checked against the doc-type dictionary.
// The extraction contract carries no token bboxes or table statistics, so
// the bbox-provenance and table checks only bite for candidates built from
// richer sources; here every fact is derived and Tables stays empty.
func buildCandidate(pageCount int, payload *extract.Payload) validate.Candidate {
	fields, _ := json.Marshal(payload.ExtractedFields)
	c := validate.Candidate{
		DocType:         payload.DocType,
		ExtractedFields: fields,
		PageCount:       pageCount,
	}
	for _, ob := range payload.Obligations {
		for _, ev := range ob.Evidence {
			if ev.PageFrom > 0 {
				page := ev.PageFrom
				c.Facts = append(c.Facts, validate.Fact{
					Name:    ob.ObligationType,
					Page:    &page,
					Derived: true,
				})
			}
			if ev.PageTo != nil && *ev.PageTo != ev.PageFrom {
				page := *ev.PageTo
				c.Facts = append(c.Facts, validate.Fact{
					Name:    ob.ObligationType,
					Page:    &page,
					Derived: true,
				})
			}
		}
	}
	return c
}

func (s *Server) handleListObligations(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	obligations, err := s.obligations.ListByDocument(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	type obligationView struct {
		Obligation any `json:"obligation"`
		Evidence   any `json:"evidence,omitempty"`
	}
	out := make([]obligationView, 0, len(obligations))
	for _, ob := range obligations {
		links, err := s.obligations.ListEvidence(r.Context(), ob.ID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		out = append(out, obligationView{Obligation: ob, Evidence: links})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"doc_id":      id,
		"obligations": out,
	})
}
