package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/caselane/caselane/internal/common"
)

// handleIngest accepts a file upload (multipart field "file", or the raw
// request body with a filename query parameter) and returns the document's
// content identity. A supersedes query parameter links the new document as
// the replacement of an older one.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	filename := r.URL.Query().Get("filename")
	body := r.Body

	if file, header, err := r.FormFile("file"); err == nil {
		defer file.Close()
		body = file
		filename = header.Filename
	}

	v := common.NewValidator().Field("filename", filename, common.Required)
	rawSupersedes := r.URL.Query().Get("supersedes")
	if rawSupersedes != "" {
		v.Field("supersedes", rawSupersedes, common.UUID)
	}
	if err := v.Error(); err != nil {
		writeDomainError(w, r, err)
		return
	}

	var supersedes *uuid.UUID
	if rawSupersedes != "" {
		id, _ := uuid.Parse(rawSupersedes)
		supersedes = &id
	}

	res, err := s.ingester.Ingest(r.Context(), filename, body, supersedes)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Deduplicated {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}
