package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleExportObligations streams the obligations register workbook.
func (s *Server) handleExportObligations(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	raw, err := s.exporter.ExportObligationsXLSX(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="obligations-%s.xlsx"`, id))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}
