// Package export produces the obligations register workbook for a document.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/caselane/caselane/internal/entity"
)

// ObligationSource is the read slice the exporter needs.
type ObligationSource interface {
	ListByDocument(ctx context.Context, documentID uuid.UUID) ([]entity.Obligation, error)
	ListEvidence(ctx context.Context, obligationID uuid.UUID) ([]entity.EvidenceLink, error)
}

// Service is a tiny façade over the store that produces XLSX bytes.
type Service struct {
	obligations ObligationSource
	logger      *slog.Logger
}

func NewService(obligations ObligationSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{obligations: obligations, logger: logger}
}

// ExportObligationsXLSX returns an XLSX workbook (as bytes) listing a
// document's obligations with their evidence citations.
func (s *Service) ExportObligationsXLSX(ctx context.Context, documentID uuid.UUID) ([]byte, error) {
	start := time.Now()

	obligations, err := s.obligations.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("query obligations: %w", err)
	}

	f := excelize.NewFile()
	const sheet = "Obligations"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)
	// Drop the default sheet excelize creates.
	if index, _ := f.GetSheetIndex("Sheet1"); index != -1 {
		_ = f.DeleteSheet("Sheet1")
	}

	headers := []string{
		"Obligation Type",
		"Status",
		"Trigger Event",
		"Due Date",
		"Responsible Party",
		"Description",
		"Evidence",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, ob := range obligations {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}

		write(1, ob.ObligationType)
		write(2, string(ob.Status))
		write(3, orEmpty(ob.TriggerEvent))
		if ob.DueDate != nil {
			write(4, ob.DueDate.Format("2006-01-02"))
		} else {
			write(4, "")
		}
		write(5, orEmpty(ob.PartyName))
		write(6, orEmpty(ob.Description))

		links, err := s.obligations.ListEvidence(ctx, ob.ID)
		if err != nil {
			return nil, fmt.Errorf("query evidence: %w", err)
		}
		write(7, formatEvidence(links))
		row++
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}

	s.logger.Info("export.ok",
		"document_id", documentID,
		"obligations", len(obligations),
		"duration", time.Since(start))
	return buf.Bytes(), nil
}

func orEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// formatEvidence renders citations like "doc 1a2b p.8" or "doc 1a2b p.3-5",
// one per line.
func formatEvidence(links []entity.EvidenceLink) string {
	out := ""
	for i, l := range links {
		if i > 0 {
			out += "\n"
		}
		short := l.EvidenceDocumentID.String()[:8]
		if l.PageFrom == l.PageTo {
			out += fmt.Sprintf("doc %s p.%d", short, l.PageFrom)
		} else {
			out += fmt.Sprintf("doc %s p.%d-%d", short, l.PageFrom, l.PageTo)
		}
		if l.Note != nil && *l.Note != "" {
			out += " (" + *l.Note + ")"
		}
	}
	return out
}
