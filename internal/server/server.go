// Package server exposes the HTTP surface: ingestion, document lifecycle
// events, extraction application, review tasks and exports.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/caselane/caselane/constants"
	"github.com/caselane/caselane/internal/entity"
	"github.com/caselane/caselane/internal/extract"
	"github.com/caselane/caselane/internal/hil"
	"github.com/caselane/caselane/internal/ingest"
	"github.com/caselane/caselane/internal/quality"
	"github.com/caselane/caselane/internal/router"
	"github.com/caselane/caselane/internal/validate"
)

// DocumentReader is the read slice handlers need for documents.
type DocumentReader interface {
	Get(ctx context.Context, id uuid.UUID) (*entity.Document, error)
	ListPages(ctx context.Context, docID uuid.UUID) ([]entity.Page, error)
}

// ObligationReader is the read slice for obligations and their evidence.
type ObligationReader interface {
	ListByDocument(ctx context.Context, documentID uuid.UUID) ([]entity.Obligation, error)
	ListEvidence(ctx context.Context, obligationID uuid.UUID) ([]entity.EvidenceLink, error)
}

// Exporter renders the obligations register workbook.
type Exporter interface {
	ExportObligationsXLSX(ctx context.Context, documentID uuid.UUID) ([]byte, error)
}

// Lifecycle is the slice of the pipeline the handlers drive.
type Lifecycle interface {
	Normalize(ctx context.Context, docID uuid.UUID, pageCount int, hasTextLayer bool) error
	SubmitScores(ctx context.Context, docID uuid.UUID, pages []quality.PageInput) error
	Advance(ctx context.Context, docID uuid.UUID, validation *router.ValidationOutcome) error
}

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires the HTTP handlers to the services.
type Server struct {
	ingester    *ingest.Service
	lifecycle   Lifecycle
	tasks       *hil.Manager
	applier     *extract.Applier
	validator   *validate.Validator
	docs        DocumentReader
	obligations ObligationReader
	exporter    Exporter
	db          Pinger
	logger      *slog.Logger
}

func NewServer(
	ingester *ingest.Service,
	lifecycle Lifecycle,
	tasks *hil.Manager,
	applier *extract.Applier,
	validator *validate.Validator,
	docs DocumentReader,
	obligations ObligationReader,
	exporter Exporter,
	db Pinger,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		ingester:    ingester,
		lifecycle:   lifecycle,
		tasks:       tasks,
		applier:     applier,
		validator:   validator,
		docs:        docs,
		obligations: obligations,
		exporter:    exporter,
		db:          db,
		logger:      logger,
	}
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestID)
	r.Use(actor)

	r.Get("/health", s.handleHealth)
	r.Post("/ingest", s.handleIngest)

	r.Route("/documents/{id}", func(r chi.Router) {
		r.Get("/", s.handleGetDocument)
		r.Post("/normalize", s.handleNormalize)
		r.Post("/ocr", s.handleOCRResult)
		r.Post("/extraction", s.handleExtraction)
		r.Get("/obligations", s.handleListObligations)
		r.Get("/obligations.xlsx", s.handleExportObligations)
	})

	r.Route("/hil/tasks", func(r chi.Router) {
		r.Get("/", s.handleListTasks)
		r.Post("/{taskID}/transcribe", s.resolveWith(constants.ActionTranscribe))
		r.Post("/{taskID}/upload", s.resolveWith(constants.ActionUpload))
		r.Post("/{taskID}/ignore", s.resolveWith(constants.ActionIgnore))
		r.Post("/{taskID}/complete", s.resolveWith(constants.ActionComplete))
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			writeError(w, r, http.StatusServiceUnavailable, "DB_UNAVAILABLE", err.Error(), nil)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
