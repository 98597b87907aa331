package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/caselane/caselane/internal/common"
	"github.com/caselane/caselane/internal/export"
	"github.com/caselane/caselane/internal/extract"
	"github.com/caselane/caselane/internal/hil"
	"github.com/caselane/caselane/internal/ingest"
	"github.com/caselane/caselane/internal/pipeline"
	"github.com/caselane/caselane/internal/quality"
	"github.com/caselane/caselane/internal/repository"
	"github.com/caselane/caselane/internal/router"
	"github.com/caselane/caselane/internal/server"
	"github.com/caselane/caselane/internal/validate"
)

func main() {
	// Logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()
	log := logger.Sugar()

	// Env (.env is optional)
	_ = godotenv.Load()
	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Context with signal
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// DB pool
	pool, err := repository.Open(ctx, cfg.Database, slogger)
	if err != nil {
		log.Fatalf("creating DB pool: %v", err)
	}
	defer repository.Close(pool, slogger)

	if err := repository.HealthCheck(ctx, pool, cfg.Database.DialTimeout, slogger); err != nil {
		log.Fatalf("DB health failed: %v", err)
	}
	log.Infow("DB health OK")

	// Stores
	docs := repository.NewDocumentStore(pool)
	obligations := repository.NewObligationStore(pool)
	tasks := repository.NewTaskStore(pool)

	// Services
	dict, err := validate.LoadDictionaries()
	if err != nil {
		log.Fatalf("loading field dictionaries: %v", err)
	}
	validator := validate.NewValidator(dict, cfg.Quality.TableParseFailRatio, slogger)
	manager := hil.NewManager(tasks, docs, nil, slogger)
	driver := router.NewDriver(router.NewRouter(cfg.Quality, slogger), docs, manager, slogger)
	processor := pipeline.NewProcessor(docs, quality.NewScorer(cfg.Quality.MaxHILTasksPerPage),
		driver, manager, cfg.Pipeline, slogger)
	manager.SetRescorer(processor)

	srv := server.NewServer(
		ingest.NewService(docs, slogger),
		processor,
		manager,
		extract.NewApplier(obligations, cfg.Pipeline.ApplyTimeout, slogger),
		validator,
		docs,
		obligations,
		export.NewService(obligations, slogger),
		pool,
		slogger,
	)

	httpSrv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: srv.Routes(),
	}

	go func() {
		log.Infof("HTTP serving on %s", cfg.Server.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http serve: %v", err)
		}
	}()

	// Background sweep for documents whose review tasks are all resolved.
	go func() {
		if err := processor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorf("pipeline: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
	fmt.Println("stopped.")
}
