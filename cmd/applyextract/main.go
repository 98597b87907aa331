// applyextract applies an extraction payload file to a document. It is a
// one-shot admin tool for re-running an apply against the live database,
// typically after fixing a payload by hand.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/caselane/caselane/internal/common"
	"github.com/caselane/caselane/internal/extract"
	"github.com/caselane/caselane/internal/repository"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	docArg := flag.String("doc", "", "document id (UUID)")
	payloadPath := flag.String("payload", "", "path to the extraction payload JSON file")
	supersede := flag.Bool("supersede", true, "retire obligations the payload no longer asserts")
	actor := flag.String("actor", "applyextract", "actor recorded on evidence rows")
	flag.Parse()

	if *docArg == "" || *payloadPath == "" {
		fmt.Fprintln(os.Stderr, "usage: applyextract -doc <uuid> -payload <file.json> [-supersede=false] [-actor name]")
		os.Exit(2)
	}
	docID, err := uuid.Parse(*docArg)
	if err != nil {
		logger.Error("invalid document id (must be UUID)", "arg", *docArg, "error", err)
		os.Exit(2)
	}

	raw, err := os.ReadFile(*payloadPath)
	if err != nil {
		logger.Error("read payload", "path", *payloadPath, "error", err)
		os.Exit(1)
	}
	payload, err := extract.ParsePayload(raw)
	if err != nil {
		logger.Error("parse payload", "error", err)
		os.Exit(1)
	}

	_ = godotenv.Load()
	dbURL := os.Getenv("DB_URL")
	if dbURL == "" {
		logger.Error("DB_URL required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := repository.Open(ctx, common.DatabaseConfig{
		DSN:             dbURL,
		MaxConns:        5,
		MinConns:        1,
		MaxConnLifetime: 30 * time.Minute,
		MaxConnIdleTime: 5 * time.Minute,
		DialTimeout:     3 * time.Second,
	}, logger)
	if err != nil {
		logger.Error("open db", "error", err)
		os.Exit(1)
	}
	defer repository.Close(pool, logger)

	docs := repository.NewDocumentStore(pool)
	if _, err := docs.Get(ctx, docID); err != nil {
		logger.Error("load document", "document_id", docID, "error", err)
		os.Exit(1)
	}

	applier := extract.NewApplier(repository.NewObligationStore(pool), 0, logger)
	if err := applier.Apply(ctx, docID, payload, extract.Options{
		Supersede: *supersede,
		Actor:     *actor,
	}); err != nil {
		logger.Error("apply payload", "document_id", docID, "error", err)
		os.Exit(1)
	}

	logger.Info("payload applied",
		"document_id", docID,
		"obligations", len(payload.Obligations),
		"supersede", *supersede)
}
