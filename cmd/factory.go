package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/internal/ai"
	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/internal/config"
	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/internal/engine"
	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/internal/extraction"
	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/internal/extraction/recognizer"
	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/internal/extraction/relations"
	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/internal/feedback"
	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/internal/knowledgegraph"
	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/internal/observability"
	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/internal/store"
)

// Components holds the initialized services an extraction run needs. It
// centralizes lifecycle management so commands only wire flags and output.
type Components struct {
	Feedback *feedback.MemoryStore
	Pipeline *extraction.Pipeline
	Engine   *engine.Engine
	Store    *store.Store
	Graph    *knowledgegraph.InMemoryKG

	dbPool *pgxpool.Pool
}

// Shutdown releases held resources.
func (c *Components) Shutdown() {
	if c.dbPool != nil {
		c.dbPool.Close()
		observability.GetLogger().Debug("Database connection pool closed.")
	}
}

// buildComponents performs the full dependency wiring for the extraction
// commands. Persistence goes to PostgreSQL when postgres.url is set, to the
// in-memory graph otherwise. The AI path is attached when ai.enabled is set.
func buildComponents(ctx context.Context, cfg *config.Config) (*Components, error) {
	logger := observability.GetLogger()
	components := &Components{}

	var initializationErr error
	defer func() {
		if initializationErr != nil {
			components.Shutdown()
		}
	}()

	if cfg.Feedback.HistoryFile != "" {
		fb, err := feedback.LoadFile(cfg.Feedback.HistoryFile, cfg.Extractor.ConfidenceThreshold, logger)
		if err != nil {
			initializationErr = fmt.Errorf("failed to load feedback history: %w", err)
			return nil, initializationErr
		}
		components.Feedback = fb
	} else {
		components.Feedback = feedback.NewMemoryStore(cfg.Extractor.ConfidenceThreshold, logger)
	}

	// The in-memory graph always accumulates results for querying within the
	// process; PostgreSQL additionally durably persists runs when configured.
	components.Graph = knowledgegraph.NewInMemoryKG(logger)

	var persister engine.Persister
	if cfg.Postgres.URL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			initializationErr = fmt.Errorf("failed to create database connection pool: %w", err)
			return nil, initializationErr
		}
		components.dbPool = dbPool

		dbStore, err := store.New(ctx, dbPool, logger)
		if err != nil {
			initializationErr = fmt.Errorf("failed to initialize database store: %w", err)
			return nil, initializationErr
		}
		components.Store = dbStore
		persister = dbStore
		logger.Debug("PostgreSQL store initialized.")
	}

	opts := []extraction.Option{extraction.WithGraphSink(components.Graph)}
	if cfg.AI.Enabled {
		model, err := ai.NewModelFromConfig(cfg.AI)
		if err != nil {
			initializationErr = fmt.Errorf("failed to initialize ai model: %w", err)
			return nil, initializationErr
		}
		extractor := ai.New(model, cfg.AI.Model, cfg.AI.Temperature, logger)
		opts = append(opts, extraction.WithExternalExtractor(extractor))
		logger.Debug("AI extraction path enabled.",
			zap.String("provider", string(cfg.AI.Provider)),
			zap.String("model", cfg.AI.Model))
	}

	rec := recognizer.New(cfg.Extractor, components.Feedback, logger)
	rel := relations.New(cfg.Extractor, logger)
	components.Pipeline = extraction.NewPipeline(rec, rel, components.Feedback, logger, opts...)

	components.Engine = engine.New(cfg.Engine, components.Pipeline, persister, logger)

	logger.Debug("All extraction components initialized.")
	return components, nil
}
