// Package engine fans a batch of documents out to a pool of extraction
// workers and collects their results.
package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/api/schemas"
	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/internal/config"
)

// Document is one unit of work: a named piece of report text.
type Document struct {
	ID   string
	Name string
	Text string
}

// DocumentResult pairs a document with its extraction outcome. Exactly one
// of Result and Err is set.
type DocumentResult struct {
	Document Document
	Result   *schemas.ExtractionResult
	Err      error
}

// Processor runs one extraction. The pipeline satisfies this.
type Processor interface {
	Process(ctx context.Context, text string) (*schemas.ExtractionResult, error)
}

// Persister receives completed results. Optional; persistence failures are
// logged and do not fail the document.
type Persister interface {
	PersistResult(ctx context.Context, res *schemas.ExtractionResult) error
}

// Engine distributes documents to a worker pool.
type Engine struct {
	cfg       config.EngineConfig
	logger    *zap.Logger
	processor Processor
	persister Persister
}

// New creates an Engine. persister may be nil; logger may be nil.
func New(cfg config.EngineConfig, processor Processor, persister Persister, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "engine")),
		processor: processor,
		persister: persister,
	}
}

// Run processes all documents and returns one result per document, in input
// order. It blocks until every worker has drained the queue or the context
// is cancelled; cancelled documents report the context error.
func (e *Engine) Run(ctx context.Context, docs []Document) []DocumentResult {
	concurrency := e.cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	if concurrency > len(docs) {
		concurrency = len(docs)
	}

	e.logger.Info("Starting extraction worker pool",
		zap.Int("concurrency", concurrency),
		zap.Int("documents", len(docs)))

	type indexed struct {
		idx int
		doc Document
	}
	taskChan := make(chan indexed)
	results := make([]DocumentResult, len(docs))

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			logger := e.logger.With(zap.Int("worker_id", workerID))
			for task := range taskChan {
				results[task.idx] = e.process(ctx, task.doc, logger)
			}
		}(i + 1)
	}

feed:
	for i, doc := range docs {
		select {
		case taskChan <- indexed{idx: i, doc: doc}:
		case <-ctx.Done():
			for j := i; j < len(docs); j++ {
				results[j] = DocumentResult{Document: docs[j], Err: ctx.Err()}
			}
			break feed
		}
	}
	close(taskChan)
	wg.Wait()

	e.logger.Info("Extraction worker pool drained", zap.Int("documents", len(docs)))
	return results
}

// process handles one document with the configured per-document timeout.
func (e *Engine) process(ctx context.Context, doc Document, logger *zap.Logger) DocumentResult {
	logger.Info("Processing document", zap.String("document_id", doc.ID), zap.String("name", doc.Name))

	timeout := e.cfg.DefaultTaskTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := e.processor.Process(taskCtx, doc.Text)
	if err != nil {
		logger.Error("Document processing failed", zap.String("document_id", doc.ID), zap.Error(err))
		return DocumentResult{Document: doc, Err: err}
	}

	if e.persister != nil {
		persistCtx, persistCancel := context.WithTimeout(ctx, 30*time.Second)
		if err := e.persister.PersistResult(persistCtx, res); err != nil {
			logger.Error("Failed to persist document results", zap.String("document_id", doc.ID), zap.Error(err))
		}
		persistCancel()
	}

	logger.Info("Document processed",
		zap.String("document_id", doc.ID),
		zap.Int("entities", res.Metadata.EntitiesFound),
		zap.Int("relations", res.Metadata.RelationsFound))
	return DocumentResult{Document: doc, Result: res}
}
