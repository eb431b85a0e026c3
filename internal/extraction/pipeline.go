// Package extraction orchestrates the full text-to-triples run: entity
// recognition, relation extraction, graph assembly, and optional persistence.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/api/schemas"
)

var (
	// ErrInvalidInput rejects empty or whitespace-only documents.
	ErrInvalidInput = errors.New("invalid input: text is required")

	// ErrExtraction wraps unexpected failures inside an extraction run.
	ErrExtraction = errors.New("extraction failed")
)

// PatternModelVersion tags results produced by the built-in pattern path.
const PatternModelVersion = "pattern-ner-v1.0"

// EntityRecognizer finds typed entity mentions in text.
type EntityRecognizer interface {
	Recognize(text string) []schemas.Entity
}

// RelationExtractor derives relations between recognized entities.
type RelationExtractor interface {
	Extract(text string, entities []schemas.Entity) []schemas.Relation
}

// ThresholdSource supplies the current confidence threshold for result
// metadata.
type ThresholdSource interface {
	Threshold() float64
}

// ExternalExtractor is an optional model-backed extraction path. When it
// fails, the pipeline falls back to the pattern path.
type ExternalExtractor interface {
	Name() string
	Extract(ctx context.Context, text string) ([]schemas.Entity, []schemas.Relation, error)
}

// GraphSink receives extracted entities and relations for persistence.
// Persistence failures are logged, never fatal to the extraction itself.
type GraphSink interface {
	StoreEntity(ctx context.Context, e schemas.Entity) error
	StoreRelation(ctx context.Context, r schemas.Relation, source, target schemas.Entity) error
}

// Pipeline runs extractions. Construct with NewPipeline; the zero value is
// not usable.
type Pipeline struct {
	recognizer EntityRecognizer
	relations  RelationExtractor
	thresholds ThresholdSource
	external   ExternalExtractor
	sink       GraphSink
	log        *zap.Logger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithExternalExtractor enables the model-backed extraction path.
func WithExternalExtractor(e ExternalExtractor) Option {
	return func(p *Pipeline) { p.external = e }
}

// WithGraphSink enables best-effort persistence of results.
func WithGraphSink(s GraphSink) Option {
	return func(p *Pipeline) { p.sink = s }
}

// NewPipeline wires an extraction pipeline. logger may be nil.
func NewPipeline(rec EntityRecognizer, rel RelationExtractor, thresholds ThresholdSource, logger *zap.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		recognizer: rec,
		relations:  rel,
		thresholds: thresholds,
		log:        logger.Named("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs the full extraction for one document and returns the
// assembled result. The error is ErrInvalidInput for unusable input,
// a context error on cancellation, or an ErrExtraction wrap for anything
// unexpected inside the run.
func (p *Pipeline) Process(ctx context.Context, text string) (result *schemas.ExtractionResult, err error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrInvalidInput
	}

	defer func() {
		if r := recover(); r != nil {
			p.log.Error("Extraction panicked", zap.Any("panic", r))
			result = nil
			err = fmt.Errorf("%w: %v", ErrExtraction, r)
		}
	}()

	start := time.Now()
	modelVersion := PatternModelVersion

	entities, relations, external := p.extract(ctx, text)
	if external {
		modelVersion = p.external.Name()
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	graph := BuildGraph(entities, relations)

	res := &schemas.ExtractionResult{
		ExtractionID: uuid.NewString(),
		Entities:     entities,
		Relations:    relations,
		Graph:        graph,
		Metadata: schemas.Metadata{
			ProcessingTime:      time.Since(start).Seconds(),
			ModelVersion:        modelVersion,
			ConfidenceThreshold: p.thresholds.Threshold(),
			TextLength:          utf8.RuneCountInString(text),
			EntitiesFound:       len(entities),
			RelationsFound:      len(relations),
		},
	}

	p.persist(ctx, res)

	p.log.Info("Extraction complete",
		zap.String("extraction_id", res.ExtractionID),
		zap.String("model_version", modelVersion),
		zap.Int("entities", len(entities)),
		zap.Int("relations", len(relations)),
		zap.Duration("elapsed", time.Since(start)))
	return res, nil
}

// extract chooses the extraction path. The external model is preferred when
// configured; its failure demotes the run to the pattern path with a warning.
func (p *Pipeline) extract(ctx context.Context, text string) ([]schemas.Entity, []schemas.Relation, bool) {
	if p.external != nil {
		entities, relations, err := p.external.Extract(ctx, text)
		if err == nil {
			return entities, relations, true
		}
		p.log.Warn("External extractor failed, falling back to patterns",
			zap.String("extractor", p.external.Name()),
			zap.Error(err))
	}

	entities := p.recognizer.Recognize(text)
	relations := p.relations.Extract(text, entities)
	return entities, relations, false
}

// persist pushes the result into the configured sink. Failures are logged
// per item and do not affect the returned result.
func (p *Pipeline) persist(ctx context.Context, res *schemas.ExtractionResult) {
	if p.sink == nil {
		return
	}

	byID := make(map[string]schemas.Entity, len(res.Entities))
	for _, e := range res.Entities {
		byID[e.ID] = e
		if err := p.sink.StoreEntity(ctx, e); err != nil {
			p.log.Warn("Failed to persist entity", zap.String("entity", e.Text), zap.Error(err))
		}
	}
	for _, r := range res.Relations {
		source, okS := byID[r.Source]
		target, okT := byID[r.Target]
		if !okS || !okT {
			continue
		}
		if err := p.sink.StoreRelation(ctx, r, source, target); err != nil {
			p.log.Warn("Failed to persist relation", zap.String("relation", string(r.Relation)), zap.Error(err))
		}
	}
}
