package extraction

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/api/schemas"
)

type stubRecognizer struct {
	entities []schemas.Entity
	panics   bool
}

func (s *stubRecognizer) Recognize(string) []schemas.Entity {
	if s.panics {
		panic("recognizer exploded")
	}
	return s.entities
}

type stubRelations struct {
	relations []schemas.Relation
}

func (s *stubRelations) Extract(string, []schemas.Entity) []schemas.Relation {
	return s.relations
}

type stubThreshold float64

func (s stubThreshold) Threshold() float64 { return float64(s) }

type stubExternal struct {
	entities  []schemas.Entity
	relations []schemas.Relation
	err       error
	calls     int
}

func (s *stubExternal) Name() string { return "stub-llm-v1" }

func (s *stubExternal) Extract(context.Context, string) ([]schemas.Entity, []schemas.Relation, error) {
	s.calls++
	return s.entities, s.relations, s.err
}

type recordingSink struct {
	entities  []schemas.Entity
	relations []schemas.Relation
	entityErr error
}

func (s *recordingSink) StoreEntity(_ context.Context, e schemas.Entity) error {
	if s.entityErr != nil {
		return s.entityErr
	}
	s.entities = append(s.entities, e)
	return nil
}

func (s *recordingSink) StoreRelation(_ context.Context, r schemas.Relation, _, _ schemas.Entity) error {
	s.relations = append(s.relations, r)
	return nil
}

func sampleEntities() []schemas.Entity {
	return []schemas.Entity{
		{ID: "e1", Text: "APT28", Type: schemas.EntityThreatActor, Confidence: 0.93, Start: 0, End: 5},
		{ID: "e2", Text: "Zebrocy", Type: schemas.EntityMalware, Confidence: 0.92, Start: 11, End: 18},
	}
}

func sampleRelations() []schemas.Relation {
	return []schemas.Relation{
		{ID: "r1", Source: "e1", Target: "e2", Relation: schemas.RelationUses, Confidence: 0.9, Context: "uses"},
	}
}

func newTestPipeline(opts ...Option) *Pipeline {
	return NewPipeline(
		&stubRecognizer{entities: sampleEntities()},
		&stubRelations{relations: sampleRelations()},
		stubThreshold(0.85),
		zap.NewNop(),
		opts...,
	)
}

func TestProcessRejectsEmptyInput(t *testing.T) {
	p := newTestPipeline()

	for _, text := range []string{"", "   ", "\n\t "} {
		_, err := p.Process(context.Background(), text)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidInput)
	}
}

func TestProcessPatternPath(t *testing.T) {
	p := newTestPipeline()

	res, err := p.Process(context.Background(), "APT28 uses Zebrocy")
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.NotEmpty(t, res.ExtractionID)
	assert.Len(t, res.Entities, 2)
	assert.Len(t, res.Relations, 1)

	md := res.Metadata
	assert.Equal(t, PatternModelVersion, md.ModelVersion)
	assert.InDelta(t, 0.85, md.ConfidenceThreshold, 1e-9)
	assert.Equal(t, 18, md.TextLength)
	assert.Equal(t, 2, md.EntitiesFound)
	assert.Equal(t, 1, md.RelationsFound)
	assert.GreaterOrEqual(t, md.ProcessingTime, 0.0)
}

func TestProcessTextLengthIsRuneCount(t *testing.T) {
	p := newTestPipeline()

	res, err := p.Process(context.Background(), "контроль C2")
	require.NoError(t, err)
	assert.Equal(t, 11, res.Metadata.TextLength)
}

func TestProcessGraphMirrorsEntitiesAndRelations(t *testing.T) {
	p := newTestPipeline()

	res, err := p.Process(context.Background(), "APT28 uses Zebrocy")
	require.NoError(t, err)

	require.Len(t, res.Graph.Nodes, 2)
	assert.Equal(t, "e1", res.Graph.Nodes[0].ID)
	assert.Equal(t, "APT28", res.Graph.Nodes[0].Label)
	assert.Equal(t, schemas.EntityThreatActor, res.Graph.Nodes[0].Type)
	assert.InDelta(t, 0.93, res.Graph.Nodes[0].Properties["confidence"].(float64), 1e-9)

	require.Len(t, res.Graph.Edges, 1)
	assert.Equal(t, "r1", res.Graph.Edges[0].ID)
	assert.Equal(t, "e1", res.Graph.Edges[0].Source)
	assert.Equal(t, "e2", res.Graph.Edges[0].Target)
	assert.Equal(t, schemas.RelationUses, res.Graph.Edges[0].Label)
}

func TestProcessExternalExtractor(t *testing.T) {
	t.Run("success tags result with the model name", func(t *testing.T) {
		ext := &stubExternal{entities: sampleEntities(), relations: sampleRelations()}
		p := newTestPipeline(WithExternalExtractor(ext))

		res, err := p.Process(context.Background(), "APT28 uses Zebrocy")
		require.NoError(t, err)
		assert.Equal(t, "stub-llm-v1", res.Metadata.ModelVersion)
		assert.Equal(t, 1, ext.calls)
	})

	t.Run("failure falls back to the pattern path", func(t *testing.T) {
		ext := &stubExternal{err: errors.New("model unavailable")}
		p := newTestPipeline(WithExternalExtractor(ext))

		res, err := p.Process(context.Background(), "APT28 uses Zebrocy")
		require.NoError(t, err)
		assert.Equal(t, PatternModelVersion, res.Metadata.ModelVersion)
		assert.Len(t, res.Entities, 2)
	})
}

func TestProcessCancelledContext(t *testing.T) {
	p := newTestPipeline()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Process(ctx, "APT28 uses Zebrocy")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProcessRecoversFromPanic(t *testing.T) {
	p := NewPipeline(
		&stubRecognizer{panics: true},
		&stubRelations{},
		stubThreshold(0.85),
		zap.NewNop(),
	)

	res, err := p.Process(context.Background(), "APT28 uses Zebrocy")
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrExtraction)
	assert.Contains(t, err.Error(), "recognizer exploded")
}

func TestProcessPersistence(t *testing.T) {
	t.Run("results reach the sink", func(t *testing.T) {
		sink := &recordingSink{}
		p := newTestPipeline(WithGraphSink(sink))

		_, err := p.Process(context.Background(), "APT28 uses Zebrocy")
		require.NoError(t, err)
		assert.Len(t, sink.entities, 2)
		assert.Len(t, sink.relations, 1)
	})

	t.Run("sink failures do not fail the extraction", func(t *testing.T) {
		sink := &recordingSink{entityErr: errors.New("db down")}
		p := newTestPipeline(WithGraphSink(sink))

		res, err := p.Process(context.Background(), "APT28 uses Zebrocy")
		require.NoError(t, err)
		assert.NotNil(t, res)
	})
}

func TestBuildGraphEmpty(t *testing.T) {
	g := BuildGraph(nil, nil)
	assert.NotNil(t, g.Nodes)
	assert.NotNil(t, g.Edges)
	assert.Empty(t, g.Nodes)
	assert.Empty(t, g.Edges)
}
