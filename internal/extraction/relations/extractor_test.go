package relations

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/api/schemas"
	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/internal/config"
)

func testConfig() config.ExtractorConfig {
	return config.ExtractorConfig{
		ConfidenceThreshold:  0.85,
		ProximityWindow:      100,
		MaxFallbackEntities:  10,
		MaxFallbackRelations: 5,
		MinRelations:         3,
	}
}

func entity(id, text string, typ schemas.EntityType, conf float64, start, end int) schemas.Entity {
	return schemas.Entity{ID: id, Text: text, Type: typ, Confidence: conf, Start: start, End: end}
}

func relationsOf(rels []schemas.Relation, typ schemas.RelationType) []schemas.Relation {
	var out []schemas.Relation
	for _, r := range rels {
		if r.Relation == typ {
			out = append(out, r)
		}
	}
	return out
}

func TestExtractRequiresTwoEntities(t *testing.T) {
	x := New(testConfig(), zap.NewNop())

	assert.Nil(t, x.Extract("APT28 uses Zebrocy", nil))
	assert.Nil(t, x.Extract("APT28 uses Zebrocy", []schemas.Entity{
		entity("e1", "APT28", schemas.EntityThreatActor, 0.93, 0, 5),
	}))
}

func TestExtractPhraseRelation(t *testing.T) {
	x := New(testConfig(), zap.NewNop())
	text := "APT28 uses Zebrocy"
	entities := []schemas.Entity{
		entity("e1", "APT28", schemas.EntityThreatActor, 0.93, 0, 5),
		entity("e2", "Zebrocy", schemas.EntityMalware, 0.93, 11, 18),
	}

	rels := x.Extract(text, entities)
	uses := relationsOf(rels, schemas.RelationUses)
	require.Len(t, uses, 1, "proximity duplicate of the phrase triple must be suppressed")

	r := uses[0]
	assert.Equal(t, "e1", r.Source)
	assert.Equal(t, "e2", r.Target)
	assert.InDelta(t, 0.90, r.Confidence, 1e-9)
	assert.Equal(t, "uses", r.Context)
}

func TestExtractSequentialIDs(t *testing.T) {
	x := New(testConfig(), zap.NewNop())
	entities := []schemas.Entity{
		entity("e1", "Alpha", schemas.EntityUnknown, 0.8, 0, 5),
		entity("e2", "Bravo", schemas.EntityUnknown, 0.8, 6, 11),
		entity("e3", "Charlie", schemas.EntityUnknown, 0.8, 12, 19),
	}

	rels := x.Extract("Alpha Bravo Charlie", entities)
	require.NotEmpty(t, rels)
	for i, r := range rels {
		assert.Equal(t, fmt.Sprintf("r%d", i+1), r.ID)
	}
}

func TestExtractProximityRelation(t *testing.T) {
	x := New(testConfig(), zap.NewNop())
	text := "APT28 frequently uses the malware Zebrocy"
	entities := []schemas.Entity{
		entity("e1", "APT28", schemas.EntityThreatActor, 0.93, 0, 5),
		entity("e2", "Zebrocy", schemas.EntityMalware, 0.93, 34, 41),
	}

	rels := x.Extract(text, entities)
	uses := relationsOf(rels, schemas.RelationUses)
	require.Len(t, uses, 1)

	r := uses[0]
	assert.Equal(t, "e1", r.Source)
	assert.Equal(t, "e2", r.Target)
	// avg 0.93, distance factor 1 - 29/100, short keyword factor 0.85.
	assert.InDelta(t, 0.93*0.71*0.85, r.Confidence, 1e-9)
	assert.Equal(t, "frequently uses the malware", r.Context)
}

func TestExtractProximityWindow(t *testing.T) {
	cfg := testConfig()
	cfg.ProximityWindow = 10
	cfg.MinRelations = 0
	x := New(cfg, zap.NewNop())

	text := "APT28 frequently uses the malware Zebrocy"
	entities := []schemas.Entity{
		entity("e1", "APT28", schemas.EntityThreatActor, 0.93, 0, 5),
		entity("e2", "Zebrocy", schemas.EntityMalware, 0.93, 34, 41),
	}

	rels := x.Extract(text, entities)
	assert.Empty(t, relationsOf(rels, schemas.RelationUses), "entities outside the window must not pair")
}

func TestExtractProximityRespectsTypes(t *testing.T) {
	cfg := testConfig()
	cfg.MinRelations = 0
	x := New(cfg, zap.NewNop())

	// "uses" keyword present but malware -> organization has no pattern.
	text := "Emotet frequently uses the local government"
	entities := []schemas.Entity{
		entity("e1", "Emotet", schemas.EntityMalware, 0.91, 0, 6),
		entity("e2", "government", schemas.EntityOrganization, 0.85, 33, 43),
	}

	rels := x.Extract(text, entities)
	assert.Empty(t, rels)
}

func TestExtractFallbackChain(t *testing.T) {
	t.Run("sparse text chains neighbors", func(t *testing.T) {
		x := New(testConfig(), zap.NewNop())
		entities := []schemas.Entity{
			entity("e1", "Alpha", schemas.EntityUnknown, 0.8, 0, 5),
			entity("e2", "Bravo", schemas.EntityUnknown, 0.8, 6, 11),
			entity("e3", "Charlie", schemas.EntityUnknown, 0.8, 12, 19),
			entity("e4", "Delta", schemas.EntityUnknown, 0.8, 20, 25),
		}

		rels := x.Extract("Alpha Bravo Charlie Delta", entities)
		require.Len(t, rels, 3)
		for i, r := range rels {
			assert.Equal(t, schemas.RelationRelatedTo, r.Relation)
			assert.Equal(t, entities[i].ID, r.Source)
			assert.Equal(t, entities[i+1].ID, r.Target)
			assert.InDelta(t, 0.82, r.Confidence, 1e-9)
			assert.Empty(t, r.Context)
		}
	})

	t.Run("chain length honors the cap", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxFallbackRelations = 2
		x := New(cfg, zap.NewNop())

		entities := make([]schemas.Entity, 6)
		text := ""
		for i := range entities {
			name := fmt.Sprintf("Node%d", i)
			entities[i] = entity(fmt.Sprintf("e%d", i+1), name, schemas.EntityUnknown, 0.8, i*6, i*6+5)
			text += name + " "
		}

		rels := x.Extract(text, entities)
		assert.Len(t, rels, 2)
	})

	t.Run("fallback skipped when enough relations exist", func(t *testing.T) {
		cfg := testConfig()
		cfg.MinRelations = 1
		x := New(cfg, zap.NewNop())

		text := "APT28 uses Zebrocy"
		entities := []schemas.Entity{
			entity("e1", "APT28", schemas.EntityThreatActor, 0.93, 0, 5),
			entity("e2", "Zebrocy", schemas.EntityMalware, 0.93, 11, 18),
		}

		rels := x.Extract(text, entities)
		assert.Empty(t, relationsOf(rels, schemas.RelationRelatedTo))
	})

	t.Run("fallback confidence stays in band", func(t *testing.T) {
		x := New(testConfig(), zap.NewNop())
		entities := []schemas.Entity{
			entity("e1", "Alpha", schemas.EntityUnknown, 0.99, 0, 5),
			entity("e2", "Bravo", schemas.EntityUnknown, 0.99, 6, 11),
		}

		rels := x.Extract("Alpha Bravo", entities)
		require.Len(t, rels, 1)
		assert.LessOrEqual(t, rels[0].Confidence, 0.90)
		assert.GreaterOrEqual(t, rels[0].Confidence, 0.80)
	})
}

func TestExtractOverlappingEntitiesSkipped(t *testing.T) {
	cfg := testConfig()
	cfg.MinRelations = 0
	x := New(cfg, zap.NewNop())

	// Overlapping spans produce a negative gap and never pair.
	entities := []schemas.Entity{
		entity("e1", "energy sector", schemas.EntityOrganization, 0.85, 10, 23),
		entity("e2", "energy", schemas.EntityOrganization, 0.85, 10, 16),
	}

	rels := x.Extract("attacks on energy sector uses", entities)
	assert.Empty(t, rels)
}
