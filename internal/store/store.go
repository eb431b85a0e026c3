// Package store persists extraction results in PostgreSQL. Entities and
// relations are upserted into shared graph tables keyed by stable text
// derived IDs, so repeated extractions of the same actors merge instead of
// duplicating.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/api/schemas"
	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/internal/extraction"
)

// DBPool abstracts pgxpool.Pool so tests can substitute a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store is the PostgreSQL-backed graph sink.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ extraction.GraphSink = (*Store)(nil)

// New creates a store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EntityID derives the stable row ID for an entity from its case-folded
// text, so every mention of the same name maps to the same row.
func EntityID(text string) uuid.UUID {
	key := strings.ToLower(strings.TrimSpace(text))
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("cti-entity:"+key))
}

const upsertEntitySQL = `
        INSERT INTO cti_entities (id, text, type, confidence, first_seen, last_seen)
        VALUES ($1, $2, $3, $4, $5, $5)
        ON CONFLICT (id) DO UPDATE SET
            confidence = GREATEST(cti_entities.confidence, EXCLUDED.confidence),
            type = CASE WHEN cti_entities.type = 'unknown' THEN EXCLUDED.type ELSE cti_entities.type END,
            last_seen = EXCLUDED.last_seen;
    `

const upsertRelationSQL = `
        INSERT INTO cti_relations (source_id, target_id, relation, confidence, context, first_seen, last_seen)
        VALUES ($1, $2, $3, $4, $5, $6, $6)
        ON CONFLICT (source_id, target_id, relation) DO UPDATE SET
            confidence = GREATEST(cti_relations.confidence, EXCLUDED.confidence),
            last_seen = EXCLUDED.last_seen;
    `

// StoreEntity upserts a single entity.
func (s *Store) StoreEntity(ctx context.Context, e schemas.Entity) error {
	if strings.TrimSpace(e.Text) == "" {
		return fmt.Errorf("entity %q has no usable text", e.ID)
	}
	if _, err := s.pool.Exec(ctx, upsertEntitySQL, EntityID(e.Text), e.Text, string(e.Type), e.Confidence, time.Now()); err != nil {
		return fmt.Errorf("failed to upsert entity %q: %w", e.Text, err)
	}
	return nil
}

// StoreRelation upserts a single relation. Run-local entity IDs are replaced
// by the stable text-derived IDs of the endpoints.
func (s *Store) StoreRelation(ctx context.Context, r schemas.Relation, source, target schemas.Entity) error {
	sourceID, targetID := EntityID(source.Text), EntityID(target.Text)
	if _, err := s.pool.Exec(ctx, upsertRelationSQL, sourceID, targetID, string(r.Relation), r.Confidence, r.Context, time.Now()); err != nil {
		return fmt.Errorf("failed to upsert relation %s: %w", r.Relation, err)
	}
	return nil
}

// PersistResult writes a whole extraction in one transaction: the run
// record, the merged entities and relations, and the per-run mention rows.
func (s *Store) PersistResult(ctx context.Context, res *schemas.ExtractionResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && rollbackErr != pgx.ErrTxClosed {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	now := time.Now()

	insertRun := `
        INSERT INTO cti_extractions (id, model_version, confidence_threshold, text_length, entities_found, relations_found, processing_time, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
    `
	md := res.Metadata
	if _, err := tx.Exec(ctx, insertRun, res.ExtractionID, md.ModelVersion, md.ConfidenceThreshold,
		md.TextLength, md.EntitiesFound, md.RelationsFound, md.ProcessingTime, now); err != nil {
		return fmt.Errorf("failed to insert extraction %s: %w", res.ExtractionID, err)
	}

	byID := make(map[string]schemas.Entity, len(res.Entities))
	for _, e := range res.Entities {
		byID[e.ID] = e
		if _, err := tx.Exec(ctx, upsertEntitySQL, EntityID(e.Text), e.Text, string(e.Type), e.Confidence, now); err != nil {
			return fmt.Errorf("failed to upsert entity %q: %w", e.Text, err)
		}
	}

	for _, r := range res.Relations {
		source, okS := byID[r.Source]
		target, okT := byID[r.Target]
		if !okS || !okT {
			s.log.Warn("Skipping relation with dangling endpoint", zap.String("relation_id", r.ID))
			continue
		}
		if _, err := tx.Exec(ctx, upsertRelationSQL, EntityID(source.Text), EntityID(target.Text),
			string(r.Relation), r.Confidence, r.Context, now); err != nil {
			return fmt.Errorf("failed to upsert relation %s: %w", r.ID, err)
		}
	}

	if len(res.Entities) > 0 {
		if err := s.persistMentions(ctx, tx, res.ExtractionID, res.Entities); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// persistMentions records the raw per-run mentions. The table is insert
// only, so CopyFrom is safe and fast.
func (s *Store) persistMentions(ctx context.Context, tx pgx.Tx, extractionID string, entities []schemas.Entity) error {
	rows := make([][]interface{}, len(entities))
	for i, e := range entities {
		rows[i] = []interface{}{
			extractionID, EntityID(e.Text), e.Text, string(e.Type), e.Confidence, e.Start, e.End,
		}
	}

	copyCount, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"cti_mentions"},
		[]string{"extraction_id", "entity_id", "mention", "type", "confidence", "start_offset", "end_offset"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy mentions: %w", err)
	}
	if int(copyCount) != len(entities) {
		return fmt.Errorf("mismatch in copied mention count: expected %d, got %d", len(entities), copyCount)
	}
	return nil
}

// QueryGraph loads the merged graph accumulated across all extractions.
func (s *Store) QueryGraph(ctx context.Context) (schemas.Graph, error) {
	nodeQuery := `
        SELECT id, text, type, confidence
        FROM cti_entities
        ORDER BY text ASC;
    `
	rows, err := s.pool.Query(ctx, nodeQuery)
	if err != nil {
		return schemas.Graph{}, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	var nodes []schemas.GraphNode
	for rows.Next() {
		var (
			id         uuid.UUID
			text       string
			typeStr    string
			confidence float64
		)
		if err := rows.Scan(&id, &text, &typeStr, &confidence); err != nil {
			return schemas.Graph{}, fmt.Errorf("failed to scan entity row: %w", err)
		}
		nodes = append(nodes, schemas.GraphNode{
			ID:    id.String(),
			Label: text,
			Type:  schemas.EntityType(typeStr),
			Properties: map[string]any{
				"confidence": confidence,
			},
		})
	}
	if err := rows.Err(); err != nil {
		return schemas.Graph{}, fmt.Errorf("error during entity iteration: %w", err)
	}

	edgeQuery := `
        SELECT source_id, target_id, relation, confidence
        FROM cti_relations
        ORDER BY source_id, target_id, relation ASC;
    `
	edgeRows, err := s.pool.Query(ctx, edgeQuery)
	if err != nil {
		return schemas.Graph{}, fmt.Errorf("failed to query relations: %w", err)
	}
	defer edgeRows.Close()

	var edges []schemas.GraphEdge
	for edgeRows.Next() {
		var (
			sourceID   uuid.UUID
			targetID   uuid.UUID
			relation   string
			confidence float64
		)
		if err := edgeRows.Scan(&sourceID, &targetID, &relation, &confidence); err != nil {
			return schemas.Graph{}, fmt.Errorf("failed to scan relation row: %w", err)
		}
		edges = append(edges, schemas.GraphEdge{
			ID:         fmt.Sprintf("%s|%s|%s", sourceID, relation, targetID),
			Source:     sourceID.String(),
			Target:     targetID.String(),
			Label:      schemas.RelationType(relation),
			Confidence: confidence,
		})
	}
	if err := edgeRows.Err(); err != nil {
		return schemas.Graph{}, fmt.Errorf("error during relation iteration: %w", err)
	}

	return schemas.Graph{Nodes: nodes, Edges: edges}, nil
}
