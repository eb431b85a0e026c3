// Package knowledgegraph accumulates extraction results across runs in an
// ephemeral in-memory graph. It is the default persistence target when no
// database is configured.
package knowledgegraph

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/api/schemas"
	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/internal/extraction"
)

// InMemoryKG merges entities and relations from successive extractions.
// Nodes are keyed by case-folded entity text, so the same actor mentioned in
// two documents becomes one node. Safe for concurrent use.
type InMemoryKG struct {
	nodes         map[string]schemas.GraphNode // key: normalized entity text
	edges         map[string]schemas.GraphEdge // key: source|relation|target
	outgoingEdges map[string][]string          // key: node key, value: edge keys
	mu            sync.RWMutex
	log           *zap.Logger
}

var _ extraction.GraphSink = (*InMemoryKG)(nil)

// NewInMemoryKG creates an empty in-memory knowledge graph.
func NewInMemoryKG(logger *zap.Logger) *InMemoryKG {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryKG{
		nodes:         make(map[string]schemas.GraphNode),
		edges:         make(map[string]schemas.GraphEdge),
		outgoingEdges: make(map[string][]string),
		log:           logger.Named("InMemoryKG"),
	}
}

func nodeKey(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// StoreEntity merges an entity into the graph. Re-observations keep the
// highest confidence seen, and a typed observation replaces an unknown one.
func (kg *InMemoryKG) StoreEntity(ctx context.Context, e schemas.Entity) error {
	key := nodeKey(e.Text)
	if key == "" {
		return fmt.Errorf("entity %q has no usable text", e.ID)
	}

	kg.mu.Lock()
	defer kg.mu.Unlock()

	existing, ok := kg.nodes[key]
	if !ok {
		kg.nodes[key] = schemas.GraphNode{
			ID:    key,
			Label: e.Text,
			Type:  e.Type,
			Properties: map[string]any{
				"confidence":   e.Confidence,
				"observations": 1,
			},
		}
		kg.log.Debug("Node added", zap.String("key", key), zap.String("type", string(e.Type)))
		return nil
	}

	if conf, ok := existing.Properties["confidence"].(float64); !ok || e.Confidence > conf {
		existing.Properties["confidence"] = e.Confidence
	}
	if existing.Type == schemas.EntityUnknown && e.Type != schemas.EntityUnknown {
		existing.Type = e.Type
	}
	if n, ok := existing.Properties["observations"].(int); ok {
		existing.Properties["observations"] = n + 1
	}
	kg.nodes[key] = existing
	kg.log.Debug("Node merged", zap.String("key", key), zap.String("type", string(existing.Type)))
	return nil
}

// StoreRelation merges a relation into the graph. Both endpoints are merged
// first, so out-of-order calls never fail on a missing node. Repeated
// observations of the same triple keep the highest confidence.
func (kg *InMemoryKG) StoreRelation(ctx context.Context, r schemas.Relation, source, target schemas.Entity) error {
	if err := kg.StoreEntity(ctx, source); err != nil {
		return err
	}
	if err := kg.StoreEntity(ctx, target); err != nil {
		return err
	}

	from, to := nodeKey(source.Text), nodeKey(target.Text)
	key := from + "|" + string(r.Relation) + "|" + to

	kg.mu.Lock()
	defer kg.mu.Unlock()

	existing, ok := kg.edges[key]
	if ok {
		if r.Confidence > existing.Confidence {
			existing.Confidence = r.Confidence
			kg.edges[key] = existing
		}
		return nil
	}

	kg.edges[key] = schemas.GraphEdge{
		ID:         key,
		Source:     from,
		Target:     to,
		Label:      r.Relation,
		Confidence: r.Confidence,
	}
	kg.outgoingEdges[from] = append(kg.outgoingEdges[from], key)
	kg.log.Debug("Edge added", zap.String("key", key))
	return nil
}

// Node retrieves a merged node by entity text.
func (kg *InMemoryKG) Node(ctx context.Context, text string) (schemas.GraphNode, error) {
	kg.mu.RLock()
	defer kg.mu.RUnlock()

	node, ok := kg.nodes[nodeKey(text)]
	if !ok {
		return schemas.GraphNode{}, fmt.Errorf("node %q not found", text)
	}
	return cloneNode(node), nil
}

// Neighbors returns the nodes reachable over outgoing edges of the named
// entity.
func (kg *InMemoryKG) Neighbors(ctx context.Context, text string) ([]schemas.GraphNode, error) {
	kg.mu.RLock()
	defer kg.mu.RUnlock()

	key := nodeKey(text)
	if _, ok := kg.nodes[key]; !ok {
		return nil, fmt.Errorf("node %q not found", text)
	}

	edgeKeys := kg.outgoingEdges[key]
	neighbors := make([]schemas.GraphNode, 0, len(edgeKeys))
	for _, ek := range edgeKeys {
		edge := kg.edges[ek]
		if node, ok := kg.nodes[edge.Target]; ok {
			neighbors = append(neighbors, cloneNode(node))
		}
	}
	return neighbors, nil
}

// QueryGraph snapshots the whole accumulated graph in stable node-key and
// edge-key order.
func (kg *InMemoryKG) QueryGraph(ctx context.Context) (schemas.Graph, error) {
	kg.mu.RLock()
	defer kg.mu.RUnlock()

	nodes := make([]schemas.GraphNode, 0, len(kg.nodes))
	for _, node := range kg.nodes {
		nodes = append(nodes, cloneNode(node))
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	edges := make([]schemas.GraphEdge, 0, len(kg.edges))
	for _, edge := range kg.edges {
		edges = append(edges, edge)
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })

	return schemas.Graph{Nodes: nodes, Edges: edges}, nil
}

// Stats returns node and edge counts.
func (kg *InMemoryKG) Stats() (nodes, edges int) {
	kg.mu.RLock()
	defer kg.mu.RUnlock()
	return len(kg.nodes), len(kg.edges)
}

// cloneNode copies a node so callers cannot mutate internal state through
// the shared properties map.
func cloneNode(n schemas.GraphNode) schemas.GraphNode {
	props := make(map[string]any, len(n.Properties))
	for k, v := range n.Properties {
		props[k] = v
	}
	n.Properties = props
	return n
}
