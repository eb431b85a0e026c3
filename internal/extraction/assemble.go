package extraction

import (
	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/api/schemas"
)

// BuildGraph converts flat entity and relation lists into the node/edge
// shape consumed by graph frontends. Node and edge order follows the input
// order; node properties carry the extraction confidence.
func BuildGraph(entities []schemas.Entity, relations []schemas.Relation) schemas.Graph {
	nodes := make([]schemas.GraphNode, 0, len(entities))
	for _, e := range entities {
		nodes = append(nodes, schemas.GraphNode{
			ID:    e.ID,
			Label: e.Text,
			Type:  e.Type,
			Properties: map[string]any{
				"confidence": e.Confidence,
			},
		})
	}

	edges := make([]schemas.GraphEdge, 0, len(relations))
	for _, r := range relations {
		edges = append(edges, schemas.GraphEdge{
			ID:         r.ID,
			Source:     r.Source,
			Target:     r.Target,
			Label:      r.Relation,
			Confidence: r.Confidence,
		})
	}

	return schemas.Graph{Nodes: nodes, Edges: edges}
}
