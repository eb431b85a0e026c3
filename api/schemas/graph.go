package schemas

// -- Core Extraction Models --
// These types are the interchange format between the extraction core, the CLI,
// and any UI or storage consumer. The JSON field names are load-bearing:
// existing consumers depend on this exact shape.

// Entity is a recognized span of text tagged with a semantic type and a
// confidence score. Start and End are Unicode code-point offsets into the
// source text (half-open interval) and are only meaningful within the
// extraction run that produced them.
type Entity struct {
	ID         string     `json:"id"`
	Text       string     `json:"text"`
	Type       EntityType `json:"type"`
	Confidence float64    `json:"confidence"`
	Start      int        `json:"start"`
	End        int        `json:"end"`
}

// Relation is a directed, typed, confidence-scored edge between two entities
// of the same extraction run. Context carries the raw text between the two
// entity mentions and is diagnostic only.
type Relation struct {
	ID         string       `json:"id"`
	Source     string       `json:"source"`
	Target     string       `json:"target"`
	Relation   RelationType `json:"relation"`
	Confidence float64      `json:"confidence"`
	Context    string       `json:"context"`
}

// GraphNode is the visualization-ready projection of an Entity.
type GraphNode struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	Type       EntityType     `json:"type"`
	Properties map[string]any `json:"properties"`
}

// GraphEdge is the visualization-ready projection of a Relation.
type GraphEdge struct {
	ID         string       `json:"id"`
	Source     string       `json:"source"`
	Target     string       `json:"target"`
	Label      RelationType `json:"label"`
	Confidence float64      `json:"confidence"`
}

// Graph bundles nodes and edges for rendering.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// Metadata describes one extraction run.
type Metadata struct {
	ProcessingTime      float64 `json:"processing_time"` // seconds
	ModelVersion        string  `json:"model_version"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	TextLength          int     `json:"text_length"`
	EntitiesFound       int     `json:"entities_found"`
	RelationsFound      int     `json:"relations_found"`
}

// ExtractionResult is the full payload returned by the pipeline for one text
// input.
type ExtractionResult struct {
	ExtractionID string     `json:"extraction_id"`
	Entities     []Entity   `json:"entities"`
	Relations    []Relation `json:"relations"`
	Graph        Graph      `json:"graph"`
	Metadata     Metadata   `json:"metadata"`
}

// -- Feedback Models --

// EntityRef identifies the entity a correction is about. Matching against
// later extractions is by case-folded Text, so positional fields are not
// carried here.
type EntityRef struct {
	Text string     `json:"text"`
	Type EntityType `json:"type"`
}

// FeedbackCorrection is a single user correction: a retype, a retext, or a
// deletion of an extracted entity.
type FeedbackCorrection struct {
	OriginalEntity EntityRef `json:"original_entity"`
	CorrectedType  string    `json:"corrected_type,omitempty"`
	CorrectedText  string    `json:"corrected_text,omitempty"`
	ShouldDelete   bool      `json:"should_delete"`
	Reason         string    `json:"reason,omitempty"`
}

// FeedbackBatch groups the corrections a user submitted after reviewing one
// extraction result.
type FeedbackBatch struct {
	ExtractionID string               `json:"extraction_id"`
	Corrections  []FeedbackCorrection `json:"corrections"`
	UserID       string               `json:"user_id,omitempty"`
	Timestamp    int64                `json:"timestamp"`
}

// FeedbackStats is the aggregate view exposed to the feedback UI.
type FeedbackStats struct {
	TotalFeedback    int     `json:"total_feedback"`
	TotalCorrections int     `json:"total_corrections"`
	ImprovementRate  float64 `json:"improvement_rate"`
}
