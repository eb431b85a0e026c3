package schemas

import "strings"

// EntityType defines the categories of entities the extraction pipeline can
// produce. The set is closed; anything the parser does not recognize maps to
// EntityUnknown rather than leaking a free-form string into the core.
type EntityType string

const (
	EntityThreatActor   EntityType = "threat-actor"
	EntityMalware       EntityType = "malware"
	EntityVulnerability EntityType = "vulnerability"
	EntityTool          EntityType = "tool"
	EntityTechnique     EntityType = "technique"
	EntityIndicator     EntityType = "indicator"
	EntityCampaign      EntityType = "campaign"
	EntityLocation      EntityType = "location"
	EntityOrganization  EntityType = "organization"
	EntityUnknown       EntityType = "unknown"
)

var validEntityTypes = map[EntityType]struct{}{
	EntityThreatActor:   {},
	EntityMalware:       {},
	EntityVulnerability: {},
	EntityTool:          {},
	EntityTechnique:     {},
	EntityIndicator:     {},
	EntityCampaign:      {},
	EntityLocation:      {},
	EntityOrganization:  {},
	EntityUnknown:       {},
}

// Valid reports whether the type is part of the closed enumeration.
func (t EntityType) Valid() bool {
	_, ok := validEntityTypes[t]
	return ok
}

// ParseEntityType maps a raw type string onto the closed enumeration.
// Unrecognized values become EntityUnknown.
func ParseEntityType(raw string) EntityType {
	t := EntityType(strings.ToLower(strings.TrimSpace(raw)))
	if t.Valid() {
		return t
	}
	return EntityUnknown
}

// RelationType defines the bounded vocabulary of edge labels.
type RelationType string

const (
	RelationUses            RelationType = "uses"
	RelationTargets         RelationType = "targets"
	RelationExploits        RelationType = "exploits"
	RelationCommunicatesVia RelationType = "communicates_via"
	RelationAKA             RelationType = "aka"
	RelationLocatedIn       RelationType = "located_in"
	RelationAttributedTo    RelationType = "attributed_to"
	RelationLeverages       RelationType = "leverages"
	RelationConnectsTo      RelationType = "connects_to"
	RelationCoOccursWith    RelationType = "co-occurs_with"
	// RelationRelatedTo is the weak catch-all used for co-occurrence
	// fallback edges.
	RelationRelatedTo RelationType = "related_to"
)

var validRelationTypes = map[RelationType]struct{}{
	RelationUses:            {},
	RelationTargets:         {},
	RelationExploits:        {},
	RelationCommunicatesVia: {},
	RelationAKA:             {},
	RelationLocatedIn:       {},
	RelationAttributedTo:    {},
	RelationLeverages:       {},
	RelationConnectsTo:      {},
	RelationCoOccursWith:    {},
	RelationRelatedTo:       {},
}

// Valid reports whether the relation label is part of the bounded vocabulary.
func (r RelationType) Valid() bool {
	_, ok := validRelationTypes[r]
	return ok
}

// ParseRelationType maps a raw relation label onto the vocabulary, falling
// back to RelationRelatedTo for anything unrecognized.
func ParseRelationType(raw string) RelationType {
	r := RelationType(strings.ToLower(strings.TrimSpace(raw)))
	if r.Valid() {
		return r
	}
	return RelationRelatedTo
}
